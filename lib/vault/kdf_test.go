// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"bytes"
	"testing"

	"github.com/covault/covault/lib/secret"
)

// lightKDFParams keeps argon2id fast enough for tests while exercising
// the real derivation path.
func lightKDFParams() KDFParams {
	return KDFParams{
		Algorithm: KDFAlgorithmArgon2id,
		Time:      1,
		MemoryKiB: 16,
		Threads:   1,
	}
}

func testPassphrase(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromString(value)
	if err != nil {
		t.Fatalf("creating passphrase buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func TestDeriveKey_Deterministic(t *testing.T) {
	passphrase := testPassphrase(t, "correct horse battery staple")
	salt := bytes.Repeat([]byte{0x42}, SaltSize)

	first, err := deriveKey(passphrase, salt, lightKDFParams())
	if err != nil {
		t.Fatalf("deriveKey() error: %v", err)
	}
	defer first.Close()

	second, err := deriveKey(passphrase, salt, lightKDFParams())
	if err != nil {
		t.Fatalf("deriveKey() error: %v", err)
	}
	defer second.Close()

	if !second.Equal(first.Bytes()) {
		t.Error("same passphrase and salt derived different keys")
	}
	if first.Len() != KeySize {
		t.Errorf("derived key length = %d, want %d", first.Len(), KeySize)
	}
}

func TestDeriveKey_SaltSeparation(t *testing.T) {
	passphrase := testPassphrase(t, "correct horse battery staple")

	saltA := bytes.Repeat([]byte{0x01}, SaltSize)
	saltB := bytes.Repeat([]byte{0x02}, SaltSize)

	keyA, err := deriveKey(passphrase, saltA, lightKDFParams())
	if err != nil {
		t.Fatalf("deriveKey() error: %v", err)
	}
	defer keyA.Close()

	keyB, err := deriveKey(passphrase, saltB, lightKDFParams())
	if err != nil {
		t.Fatalf("deriveKey() error: %v", err)
	}
	defer keyB.Close()

	if keyB.Equal(keyA.Bytes()) {
		t.Error("different salts derived the same key")
	}
}

func TestDeriveKey_RejectsBadInputs(t *testing.T) {
	passphrase := testPassphrase(t, "pw")

	if _, err := deriveKey(passphrase, []byte{1, 2, 3}, lightKDFParams()); err == nil {
		t.Error("deriveKey() accepted a short salt")
	}

	bad := lightKDFParams()
	bad.Algorithm = "pbkdf2"
	if _, err := deriveKey(passphrase, bytes.Repeat([]byte{0}, SaltSize), bad); err == nil {
		t.Error("deriveKey() accepted an unknown algorithm")
	}

	zeroed := lightKDFParams()
	zeroed.Time = 0
	if _, err := deriveKey(passphrase, bytes.Repeat([]byte{0}, SaltSize), zeroed); err == nil {
		t.Error("deriveKey() accepted zero work factors")
	}
}

func TestKDFParams_RoundTrip(t *testing.T) {
	params := DefaultKDFParams()
	encoded, err := params.marshal()
	if err != nil {
		t.Fatalf("marshal() error: %v", err)
	}

	decoded, err := parseKDFParams(encoded)
	if err != nil {
		t.Fatalf("parseKDFParams() error: %v", err)
	}
	if decoded != params {
		t.Errorf("round trip = %+v, want %+v", decoded, params)
	}
}

func TestNewSaltAndDataKey_Random(t *testing.T) {
	saltA, err := newSalt()
	if err != nil {
		t.Fatalf("newSalt() error: %v", err)
	}
	saltB, err := newSalt()
	if err != nil {
		t.Fatalf("newSalt() error: %v", err)
	}
	if bytes.Equal(saltA, saltB) {
		t.Error("two salts are identical")
	}

	keyA, err := newDataKey()
	if err != nil {
		t.Fatalf("newDataKey() error: %v", err)
	}
	defer keyA.Close()
	keyB, err := newDataKey()
	if err != nil {
		t.Fatalf("newDataKey() error: %v", err)
	}
	defer keyB.Close()
	if keyB.Equal(keyA.Bytes()) {
		t.Error("two data keys are identical")
	}
}
