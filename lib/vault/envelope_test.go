// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"bytes"
	"errors"
	"testing"

	"github.com/covault/covault/lib/secret"
)

func testKey(t *testing.T) *secret.Buffer {
	t.Helper()
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	buffer, err := secret.NewFromBytes(key)
	if err != nil {
		t.Fatalf("creating test key: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key := testKey(t)
	plaintext := []byte(`{"token":"ghp_abc"}`)

	blob, err := seal(plaintext, key, aadContextPayload, "cred-1")
	if err != nil {
		t.Fatalf("seal() error: %v", err)
	}
	if bytes.Contains(blob, []byte("ghp_abc")) {
		t.Fatal("sealed blob contains plaintext")
	}

	recovered, err := open(blob, key, aadContextPayload, "cred-1")
	if err != nil {
		t.Fatalf("open() error: %v", err)
	}
	if !bytes.Equal(recovered, plaintext) {
		t.Errorf("open() = %q, want %q", recovered, plaintext)
	}
}

func TestSeal_UniqueNonces(t *testing.T) {
	key := testKey(t)
	first, err := seal([]byte("payload"), key, aadContextPayload, "cred-1")
	if err != nil {
		t.Fatalf("seal() error: %v", err)
	}
	second, err := seal([]byte("payload"), key, aadContextPayload, "cred-1")
	if err != nil {
		t.Fatalf("seal() error: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Error("two seals of the same payload produced identical blobs")
	}
}

func TestOpen_TamperedCiphertext(t *testing.T) {
	key := testKey(t)
	blob, err := seal([]byte("payload"), key, aadContextPayload, "cred-1")
	if err != nil {
		t.Fatalf("seal() error: %v", err)
	}

	blob[len(blob)-1] ^= 0x01

	_, err = open(blob, key, aadContextPayload, "cred-1")
	var integrityError *IntegrityError
	if !errors.As(err, &integrityError) {
		t.Fatalf("open() error = %v, want *IntegrityError", err)
	}
	if integrityError.CredentialID != "cred-1" {
		t.Errorf("CredentialID = %q, want cred-1", integrityError.CredentialID)
	}
}

func TestOpen_WrongCredentialBinding(t *testing.T) {
	key := testKey(t)
	blob, err := seal([]byte("payload"), key, aadContextPayload, "cred-1")
	if err != nil {
		t.Fatalf("seal() error: %v", err)
	}

	// A blob copied onto another credential row must not decrypt.
	var integrityError *IntegrityError
	if _, err := open(blob, key, aadContextPayload, "cred-2"); !errors.As(err, &integrityError) {
		t.Errorf("open() with wrong credential ID error = %v, want *IntegrityError", err)
	}

	// Same for a wrapped data key replayed as a payload.
	if _, err := open(blob, key, aadContextDataKey, "cred-1"); !errors.As(err, &integrityError) {
		t.Errorf("open() with wrong role error = %v, want *IntegrityError", err)
	}
}

func TestOpen_TruncatedBlob(t *testing.T) {
	key := testKey(t)
	var integrityError *IntegrityError
	if _, err := open([]byte{sealedBlobVersion, 0x02}, key, aadContextPayload, "cred-1"); !errors.As(err, &integrityError) {
		t.Errorf("open() of truncated blob error = %v, want *IntegrityError", err)
	}
}

func TestOpen_UnknownVersion(t *testing.T) {
	key := testKey(t)
	blob, err := seal([]byte("payload"), key, aadContextPayload, "cred-1")
	if err != nil {
		t.Fatalf("seal() error: %v", err)
	}
	blob[0] = 0x7f

	var integrityError *IntegrityError
	if _, err := open(blob, key, aadContextPayload, "cred-1"); !errors.As(err, &integrityError) {
		t.Errorf("open() with unknown version error = %v, want *IntegrityError", err)
	}
}
