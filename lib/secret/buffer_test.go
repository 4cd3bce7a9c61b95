// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"testing"
)

func TestNew(t *testing.T) {
	buffer, err := New(32)
	if err != nil {
		t.Fatalf("New(32) error: %v", err)
	}
	defer buffer.Close()

	if buffer.Len() != 32 {
		t.Errorf("Len() = %d, want 32", buffer.Len())
	}
	for i, b := range buffer.Bytes() {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0 (new buffer must be zero-filled)", i, b)
		}
	}
}

func TestNew_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := New(size); err == nil {
			t.Errorf("New(%d) succeeded, want error", size)
		}
	}
}

func TestNewFromBytes_ZerosSource(t *testing.T) {
	source := []byte("hunter2-passphrase")
	want := append([]byte(nil), source...)

	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes() error: %v", err)
	}
	defer buffer.Close()

	if !bytes.Equal(buffer.Bytes(), want) {
		t.Errorf("Bytes() = %q, want %q", buffer.Bytes(), want)
	}

	// The caller's slice must no longer hold the secret.
	for i, b := range source {
		if b != 0 {
			t.Fatalf("source byte %d = %d, want 0 after NewFromBytes", i, b)
		}
	}
}

func TestNewFromBytes_Empty(t *testing.T) {
	if _, err := NewFromBytes(nil); err == nil {
		t.Error("NewFromBytes(nil) succeeded, want error")
	}
}

func TestNewFromString(t *testing.T) {
	buffer, err := NewFromString("correct horse battery staple")
	if err != nil {
		t.Fatalf("NewFromString() error: %v", err)
	}
	defer buffer.Close()

	if buffer.String() != "correct horse battery staple" {
		t.Errorf("String() = %q", buffer.String())
	}
}

func TestEqual(t *testing.T) {
	buffer, err := NewFromString("token-value")
	if err != nil {
		t.Fatalf("NewFromString() error: %v", err)
	}
	defer buffer.Close()

	if !buffer.Equal([]byte("token-value")) {
		t.Error("Equal() = false for identical contents")
	}
	if buffer.Equal([]byte("token-valuE")) {
		t.Error("Equal() = true for different contents")
	}
	if buffer.Equal([]byte("token")) {
		t.Error("Equal() = true for different length")
	}
}

func TestClose_ZeroesAndPanicsOnAccess(t *testing.T) {
	buffer, err := NewFromString("ghp_secret")
	if err != nil {
		t.Fatalf("NewFromString() error: %v", err)
	}

	if err := buffer.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	// Idempotent.
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("Bytes() after Close did not panic")
		}
	}()
	buffer.Bytes()
}

func TestZero(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	Zero(data)
	for i, b := range data {
		if b != 0 {
			t.Errorf("byte %d = %d, want 0", i, b)
		}
	}
}
