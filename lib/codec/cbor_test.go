// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshal_Deterministic(t *testing.T) {
	// Map iteration order in Go is random; deterministic encoding
	// must produce identical bytes regardless.
	fields := map[string]string{
		"token":    "ghp_abc",
		"username": "octocat",
		"host":     "github.com",
	}

	first, err := Marshal(fields)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Marshal(fields)
		if err != nil {
			t.Fatalf("Marshal() error: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("deterministic encoding produced different bytes for the same map")
		}
	}
}

func TestRoundTrip_AnyMapDecodesWithStringKeys(t *testing.T) {
	encoded, err := Marshal(map[string]any{"reason": "rotation", "count": 2})
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var decoded any
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}

	asMap, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if asMap["reason"] != "rotation" {
		t.Errorf("reason = %v, want rotation", asMap["reason"])
	}
}

func TestEncoderDecoder_Stream(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, value := range []string{"one", "two", "three"} {
		if err := encoder.Encode(value); err != nil {
			t.Fatalf("Encode(%q) error: %v", value, err)
		}
	}

	decoder := NewDecoder(&buffer)
	for _, want := range []string{"one", "two", "three"} {
		var got string
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode() error: %v", err)
		}
		if got != want {
			t.Errorf("Decode() = %q, want %q", got, want)
		}
	}
}
