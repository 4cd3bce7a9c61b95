// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"time"
)

// EventType classifies a vault event.
type EventType string

const (
	// EventCreated records a credential entering the vault (initial
	// store or rotation).
	EventCreated EventType = "CREATED"

	// EventAccessed records a successful decryption under an active
	// grant.
	EventAccessed EventType = "ACCESSED"

	// EventGranted records issuance of a permission grant.
	EventGranted EventType = "GRANTED"

	// EventDenied records a user denying a credential request.
	EventDenied EventType = "DENIED"

	// EventRevoked records grant revocation or credential deletion
	// via revoke-all.
	EventRevoked EventType = "REVOKED"

	// EventExpired records a credential request timing out without a
	// user response.
	EventExpired EventType = "EXPIRED"

	// EventIntegrityFailure records an authentication-tag failure
	// during decryption: ciphertext tampering or a wrong key. Fatal
	// for the affected entry.
	EventIntegrityFailure EventType = "INTEGRITY_FAILURE"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventCreated, EventAccessed, EventGranted, EventDenied,
		EventRevoked, EventExpired, EventIntegrityFailure:
		return true
	}
	return false
}

// Event is one immutable audit record. ID, Timestamp (when zero), and
// ChainHash are assigned by Append; callers populate the rest.
type Event struct {
	// ID is the vault-wide monotonic event identifier.
	ID int64

	// Type is the event classification.
	Type EventType

	// Timestamp is when the event was appended. Append fills it from
	// the log's clock when zero.
	Timestamp time.Time

	// ActorID identifies who caused the event: an agent ID for
	// access events, an owner ID for store/revoke events, "system"
	// for timer-driven expiry.
	ActorID string

	// SubjectID identifies what the event is about: a credential ID,
	// grant ID, or request ID.
	SubjectID string

	// Metadata carries event-specific detail (category, scope,
	// failure reason). Never secret field values.
	Metadata map[string]string

	// ChainHash is the BLAKE3 hash over the previous event's chain
	// hash and this event's deterministic CBOR encoding.
	ChainHash []byte
}

// chainRecord is the hash preimage: every Event field except the chain
// hash itself, with deterministic integer keys.
type chainRecord struct {
	ID        int64             `cbor:"1,keyasint"`
	Type      string            `cbor:"2,keyasint"`
	Timestamp int64             `cbor:"3,keyasint"`
	ActorID   string            `cbor:"4,keyasint"`
	SubjectID string            `cbor:"5,keyasint"`
	Metadata  map[string]string `cbor:"6,keyasint,omitempty"`
}

// exportRecord is the wire form used by Export: the full event
// including its chain hash, so an archived stream remains verifiable.
type exportRecord struct {
	ID        int64             `cbor:"1,keyasint"`
	Type      string            `cbor:"2,keyasint"`
	Timestamp int64             `cbor:"3,keyasint"`
	ActorID   string            `cbor:"4,keyasint"`
	SubjectID string            `cbor:"5,keyasint"`
	Metadata  map[string]string `cbor:"6,keyasint,omitempty"`
	ChainHash []byte            `cbor:"7,keyasint"`
}
