// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"time"
)

// SecurityLevel classifies how a stored credential may be granted.
type SecurityLevel string

const (
	// SecurityStandard credentials follow the normal grant flow.
	SecurityStandard SecurityLevel = "standard"

	// SecurityHigh credentials are expected to be granted with
	// single-use, short-TTL grants. The vault records the level;
	// enforcement policy lives with the caller issuing grants.
	SecurityHigh SecurityLevel = "high"
)

// StoredCredential is the metadata of one encrypted credential row.
// Ciphertext, the wrapped data key, and the salt stay inside the
// store; this struct is what lookups and the flow manager see.
type StoredCredential struct {
	// ID is the credential's unique identifier (UUID).
	ID string

	// OwnerID is the end user who owns the secret.
	OwnerID string

	// Category is the schema category (e.g. "github").
	Category string

	// Label distinguishes multiple credentials of the same category
	// for one owner (e.g. "work", "personal").
	Label string

	// KDFParams records the key-derivation algorithm and work
	// factors this row was encrypted with.
	KDFParams KDFParams

	// SecurityLevel classifies the credential's sensitivity tier.
	SecurityLevel SecurityLevel

	// NeedsReentry is set after an integrity failure. The entry can
	// no longer be decrypted; the user must rotate it with freshly
	// entered fields.
	NeedsReentry bool

	// CreatedAt is when the credential was first stored.
	CreatedAt time.Time

	// LastAccessedAt is when the credential was last decrypted.
	// Zero if never accessed.
	LastAccessedAt time.Time
}
