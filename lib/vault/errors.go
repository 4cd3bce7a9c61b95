// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"errors"
	"fmt"
)

// Errors returned by Store operations.
var (
	// ErrLocked is returned by any operation that needs the master
	// passphrase while the store is locked. Callers re-prompt for
	// the passphrase and call Unlock; operations never block waiting
	// for one.
	ErrLocked = errors.New("vault: store is locked")

	// ErrNotFound is returned when no stored credential matches the
	// given ID or (owner, category, label) key.
	ErrNotFound = errors.New("vault: credential not found")

	// ErrExists is returned by Put when a credential already exists
	// for the same (owner, category, label). Rotation is the only
	// update path.
	ErrExists = errors.New("vault: credential already exists")

	// ErrEncryption is returned when sealing a payload fails for a
	// reason other than the store being locked.
	ErrEncryption = errors.New("vault: encryption failed")
)

// IntegrityError reports an authentication-tag failure while
// decrypting a stored credential: the ciphertext was tampered with or
// the passphrase-derived key is wrong. Fatal for the entry — the row
// is flagged as requiring user re-entry and is never retried.
type IntegrityError struct {
	// CredentialID is the affected entry.
	CredentialID string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("vault: integrity failure for credential %s (tampered ciphertext or wrong key)", e.CredentialID)
}
