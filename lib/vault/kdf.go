// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"

	"github.com/covault/covault/lib/secret"
)

// KeySize is the size in bytes of every symmetric key in the vault:
// the passphrase-derived key-encryption key and the per-secret data
// keys.
const KeySize = 32

// SaltSize is the size in bytes of the per-secret KDF salt.
const SaltSize = 16

// KDFAlgorithmArgon2id is the only key-derivation algorithm currently
// produced. Stored per row so the algorithm can evolve without
// breaking existing entries.
const KDFAlgorithmArgon2id = "argon2id"

// KDFParams records the key-derivation algorithm and work factors used
// for one stored credential. Serialized as JSON into the row, read
// back verbatim at decryption time — old rows keep decrypting after
// the defaults change.
type KDFParams struct {
	// Algorithm names the KDF. Only "argon2id" is produced; anything
	// else fails derivation.
	Algorithm string `json:"algorithm"`

	// Time is the argon2id time parameter (passes over memory).
	Time uint32 `json:"time"`

	// MemoryKiB is the argon2id memory parameter in KiB.
	MemoryKiB uint32 `json:"memory_kib"`

	// Threads is the argon2id parallelism parameter.
	Threads uint8 `json:"threads"`
}

// DefaultKDFParams returns the work factors for newly stored secrets:
// argon2id, 3 passes, 64 MiB, 4 lanes. Deployments tune these in the
// vaultd config; rows remember whatever they were encrypted with.
func DefaultKDFParams() KDFParams {
	return KDFParams{
		Algorithm: KDFAlgorithmArgon2id,
		Time:      3,
		MemoryKiB: 64 * 1024,
		Threads:   4,
	}
}

// validate rejects parameter sets that argon2id cannot run with.
func (p KDFParams) validate() error {
	if p.Algorithm != KDFAlgorithmArgon2id {
		return fmt.Errorf("vault: unsupported KDF algorithm %q", p.Algorithm)
	}
	if p.Time == 0 || p.MemoryKiB == 0 || p.Threads == 0 {
		return fmt.Errorf("vault: KDF work factors must be non-zero (time=%d memory=%d threads=%d)",
			p.Time, p.MemoryKiB, p.Threads)
	}
	return nil
}

// marshal serializes the params for the kdf_params row column.
func (p KDFParams) marshal() ([]byte, error) {
	encoded, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("vault: encoding KDF params: %w", err)
	}
	return encoded, nil
}

// parseKDFParams reads a kdf_params column value.
func parseKDFParams(data []byte) (KDFParams, error) {
	var params KDFParams
	if err := json.Unmarshal(data, &params); err != nil {
		return KDFParams{}, fmt.Errorf("vault: parsing KDF params: %w", err)
	}
	return params, nil
}

// deriveKey derives the key-encryption key for one stored secret from
// the master passphrase and the secret's unique salt. The passphrase
// is borrowed (read via Bytes) and NOT closed. The returned buffer
// must be closed by the caller.
func deriveKey(passphrase *secret.Buffer, salt []byte, params KDFParams) (*secret.Buffer, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("vault: salt must be %d bytes, got %d", SaltSize, len(salt))
	}

	derived := argon2.IDKey(passphrase.Bytes(), salt, params.Time, params.MemoryKiB, params.Threads, KeySize)
	// NewFromBytes copies into mmap-backed memory and zeros the heap
	// slice argon2 returned.
	return secret.NewFromBytes(derived)
}

// newSalt generates a fresh random salt.
func newSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("vault: generating salt: %w", err)
	}
	return salt, nil
}

// newDataKey generates a fresh random per-secret data key in protected
// memory.
func newDataKey() (*secret.Buffer, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		secret.Zero(key)
		return nil, fmt.Errorf("vault: generating data key: %w", err)
	}
	return secret.NewFromBytes(key)
}
