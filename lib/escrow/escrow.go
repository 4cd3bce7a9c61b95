// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package escrow

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"filippo.io/age"

	"github.com/covault/covault/lib/codec"
	"github.com/covault/covault/lib/secret"
)

// bundleVersion is the current escrow bundle format.
const bundleVersion = 1

// Entry is one recovered credential inside a bundle.
type Entry struct {
	CredentialID string            `cbor:"1,keyasint"`
	OwnerID      string            `cbor:"2,keyasint"`
	Category     string            `cbor:"3,keyasint"`
	Label        string            `cbor:"4,keyasint"`
	Fields       map[string]string `cbor:"5,keyasint"`
}

// Bundle is the plaintext payload of an escrow export.
type Bundle struct {
	Version       int       `cbor:"1,keyasint"`
	CreatedAtUnix int64     `cbor:"2,keyasint"`
	Entries       []Entry   `cbor:"3,keyasint"`
	CreatedAt     time.Time `cbor:"-"`
}

// Keypair holds an age x25519 keypair for escrow recovery. The
// private key lives in a secret.Buffer (mmap-backed, locked against
// swap, excluded from core dumps); the public key is a plain string,
// safe to record in configuration.
//
// The caller must Close the keypair when done.
type Keypair struct {
	// PrivateKey is the secret key in AGE-SECRET-KEY-1... format.
	// Never logged, never written unencrypted to disk by this
	// package.
	PrivateKey *secret.Buffer

	// PublicKey is the corresponding age1... recipient string.
	PublicKey string
}

// Close releases the private key memory. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair generates a new age x25519 escrow keypair. The
// private key should be moved to offline storage immediately.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}

	// Move the private key into mmap-backed memory immediately. The
	// identity's own string stays on the heap until GC — unavoidable
	// with age's API; the mmap buffer is the durable copy.
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}

	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// ParsePublicKey validates an age public key string before it is
// accepted as an escrow recipient.
func ParsePublicKey(publicKey string) error {
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("invalid age public key: %w", err)
	}
	return nil
}

// ParsePrivateKey validates an age private key held in a
// secret.Buffer.
func ParsePrivateKey(privateKey *secret.Buffer) error {
	if _, err := age.ParseX25519Identity(privateKey.String()); err != nil {
		return fmt.Errorf("invalid age private key: %w", err)
	}
	return nil
}

// Seal writes the bundle to w, encrypted to every recipient key. At
// least one recipient is required. The CBOR plaintext is zeroed
// before Seal returns, success or not.
func Seal(w io.Writer, bundle *Bundle, recipientKeys []string) error {
	if len(recipientKeys) == 0 {
		return fmt.Errorf("at least one escrow recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	record := *bundle
	record.Version = bundleVersion
	if record.CreatedAtUnix == 0 && !record.CreatedAt.IsZero() {
		record.CreatedAtUnix = record.CreatedAt.Unix()
	}

	plaintext, err := codec.Marshal(&record)
	if err != nil {
		return fmt.Errorf("encoding escrow bundle: %w", err)
	}
	defer secret.Zero(plaintext)

	encryptor, err := age.Encrypt(w, recipients...)
	if err != nil {
		return fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := encryptor.Write(plaintext); err != nil {
		return fmt.Errorf("writing escrow bundle: %w", err)
	}
	if err := encryptor.Close(); err != nil {
		return fmt.Errorf("finalizing escrow encryption: %w", err)
	}
	return nil
}

// Open decrypts a bundle with the operator's private key. The private
// key is borrowed, not closed. The decrypted CBOR is zeroed before
// Open returns; the returned entries are ordinary heap values and the
// caller should treat them as live secret material.
func Open(r io.Reader, privateKey *secret.Buffer) (*Bundle, error) {
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	reader, err := age.Decrypt(r, identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting escrow bundle: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading escrow bundle: %w", err)
	}
	defer secret.Zero(plaintext)

	var bundle Bundle
	if err := codec.Unmarshal(plaintext, &bundle); err != nil {
		return nil, fmt.Errorf("decoding escrow bundle: %w", err)
	}
	if bundle.Version != bundleVersion {
		return nil, fmt.Errorf("unsupported escrow bundle version %d", bundle.Version)
	}
	bundle.CreatedAt = time.Unix(bundle.CreatedAtUnix, 0).UTC()
	return &bundle, nil
}

// SealToBytes is a convenience for callers that hold the bundle in
// memory (tests, small vaults).
func SealToBytes(bundle *Bundle, recipientKeys []string) ([]byte, error) {
	var buffer bytes.Buffer
	if err := Seal(&buffer, bundle, recipientKeys); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
