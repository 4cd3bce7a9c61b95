// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/covault/covault/lib/secret"
)

// sealedBlobVersion is the version byte prepended to every sealed
// blob. Included in the AEAD additional authenticated data, so
// tampering with the version byte causes authentication failure.
const sealedBlobVersion byte = 0x01

// sealedBlobOverhead is the byte overhead per sealed blob:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const sealedBlobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// AAD context strings. They bind each ciphertext to its role: a
// wrapped data key can never be fed to the payload opener and vice
// versa, even for the same credential.
const (
	aadContextPayload = "covault.vault.payload.v1"
	aadContextDataKey = "covault.vault.datakey.v1"
)

// seal encrypts plaintext with XChaCha20-Poly1305 under key and
// returns the standard blob:
//
//	[version: 1 byte] [nonce: 24 bytes, random] [ciphertext+tag]
//
// The AAD is version || context || credentialID, binding the blob to
// its role and to the credential row it belongs to — swapping blobs
// between rows fails authentication.
//
// The key is borrowed and NOT closed. It must be exactly KeySize
// bytes.
func seal(plaintext []byte, key *secret.Buffer, context, credentialID string) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: creating cipher: %v", ErrEncryption, err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("%w: generating nonce: %v", ErrEncryption, err)
	}

	aad := buildAAD(sealedBlobVersion, context, credentialID)

	output := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	output[0] = sealedBlobVersion
	copy(output[1:], nonce[:])

	return aead.Seal(output, nonce[:], plaintext, aad), nil
}

// open decrypts a blob produced by seal. Any authentication failure —
// wrong key, tampered ciphertext, mismatched credential ID or role —
// is reported as a *IntegrityError for the given credential.
//
// The key is borrowed and NOT closed. The returned plaintext is a
// heap slice; callers move it into a secret.Buffer (which zeros it)
// or zero it themselves on every path.
func open(blob []byte, key *secret.Buffer, context, credentialID string) ([]byte, error) {
	if len(blob) < sealedBlobOverhead {
		return nil, &IntegrityError{CredentialID: credentialID}
	}
	if blob[0] != sealedBlobVersion {
		return nil, &IntegrityError{CredentialID: credentialID}
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := blob[1+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}

	aad := buildAAD(blob[0], context, credentialID)

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, &IntegrityError{CredentialID: credentialID}
	}
	return plaintext, nil
}

func buildAAD(version byte, context, credentialID string) []byte {
	aad := make([]byte, 0, 1+len(context)+len(credentialID))
	aad = append(aad, version)
	aad = append(aad, context...)
	aad = append(aad, credentialID...)
	return aad
}
