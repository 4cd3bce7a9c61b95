// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault implements the encrypted credential store: envelope
// encryption of credential payloads, keyed persistence, integrity
// checking, and the lock/unlock lifecycle of the master passphrase.
//
// Envelope model: each stored credential's fields are serialized with
// deterministic CBOR and sealed with XChaCha20-Poly1305 under a random
// per-secret data key. The data key is itself sealed under a key
// derived from the user's passphrase via argon2id with a unique salt
// per secret. [KDFParams] records the algorithm and work factors on
// every row, so the work factors can be raised for new entries without
// breaking old ones.
//
// The passphrase is held in a [secret.Buffer] only while the store is
// unlocked; an idle timer re-locks the store and zeroes the buffer.
// Operations that need the passphrase while locked fail immediately
// with [ErrLocked] — they never block waiting for an unlock.
//
// An authentication-tag failure during decryption (ciphertext
// tampering or a wrong passphrase) is fatal for that entry: the store
// emits an INTEGRITY_FAILURE audit event, flags the row as requiring
// user re-entry, and returns [*IntegrityError]. There is no retry and
// no guessing; [Store.Rotate] with freshly entered fields is the only
// way to clear the flag.
//
// Depends on lib/secret, lib/codec, lib/sqlitepool, lib/audit,
// lib/clock; crypto from golang.org/x/crypto (argon2,
// chacha20poly1305).
package vault
