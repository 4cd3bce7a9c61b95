// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

// Package escrow produces and opens operator-recovery bundles: a
// snapshot of decrypted credential fields re-encrypted with age to one
// or more operator escrow keys. A bundle is the disaster path for a
// forgotten master passphrase — the operator's age private key, kept
// offline, can recover the credential material without it.
//
// Bundles are age-native binary streams wrapping a deterministic CBOR
// record. Private keys and intermediate plaintext live in
// secret.Buffer mmap memory and are zeroed as soon as the bundle is
// sealed or the entries are consumed.
package escrow
