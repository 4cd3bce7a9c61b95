// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides covault's standard CBOR encoding. All durable
// binary payloads — serialized credential fields before encryption,
// audit events in the export stream, and the audit chain-hash
// preimage — go through [Marshal] and [Unmarshal].
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// Determinism matters twice here: the audit chain hash must be
// reproducible from the stored event, and encrypting the same
// credential fields twice must differ only by nonce and salt, never by
// serialization order.
//
// Consumers import only this package, never fxamacker/cbor directly.
package codec
