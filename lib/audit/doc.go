// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit provides the vault's append-only event log. Every
// state-changing operation in the vault store, grant ledger, and flow
// manager appends exactly one [Event] before returning; the log has no
// mutation or deletion API.
//
// Events carry a vault-wide monotonic ID and a BLAKE3 chain hash:
// each event's hash covers the previous event's hash plus the event's
// deterministic CBOR encoding, so any retroactive edit or deletion of
// a stored event breaks the chain at that point. [Log.Verify] walks
// the chain and reports the first break.
//
// Key exports:
//
//   - [Log.Append] -- O(1) append, assigns ID and chain hash
//   - [Log.Query] -- read-only retrieval by actor/subject/time range
//   - [Log.Verify] -- tamper check over the full chain
//   - [Log.Export] -- zstd-compressed CBOR stream for archival
//
// Appends are serialized by the log's mutex, which gives a total order
// of events for any single subject. Cross-subject ordering beyond the
// monotonic ID is not guaranteed or required.
//
// Depends on lib/sqlitepool, lib/codec, lib/clock.
package audit
