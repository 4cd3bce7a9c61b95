// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

// Package ledger tracks permission grants: scoped, expiring,
// use-limited capabilities linking one agent to one stored credential.
//
// A grant is issued when a credential request is fulfilled and spent
// one use at a time through Consume or CheckAndConsume. Consumption is
// the invariant-preserving operation: it atomically verifies that the
// grant is not revoked, not expired, and has uses remaining, then
// decrements the use count, all inside a critical section keyed by the
// grant ID. Two callers racing on a grant with one use left see
// exactly one success.
//
// Expiry is lazy. Nothing sweeps the ledger; an expired grant is
// detected and rejected at consumption time. Revocation is explicit,
// idempotent, and audited once.
package ledger
