// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

// covault-admin is the operator CLI for a covault database: store,
// list, rotate, and revoke credentials, verify and export the audit
// chain, and produce age-encrypted escrow bundles for recovery.
package main
