// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema declares the shape and validation rules for each
// credential category: which fields a credential of that category
// carries, how sensitive each field is, and what pattern its value
// must match.
//
// A [Registry] holds one immutable [CredentialSchema] per category,
// registered once at startup (either programmatically or from a JSONC
// catalog file via [LoadCatalog]). [Registry.ValidateFields] is the
// gate every inbound credential payload passes through before any
// vault or ledger state is touched — validation failures have no
// durable side effects.
//
// Key exports:
//
//   - [CredentialSchema] / [Field] -- declared shape per category
//   - [Registry.Register] -- fails with [ErrDuplicateCategory]
//   - [Registry.ValidateFields] -- returns normalized fields or a
//     [ValidationError] naming the first offending field
//   - [LoadCatalog] -- parse a JSONC catalog of schemas
//
// No covault-internal dependencies. Imported by lib/vault (to
// serialize validated fields) and lib/flow (boundary validation).
package schema
