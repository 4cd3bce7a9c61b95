// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

// Package flow orchestrates the credential request protocol between
// autonomous agents, the vault, and the human who owns the secrets.
//
// An agent calls RequestCredential. The manager validates the category
// against the schema registry, then tries the fast path: an existing
// stored credential plus a still-valid grant. When neither exists it
// parks the caller on a pending CredentialRequest and emits a
// PromptRequired event for the external UI adapter. The adapter either
// supplies field values (RespondToPrompt: validate, store, issue a
// grant, wake the caller with a handle) or denies (DenyPrompt), or the
// response deadline passes and the request expires. PENDING is the
// only non-terminal state; FULFILLED, DENIED, and EXPIRED are final.
//
// The manager talks to the UI layer only through typed channels: the
// outbound event stream (Events) and the inbound RespondToPrompt and
// DenyPrompt calls. It has no dependency on any UI framework.
//
// Decrypted secret material is handed to agents only through
// UseCredential, which spends one grant use and returns the plaintext
// in a zero-on-close buffer scoped to a single operation.
package flow
