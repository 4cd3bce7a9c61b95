// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

// covault-vaultd runs one owner's vault session with a terminal UI
// adapter: it unlocks the vault, then services credential prompts
// from the flow manager interactively until interrupted.
package main
