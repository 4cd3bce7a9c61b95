// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers: channel receive/send
// with timeout safety valves (for flow-manager prompt streams) and
// unique identifier generation for agents, owners, and requests.
package testutil
