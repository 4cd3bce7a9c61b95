// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code
// injects [Real]; tests inject [Fake] and advance it explicitly.
//
// The vault's two timing behaviors both run through this interface:
// the idle auto-lock timer (AfterFunc) and the pending-request
// timeout in the flow manager (After). Tests for request expiry and
// idle locking therefore never sleep.
package clock
