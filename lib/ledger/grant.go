// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"errors"
	"time"
)

// Scope limits what a grant's holder may do with the credential.
type Scope string

const (
	// ScopeUseOnly allows the flow manager to decrypt the credential
	// on the agent's behalf for the duration of one operation. The
	// agent never sees the raw secret outside that window.
	ScopeUseOnly Scope = "USE_ONLY"

	// ScopeReveal allows the raw secret to be returned to the agent.
	ScopeReveal Scope = "REVEAL"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeUseOnly || s == ScopeReveal
}

// PermissionGrant is a point-in-time snapshot of one grant. Methods
// on Ledger return copies; mutating a snapshot has no effect on the
// ledger's state.
type PermissionGrant struct {
	// ID is the grant's unique identifier (UUID).
	ID string

	// AgentID is the autonomous caller the grant was issued to.
	AgentID string

	// CredentialID is the stored credential the grant covers.
	CredentialID string

	// Scope limits how the credential may be used.
	Scope Scope

	// ExpiresAt is the instant after which the grant rejects
	// consumption. Enforced lazily at consumption time.
	ExpiresAt time.Time

	// MaxUses is the total number of uses the grant was issued with.
	MaxUses int

	// UsesRemaining counts down from MaxUses. Never negative.
	UsesRemaining int

	// Revoked marks the grant permanently unusable.
	Revoked bool
}

var (
	// ErrNoGrant is returned when no grant exists for the requested
	// (agent, credential) pair.
	ErrNoGrant = errors.New("no grant for agent and credential")

	// ErrGrantExpired is returned when the grant's expiry has passed.
	ErrGrantExpired = errors.New("grant expired")

	// ErrGrantExhausted is returned when the grant has no uses
	// remaining.
	ErrGrantExhausted = errors.New("grant exhausted")

	// ErrGrantRevoked is returned when the grant has been revoked.
	ErrGrantRevoked = errors.New("grant revoked")
)
