// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"errors"
	"time"
)

// RequestStatus is the lifecycle state of a CredentialRequest.
type RequestStatus string

const (
	// StatusPending requests are waiting for the UI adapter or the
	// response deadline. The only non-terminal state.
	StatusPending RequestStatus = "PENDING"

	// StatusFulfilled requests produced a stored credential and a
	// grant.
	StatusFulfilled RequestStatus = "FULFILLED"

	// StatusDenied requests were rejected by the user.
	StatusDenied RequestStatus = "DENIED"

	// StatusExpired requests hit the response deadline with no
	// answer.
	StatusExpired RequestStatus = "EXPIRED"
)

// Terminal reports whether the status admits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == StatusFulfilled || s == StatusDenied || s == StatusExpired
}

// CredentialRequest records one agent's pending or settled request
// for a credential it does not yet hold a grant for.
type CredentialRequest struct {
	// ID is the request's unique identifier (UUID).
	ID string

	// AgentID is the requesting agent.
	AgentID string

	// Category is the credential category being requested.
	Category string

	// Justification is the agent-supplied reason, shown verbatim in
	// the user prompt.
	Justification string

	// WorkflowContextID correlates the request with the caller's
	// multi-step task. Opaque to the vault.
	WorkflowContextID string

	// Status is the request's lifecycle state.
	Status RequestStatus

	// CreatedAt is when the request was opened.
	CreatedAt time.Time

	// RespondBy is the deadline after which the request expires.
	RespondBy time.Time
}

var (
	// ErrRequestTimeout is returned to a caller whose request expired
	// with no user response. Recoverable: the agent may issue a brand
	// new request.
	ErrRequestTimeout = errors.New("credential request timed out")

	// ErrRequestDenied is returned when the user denies the request.
	// Terminal for that request.
	ErrRequestDenied = errors.New("credential request denied")

	// ErrUnauthorizedAgent is returned when an agent presents a
	// handle issued to a different agent.
	ErrUnauthorizedAgent = errors.New("agent does not hold this grant")

	// ErrUnknownRequest is returned by prompt responses naming a
	// request ID that is not pending.
	ErrUnknownRequest = errors.New("no pending request with this ID")
)
