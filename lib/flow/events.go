// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"github.com/covault/covault/lib/schema"
)

// Event is the sealed set of notifications the manager sends to the
// UI adapter over the Events channel.
type Event interface {
	isEvent()
}

// PromptRequired asks the UI adapter to collect credential fields
// from the user. The adapter answers with RespondToPrompt or
// DenyPrompt, naming the request ID.
type PromptRequired struct {
	RequestID     string
	Category      string
	Justification string

	// SchemaFields is the declared field list for the category, in
	// display order, so the adapter can render the form without
	// consulting the registry itself.
	SchemaFields []schema.Field
}

// RequestApproved reports that a pending request was fulfilled.
type RequestApproved struct {
	RequestID string
}

// RequestDenied reports that the user denied a pending request.
type RequestDenied struct {
	RequestID string
}

// RequestExpired reports that a pending request hit its response
// deadline.
type RequestExpired struct {
	RequestID string
}

func (PromptRequired) isEvent()  {}
func (RequestApproved) isEvent() {}
func (RequestDenied) isEvent()   {}
func (RequestExpired) isEvent()  {}
