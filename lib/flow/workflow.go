// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package flow

// WorkflowContext is the calling orchestrator's multi-step task state.
// The vault never interprets step semantics; it reads only the ID as a
// correlation key on requests and audit metadata. The binding map is a
// convenience for orchestrators tracking which grant backs which step.
type WorkflowContext struct {
	// ID is the orchestrator-assigned correlation key.
	ID string

	// Steps is the ordered list of step names.
	Steps []string

	// CurrentStepIndex points at the step in progress.
	CurrentStepIndex int

	// CredentialBindings maps a step index to the grant ID backing
	// it.
	CredentialBindings map[int]string
}

// Bind records that the given grant backs the step at index.
func (w *WorkflowContext) Bind(stepIndex int, grantID string) {
	if w.CredentialBindings == nil {
		w.CredentialBindings = make(map[int]string)
	}
	w.CredentialBindings[stepIndex] = grantID
}

// GrantFor returns the grant bound to the step, if any.
func (w *WorkflowContext) GrantFor(stepIndex int) (string, bool) {
	grantID, ok := w.CredentialBindings[stepIndex]
	return grantID, ok
}
