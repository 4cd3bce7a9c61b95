// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/covault/covault/lib/audit"
	"github.com/covault/covault/lib/clock"
	"github.com/covault/covault/lib/ledger"
	"github.com/covault/covault/lib/schema"
	"github.com/covault/covault/lib/secret"
	"github.com/covault/covault/lib/vault"
)

const (
	// DefaultRespondTimeout bounds how long a request waits for the
	// user before expiring.
	DefaultRespondTimeout = 120 * time.Second

	// DefaultGrantTTL is the lifetime of grants issued on request
	// fulfillment.
	DefaultGrantTTL = time.Hour

	// DefaultGrantMaxUses is the use budget of grants issued on
	// request fulfillment.
	DefaultGrantMaxUses = 1

	// DefaultEventBuffer is the outbound event channel capacity.
	DefaultEventBuffer = 16

	// defaultLabel names credentials stored through the prompt flow.
	defaultLabel = "default"
)

// Handle is the capability an agent holds after a successful request.
// It names a grant without exposing any secret material; the secret is
// reachable only through UseCredential.
type Handle struct {
	// GrantID is the grant that UseCredential spends.
	GrantID string

	// CredentialID is the stored credential the grant covers.
	CredentialID string

	// AgentID is the agent the handle was issued to.
	AgentID string

	// Category is the credential's schema category.
	Category string

	// prepaid is set when the fast path already consumed one grant
	// use during RequestCredential. The first UseCredential call
	// spends it instead of consuming again.
	prepaid atomic.Bool
}

// Config holds the dependencies and tuning for a Manager.
type Config struct {
	// Registry validates categories and prompt responses. Required.
	Registry *schema.Registry

	// Vault stores and decrypts credentials. Required.
	Vault *vault.Store

	// Ledger issues and consumes grants. Required.
	Ledger *ledger.Ledger

	// Audit receives DENIED and EXPIRED request events. Required.
	Audit audit.Appender

	// OwnerID is the user whose session this manager serves. All
	// stored credentials belong to this owner. Required.
	OwnerID string

	// Clock supplies time and timers. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives operational logs. Defaults to discard.
	Logger *slog.Logger

	// RespondTimeout overrides DefaultRespondTimeout.
	RespondTimeout time.Duration

	// GrantTTL overrides DefaultGrantTTL.
	GrantTTL time.Duration

	// GrantMaxUses overrides DefaultGrantMaxUses.
	GrantMaxUses int

	// EventBuffer overrides DefaultEventBuffer.
	EventBuffer int
}

type requestOutcome struct {
	handle *Handle
	err    error
}

type pendingRequest struct {
	request *CredentialRequest
	result  chan requestOutcome
	timer   *clock.Timer
}

// Manager runs the credential request protocol for one owner session.
type Manager struct {
	registry *schema.Registry
	vault    *vault.Store
	ledger   *ledger.Ledger
	audit    audit.Appender
	clock    clock.Clock
	logger   *slog.Logger

	ownerID        string
	respondTimeout time.Duration
	grantTTL       time.Duration
	grantMaxUses   int

	events chan Event

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// New constructs a Manager. The caller must drain Events.
func New(cfg Config) (*Manager, error) {
	if cfg.Registry == nil || cfg.Vault == nil || cfg.Ledger == nil || cfg.Audit == nil {
		return nil, fmt.Errorf("flow: config requires registry, vault, ledger, and audit")
	}
	if cfg.OwnerID == "" {
		return nil, fmt.Errorf("flow: config requires an owner ID")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.RespondTimeout <= 0 {
		cfg.RespondTimeout = DefaultRespondTimeout
	}
	if cfg.GrantTTL <= 0 {
		cfg.GrantTTL = DefaultGrantTTL
	}
	if cfg.GrantMaxUses <= 0 {
		cfg.GrantMaxUses = DefaultGrantMaxUses
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}

	return &Manager{
		registry:       cfg.Registry,
		vault:          cfg.Vault,
		ledger:         cfg.Ledger,
		audit:          cfg.Audit,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		ownerID:        cfg.OwnerID,
		respondTimeout: cfg.RespondTimeout,
		grantTTL:       cfg.GrantTTL,
		grantMaxUses:   cfg.GrantMaxUses,
		events:         make(chan Event, cfg.EventBuffer),
		pending:        make(map[string]*pendingRequest),
	}, nil
}

// Events is the outbound notification stream for the UI adapter.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// RequestCredential runs the request protocol for one agent.
//
// The category is validated first; an unknown category returns a
// *schema.ValidationError with no request created and nothing audited.
// If a stored credential for the category exists and the agent holds a
// still-valid grant, one use is consumed and a handle returns
// immediately with no prompt. Otherwise the call parks on a new
// PENDING request until the UI adapter responds or the deadline
// passes.
//
// The returned handle is ready for UseCredential. On the fast path the
// consumed use is carried inside the handle, so the first
// UseCredential call does not consume again.
func (m *Manager) RequestCredential(ctx context.Context, agentID, category, justification, workflowContextID string) (*Handle, error) {
	if agentID == "" {
		return nil, fmt.Errorf("flow: agent ID is required")
	}
	if err := m.registry.ValidateCategory(category); err != nil {
		return nil, err
	}

	if handle, ok, err := m.tryExistingGrant(ctx, agentID, category); err != nil {
		return nil, err
	} else if ok {
		return handle, nil
	}

	pending, err := m.openRequest(agentID, category, justification, workflowContextID)
	if err != nil {
		return nil, err
	}

	select {
	case outcome := <-pending.result:
		return outcome.handle, outcome.err
	case <-ctx.Done():
		// The request stays pending; the deadline timer or the
		// adapter settles it.
		return nil, ctx.Err()
	}
}

// tryExistingGrant is the no-prompt fast path: a stored credential for
// the category plus a consumable grant for this agent.
func (m *Manager) tryExistingGrant(ctx context.Context, agentID, category string) (*Handle, bool, error) {
	credentials, err := m.vault.Lookup(ctx, m.ownerID, category)
	if err != nil {
		return nil, false, err
	}
	for _, credential := range credentials {
		if credential.NeedsReentry {
			continue
		}
		grant, err := m.ledger.CheckAndConsume(ctx, agentID, credential.ID)
		if err != nil {
			continue
		}
		handle := &Handle{
			GrantID:      grant.ID,
			CredentialID: credential.ID,
			AgentID:      agentID,
			Category:     category,
		}
		handle.prepaid.Store(true)
		m.logger.Info("existing grant consumed",
			"agent_id", agentID,
			"category", category,
			"grant_id", grant.ID,
		)
		return handle, true, nil
	}
	return nil, false, nil
}

// openRequest registers a PENDING request, arms its expiry timer, and
// emits PromptRequired.
func (m *Manager) openRequest(agentID, category, justification, workflowContextID string) (*pendingRequest, error) {
	declared, ok := m.registry.Lookup(category)
	if !ok {
		return nil, &schema.ValidationError{Category: category, Reason: "unknown category"}
	}

	now := m.clock.Now()
	request := &CredentialRequest{
		ID:                uuid.NewString(),
		AgentID:           agentID,
		Category:          category,
		Justification:     justification,
		WorkflowContextID: workflowContextID,
		Status:            StatusPending,
		CreatedAt:         now,
		RespondBy:         now.Add(m.respondTimeout),
	}
	pending := &pendingRequest{
		request: request,
		result:  make(chan requestOutcome, 1),
	}

	m.mu.Lock()
	m.pending[request.ID] = pending
	pending.timer = m.clock.AfterFunc(m.respondTimeout, func() {
		m.expireRequest(request.ID)
	})
	m.mu.Unlock()

	m.logger.Info("credential request opened",
		"request_id", request.ID,
		"agent_id", agentID,
		"category", category,
	)

	m.events <- PromptRequired{
		RequestID:     request.ID,
		Category:      category,
		Justification: justification,
		SchemaFields:  declared.Fields,
	}
	return pending, nil
}

// settleRequest atomically moves a pending request to a terminal
// status and wakes its waiter. Returns false when the request was
// already settled or never existed.
func (m *Manager) settleRequest(requestID string, status RequestStatus, outcome requestOutcome) bool {
	m.mu.Lock()
	pending, ok := m.pending[requestID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.pending, requestID)
	pending.request.Status = status
	if pending.timer != nil {
		pending.timer.Stop()
	}
	m.mu.Unlock()

	pending.result <- outcome
	return true
}

// lookupPending returns the pending request without settling it.
func (m *Manager) lookupPending(requestID string) (*pendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending, ok := m.pending[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	return pending, nil
}

// RespondToPrompt fulfills a pending request with user-supplied field
// values: validate against the schema, store in the vault, issue a
// grant, wake the parked caller with a handle.
//
// Validation failures and a locked vault leave the request PENDING so
// the adapter can correct the input or unlock and call again. Only a
// successful store settles the request.
func (m *Manager) RespondToPrompt(ctx context.Context, requestID string, fields map[string]string) error {
	pending, err := m.lookupPending(requestID)
	if err != nil {
		return err
	}
	request := pending.request

	normalized, err := m.registry.ValidateFields(request.Category, fields)
	if err != nil {
		return err
	}

	stored, err := m.vault.Put(ctx, vault.PutParams{
		OwnerID:  m.ownerID,
		Category: request.Category,
		Label:    defaultLabel,
		Fields:   normalized,
	})
	if err != nil {
		// ErrLocked in particular: the idle timer fired while the
		// prompt was open. The request stays pending; unlock and
		// retry.
		return err
	}

	grant, err := m.ledger.Issue(ctx, ledger.IssueParams{
		AgentID:      request.AgentID,
		CredentialID: stored.ID,
		Scope:        ledger.ScopeUseOnly,
		TTL:          m.grantTTL,
		MaxUses:      m.grantMaxUses,
	})
	if err != nil {
		return err
	}

	handle := &Handle{
		GrantID:      grant.ID,
		CredentialID: stored.ID,
		AgentID:      request.AgentID,
		Category:     request.Category,
	}
	if !m.settleRequest(requestID, StatusFulfilled, requestOutcome{handle: handle}) {
		return fmt.Errorf("%w: %s settled while storing", ErrUnknownRequest, requestID)
	}

	m.events <- RequestApproved{RequestID: requestID}
	m.logger.Info("credential request fulfilled",
		"request_id", requestID,
		"credential_id", stored.ID,
		"grant_id", grant.ID,
	)
	return nil
}

// DenyPrompt settles a pending request as DENIED, emitting one DENIED
// audit event. The parked caller receives ErrRequestDenied.
func (m *Manager) DenyPrompt(ctx context.Context, requestID string) error {
	pending, err := m.lookupPending(requestID)
	if err != nil {
		return err
	}
	request := pending.request

	if !m.settleRequest(requestID, StatusDenied, requestOutcome{
		err: fmt.Errorf("%w: request %s", ErrRequestDenied, requestID),
	}) {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}

	if _, err := m.audit.Append(ctx, audit.Event{
		Type:      audit.EventDenied,
		ActorID:   m.ownerID,
		SubjectID: requestID,
		Metadata: map[string]string{
			"agent_id": request.AgentID,
			"category": request.Category,
		},
	}); err != nil {
		return fmt.Errorf("flow: recording DENIED event: %w", err)
	}

	m.events <- RequestDenied{RequestID: requestID}
	m.logger.Info("credential request denied", "request_id", requestID)
	return nil
}

// expireRequest is the deadline timer callback.
func (m *Manager) expireRequest(requestID string) {
	m.mu.Lock()
	pending, ok := m.pending[requestID]
	m.mu.Unlock()
	if !ok {
		return
	}
	request := pending.request

	if !m.settleRequest(requestID, StatusExpired, requestOutcome{
		err: fmt.Errorf("%w: request %s", ErrRequestTimeout, requestID),
	}) {
		return
	}

	if _, err := m.audit.Append(context.Background(), audit.Event{
		Type:      audit.EventExpired,
		ActorID:   request.AgentID,
		SubjectID: requestID,
		Metadata:  map[string]string{"category": request.Category},
	}); err != nil {
		m.logger.Error("recording EXPIRED event", "request_id", requestID, "error", err)
	}

	m.events <- RequestExpired{RequestID: requestID}
	m.logger.Info("credential request expired", "request_id", requestID)
}

// UseCredential spends one use of the handle's grant and returns the
// decrypted fields in a zero-on-close buffer. The caller must Close
// the buffer as soon as the operation completes; the plaintext is
// never cached.
//
// The agent ID must match the handle's issuee. Grant failures surface
// as ledger errors (expired, exhausted, revoked); decryption failures
// as vault errors.
func (m *Manager) UseCredential(ctx context.Context, agentID string, handle *Handle) (*secret.Buffer, error) {
	if handle == nil {
		return nil, fmt.Errorf("flow: nil handle")
	}
	if agentID != handle.AgentID {
		return nil, fmt.Errorf("%w: handle issued to %s", ErrUnauthorizedAgent, handle.AgentID)
	}

	if handle.prepaid.CompareAndSwap(true, false) {
		// The fast path already consumed a use; re-check revocation
		// and expiry without consuming again.
		grant, err := m.ledger.Lookup(handle.GrantID)
		if err != nil {
			return nil, err
		}
		switch {
		case grant.Revoked:
			return nil, fmt.Errorf("%w: grant %s", ledger.ErrGrantRevoked, handle.GrantID)
		case m.clock.Now().After(grant.ExpiresAt):
			return nil, fmt.Errorf("%w: grant %s expired at %s",
				ledger.ErrGrantExpired, handle.GrantID, grant.ExpiresAt.Format(time.RFC3339))
		}
	} else {
		if _, err := m.ledger.Consume(ctx, handle.GrantID); err != nil {
			return nil, err
		}
	}

	return m.vault.Get(ctx, handle.CredentialID, agentID)
}

// PendingRequests returns snapshots of requests still waiting for a
// response, for UI listings.
func (m *Manager) PendingRequests() []CredentialRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	requests := make([]CredentialRequest, 0, len(m.pending))
	for _, pending := range m.pending {
		requests = append(requests, *pending.request)
	}
	return requests
}
