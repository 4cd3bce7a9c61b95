// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/covault/covault/lib/audit"
	"github.com/covault/covault/lib/clock"
)

const grantLockStripes = 64

type pairKey struct {
	agentID      string
	credentialID string
}

// Config holds the dependencies for a Ledger.
type Config struct {
	// Audit receives GRANTED and REVOKED events. Required.
	Audit audit.Appender

	// Clock supplies time for expiry checks. Defaults to the real
	// clock.
	Clock clock.Clock

	// Logger receives operational logs. Defaults to discard.
	Logger *slog.Logger
}

// Ledger is an in-memory store of permission grants. Grants live for
// the lifetime of the vault session; they are not persisted, so a
// restart revokes everything implicitly and agents re-request.
type Ledger struct {
	audit  audit.Appender
	clock  clock.Clock
	logger *slog.Logger

	// mu guards the maps. Individual grant state is guarded by the
	// grant's lock stripe, so unrelated grants never contend.
	mu     sync.RWMutex
	grants map[string]*PermissionGrant
	byPair map[pairKey][]string

	grantLocks [grantLockStripes]sync.Mutex
}

// New constructs an empty ledger.
func New(cfg Config) (*Ledger, error) {
	if cfg.Audit == nil {
		return nil, fmt.Errorf("ledger: config requires an audit appender")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Ledger{
		audit:  cfg.Audit,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		grants: make(map[string]*PermissionGrant),
		byPair: make(map[pairKey][]string),
	}, nil
}

func (l *Ledger) grantLock(grantID string) *sync.Mutex {
	hasher := fnv.New32a()
	hasher.Write([]byte(grantID))
	return &l.grantLocks[hasher.Sum32()%grantLockStripes]
}

// IssueParams holds the inputs for issuing a grant.
type IssueParams struct {
	AgentID      string
	CredentialID string
	Scope        Scope
	TTL          time.Duration
	MaxUses      int
}

// Issue creates a grant and emits one GRANTED audit event. The grant
// becomes consumable immediately and expires TTL from now.
func (l *Ledger) Issue(ctx context.Context, params IssueParams) (*PermissionGrant, error) {
	if params.AgentID == "" || params.CredentialID == "" {
		return nil, fmt.Errorf("ledger: agent ID and credential ID are required")
	}
	if !params.Scope.Valid() {
		return nil, fmt.Errorf("ledger: unknown scope %q", params.Scope)
	}
	if params.TTL <= 0 {
		return nil, fmt.Errorf("ledger: TTL must be positive, got %v", params.TTL)
	}
	if params.MaxUses <= 0 {
		return nil, fmt.Errorf("ledger: max uses must be positive, got %d", params.MaxUses)
	}

	grant := &PermissionGrant{
		ID:            uuid.NewString(),
		AgentID:       params.AgentID,
		CredentialID:  params.CredentialID,
		Scope:         params.Scope,
		ExpiresAt:     l.clock.Now().Add(params.TTL),
		MaxUses:       params.MaxUses,
		UsesRemaining: params.MaxUses,
	}

	key := pairKey{params.AgentID, params.CredentialID}
	l.mu.Lock()
	l.grants[grant.ID] = grant
	l.byPair[key] = append(l.byPair[key], grant.ID)
	l.mu.Unlock()

	if _, err := l.audit.Append(ctx, audit.Event{
		Type:      audit.EventGranted,
		ActorID:   params.AgentID,
		SubjectID: params.CredentialID,
		Metadata: map[string]string{
			"grant_id": grant.ID,
			"scope":    string(params.Scope),
			"max_uses": strconv.Itoa(params.MaxUses),
			"ttl":      params.TTL.String(),
		},
	}); err != nil {
		return nil, fmt.Errorf("ledger: recording GRANTED event: %w", err)
	}

	l.logger.Info("grant issued",
		"grant_id", grant.ID,
		"agent_id", params.AgentID,
		"credential_id", params.CredentialID,
		"scope", params.Scope,
	)

	snapshot := *grant
	return &snapshot, nil
}

// Consume spends one use of the identified grant. The check of
// revocation, expiry, and remaining uses and the decrement happen as
// one critical section keyed by the grant ID, so concurrent callers
// racing on a grant with one use left see exactly one success.
func (l *Ledger) Consume(ctx context.Context, grantID string) (*PermissionGrant, error) {
	l.mu.RLock()
	grant, ok := l.grants[grantID]
	l.mu.RUnlock()
	if !ok {
		return nil, ErrNoGrant
	}

	lock := l.grantLock(grantID)
	lock.Lock()
	defer lock.Unlock()
	return l.consumeLocked(grant)
}

// consumeLocked checks and decrements a grant. The caller holds the
// grant's lock stripe.
func (l *Ledger) consumeLocked(grant *PermissionGrant) (*PermissionGrant, error) {
	switch {
	case grant.Revoked:
		return nil, fmt.Errorf("%w: grant %s", ErrGrantRevoked, grant.ID)
	case l.clock.Now().After(grant.ExpiresAt):
		return nil, fmt.Errorf("%w: grant %s expired at %s",
			ErrGrantExpired, grant.ID, grant.ExpiresAt.Format(time.RFC3339))
	case grant.UsesRemaining <= 0:
		return nil, fmt.Errorf("%w: grant %s", ErrGrantExhausted, grant.ID)
	}
	grant.UsesRemaining--
	snapshot := *grant
	return &snapshot, nil
}

// CheckAndConsume finds a usable grant for the (agent, credential)
// pair and spends one use of it. When several grants exist, the first
// usable one in issuance order is consumed. When none is usable, the
// failure reason of the most recently issued grant is returned;
// ErrNoGrant means no grant was ever issued for the pair.
func (l *Ledger) CheckAndConsume(ctx context.Context, agentID, credentialID string) (*PermissionGrant, error) {
	l.mu.RLock()
	grantIDs := append([]string(nil), l.byPair[pairKey{agentID, credentialID}]...)
	l.mu.RUnlock()
	if len(grantIDs) == 0 {
		return nil, fmt.Errorf("%w: agent %s credential %s", ErrNoGrant, agentID, credentialID)
	}

	var lastErr error
	for _, grantID := range grantIDs {
		snapshot, err := l.Consume(ctx, grantID)
		if err == nil {
			return snapshot, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Revoke marks a grant permanently unusable. The first call emits one
// REVOKED audit event; repeat calls are no-ops. Revoking an unknown
// grant ID returns ErrNoGrant.
func (l *Ledger) Revoke(ctx context.Context, grantID string) error {
	l.mu.RLock()
	grant, ok := l.grants[grantID]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: grant %s", ErrNoGrant, grantID)
	}

	lock := l.grantLock(grantID)
	lock.Lock()
	alreadyRevoked := grant.Revoked
	grant.Revoked = true
	lock.Unlock()

	if alreadyRevoked {
		return nil
	}

	if _, err := l.audit.Append(ctx, audit.Event{
		Type:      audit.EventRevoked,
		ActorID:   grant.AgentID,
		SubjectID: grant.CredentialID,
		Metadata:  map[string]string{"grant_id": grantID},
	}); err != nil {
		return fmt.Errorf("ledger: recording REVOKED event: %w", err)
	}

	l.logger.Info("grant revoked", "grant_id", grantID)
	return nil
}

// RevokeCredential revokes every grant covering the credential, for
// all agents. Used when a credential is deleted or rotated out from
// under its grants. Returns the number of grants newly revoked.
//
// The matching grant pointers are captured under l.mu; the per-grant
// state changes only ever touch those pointers, so concurrent Issue
// calls mutating the maps cannot race with the revocation loop.
func (l *Ledger) RevokeCredential(ctx context.Context, credentialID string) (int, error) {
	l.mu.RLock()
	var matched []*PermissionGrant
	for _, grant := range l.grants {
		if grant.CredentialID == credentialID {
			matched = append(matched, grant)
		}
	}
	l.mu.RUnlock()

	revoked := 0
	for _, grant := range matched {
		lock := l.grantLock(grant.ID)
		lock.Lock()
		already := grant.Revoked
		grant.Revoked = true
		lock.Unlock()
		if already {
			continue
		}
		if _, err := l.audit.Append(ctx, audit.Event{
			Type:      audit.EventRevoked,
			ActorID:   grant.AgentID,
			SubjectID: credentialID,
			Metadata:  map[string]string{"grant_id": grant.ID},
		}); err != nil {
			return revoked, fmt.Errorf("ledger: recording REVOKED event: %w", err)
		}
		revoked++
	}
	return revoked, nil
}

// Lookup returns a snapshot of the grant, or ErrNoGrant.
func (l *Ledger) Lookup(grantID string) (*PermissionGrant, error) {
	l.mu.RLock()
	grant, ok := l.grants[grantID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: grant %s", ErrNoGrant, grantID)
	}

	lock := l.grantLock(grantID)
	lock.Lock()
	snapshot := *grant
	lock.Unlock()
	return &snapshot, nil
}
