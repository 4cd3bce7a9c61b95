// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/covault/covault/lib/audit"
	"github.com/covault/covault/lib/clock"
	"github.com/covault/covault/lib/secret"
	"github.com/covault/covault/lib/sqlitepool"
)

var storeEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type storeFixture struct {
	store *Store
	pool  *sqlitepool.Pool
	audit *audit.Memory
	clock *clock.FakeClock
}

// newStoreFixture opens an unlocked store over a fresh database with
// light KDF params and a fake clock.
func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path: filepath.Join(t.TempDir(), "vault.db"),
	})
	if err != nil {
		t.Fatalf("opening pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	fake := clock.Fake(storeEpoch)
	memory := audit.NewMemory(fake)

	store, err := Open(context.Background(), Config{
		Pool:      pool,
		Audit:     memory,
		Clock:     fake,
		KDFParams: lightKDFParams(),
	})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	passphrase, err := secret.NewFromString("vault-master-passphrase")
	if err != nil {
		t.Fatalf("creating passphrase: %v", err)
	}
	if err := store.Unlock(passphrase); err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}

	return &storeFixture{store: store, pool: pool, audit: memory, clock: fake}
}

func (f *storeFixture) put(t *testing.T, label string, fields map[string]string) *StoredCredential {
	t.Helper()
	credential, err := f.store.Put(context.Background(), PutParams{
		OwnerID:  "owner-1",
		Category: "github",
		Label:    label,
		Fields:   fields,
	})
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	return credential
}

func TestPutGet_RoundTrip(t *testing.T) {
	fixture := newStoreFixture(t)
	ctx := context.Background()

	stored := fixture.put(t, "work", map[string]string{"token": "ghp_abc", "username": "octocat"})

	plaintext, err := fixture.store.Get(ctx, stored.ID, "agent-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	defer plaintext.Close()

	fields, err := DecodeFields(plaintext)
	if err != nil {
		t.Fatalf("DecodeFields() error: %v", err)
	}
	if fields["token"] != "ghp_abc" || fields["username"] != "octocat" {
		t.Errorf("fields = %v, want original values", fields)
	}

	created := fixture.audit.EventsOfType(audit.EventCreated)
	accessed := fixture.audit.EventsOfType(audit.EventAccessed)
	if len(created) != 1 || len(accessed) != 1 {
		t.Errorf("events: CREATED=%d ACCESSED=%d, want 1 and 1", len(created), len(accessed))
	}
	if accessed[0].ActorID != "agent-1" || accessed[0].SubjectID != stored.ID {
		t.Errorf("ACCESSED actor/subject = %s/%s", accessed[0].ActorID, accessed[0].SubjectID)
	}
}

func TestPut_DuplicateLabel(t *testing.T) {
	fixture := newStoreFixture(t)
	fixture.put(t, "work", map[string]string{"token": "ghp_abc"})

	_, err := fixture.store.Put(context.Background(), PutParams{
		OwnerID:  "owner-1",
		Category: "github",
		Label:    "work",
		Fields:   map[string]string{"token": "ghp_other"},
	})
	if !errors.Is(err, ErrExists) {
		t.Fatalf("Put() duplicate error = %v, want ErrExists", err)
	}
}

func TestLockedOperationsFail(t *testing.T) {
	fixture := newStoreFixture(t)
	ctx := context.Background()
	stored := fixture.put(t, "work", map[string]string{"token": "ghp_abc"})

	fixture.store.Lock()
	if !fixture.store.Locked() {
		t.Fatal("store not locked after Lock()")
	}

	if _, err := fixture.store.Put(ctx, PutParams{
		OwnerID:  "owner-1",
		Category: "github",
		Label:    "other",
		Fields:   map[string]string{"token": "x"},
	}); !errors.Is(err, ErrLocked) {
		t.Errorf("Put() while locked error = %v, want ErrLocked", err)
	}

	if _, err := fixture.store.Get(ctx, stored.ID, "agent-1"); !errors.Is(err, ErrLocked) {
		t.Errorf("Get() while locked error = %v, want ErrLocked", err)
	}

	// Metadata operations still work while locked.
	if _, err := fixture.store.Lookup(ctx, "owner-1", "github"); err != nil {
		t.Errorf("Lookup() while locked error: %v", err)
	}
}

func TestIdleTimerLocks(t *testing.T) {
	fixture := newStoreFixture(t)

	fixture.clock.Advance(DefaultIdleLockTimeout)
	if !fixture.store.Locked() {
		t.Fatal("store not locked after idle timeout")
	}
}

func TestIdleTimer_ResetByUse(t *testing.T) {
	fixture := newStoreFixture(t)
	ctx := context.Background()
	stored := fixture.put(t, "work", map[string]string{"token": "ghp_abc"})

	// Keep using the store just before each timeout; it must stay
	// unlocked.
	for i := 0; i < 3; i++ {
		fixture.clock.Advance(DefaultIdleLockTimeout - time.Minute)
		plaintext, err := fixture.store.Get(ctx, stored.ID, "agent-1")
		if err != nil {
			t.Fatalf("Get() on iteration %d error: %v", i, err)
		}
		plaintext.Close()
	}
	if fixture.store.Locked() {
		t.Fatal("store locked despite activity")
	}

	fixture.clock.Advance(DefaultIdleLockTimeout)
	if !fixture.store.Locked() {
		t.Fatal("store not locked after going idle")
	}
}

func TestUnlock_AfterIdleLock(t *testing.T) {
	fixture := newStoreFixture(t)
	ctx := context.Background()
	stored := fixture.put(t, "work", map[string]string{"token": "ghp_abc"})

	fixture.clock.Advance(DefaultIdleLockTimeout)
	if !fixture.store.Locked() {
		t.Fatal("store not locked after idle timeout")
	}

	passphrase, err := secret.NewFromString("vault-master-passphrase")
	if err != nil {
		t.Fatalf("creating passphrase: %v", err)
	}
	if err := fixture.store.Unlock(passphrase); err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}

	plaintext, err := fixture.store.Get(ctx, stored.ID, "agent-1")
	if err != nil {
		t.Fatalf("Get() after re-unlock error: %v", err)
	}
	plaintext.Close()
}

func TestWrongPassphrase_IntegrityFailure(t *testing.T) {
	fixture := newStoreFixture(t)
	ctx := context.Background()
	stored := fixture.put(t, "work", map[string]string{"token": "ghp_abc"})

	fixture.store.Lock()
	wrong, err := secret.NewFromString("not-the-passphrase")
	if err != nil {
		t.Fatalf("creating passphrase: %v", err)
	}
	if err := fixture.store.Unlock(wrong); err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}

	_, err = fixture.store.Get(ctx, stored.ID, "agent-1")
	var integrityError *IntegrityError
	if !errors.As(err, &integrityError) {
		t.Fatalf("Get() with wrong passphrase error = %v, want *IntegrityError", err)
	}

	failures := fixture.audit.EventsOfType(audit.EventIntegrityFailure)
	if len(failures) != 1 {
		t.Fatalf("INTEGRITY_FAILURE events = %d, want 1", len(failures))
	}

	// The row is now flagged; even the right passphrase refuses to
	// touch it, without emitting another event.
	fixture.store.Lock()
	right, err := secret.NewFromString("vault-master-passphrase")
	if err != nil {
		t.Fatalf("creating passphrase: %v", err)
	}
	if err := fixture.store.Unlock(right); err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}
	if _, err := fixture.store.Get(ctx, stored.ID, "agent-1"); !errors.As(err, &integrityError) {
		t.Fatalf("Get() on flagged row error = %v, want *IntegrityError", err)
	}
	if len(fixture.audit.EventsOfType(audit.EventIntegrityFailure)) != 1 {
		t.Error("flagged-row Get emitted an extra INTEGRITY_FAILURE event")
	}

	meta, err := fixture.store.Meta(ctx, stored.ID)
	if err != nil {
		t.Fatalf("Meta() error: %v", err)
	}
	if !meta.NeedsReentry {
		t.Error("NeedsReentry not set after integrity failure")
	}
}

func TestTamperedCiphertext_IntegrityFailure(t *testing.T) {
	fixture := newStoreFixture(t)
	ctx := context.Background()
	stored := fixture.put(t, "work", map[string]string{"token": "ghp_abc"})

	// Flip one ciphertext byte directly in the database.
	conn, err := fixture.pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take() error: %v", err)
	}
	err = sqlitex.Execute(conn,
		"UPDATE credentials SET ciphertext = X'00' || substr(ciphertext, 2) WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{stored.ID}})
	fixture.pool.Put(conn)
	if err != nil {
		t.Fatalf("tampering: %v", err)
	}

	_, err = fixture.store.Get(ctx, stored.ID, "agent-1")
	var integrityError *IntegrityError
	if !errors.As(err, &integrityError) {
		t.Fatalf("Get() of tampered row error = %v, want *IntegrityError", err)
	}
	if len(fixture.audit.EventsOfType(audit.EventIntegrityFailure)) != 1 {
		t.Error("tampered Get did not emit exactly one INTEGRITY_FAILURE event")
	}
}

func TestRotate_ClearsReentryFlag(t *testing.T) {
	fixture := newStoreFixture(t)
	ctx := context.Background()
	stored := fixture.put(t, "work", map[string]string{"token": "ghp_abc"})

	// Corrupt, fail, then rotate with fresh fields.
	conn, err := fixture.pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take() error: %v", err)
	}
	err = sqlitex.Execute(conn,
		"UPDATE credentials SET wrapped_key = X'00' || substr(wrapped_key, 2) WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{stored.ID}})
	fixture.pool.Put(conn)
	if err != nil {
		t.Fatalf("tampering: %v", err)
	}
	if _, err := fixture.store.Get(ctx, stored.ID, "agent-1"); err == nil {
		t.Fatal("Get() of corrupted row succeeded")
	}

	rotated, err := fixture.store.Rotate(ctx, stored.ID, map[string]string{"token": "ghp_new"})
	if err != nil {
		t.Fatalf("Rotate() error: %v", err)
	}
	if rotated.NeedsReentry {
		t.Error("NeedsReentry still set after rotation")
	}

	plaintext, err := fixture.store.Get(ctx, stored.ID, "agent-1")
	if err != nil {
		t.Fatalf("Get() after rotation error: %v", err)
	}
	defer plaintext.Close()
	fields, err := DecodeFields(plaintext)
	if err != nil {
		t.Fatalf("DecodeFields() error: %v", err)
	}
	if fields["token"] != "ghp_new" {
		t.Errorf("token after rotation = %q, want ghp_new", fields["token"])
	}
}

func TestRevokeAll(t *testing.T) {
	fixture := newStoreFixture(t)
	ctx := context.Background()

	fixture.put(t, "work", map[string]string{"token": "ghp_a"})
	fixture.put(t, "personal", map[string]string{"token": "ghp_b"})

	deleted, err := fixture.store.RevokeAll(ctx, "owner-1", "github")
	if err != nil {
		t.Fatalf("RevokeAll() error: %v", err)
	}
	if deleted != 2 {
		t.Errorf("RevokeAll() = %d, want 2", deleted)
	}

	if revoked := fixture.audit.EventsOfType(audit.EventRevoked); len(revoked) != 2 {
		t.Errorf("REVOKED events = %d, want one per deleted row (2)", len(revoked))
	}

	remaining, err := fixture.store.Lookup(ctx, "owner-1", "github")
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("credentials remaining after RevokeAll = %d", len(remaining))
	}

	// Idempotent on an empty category.
	deleted, err = fixture.store.RevokeAll(ctx, "owner-1", "github")
	if err != nil {
		t.Fatalf("second RevokeAll() error: %v", err)
	}
	if deleted != 0 {
		t.Errorf("second RevokeAll() = %d, want 0", deleted)
	}
}

func TestGet_NotFound(t *testing.T) {
	fixture := newStoreFixture(t)
	if _, err := fixture.store.Get(context.Background(), "no-such-id", "agent-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestLookup_MetadataOnly(t *testing.T) {
	fixture := newStoreFixture(t)
	stored := fixture.put(t, "work", map[string]string{"token": "ghp_abc"})

	credentials, err := fixture.store.Lookup(context.Background(), "owner-1", "github")
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if len(credentials) != 1 {
		t.Fatalf("Lookup() returned %d credentials, want 1", len(credentials))
	}
	got := credentials[0]
	if got.ID != stored.ID || got.Category != "github" || got.Label != "work" {
		t.Errorf("Lookup() metadata = %+v", got)
	}
	if got.KDFParams != lightKDFParams() {
		t.Errorf("KDFParams = %+v, want the params the row was written with", got.KDFParams)
	}
}
