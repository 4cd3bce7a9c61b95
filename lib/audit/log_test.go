// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/covault/covault/lib/clock"
	"github.com/covault/covault/lib/sqlitepool"
)

var auditEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// openTestLog opens an audit log over a fresh on-disk database with a
// fake clock. Returns the log and its pool (for direct tampering in
// the verify tests).
func openTestLog(t *testing.T) (*Log, *sqlitepool.Pool, *clock.FakeClock) {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path: filepath.Join(t.TempDir(), "audit.db"),
	})
	if err != nil {
		t.Fatalf("opening pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	fake := clock.Fake(auditEpoch)
	log, err := Open(context.Background(), Config{Pool: pool, Clock: fake})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	return log, pool, fake
}

func TestAppend_AssignsMonotonicIDs(t *testing.T) {
	log, _, _ := openTestLog(t)
	ctx := context.Background()

	for want := int64(1); want <= 5; want++ {
		event, err := log.Append(ctx, Event{
			Type:      EventCreated,
			ActorID:   "owner-1",
			SubjectID: "cred-1",
		})
		if err != nil {
			t.Fatalf("Append() error: %v", err)
		}
		if event.ID != want {
			t.Errorf("event ID = %d, want %d", event.ID, want)
		}
		if len(event.ChainHash) == 0 {
			t.Error("event has empty chain hash")
		}
	}
}

func TestAppend_RejectsUnknownType(t *testing.T) {
	log, _, _ := openTestLog(t)
	if _, err := log.Append(context.Background(), Event{Type: "SHREDDED"}); err == nil {
		t.Fatal("Append() succeeded for unknown event type")
	}
}

func TestQuery_Filters(t *testing.T) {
	log, _, fake := openTestLog(t)
	ctx := context.Background()

	appendEvent := func(eventType EventType, actor, subject string) {
		t.Helper()
		if _, err := log.Append(ctx, Event{Type: eventType, ActorID: actor, SubjectID: subject}); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
		fake.Advance(time.Minute)
	}

	appendEvent(EventCreated, "owner-1", "cred-a")
	appendEvent(EventGranted, "agent-1", "grant-1")
	appendEvent(EventAccessed, "agent-1", "cred-a")
	appendEvent(EventAccessed, "agent-2", "cred-b")

	bySubject, err := log.Query(ctx, Filter{SubjectID: "cred-a"})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(bySubject) != 2 {
		t.Fatalf("subject query returned %d events, want 2", len(bySubject))
	}
	if bySubject[0].Type != EventCreated || bySubject[1].Type != EventAccessed {
		t.Errorf("subject query order: got %v then %v", bySubject[0].Type, bySubject[1].Type)
	}

	byActor, err := log.Query(ctx, Filter{ActorID: "agent-1"})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(byActor) != 2 {
		t.Fatalf("actor query returned %d events, want 2", len(byActor))
	}

	// Time range covering only the middle two events.
	windowed, err := log.Query(ctx, Filter{
		From: auditEpoch.Add(time.Minute),
		To:   auditEpoch.Add(3 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(windowed) != 2 {
		t.Fatalf("windowed query returned %d events, want 2", len(windowed))
	}
}

func TestQuery_MetadataRoundTrip(t *testing.T) {
	log, _, _ := openTestLog(t)
	ctx := context.Background()

	if _, err := log.Append(ctx, Event{
		Type:      EventRevoked,
		ActorID:   "owner-1",
		SubjectID: "cred-a",
		Metadata:  map[string]string{"category": "github", "reason": "revoke-all"},
	}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	events, err := log.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if events[0].Metadata["category"] != "github" {
		t.Errorf("metadata category = %q, want github", events[0].Metadata["category"])
	}
}

func TestVerify_IntactChain(t *testing.T) {
	log, _, _ := openTestLog(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := log.Append(ctx, Event{Type: EventAccessed, ActorID: "agent-1", SubjectID: "cred-a"}); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	brokenID, err := log.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if brokenID != 0 {
		t.Errorf("Verify() = %d, want 0 for intact chain", brokenID)
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	log, pool, _ := openTestLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := log.Append(ctx, Event{Type: EventAccessed, ActorID: "agent-1", SubjectID: "cred-a"}); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	// Rewrite event 3's actor behind the log's back.
	conn, err := pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take() error: %v", err)
	}
	err = sqlitex.Execute(conn,
		"UPDATE audit_events SET actor_id = 'attacker' WHERE id = 3", nil)
	pool.Put(conn)
	if err != nil {
		t.Fatalf("tampering update: %v", err)
	}

	brokenID, err := log.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if brokenID != 3 {
		t.Errorf("Verify() = %d, want 3", brokenID)
	}
}

func TestOpen_ResumesChain(t *testing.T) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path: filepath.Join(t.TempDir(), "resume.db"),
	})
	if err != nil {
		t.Fatalf("opening pool: %v", err)
	}
	defer pool.Close()
	ctx := context.Background()

	first, err := Open(ctx, Config{Pool: pool, Clock: clock.Fake(auditEpoch)})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if _, err := first.Append(ctx, Event{Type: EventCreated, ActorID: "owner-1", SubjectID: "cred-a"}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	// A second Open over the same database must continue the chain,
	// not restart it.
	second, err := Open(ctx, Config{Pool: pool, Clock: clock.Fake(auditEpoch)})
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	event, err := second.Append(ctx, Event{Type: EventAccessed, ActorID: "agent-1", SubjectID: "cred-a"})
	if err != nil {
		t.Fatalf("Append() after reopen error: %v", err)
	}
	if event.ID != 2 {
		t.Errorf("event ID after reopen = %d, want 2", event.ID)
	}

	brokenID, err := second.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if brokenID != 0 {
		t.Errorf("Verify() = %d, want 0 after resume", brokenID)
	}
}

func TestExport_RoundTrip(t *testing.T) {
	log, _, _ := openTestLog(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := log.Append(ctx, Event{
			Type:      EventGranted,
			ActorID:   "agent-1",
			SubjectID: "grant-1",
			Metadata:  map[string]string{"scope": "USE_ONLY"},
		}); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	var archive bytes.Buffer
	if err := log.Export(ctx, &archive, Filter{}); err != nil {
		t.Fatalf("Export() error: %v", err)
	}

	restored, err := ReadExport(&archive)
	if err != nil {
		t.Fatalf("ReadExport() error: %v", err)
	}
	if len(restored) != 3 {
		t.Fatalf("ReadExport() returned %d events, want 3", len(restored))
	}
	for i, event := range restored {
		if event.ID != int64(i)+1 {
			t.Errorf("restored event %d has ID %d", i, event.ID)
		}
		if event.Metadata["scope"] != "USE_ONLY" {
			t.Errorf("restored event %d lost metadata", i)
		}
		if len(event.ChainHash) == 0 {
			t.Errorf("restored event %d lost chain hash", i)
		}
	}
}

func TestMemory_MatchesLogSemantics(t *testing.T) {
	memory := NewMemory(clock.Fake(auditEpoch))
	ctx := context.Background()

	first, err := memory.Append(ctx, Event{Type: EventCreated, ActorID: "owner-1", SubjectID: "cred-a"})
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	second, err := memory.Append(ctx, Event{Type: EventAccessed, ActorID: "agent-1", SubjectID: "cred-a"})
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	if first.ID != 1 || second.ID != 2 {
		t.Errorf("IDs = %d, %d, want 1, 2", first.ID, second.ID)
	}
	if bytes.Equal(first.ChainHash, second.ChainHash) {
		t.Error("consecutive events have identical chain hashes")
	}
	if len(memory.EventsOfType(EventAccessed)) != 1 {
		t.Error("EventsOfType(ACCESSED) count != 1")
	}
}
