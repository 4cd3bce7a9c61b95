// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/covault/covault/lib/clock"
	"github.com/covault/covault/lib/codec"
	"github.com/covault/covault/lib/sqlitepool"
)

// chainDomain is the BLAKE3 domain prefix for chain hashing. Changing
// it invalidates every existing chain.
var chainDomain = []byte("covault.audit.chain.v1")

// genesisHash seeds the chain before the first event.
var genesisHash = func() []byte {
	hasher := blake3.New()
	hasher.Write(chainDomain)
	return hasher.Sum(nil)
}()

// Appender is the write side of the audit log. The vault store, grant
// ledger, and flow manager depend on this interface rather than the
// concrete Log so tests can capture events in memory.
type Appender interface {
	// Append assigns the event's ID, timestamp (when zero), and
	// chain hash, persists it, and returns the completed event.
	Append(ctx context.Context, event Event) (Event, error)
}

// Config holds the parameters for opening an audit log.
type Config struct {
	// Pool is the SQLite connection pool. Required. The log creates
	// its table and indexes on first use.
	Pool *sqlitepool.Pool

	// Clock supplies timestamps. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives operational messages. If nil, a no-op logger
	// is used. Audit event contents are never logged here.
	Logger *slog.Logger
}

// Log is the append-only, hash-chained audit event store.
type Log struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger

	// mu serializes appends: the monotonic ID and the chain hash
	// both depend on the previous event.
	mu       sync.Mutex
	lastID   int64
	lastHash []byte
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS audit_events (
	id         INTEGER PRIMARY KEY,
	type       TEXT NOT NULL,
	timestamp  INTEGER NOT NULL,
	actor_id   TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	metadata   BLOB,
	chain_hash BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_actor ON audit_events (actor_id, timestamp);
CREATE INDEX IF NOT EXISTS audit_events_subject ON audit_events (subject_id, timestamp);
`

// Open creates the audit table if needed and loads the chain tail so
// appends continue an existing chain after restart.
func Open(ctx context.Context, cfg Config) (*Log, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("audit: Pool is required")
	}

	log := &Log{
		pool:     cfg.Pool,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		lastHash: genesisHash,
	}
	if log.clock == nil {
		log.clock = clock.Real()
	}
	if log.logger == nil {
		log.logger = slog.New(slog.DiscardHandler)
	}

	conn, err := cfg.Pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer cfg.Pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, createTableSQL, nil); err != nil {
		return nil, fmt.Errorf("audit: creating table: %w", err)
	}

	err = sqlitex.Execute(conn,
		"SELECT id, chain_hash FROM audit_events ORDER BY id DESC LIMIT 1",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				log.lastID = stmt.ColumnInt64(0)
				hash := make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, hash)
				log.lastHash = hash
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("audit: loading chain tail: %w", err)
	}

	log.logger.Info("audit log opened", "last_event_id", log.lastID)
	return log, nil
}

// Append persists one event. The event's ID is the next monotonic
// value, its chain hash covers the previous event's hash, and its
// timestamp defaults to the log's clock. Returns the completed event.
//
// Append is the only write path; there is no update or delete.
func (l *Log) Append(ctx context.Context, event Event) (Event, error) {
	if !event.Type.Valid() {
		return Event{}, fmt.Errorf("audit: unknown event type %q", event.Type)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = l.clock.Now()
	}
	event.ID = l.lastID + 1

	hash, err := chainHash(l.lastHash, event)
	if err != nil {
		return Event{}, err
	}
	event.ChainHash = hash

	var metadataBlob []byte
	if len(event.Metadata) > 0 {
		metadataBlob, err = codec.Marshal(event.Metadata)
		if err != nil {
			return Event{}, fmt.Errorf("audit: encoding metadata: %w", err)
		}
	}

	conn, err := l.pool.Take(ctx)
	if err != nil {
		return Event{}, err
	}
	defer l.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO audit_events (id, type, timestamp, actor_id, subject_id, metadata, chain_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				event.ID,
				string(event.Type),
				event.Timestamp.UnixNano(),
				event.ActorID,
				event.SubjectID,
				metadataBlob,
				event.ChainHash,
			},
		})
	if err != nil {
		return Event{}, fmt.Errorf("audit: inserting event: %w", err)
	}

	l.lastID = event.ID
	l.lastHash = event.ChainHash
	return event, nil
}

// Filter selects events for Query and Export. Zero-valued fields
// match everything.
type Filter struct {
	// ActorID matches events caused by this actor.
	ActorID string

	// SubjectID matches events about this subject.
	SubjectID string

	// From is the inclusive lower bound on event timestamps.
	From time.Time

	// To is the exclusive upper bound on event timestamps.
	To time.Time
}

func (f Filter) whereClause() (string, []any) {
	where := "1=1"
	var args []any
	if f.ActorID != "" {
		where += " AND actor_id = ?"
		args = append(args, f.ActorID)
	}
	if f.SubjectID != "" {
		where += " AND subject_id = ?"
		args = append(args, f.SubjectID)
	}
	if !f.From.IsZero() {
		where += " AND timestamp >= ?"
		args = append(args, f.From.UnixNano())
	}
	if !f.To.IsZero() {
		where += " AND timestamp < ?"
		args = append(args, f.To.UnixNano())
	}
	return where, args
}

// Query returns matching events in ID order. Read-only; intended for
// user-facing history views.
func (l *Log) Query(ctx context.Context, filter Filter) ([]Event, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer l.pool.Put(conn)

	where, args := filter.whereClause()
	var events []Event
	err = sqlitex.Execute(conn,
		"SELECT id, type, timestamp, actor_id, subject_id, metadata, chain_hash FROM audit_events WHERE "+
			where+" ORDER BY id",
		&sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				event, err := scanEvent(stmt)
				if err != nil {
					return err
				}
				events = append(events, event)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	return events, nil
}

// Verify walks the entire chain and returns the ID of the first event
// whose chain hash does not match its recomputed value, or 0 if the
// chain is intact.
func (l *Log) Verify(ctx context.Context) (int64, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer l.pool.Put(conn)

	previous := genesisHash
	var brokenID int64
	err = sqlitex.Execute(conn,
		"SELECT id, type, timestamp, actor_id, subject_id, metadata, chain_hash FROM audit_events ORDER BY id",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				if brokenID != 0 {
					return nil
				}
				event, err := scanEvent(stmt)
				if err != nil {
					return err
				}
				expected, err := chainHash(previous, event)
				if err != nil {
					return err
				}
				if !bytes.Equal(expected, event.ChainHash) {
					brokenID = event.ID
					return nil
				}
				previous = event.ChainHash
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("audit: verify: %w", err)
	}
	return brokenID, nil
}

// scanEvent builds an Event from a full-row SELECT.
func scanEvent(stmt *sqlite.Stmt) (Event, error) {
	event := Event{
		ID:        stmt.ColumnInt64(0),
		Type:      EventType(stmt.ColumnText(1)),
		Timestamp: time.Unix(0, stmt.ColumnInt64(2)).UTC(),
		ActorID:   stmt.ColumnText(3),
		SubjectID: stmt.ColumnText(4),
	}
	if stmt.ColumnLen(5) > 0 {
		blob := make([]byte, stmt.ColumnLen(5))
		stmt.ColumnBytes(5, blob)
		if err := codec.Unmarshal(blob, &event.Metadata); err != nil {
			return Event{}, fmt.Errorf("audit: decoding metadata for event %d: %w", event.ID, err)
		}
	}
	hash := make([]byte, stmt.ColumnLen(6))
	stmt.ColumnBytes(6, hash)
	event.ChainHash = hash
	return event, nil
}

// chainHash computes BLAKE3(domain || previousHash || CBOR(record)).
func chainHash(previousHash []byte, event Event) ([]byte, error) {
	record := chainRecord{
		ID:        event.ID,
		Type:      string(event.Type),
		Timestamp: event.Timestamp.UnixNano(),
		ActorID:   event.ActorID,
		SubjectID: event.SubjectID,
		Metadata:  event.Metadata,
	}
	encoded, err := codec.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("audit: encoding chain record: %w", err)
	}

	hasher := blake3.New()
	hasher.Write(chainDomain)
	hasher.Write(previousHash)
	hasher.Write(encoded)
	return hasher.Sum(nil), nil
}
