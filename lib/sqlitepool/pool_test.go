// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("Open with empty Path succeeded, want error")
	}
}

func TestTakePut(t *testing.T) {
	pool, err := Open(Config{
		Path: filepath.Join(t.TempDir(), "pool.db"),
	})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take() error: %v", err)
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecuteTransient(conn, "SELECT 1", nil); err != nil {
		t.Errorf("SELECT 1: %v", err)
	}
}

func TestOnConnect_CreatesSchema(t *testing.T) {
	pool, err := Open(Config{
		Path: filepath.Join(t.TempDir(), "schema.db"),
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn,
				"CREATE TABLE IF NOT EXISTS entries (id TEXT PRIMARY KEY);", nil)
		},
	})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take() error: %v", err)
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecuteTransient(conn,
		"INSERT INTO entries (id) VALUES ('a')", nil); err != nil {
		t.Errorf("insert into OnConnect-created table: %v", err)
	}
}

func TestTake_CancelledContext(t *testing.T) {
	pool, err := Open(Config{
		Path:     filepath.Join(t.TempDir(), "cancel.db"),
		PoolSize: 1,
	})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer pool.Close()

	held, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take() error: %v", err)
	}
	defer pool.Put(held)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("Take with cancelled context and exhausted pool succeeded")
	}
}
