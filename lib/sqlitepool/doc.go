// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides a fixed-size SQLite connection pool with
// covault-standard pragmas. The vault store and the audit log each own
// a pool over the same database file; WAL mode lets audit queries run
// while the vault writes.
//
// Wraps zombiezen.com/go/sqlite/sqlitex and exposes the same Take/Put
// API. Individual connections are not safe for concurrent use — each
// goroutine takes its own connection and puts it back when done.
package sqlitepool
