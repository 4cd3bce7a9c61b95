// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/covault/covault/lib/audit"
	"github.com/covault/covault/lib/clock"
	"github.com/covault/covault/lib/codec"
	"github.com/covault/covault/lib/secret"
	"github.com/covault/covault/lib/sqlitepool"
)

// DefaultIdleLockTimeout is how long the store stays unlocked without
// any decrypt-requiring operation before it re-locks itself.
const DefaultIdleLockTimeout = 15 * time.Minute

// entryLockStripes is the number of per-credential mutex stripes. Two
// operations on the same credential serialize; operations on
// different credentials almost never contend.
const entryLockStripes = 64

// Config holds the parameters for opening a credential store.
type Config struct {
	// Pool is the SQLite connection pool. Required.
	Pool *sqlitepool.Pool

	// Audit receives one event per state-changing operation.
	// Required.
	Audit audit.Appender

	// Clock drives the idle-lock timer and row timestamps. Defaults
	// to clock.Real().
	Clock clock.Clock

	// Logger receives operational messages. Never credential
	// contents. If nil, a no-op logger is used.
	Logger *slog.Logger

	// KDFParams are the work factors for newly stored secrets.
	// Defaults to DefaultKDFParams(). Existing rows keep the params
	// they were written with.
	KDFParams KDFParams

	// IdleLockTimeout is the idle duration after which the store
	// auto-locks. Defaults to DefaultIdleLockTimeout. Must be
	// positive.
	IdleLockTimeout time.Duration
}

// Store is the encrypted credential store. Safe for concurrent use.
//
// The store starts locked. Unlock hands it the master passphrase;
// Lock (explicit or idle-timer driven) zeroes it. No single global
// lock spans operations — decryption serializes per credential via
// striped mutexes.
type Store struct {
	pool      *sqlitepool.Pool
	audit     audit.Appender
	clock     clock.Clock
	logger    *slog.Logger
	kdfParams KDFParams
	idleAfter time.Duration

	// mu guards the passphrase and idle timer only.
	mu         sync.Mutex
	passphrase *secret.Buffer
	idleTimer  *clock.Timer

	entryLocks [entryLockStripes]sync.Mutex
}

const createCredentialsSQL = `
CREATE TABLE IF NOT EXISTS credentials (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	category         TEXT NOT NULL,
	label            TEXT NOT NULL,
	ciphertext       BLOB NOT NULL,
	wrapped_key      BLOB NOT NULL,
	salt             BLOB NOT NULL,
	kdf_params       TEXT NOT NULL,
	security_level   TEXT NOT NULL,
	needs_reentry    INTEGER NOT NULL DEFAULT 0,
	created_at       INTEGER NOT NULL,
	last_accessed_at INTEGER,
	UNIQUE (owner_id, category, label)
);
CREATE INDEX IF NOT EXISTS credentials_owner_category ON credentials (owner_id, category);
`

// Open creates the credentials table if needed and returns a locked
// store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("vault: Pool is required")
	}
	if cfg.Audit == nil {
		return nil, fmt.Errorf("vault: Audit is required")
	}

	store := &Store{
		pool:      cfg.Pool,
		audit:     cfg.Audit,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		kdfParams: cfg.KDFParams,
		idleAfter: cfg.IdleLockTimeout,
	}
	if store.clock == nil {
		store.clock = clock.Real()
	}
	if store.logger == nil {
		store.logger = slog.New(slog.DiscardHandler)
	}
	if store.kdfParams == (KDFParams{}) {
		store.kdfParams = DefaultKDFParams()
	}
	if err := store.kdfParams.validate(); err != nil {
		return nil, err
	}
	if store.idleAfter == 0 {
		store.idleAfter = DefaultIdleLockTimeout
	}
	if store.idleAfter < 0 {
		return nil, fmt.Errorf("vault: IdleLockTimeout must be positive")
	}

	conn, err := cfg.Pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer cfg.Pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, createCredentialsSQL, nil); err != nil {
		return nil, fmt.Errorf("vault: creating credentials table: %w", err)
	}
	return store, nil
}

// Unlock hands the store the master passphrase. The store takes
// ownership of the buffer and zeroes it on Lock. Unlocking an
// already-unlocked store replaces the held passphrase.
func (s *Store) Unlock(passphrase *secret.Buffer) error {
	if passphrase == nil || passphrase.Len() == 0 {
		return fmt.Errorf("vault: passphrase is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.passphrase != nil {
		s.passphrase.Close()
	}
	s.passphrase = passphrase

	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = s.clock.AfterFunc(s.idleAfter, s.idleLock)

	s.logger.Info("vault unlocked")
	return nil
}

// Lock zeroes the held passphrase and stops the idle timer. Safe to
// call on an already-locked store.
func (s *Store) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockLocked()
}

// Locked reports whether the store currently holds no passphrase.
func (s *Store) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passphrase == nil
}

// idleLock is the AfterFunc callback for the idle timer.
func (s *Store) idleLock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.passphrase != nil {
		s.logger.Info("vault idle timeout, locking")
	}
	s.lockLocked()
}

// lockLocked zeroes the passphrase. Caller holds s.mu.
func (s *Store) lockLocked() {
	if s.passphrase != nil {
		s.passphrase.Close()
		s.passphrase = nil
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

// Close locks the store. The connection pool is owned by the caller
// and stays open.
func (s *Store) Close() error {
	s.Lock()
	return nil
}

// borrowPassphrase returns a private copy of the passphrase, so slow
// key derivation can run without holding s.mu and without racing an
// idle lock that zeroes the original. Resets the idle timer. The
// caller must close the returned buffer.
func (s *Store) borrowPassphrase() (*secret.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.passphrase == nil {
		return nil, ErrLocked
	}
	if s.idleTimer != nil {
		s.idleTimer.Reset(s.idleAfter)
	}

	copied := make([]byte, s.passphrase.Len())
	copy(copied, s.passphrase.Bytes())
	return secret.NewFromBytes(copied)
}

// entryLock returns the mutex stripe for a credential ID.
func (s *Store) entryLock(credentialID string) *sync.Mutex {
	hasher := fnv.New32a()
	hasher.Write([]byte(credentialID))
	return &s.entryLocks[hasher.Sum32()%entryLockStripes]
}

// PutParams holds the inputs for storing a new credential. Fields
// must already be validated and normalized by the schema registry.
type PutParams struct {
	OwnerID       string
	Category      string
	Label         string
	SecurityLevel SecurityLevel
	Fields        map[string]string
}

// Put encrypts and persists a new credential, emitting one CREATED
// audit event. Fails with ErrLocked when the store is locked and
// ErrExists when a credential with the same (owner, category, label)
// already exists.
func (s *Store) Put(ctx context.Context, params PutParams) (*StoredCredential, error) {
	if params.OwnerID == "" || params.Category == "" {
		return nil, fmt.Errorf("vault: owner ID and category are required")
	}
	if len(params.Fields) == 0 {
		return nil, fmt.Errorf("vault: fields map is empty")
	}
	if params.SecurityLevel == "" {
		params.SecurityLevel = SecurityStandard
	}

	passphrase, err := s.borrowPassphrase()
	if err != nil {
		return nil, err
	}
	defer passphrase.Close()

	credentialID := uuid.NewString()
	now := s.clock.Now()

	ciphertext, wrappedKey, salt, err := s.sealCredential(passphrase, credentialID, params.Fields, s.kdfParams)
	if err != nil {
		return nil, err
	}

	kdfJSON, err := s.kdfParams.marshal()
	if err != nil {
		return nil, err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var exists bool
	err = sqlitex.Execute(conn,
		"SELECT 1 FROM credentials WHERE owner_id = ? AND category = ? AND label = ?",
		&sqlitex.ExecOptions{
			Args: []any{params.OwnerID, params.Category, params.Label},
			ResultFunc: func(*sqlite.Stmt) error {
				exists = true
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("vault: checking for existing credential: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: owner %s category %s label %q",
			ErrExists, params.OwnerID, params.Category, params.Label)
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO credentials
		 (id, owner_id, category, label, ciphertext, wrapped_key, salt, kdf_params, security_level, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				credentialID, params.OwnerID, params.Category, params.Label,
				ciphertext, wrappedKey, salt, string(kdfJSON),
				string(params.SecurityLevel), now.UnixNano(),
			},
		})
	if err != nil {
		return nil, fmt.Errorf("vault: inserting credential: %w", err)
	}

	if _, err := s.audit.Append(ctx, audit.Event{
		Type:      audit.EventCreated,
		ActorID:   params.OwnerID,
		SubjectID: credentialID,
		Metadata:  map[string]string{"category": params.Category, "label": params.Label},
	}); err != nil {
		return nil, fmt.Errorf("vault: recording CREATED event: %w", err)
	}

	s.logger.Info("credential stored",
		"credential_id", credentialID,
		"category", params.Category,
	)

	return &StoredCredential{
		ID:            credentialID,
		OwnerID:       params.OwnerID,
		Category:      params.Category,
		Label:         params.Label,
		KDFParams:     s.kdfParams,
		SecurityLevel: params.SecurityLevel,
		CreatedAt:     now,
	}, nil
}

// sealCredential runs the envelope encryption for one credential:
// serialize fields, generate a salt and data key, seal the payload
// under the data key and the data key under the passphrase-derived
// key. Returns (ciphertext, wrappedKey, salt).
func (s *Store) sealCredential(passphrase *secret.Buffer, credentialID string, fields map[string]string, params KDFParams) ([]byte, []byte, []byte, error) {
	payload, err := codec.Marshal(fields)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("vault: serializing fields: %w", err)
	}
	defer secret.Zero(payload)

	salt, err := newSalt()
	if err != nil {
		return nil, nil, nil, err
	}

	keyEncryptionKey, err := deriveKey(passphrase, salt, params)
	if err != nil {
		return nil, nil, nil, err
	}
	defer keyEncryptionKey.Close()

	dataKey, err := newDataKey()
	if err != nil {
		return nil, nil, nil, err
	}
	defer dataKey.Close()

	wrappedKey, err := seal(dataKey.Bytes(), keyEncryptionKey, aadContextDataKey, credentialID)
	if err != nil {
		return nil, nil, nil, err
	}

	ciphertext, err := seal(payload, dataKey, aadContextPayload, credentialID)
	if err != nil {
		return nil, nil, nil, err
	}

	return ciphertext, wrappedKey, salt, nil
}

// Get decrypts one credential under an already-verified grant and
// returns the plaintext as a zero-on-close buffer holding the CBOR
// field encoding (decode with DecodeFields). Emits one ACCESSED audit
// event on success.
//
// An authentication-tag failure flags the row as needing re-entry,
// emits INTEGRITY_FAILURE, and returns *IntegrityError. Subsequent
// Gets on a flagged row fail immediately without emitting further
// events — the row's state already records the failure.
func (s *Store) Get(ctx context.Context, credentialID, actorID string) (*secret.Buffer, error) {
	lock := s.entryLock(credentialID)
	lock.Lock()
	defer lock.Unlock()

	row, err := s.loadRow(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	if row.meta.NeedsReentry {
		return nil, &IntegrityError{CredentialID: credentialID}
	}

	passphrase, err := s.borrowPassphrase()
	if err != nil {
		return nil, err
	}
	defer passphrase.Close()

	keyEncryptionKey, err := deriveKey(passphrase, row.salt, row.meta.KDFParams)
	if err != nil {
		return nil, err
	}
	defer keyEncryptionKey.Close()

	dataKeyBytes, err := open(row.wrappedKey, keyEncryptionKey, aadContextDataKey, credentialID)
	if err != nil {
		return nil, s.integrityFailure(ctx, credentialID, actorID, err)
	}
	dataKey, err := secret.NewFromBytes(dataKeyBytes)
	if err != nil {
		secret.Zero(dataKeyBytes)
		return nil, err
	}
	defer dataKey.Close()

	payload, err := open(row.ciphertext, dataKey, aadContextPayload, credentialID)
	if err != nil {
		return nil, s.integrityFailure(ctx, credentialID, actorID, err)
	}
	plaintext, err := secret.NewFromBytes(payload)
	if err != nil {
		secret.Zero(payload)
		return nil, err
	}

	now := s.clock.Now()
	conn, err := s.pool.Take(ctx)
	if err != nil {
		plaintext.Close()
		return nil, err
	}
	err = sqlitex.Execute(conn,
		"UPDATE credentials SET last_accessed_at = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{now.UnixNano(), credentialID}})
	s.pool.Put(conn)
	if err != nil {
		plaintext.Close()
		return nil, fmt.Errorf("vault: updating last access time: %w", err)
	}

	if _, err := s.audit.Append(ctx, audit.Event{
		Type:      audit.EventAccessed,
		ActorID:   actorID,
		SubjectID: credentialID,
		Metadata:  map[string]string{"category": row.meta.Category},
	}); err != nil {
		plaintext.Close()
		return nil, fmt.Errorf("vault: recording ACCESSED event: %w", err)
	}

	return plaintext, nil
}

// integrityFailure flags the row, emits INTEGRITY_FAILURE, and
// returns the original error. Decryption of this entry is permanently
// disabled until the user rotates it.
func (s *Store) integrityFailure(ctx context.Context, credentialID, actorID string, cause error) error {
	conn, err := s.pool.Take(ctx)
	if err == nil {
		updateErr := sqlitex.Execute(conn,
			"UPDATE credentials SET needs_reentry = 1 WHERE id = ?",
			&sqlitex.ExecOptions{Args: []any{credentialID}})
		s.pool.Put(conn)
		if updateErr != nil {
			s.logger.Error("failed to flag credential after integrity failure",
				"credential_id", credentialID,
				"error", updateErr,
			)
		}
	}

	if _, auditErr := s.audit.Append(ctx, audit.Event{
		Type:      audit.EventIntegrityFailure,
		ActorID:   actorID,
		SubjectID: credentialID,
	}); auditErr != nil {
		s.logger.Error("failed to record INTEGRITY_FAILURE event",
			"credential_id", credentialID,
			"error", auditErr,
		)
	}

	s.logger.Error("credential integrity failure",
		"credential_id", credentialID,
		"actor_id", actorID,
	)
	return cause
}

// DecodeFields decodes a plaintext buffer returned by Get into field
// values. The returned map holds heap copies — use it for the single
// mediated operation, then let it go out of scope; the authoritative
// zeroing happens when the buffer is closed.
func DecodeFields(plaintext *secret.Buffer) (map[string]string, error) {
	var fields map[string]string
	if err := codec.Unmarshal(plaintext.Bytes(), &fields); err != nil {
		return nil, fmt.Errorf("vault: decoding credential fields: %w", err)
	}
	return fields, nil
}

// Lookup returns the stored credentials for an owner and category,
// metadata only, newest first. Works while locked — no decryption
// involved.
func (s *Store) Lookup(ctx context.Context, ownerID, category string) ([]StoredCredential, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var credentials []StoredCredential
	err = sqlitex.Execute(conn,
		`SELECT id, owner_id, category, label, kdf_params, security_level, needs_reentry, created_at, last_accessed_at
		 FROM credentials WHERE owner_id = ? AND category = ? ORDER BY created_at DESC`,
		&sqlitex.ExecOptions{
			Args: []any{ownerID, category},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				meta, err := scanMeta(stmt)
				if err != nil {
					return err
				}
				credentials = append(credentials, meta)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("vault: lookup: %w", err)
	}
	return credentials, nil
}

// Meta returns the metadata for one credential ID.
func (s *Store) Meta(ctx context.Context, credentialID string) (*StoredCredential, error) {
	row, err := s.loadRow(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	return &row.meta, nil
}

// Rotate re-encrypts a credential with freshly entered fields, a new
// salt and data key, and the store's current KDF work factors. Clears
// the needs-reentry flag. Emits one CREATED event with rotation
// metadata. This is the only update path for stored secrets.
func (s *Store) Rotate(ctx context.Context, credentialID string, fields map[string]string) (*StoredCredential, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("vault: fields map is empty")
	}

	lock := s.entryLock(credentialID)
	lock.Lock()
	defer lock.Unlock()

	row, err := s.loadRow(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	passphrase, err := s.borrowPassphrase()
	if err != nil {
		return nil, err
	}
	defer passphrase.Close()

	ciphertext, wrappedKey, salt, err := s.sealCredential(passphrase, credentialID, fields, s.kdfParams)
	if err != nil {
		return nil, err
	}
	kdfJSON, err := s.kdfParams.marshal()
	if err != nil {
		return nil, err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	err = sqlitex.Execute(conn,
		`UPDATE credentials
		 SET ciphertext = ?, wrapped_key = ?, salt = ?, kdf_params = ?, needs_reentry = 0
		 WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{ciphertext, wrappedKey, salt, string(kdfJSON), credentialID},
		})
	s.pool.Put(conn)
	if err != nil {
		return nil, fmt.Errorf("vault: rotating credential: %w", err)
	}

	if _, err := s.audit.Append(ctx, audit.Event{
		Type:      audit.EventCreated,
		ActorID:   row.meta.OwnerID,
		SubjectID: credentialID,
		Metadata:  map[string]string{"category": row.meta.Category, "rotation": "true"},
	}); err != nil {
		return nil, fmt.Errorf("vault: recording rotation event: %w", err)
	}

	meta := row.meta
	meta.KDFParams = s.kdfParams
	meta.NeedsReentry = false
	return &meta, nil
}

// RevokeAll deletes every stored credential for an owner and category
// and emits one REVOKED event per deleted row. This is the only path
// by which stored credentials disappear. Works while locked — no
// decryption involved. Returns the number of deleted rows.
func (s *Store) RevokeAll(ctx context.Context, ownerID, category string) (int, error) {
	credentials, err := s.Lookup(ctx, ownerID, category)
	if err != nil {
		return 0, err
	}
	if len(credentials) == 0 {
		return 0, nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	err = sqlitex.Execute(conn,
		"DELETE FROM credentials WHERE owner_id = ? AND category = ?",
		&sqlitex.ExecOptions{Args: []any{ownerID, category}})
	s.pool.Put(conn)
	if err != nil {
		return 0, fmt.Errorf("vault: deleting credentials: %w", err)
	}

	for _, credential := range credentials {
		if _, err := s.audit.Append(ctx, audit.Event{
			Type:      audit.EventRevoked,
			ActorID:   ownerID,
			SubjectID: credential.ID,
			Metadata:  map[string]string{"category": category, "reason": "revoke-all"},
		}); err != nil {
			return 0, fmt.Errorf("vault: recording REVOKED event: %w", err)
		}
	}

	s.logger.Info("credentials revoked",
		"owner_id", ownerID,
		"category", category,
		"count", len(credentials),
	)
	return len(credentials), nil
}

// storedRow is a full credential row including cipher material.
type storedRow struct {
	meta       StoredCredential
	ciphertext []byte
	wrappedKey []byte
	salt       []byte
}

// loadRow reads one full row by ID.
func (s *Store) loadRow(ctx context.Context, credentialID string) (*storedRow, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var row *storedRow
	err = sqlitex.Execute(conn,
		`SELECT id, owner_id, category, label, kdf_params, security_level, needs_reentry, created_at, last_accessed_at,
		        ciphertext, wrapped_key, salt
		 FROM credentials WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{credentialID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				meta, err := scanMeta(stmt)
				if err != nil {
					return err
				}
				loaded := &storedRow{meta: meta}
				loaded.ciphertext = columnBytes(stmt, 9)
				loaded.wrappedKey = columnBytes(stmt, 10)
				loaded.salt = columnBytes(stmt, 11)
				row = loaded
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("vault: loading credential %s: %w", credentialID, err)
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, credentialID)
	}
	return row, nil
}

// scanMeta reads the shared metadata column prefix (columns 0-8).
func scanMeta(stmt *sqlite.Stmt) (StoredCredential, error) {
	params, err := parseKDFParams([]byte(stmt.ColumnText(4)))
	if err != nil {
		return StoredCredential{}, err
	}
	meta := StoredCredential{
		ID:            stmt.ColumnText(0),
		OwnerID:       stmt.ColumnText(1),
		Category:      stmt.ColumnText(2),
		Label:         stmt.ColumnText(3),
		KDFParams:     params,
		SecurityLevel: SecurityLevel(stmt.ColumnText(5)),
		NeedsReentry:  stmt.ColumnInt64(6) != 0,
		CreatedAt:     time.Unix(0, stmt.ColumnInt64(7)).UTC(),
	}
	if nanos := stmt.ColumnInt64(8); nanos != 0 {
		meta.LastAccessedAt = time.Unix(0, nanos).UTC()
	}
	return meta, nil
}

func columnBytes(stmt *sqlite.Stmt, col int) []byte {
	data := make([]byte, stmt.ColumnLen(col))
	stmt.ColumnBytes(col, data)
	return data
}
