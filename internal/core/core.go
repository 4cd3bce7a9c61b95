// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

// Package core assembles the covault components for one owner
// session: connection pool, audit log, vault store, grant ledger,
// schema registry, and flow manager, wired from a single Config.
// Binaries construct a Core instead of wiring the stack by hand.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/covault/covault/lib/audit"
	"github.com/covault/covault/lib/clock"
	"github.com/covault/covault/lib/config"
	"github.com/covault/covault/lib/flow"
	"github.com/covault/covault/lib/ledger"
	"github.com/covault/covault/lib/schema"
	"github.com/covault/covault/lib/sqlitepool"
	"github.com/covault/covault/lib/vault"
)

// Core holds the assembled components of one vault session. The
// session belongs to one owner; there is no process-wide singleton.
type Core struct {
	Config   *config.Config
	OwnerID  string
	Pool     *sqlitepool.Pool
	Audit    *audit.Log
	Vault    *vault.Store
	Ledger   *ledger.Ledger
	Registry *schema.Registry
	Flow     *flow.Manager

	logger *slog.Logger
}

// Options adjusts assembly for tests and embedding.
type Options struct {
	// Clock overrides the real clock everywhere.
	Clock clock.Clock

	// Logger receives operational logs from every component.
	// Defaults to discard.
	Logger *slog.Logger
}

// Open assembles a session for the given owner. The vault starts
// locked; callers unlock it with the master passphrase before any
// store or decrypt operation.
func Open(ctx context.Context, cfg *config.Config, ownerID string, opts Options) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("core: invalid config: %w", err)
	}
	if ownerID == "" {
		return nil, fmt.Errorf("core: owner ID is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   cfg.Paths.Database,
		Logger: opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("core: opening database: %w", err)
	}

	auditLog, err := audit.Open(ctx, audit.Config{
		Pool:   pool,
		Clock:  opts.Clock,
		Logger: opts.Logger,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("core: opening audit log: %w", err)
	}

	idleTimeout, err := cfg.IdleLockTimeout()
	if err != nil {
		pool.Close()
		return nil, err
	}
	kdfParams := vault.KDFParams{}
	if cfg.Vault.KDF != (config.KDFConfig{}) {
		kdfParams = vault.KDFParams{
			Algorithm: vault.KDFAlgorithmArgon2id,
			Time:      uint32(cfg.Vault.KDF.Time),
			MemoryKiB: uint32(cfg.Vault.KDF.MemoryKiB),
			Threads:   uint8(cfg.Vault.KDF.Threads),
		}
	}
	store, err := vault.Open(ctx, vault.Config{
		Pool:            pool,
		Audit:           auditLog,
		Clock:           opts.Clock,
		Logger:          opts.Logger,
		KDFParams:       kdfParams,
		IdleLockTimeout: idleTimeout,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("core: opening vault: %w", err)
	}

	grants, err := ledger.New(ledger.Config{
		Audit:  auditLog,
		Clock:  opts.Clock,
		Logger: opts.Logger,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	registry := schema.NewRegistry()
	if _, err := os.Stat(cfg.Paths.SchemaCatalog); err == nil {
		catalog, err := schema.LoadCatalog(cfg.Paths.SchemaCatalog)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("core: loading schema catalog: %w", err)
		}
		if err := catalog.RegisterAll(registry); err != nil {
			pool.Close()
			return nil, fmt.Errorf("core: registering schemas: %w", err)
		}
	}

	respondTimeout, err := cfg.RespondTimeout()
	if err != nil {
		pool.Close()
		return nil, err
	}
	grantTTL, err := cfg.GrantTTL()
	if err != nil {
		pool.Close()
		return nil, err
	}
	manager, err := flow.New(flow.Config{
		Registry:       registry,
		Vault:          store,
		Ledger:         grants,
		Audit:          auditLog,
		OwnerID:        ownerID,
		Clock:          opts.Clock,
		Logger:         opts.Logger,
		RespondTimeout: respondTimeout,
		GrantTTL:       grantTTL,
		GrantMaxUses:   cfg.Flow.GrantMaxUses,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Core{
		Config:   cfg,
		OwnerID:  ownerID,
		Pool:     pool,
		Audit:    auditLog,
		Vault:    store,
		Ledger:   grants,
		Registry: registry,
		Flow:     manager,
		logger:   opts.Logger,
	}, nil
}

// RevokeCategory deletes every stored credential for the session owner
// in the category and revokes any live grants covering the deleted
// rows, so no agent can spend a grant against a credential that no
// longer exists. Returns the number of credentials deleted.
func (c *Core) RevokeCategory(ctx context.Context, category string) (int, error) {
	credentials, err := c.Vault.Lookup(ctx, c.OwnerID, category)
	if err != nil {
		return 0, err
	}
	deleted, err := c.Vault.RevokeAll(ctx, c.OwnerID, category)
	if err != nil {
		return deleted, err
	}
	for _, credential := range credentials {
		if _, err := c.Ledger.RevokeCredential(ctx, credential.ID); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// RotateCredential re-encrypts one credential with freshly entered
// fields and revokes the grants issued against the old material.
// Agents holding a grant over the rotated credential must request
// again; their grant covered the secret that no longer exists.
func (c *Core) RotateCredential(ctx context.Context, credentialID string, fields map[string]string) (*vault.StoredCredential, error) {
	rotated, err := c.Vault.Rotate(ctx, credentialID, fields)
	if err != nil {
		return nil, err
	}
	if _, err := c.Ledger.RevokeCredential(ctx, credentialID); err != nil {
		return nil, err
	}
	return rotated, nil
}

// Close locks the vault and releases the database pool.
func (c *Core) Close() error {
	if err := c.Vault.Close(); err != nil {
		c.logger.Error("closing vault", "error", err)
	}
	return c.Pool.Close()
}
