// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for covault
// components.
//
// Configuration is loaded from a single file specified by:
//   - COVAULT_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. The config file is
// the single source of truth; environment variables never override
// values. The only expansion performed is ${HOME} and similar path
// variables for portability.
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when the environment
// matches.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for covault.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Paths configures file and directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Vault configures the encryption engine.
	Vault VaultConfig `yaml:"vault"`

	// Flow configures the credential request protocol.
	Flow FlowConfig `yaml:"flow"`

	// Escrow configures operator-recovery exports.
	Escrow EscrowConfig `yaml:"escrow"`

	// Per-environment overrides, applied after the base config.
	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains fields that can be overridden per environment.
type Overrides struct {
	Paths *PathsConfig `yaml:"paths,omitempty"`
	Vault *VaultConfig `yaml:"vault,omitempty"`
	Flow  *FlowConfig  `yaml:"flow,omitempty"`
}

// PathsConfig configures file and directory locations.
type PathsConfig struct {
	// Root is the base directory for covault data.
	Root string `yaml:"root"`

	// Database is the sqlite file holding credentials and the audit
	// chain. Default: ${root}/vault.db
	Database string `yaml:"database"`

	// SchemaCatalog is the JSONC file declaring credential
	// categories. Default: ${root}/schemas.jsonc
	SchemaCatalog string `yaml:"schema_catalog"`

	// Exports is where audit exports and escrow bundles are written.
	Exports string `yaml:"exports"`
}

// VaultConfig configures the encryption engine.
type VaultConfig struct {
	// IdleLockTimeout is how long the vault stays unlocked with no
	// decryption activity. Duration string, e.g. "15m".
	IdleLockTimeout string `yaml:"idle_lock_timeout"`

	// KDF sets the argon2id work factors for newly stored
	// credentials. Existing rows keep the factors they were written
	// with.
	KDF KDFConfig `yaml:"kdf"`
}

// KDFConfig holds argon2id work factors. Zero values fall back to the
// built-in defaults.
type KDFConfig struct {
	Time      int `yaml:"time"`
	MemoryKiB int `yaml:"memory_kib"`
	Threads   int `yaml:"threads"`
}

// FlowConfig configures the credential request protocol.
type FlowConfig struct {
	// RespondTimeout bounds how long a prompt waits for the user.
	// Duration string, e.g. "120s".
	RespondTimeout string `yaml:"respond_timeout"`

	// GrantTTL is the lifetime of grants issued on fulfillment.
	GrantTTL string `yaml:"grant_ttl"`

	// GrantMaxUses is the use budget of grants issued on
	// fulfillment.
	GrantMaxUses int `yaml:"grant_max_uses"`
}

// EscrowConfig configures operator-recovery exports.
type EscrowConfig struct {
	// Recipients are age public keys (age1...) that escrow bundles
	// are encrypted to. Empty disables escrow export.
	Recipients []string `yaml:"recipients"`
}

// Default returns the default configuration. These defaults are a
// base before loading the config file, ensuring every field has a
// sensible zero-value; the config file itself is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "covault")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:          defaultRoot,
			Database:      filepath.Join(defaultRoot, "vault.db"),
			SchemaCatalog: filepath.Join(defaultRoot, "schemas.jsonc"),
			Exports:       filepath.Join(defaultRoot, "exports"),
		},
		Vault: VaultConfig{
			IdleLockTimeout: "15m",
		},
		Flow: FlowConfig{
			RespondTimeout: "120s",
			GrantTTL:       "1h",
			GrantMaxUses:   1,
		},
	}
}

// Load loads configuration from the COVAULT_CONFIG environment
// variable. There are no fallbacks: if COVAULT_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("COVAULT_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("COVAULT_CONFIG environment variable not set; " +
			"set it to the path of your covault.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// applyEnvironmentOverrides applies the matching per-environment
// section.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.Database != "" {
			c.Paths.Database = overrides.Paths.Database
		}
		if overrides.Paths.SchemaCatalog != "" {
			c.Paths.SchemaCatalog = overrides.Paths.SchemaCatalog
		}
		if overrides.Paths.Exports != "" {
			c.Paths.Exports = overrides.Paths.Exports
		}
	}

	if overrides.Vault != nil {
		if overrides.Vault.IdleLockTimeout != "" {
			c.Vault.IdleLockTimeout = overrides.Vault.IdleLockTimeout
		}
		if overrides.Vault.KDF.Time != 0 {
			c.Vault.KDF.Time = overrides.Vault.KDF.Time
		}
		if overrides.Vault.KDF.MemoryKiB != 0 {
			c.Vault.KDF.MemoryKiB = overrides.Vault.KDF.MemoryKiB
		}
		if overrides.Vault.KDF.Threads != 0 {
			c.Vault.KDF.Threads = overrides.Vault.KDF.Threads
		}
	}

	if overrides.Flow != nil {
		if overrides.Flow.RespondTimeout != "" {
			c.Flow.RespondTimeout = overrides.Flow.RespondTimeout
		}
		if overrides.Flow.GrantTTL != "" {
			c.Flow.GrantTTL = overrides.Flow.GrantTTL
		}
		if overrides.Flow.GrantMaxUses != 0 {
			c.Flow.GrantMaxUses = overrides.Flow.GrantMaxUses
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"COVAULT_ROOT": c.Paths.Root,
		"HOME":         os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["COVAULT_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Database = expandVars(c.Paths.Database, vars)
	c.Paths.SchemaCatalog = expandVars(c.Paths.SchemaCatalog, vars)
	c.Paths.Exports = expandVars(c.Paths.Exports, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.Database == "" {
		errs = append(errs, fmt.Errorf("paths.database is required"))
	}

	if _, err := c.IdleLockTimeout(); err != nil {
		errs = append(errs, fmt.Errorf("vault.idle_lock_timeout: %w", err))
	}
	if _, err := c.RespondTimeout(); err != nil {
		errs = append(errs, fmt.Errorf("flow.respond_timeout: %w", err))
	}
	if _, err := c.GrantTTL(); err != nil {
		errs = append(errs, fmt.Errorf("flow.grant_ttl: %w", err))
	}
	if c.Flow.GrantMaxUses < 0 {
		errs = append(errs, fmt.Errorf("flow.grant_max_uses must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// IdleLockTimeout parses the vault idle-lock duration.
func (c *Config) IdleLockTimeout() (time.Duration, error) {
	return parseDuration(c.Vault.IdleLockTimeout)
}

// RespondTimeout parses the prompt response deadline.
func (c *Config) RespondTimeout() (time.Duration, error) {
	return parseDuration(c.Flow.RespondTimeout)
}

// GrantTTL parses the grant lifetime.
func (c *Config) GrantTTL() (time.Duration, error) {
	return parseDuration(c.Flow.GrantTTL)
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if duration < 0 {
		return 0, fmt.Errorf("duration must not be negative: %s", value)
	}
	return duration, nil
}

// EnsurePaths creates all configured directories if they don't exist.
// The database directory gets restrictive permissions; it holds
// ciphertext but there is no reason to share it.
func (c *Config) EnsurePaths() error {
	directories := []string{
		c.Paths.Root,
		filepath.Dir(c.Paths.Database),
		c.Paths.Exports,
	}
	for _, directory := range directories {
		if directory == "" {
			continue
		}
		if err := os.MkdirAll(directory, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", directory, err)
		}
	}
	return nil
}
