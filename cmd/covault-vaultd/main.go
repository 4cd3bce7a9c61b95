// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/covault/covault/internal/core"
	"github.com/covault/covault/lib/config"
	"github.com/covault/covault/lib/flow"
	"github.com/covault/covault/lib/schema"
	"github.com/covault/covault/lib/secret"
	"github.com/covault/covault/lib/vault"
	"github.com/covault/covault/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to covault.yaml (overrides COVAULT_CONFIG)")
	ownerID := flag.String("owner", "", "owner ID for this vault session")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("covault-vaultd %s\n", version.Info())
		return nil
	}
	if *ownerID == "" {
		return fmt.Errorf("--owner is required")
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := core.Open(ctx, cfg, *ownerID, core.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer session.Close()

	if err := unlock(session.Vault); err != nil {
		return err
	}

	logger.Info("vault session ready",
		"owner", *ownerID,
		"categories", session.Registry.Categories(),
	)

	return serve(ctx, session, logger)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func newLogger(level string) (*slog.Logger, error) {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})), nil
}

// unlock reads the master passphrase and hands it to the vault. The
// passphrase never touches the Go heap longer than the ReadPassword
// return value; it moves into mmap memory immediately.
func unlock(store *vault.Store) error {
	passphrase, err := readSecret("Master passphrase: ")
	if err != nil {
		return err
	}
	if err := store.Unlock(passphrase); err != nil {
		passphrase.Close()
		return err
	}
	return nil
}

// serve is the terminal UI adapter loop: render prompts, collect
// fields, answer the flow manager.
func serve(ctx context.Context, session *core.Core, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case event := <-session.Flow.Events():
			switch typed := event.(type) {
			case flow.PromptRequired:
				if err := handlePrompt(ctx, session, typed); err != nil {
					logger.Error("handling prompt", "request_id", typed.RequestID, "error", err)
				}
			case flow.RequestApproved:
				logger.Info("request approved", "request_id", typed.RequestID)
			case flow.RequestDenied:
				logger.Info("request denied", "request_id", typed.RequestID)
			case flow.RequestExpired:
				logger.Info("request expired", "request_id", typed.RequestID)
			}
		}
	}
}

// handlePrompt collects field values for one credential request. An
// empty response to the first field denies the request. A locked
// vault re-prompts for the master passphrase and retries once.
func handlePrompt(ctx context.Context, session *core.Core, prompt flow.PromptRequired) error {
	fmt.Fprintf(os.Stderr, "\nCredential request %s\n", prompt.RequestID)
	fmt.Fprintf(os.Stderr, "  category:      %s\n", prompt.Category)
	if prompt.Justification != "" {
		fmt.Fprintf(os.Stderr, "  justification: %s\n", prompt.Justification)
	}
	fmt.Fprintf(os.Stderr, "Enter field values (empty first field denies):\n")

	fields, err := collectFields(prompt.SchemaFields)
	if err != nil {
		return err
	}
	if fields == nil {
		return session.Flow.DenyPrompt(ctx, prompt.RequestID)
	}

	err = session.Flow.RespondToPrompt(ctx, prompt.RequestID, fields)
	if errors.Is(err, vault.ErrLocked) {
		// The idle timer fired while the prompt was open. Re-derive
		// the master key and retry; the request is still pending.
		fmt.Fprintf(os.Stderr, "vault locked while prompting; unlock to continue\n")
		if err := unlock(session.Vault); err != nil {
			return err
		}
		err = session.Flow.RespondToPrompt(ctx, prompt.RequestID, fields)
	}
	return err
}

// collectFields reads one value per declared field. Secret fields are
// read without echo. Returns nil when the user denies.
func collectFields(declared []schema.Field) (map[string]string, error) {
	fields := make(map[string]string, len(declared))
	for i, field := range declared {
		label := field.Name
		if !field.Required {
			label += " (optional)"
		}

		var value string
		var err error
		if field.Sensitivity == schema.SensitivitySecret {
			buffer, readErr := readSecret(fmt.Sprintf("  %s: ", label))
			if readErr != nil {
				return nil, readErr
			}
			// The flow layer re-encrypts immediately; the transient
			// string copy is unavoidable at the map boundary.
			value = buffer.String()
			buffer.Close()
		} else {
			value, err = readLine(fmt.Sprintf("  %s: ", label))
			if err != nil {
				return nil, err
			}
		}

		if i == 0 && value == "" {
			return nil, nil
		}
		if value != "" {
			fields[field.Name] = value
		}
	}
	return fields, nil
}

// readSecret reads a line without echo when stdin is a terminal, and
// moves it into mmap-backed memory.
func readSecret(prompt string) (*secret.Buffer, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("reading secret input: %w", err)
		}
		return secret.NewFromBytes(raw)
	}

	line, err := readLine("")
	if err != nil {
		return nil, err
	}
	return secret.NewFromString(line)
}

// stdin is shared so buffered input survives across reads.
var stdin = bufio.NewReader(os.Stdin)

func readLine(prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(os.Stderr, prompt)
	}
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
