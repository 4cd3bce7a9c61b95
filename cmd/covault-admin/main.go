// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/covault/covault/internal/core"
	"github.com/covault/covault/lib/audit"
	"github.com/covault/covault/lib/config"
	"github.com/covault/covault/lib/escrow"
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
	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	subcommand := os.Args[1]
	switch subcommand {
	case "keygen":
		return runKeygen()
	case "put":
		return runPut(os.Args[2:])
	case "list":
		return runList(os.Args[2:])
	case "rotate":
		return runRotate(os.Args[2:])
	case "revoke-all":
		return runRevokeAll(os.Args[2:])
	case "audit-verify":
		return runAuditVerify(os.Args[2:])
	case "audit-export":
		return runAuditExport(os.Args[2:])
	case "escrow-export":
		return runEscrowExport(os.Args[2:])
	case "version":
		fmt.Printf("covault-admin %s\n", version.Info())
		return nil
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", subcommand)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: covault-admin <subcommand> [flags]

Subcommands:
  keygen         Generate an age escrow keypair
  put            Store a new credential
  list           List stored credentials (metadata only)
  rotate         Re-enter a credential's fields with a fresh data key
  revoke-all     Delete all credentials for a category
  audit-verify   Verify the audit chain hashes
  audit-export   Write a compressed audit export
  escrow-export  Write an age-encrypted recovery bundle
  version        Print version information

Run 'covault-admin <subcommand> --help' for subcommand flags.
`)
}

// sessionFlags are the flags every database-touching subcommand
// shares.
type sessionFlags struct {
	configPath string
	ownerID    string
}

func (f *sessionFlags) register(flags *flag.FlagSet) {
	flags.StringVar(&f.configPath, "config", "", "path to covault.yaml (overrides COVAULT_CONFIG)")
	flags.StringVar(&f.ownerID, "owner", "", "owner ID the operation applies to")
}

func (f *sessionFlags) open(ctx context.Context) (*core.Core, error) {
	if f.ownerID == "" {
		return nil, fmt.Errorf("--owner is required")
	}
	var cfg *config.Config
	var err error
	if f.configPath != "" {
		cfg, err = config.LoadFile(f.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	return core.Open(ctx, cfg, f.ownerID, core.Options{})
}

// runKeygen generates a new age escrow keypair. The public key goes
// to stdout for the config file; the private key goes to stderr for
// offline safekeeping.
func runKeygen() error {
	keypair, err := escrow.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("generating keypair: %w", err)
	}
	defer keypair.Close()

	fmt.Fprintf(os.Stderr, "# Private key (keep this secret — store offline):\n")
	fmt.Fprintf(os.Stderr, "%s\n", keypair.PrivateKey.String())
	fmt.Fprintf(os.Stdout, "%s\n", keypair.PublicKey)
	return nil
}

func runPut(args []string) error {
	flags := flag.NewFlagSet("put", flag.ExitOnError)
	var session sessionFlags
	session.register(flags)
	category := flags.String("category", "", "credential category")
	label := flags.String("label", "default", "credential label")
	highSecurity := flags.Bool("high-security", false, "mark the credential for single-use short-TTL grants")
	flags.Parse(args)

	if *category == "" {
		return fmt.Errorf("--category is required")
	}

	ctx := context.Background()
	vaultSession, err := session.open(ctx)
	if err != nil {
		return err
	}
	defer vaultSession.Close()

	declared, ok := vaultSession.Registry.Lookup(*category)
	if !ok {
		return fmt.Errorf("category %q is not in the schema catalog (known: %s)",
			*category, strings.Join(vaultSession.Registry.Categories(), ", "))
	}

	if err := unlock(vaultSession.Vault); err != nil {
		return err
	}

	fields, err := promptFields(declared.Fields)
	if err != nil {
		return err
	}
	normalized, err := vaultSession.Registry.ValidateFields(*category, fields)
	if err != nil {
		return err
	}

	level := vault.SecurityStandard
	if *highSecurity {
		level = vault.SecurityHigh
	}
	stored, err := vaultSession.Vault.Put(ctx, vault.PutParams{
		OwnerID:       session.ownerID,
		Category:      *category,
		Label:         *label,
		SecurityLevel: level,
		Fields:        normalized,
	})
	if err != nil {
		return err
	}
	fmt.Printf("stored %s (%s/%s)\n", stored.ID, stored.Category, stored.Label)
	return nil
}

func runList(args []string) error {
	flags := flag.NewFlagSet("list", flag.ExitOnError)
	var session sessionFlags
	session.register(flags)
	category := flags.String("category", "", "category to list (default: all catalog categories)")
	flags.Parse(args)

	ctx := context.Background()
	vaultSession, err := session.open(ctx)
	if err != nil {
		return err
	}
	defer vaultSession.Close()

	categories := vaultSession.Registry.Categories()
	if *category != "" {
		categories = []string{*category}
	}

	// Listing reads metadata only; the vault stays locked.
	for _, name := range categories {
		credentials, err := vaultSession.Vault.Lookup(ctx, session.ownerID, name)
		if err != nil {
			return err
		}
		for _, credential := range credentials {
			status := ""
			if credential.NeedsReentry {
				status = "  NEEDS RE-ENTRY"
			}
			lastAccess := "never"
			if !credential.LastAccessedAt.IsZero() {
				lastAccess = credential.LastAccessedAt.Format(time.RFC3339)
			}
			fmt.Printf("%s  %s/%s  level=%s  accessed=%s%s\n",
				credential.ID, credential.Category, credential.Label,
				credential.SecurityLevel, lastAccess, status)
		}
	}
	return nil
}

func runRotate(args []string) error {
	flags := flag.NewFlagSet("rotate", flag.ExitOnError)
	var session sessionFlags
	session.register(flags)
	credentialID := flags.String("id", "", "credential ID to rotate")
	flags.Parse(args)

	if *credentialID == "" {
		return fmt.Errorf("--id is required")
	}

	ctx := context.Background()
	vaultSession, err := session.open(ctx)
	if err != nil {
		return err
	}
	defer vaultSession.Close()

	meta, err := vaultSession.Vault.Meta(ctx, *credentialID)
	if err != nil {
		return err
	}
	declared, ok := vaultSession.Registry.Lookup(meta.Category)
	if !ok {
		return fmt.Errorf("credential category %q is not in the schema catalog", meta.Category)
	}

	if err := unlock(vaultSession.Vault); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Re-enter fields for %s (%s/%s):\n", meta.ID, meta.Category, meta.Label)
	fields, err := promptFields(declared.Fields)
	if err != nil {
		return err
	}
	normalized, err := vaultSession.Registry.ValidateFields(meta.Category, fields)
	if err != nil {
		return err
	}

	rotated, err := vaultSession.RotateCredential(ctx, *credentialID, normalized)
	if err != nil {
		return err
	}
	fmt.Printf("rotated %s (%s/%s)\n", rotated.ID, rotated.Category, rotated.Label)
	return nil
}

func runRevokeAll(args []string) error {
	flags := flag.NewFlagSet("revoke-all", flag.ExitOnError)
	var session sessionFlags
	session.register(flags)
	category := flags.String("category", "", "category to delete")
	yes := flags.Bool("yes", false, "skip the confirmation prompt")
	flags.Parse(args)

	if *category == "" {
		return fmt.Errorf("--category is required")
	}

	ctx := context.Background()
	vaultSession, err := session.open(ctx)
	if err != nil {
		return err
	}
	defer vaultSession.Close()

	if !*yes {
		answer, err := readLine(fmt.Sprintf(
			"Delete ALL %s credentials for %s? This cannot be undone. [y/N]: ",
			*category, session.ownerID))
		if err != nil {
			return err
		}
		if !strings.EqualFold(answer, "y") {
			return fmt.Errorf("aborted")
		}
	}

	deleted, err := vaultSession.RevokeCategory(ctx, *category)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d credential(s)\n", deleted)
	return nil
}

func runAuditVerify(args []string) error {
	flags := flag.NewFlagSet("audit-verify", flag.ExitOnError)
	var session sessionFlags
	session.register(flags)
	flags.Parse(args)

	ctx := context.Background()
	vaultSession, err := session.open(ctx)
	if err != nil {
		return err
	}
	defer vaultSession.Close()

	brokenID, err := vaultSession.Audit.Verify(ctx)
	if err != nil {
		return err
	}
	if brokenID != 0 {
		return fmt.Errorf("audit chain broken at event %d", brokenID)
	}
	fmt.Println("audit chain intact")
	return nil
}

func runAuditExport(args []string) error {
	flags := flag.NewFlagSet("audit-export", flag.ExitOnError)
	var session sessionFlags
	session.register(flags)
	output := flags.String("output", "", "output file (default: exports dir, timestamped)")
	actorID := flags.String("actor", "", "restrict to one actor")
	subjectID := flags.String("subject", "", "restrict to one subject")
	flags.Parse(args)

	ctx := context.Background()
	vaultSession, err := session.open(ctx)
	if err != nil {
		return err
	}
	defer vaultSession.Close()

	path := *output
	if path == "" {
		path = filepath.Join(vaultSession.Config.Paths.Exports,
			fmt.Sprintf("audit-%s.cbor.zst", time.Now().UTC().Format("20060102-150405")))
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()

	filter := audit.Filter{ActorID: *actorID, SubjectID: *subjectID}
	if err := vaultSession.Audit.Export(ctx, file, filter); err != nil {
		os.Remove(path)
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

func runEscrowExport(args []string) error {
	flags := flag.NewFlagSet("escrow-export", flag.ExitOnError)
	var session sessionFlags
	session.register(flags)
	output := flags.String("output", "", "output file (default: exports dir, timestamped)")
	flags.Parse(args)

	ctx := context.Background()
	vaultSession, err := session.open(ctx)
	if err != nil {
		return err
	}
	defer vaultSession.Close()

	recipients := vaultSession.Config.Escrow.Recipients
	if len(recipients) == 0 {
		return fmt.Errorf("no escrow recipients configured (escrow.recipients)")
	}
	for _, recipient := range recipients {
		if err := escrow.ParsePublicKey(recipient); err != nil {
			return err
		}
	}

	if err := unlock(vaultSession.Vault); err != nil {
		return err
	}

	bundle := &escrow.Bundle{CreatedAt: time.Now().UTC()}
	for _, category := range vaultSession.Registry.Categories() {
		credentials, err := vaultSession.Vault.Lookup(ctx, session.ownerID, category)
		if err != nil {
			return err
		}
		for _, credential := range credentials {
			if credential.NeedsReentry {
				fmt.Fprintf(os.Stderr, "skipping %s (%s/%s): needs re-entry\n",
					credential.ID, credential.Category, credential.Label)
				continue
			}
			plaintext, err := vaultSession.Vault.Get(ctx, credential.ID, "escrow-export")
			if err != nil {
				return fmt.Errorf("decrypting %s: %w", credential.ID, err)
			}
			fields, err := vault.DecodeFields(plaintext)
			plaintext.Close()
			if err != nil {
				return err
			}
			bundle.Entries = append(bundle.Entries, escrow.Entry{
				CredentialID: credential.ID,
				OwnerID:      credential.OwnerID,
				Category:     credential.Category,
				Label:        credential.Label,
				Fields:       fields,
			})
		}
	}
	if len(bundle.Entries) == 0 {
		return fmt.Errorf("nothing to export")
	}

	path := *output
	if path == "" {
		path = filepath.Join(vaultSession.Config.Paths.Exports,
			fmt.Sprintf("escrow-%s.age", time.Now().UTC().Format("20060102-150405")))
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := escrow.Seal(file, bundle, recipients); err != nil {
		os.Remove(path)
		return err
	}
	fmt.Printf("wrote %s (%d credential(s), %d recipient(s))\n",
		path, len(bundle.Entries), len(recipients))
	return nil
}

// unlock reads the master passphrase without echo and hands it to the
// vault.
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

// promptFields reads one value per declared schema field, without
// echo for secret fields.
func promptFields(declared []schema.Field) (map[string]string, error) {
	fields := make(map[string]string, len(declared))
	for _, field := range declared {
		label := field.Name
		if !field.Required {
			label += " (optional)"
		}

		var value string
		if field.Sensitivity == schema.SensitivitySecret {
			buffer, err := readSecret(fmt.Sprintf("  %s: ", label))
			if err != nil {
				return nil, err
			}
			value = buffer.String()
			buffer.Close()
		} else {
			line, err := readLine(fmt.Sprintf("  %s: ", label))
			if err != nil {
				return nil, err
			}
			value = line
		}
		if value != "" {
			fields[field.Name] = value
		}
	}
	return fields, nil
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
