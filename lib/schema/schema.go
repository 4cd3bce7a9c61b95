// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"errors"
	"fmt"
	"regexp"
)

// FieldType classifies a credential field's value shape.
type FieldType string

const (
	// FieldString is a single-line string value (API keys, tokens,
	// usernames).
	FieldString FieldType = "string"

	// FieldMultiline is a multi-line string value (PEM keys, service
	// account JSON). Multiline values are not whitespace-normalized.
	FieldMultiline FieldType = "multiline"

	// FieldTOTPSeed is a base32 TOTP seed. Stored like any other
	// secret field; the type exists so UI adapters can render an
	// appropriate input.
	FieldTOTPSeed FieldType = "totp-seed"
)

// Sensitivity classifies how a field may be surfaced outside the vault.
type Sensitivity string

const (
	// SensitivitySecret fields are never shown after entry and only
	// leave the vault through a mediated use.
	SensitivitySecret Sensitivity = "secret"

	// SensitivityInternal fields (account names, hostnames) may
	// appear in prompts and audit metadata but not in logs.
	SensitivityInternal Sensitivity = "internal"

	// SensitivityPublic fields (labels, service URLs) carry no
	// secrecy requirement.
	SensitivityPublic Sensitivity = "public"
)

// Field declares one field of a credential category.
type Field struct {
	// Name is the field key, unique within the schema.
	Name string `json:"name"`

	// Type is the value shape. Defaults to FieldString when empty.
	Type FieldType `json:"type,omitempty"`

	// Sensitivity defaults to SensitivitySecret when empty — a
	// misdeclared field fails closed.
	Sensitivity Sensitivity `json:"sensitivity,omitempty"`

	// Required marks the field as mandatory in every payload.
	Required bool `json:"required"`

	// ValidationPattern is an optional anchored regular expression
	// the value must match (e.g. "^ghp_[A-Za-z0-9]{36}$").
	ValidationPattern string `json:"validation_pattern,omitempty"`

	// compiled is the compiled ValidationPattern, populated at
	// registration.
	compiled *regexp.Regexp
}

// CredentialSchema declares the expected fields and validation rules
// for one credential category. Immutable once registered — Register
// stores a deep copy.
type CredentialSchema struct {
	// Category is the unique key (e.g. "github", "aws", "smtp").
	Category string `json:"category"`

	// Fields is the ordered field list. Validation reports the first
	// offending field in this order.
	Fields []Field `json:"fields"`

	// RequiredScopes lists the grant scopes a caller must hold to
	// use credentials of this category (e.g. ["USE_ONLY"]). The
	// ledger enforces scope at grant issue time.
	RequiredScopes []string `json:"required_scopes,omitempty"`
}

// ErrDuplicateCategory is returned by Register when the category is
// already present in the registry.
var ErrDuplicateCategory = errors.New("schema: category already registered")

// ValidationError reports the first schema violation in a credential
// payload or request. Validation errors are pure input-shape failures:
// they occur before any vault or ledger state is touched and are never
// written to the audit log.
type ValidationError struct {
	// Category is the credential category being validated.
	Category string

	// Field names the first offending field. Empty when the category
	// itself is unknown.
	Field string

	// Reason is a human-readable description of the violation. It
	// never contains field values — a rejected value may still be a
	// near-miss secret.
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema validation: category %q: %s", e.Category, e.Reason)
	}
	return fmt.Sprintf("schema validation: category %q, field %q: %s", e.Category, e.Field, e.Reason)
}

// Validate checks the structural well-formedness of a schema before
// registration: non-empty category, at least one field, unique field
// names, known types and sensitivities, compilable patterns.
func (s *CredentialSchema) Validate() error {
	if s.Category == "" {
		return errors.New("credential schema: category is required")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("credential schema %q: at least one field is required", s.Category)
	}

	seen := make(map[string]bool, len(s.Fields))
	for _, field := range s.Fields {
		if field.Name == "" {
			return fmt.Errorf("credential schema %q: field with empty name", s.Category)
		}
		if seen[field.Name] {
			return fmt.Errorf("credential schema %q: duplicate field %q", s.Category, field.Name)
		}
		seen[field.Name] = true

		switch field.Type {
		case "", FieldString, FieldMultiline, FieldTOTPSeed:
		default:
			return fmt.Errorf("credential schema %q: field %q has unknown type %q", s.Category, field.Name, field.Type)
		}

		switch field.Sensitivity {
		case "", SensitivitySecret, SensitivityInternal, SensitivityPublic:
		default:
			return fmt.Errorf("credential schema %q: field %q has unknown sensitivity %q", s.Category, field.Name, field.Sensitivity)
		}

		if field.ValidationPattern != "" {
			if _, err := regexp.Compile(field.ValidationPattern); err != nil {
				return fmt.Errorf("credential schema %q: field %q: invalid validation pattern: %w", s.Category, field.Name, err)
			}
		}
	}
	return nil
}

// normalized returns a deep copy with defaults applied and patterns
// compiled. Call only after Validate has passed.
func (s *CredentialSchema) normalized() *CredentialSchema {
	copied := &CredentialSchema{
		Category:       s.Category,
		Fields:         make([]Field, len(s.Fields)),
		RequiredScopes: append([]string(nil), s.RequiredScopes...),
	}
	for i, field := range s.Fields {
		if field.Type == "" {
			field.Type = FieldString
		}
		if field.Sensitivity == "" {
			field.Sensitivity = SensitivitySecret
		}
		if field.ValidationPattern != "" {
			field.compiled = regexp.MustCompile(field.ValidationPattern)
		}
		copied.Fields[i] = field
	}
	return copied
}
