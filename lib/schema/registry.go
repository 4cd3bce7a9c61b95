// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds one immutable CredentialSchema per category. Safe for
// concurrent use: registration happens at startup, validation on every
// credential request.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*CredentialSchema
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*CredentialSchema),
	}
}

// Register adds a schema to the registry. Returns ErrDuplicateCategory
// if the category is already registered, or a structural error if the
// schema itself is malformed. The registry stores a deep copy with
// defaults applied; later mutation of the argument has no effect.
func (r *Registry) Register(schema CredentialSchema) error {
	if err := schema.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[schema.Category]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateCategory, schema.Category)
	}
	r.schemas[schema.Category] = schema.normalized()
	return nil
}

// Lookup returns the schema for a category. The returned schema is
// shared and must not be mutated.
func (r *Registry) Lookup(category string) (*CredentialSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schema, exists := r.schemas[category]
	return schema, exists
}

// Categories returns the registered category names, sorted.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	categories := make([]string, 0, len(r.schemas))
	for category := range r.schemas {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	return categories
}

// ValidateCategory checks that a category is registered. Returns a
// *ValidationError otherwise.
func (r *Registry) ValidateCategory(category string) error {
	if _, exists := r.Lookup(category); !exists {
		return &ValidationError{
			Category: category,
			Reason:   "unknown category",
		}
	}
	return nil
}

// ValidateFields checks a credential payload against the category's
// schema and returns the normalized fields: every required field
// present and non-empty, every value matching its validation pattern,
// no unknown fields. Single-line values are whitespace-trimmed before
// pattern matching; multiline values are passed through untouched.
//
// Fields are checked in schema order and the first violation is
// returned as a *ValidationError. ValidateFields touches no durable
// state — it must run before any vault or ledger operation.
func (r *Registry) ValidateFields(category string, fields map[string]string) (map[string]string, error) {
	schema, exists := r.Lookup(category)
	if !exists {
		return nil, &ValidationError{
			Category: category,
			Reason:   "unknown category",
		}
	}

	// Unknown fields are rejected before per-field checks so that a
	// typo'd field name is reported as itself, not as a missing
	// required field.
	declared := make(map[string]bool, len(schema.Fields))
	for _, field := range schema.Fields {
		declared[field.Name] = true
	}
	for name := range fields {
		if !declared[name] {
			return nil, &ValidationError{
				Category: category,
				Field:    name,
				Reason:   "unknown field",
			}
		}
	}

	normalized := make(map[string]string, len(fields))
	for _, field := range schema.Fields {
		value := fields[field.Name]

		if field.Type != FieldMultiline {
			value = strings.TrimSpace(value)
		}

		if value == "" {
			if field.Required {
				return nil, &ValidationError{
					Category: category,
					Field:    field.Name,
					Reason:   "required field is missing or empty",
				}
			}
			continue
		}

		if field.compiled != nil && !field.compiled.MatchString(value) {
			return nil, &ValidationError{
				Category: category,
				Field:    field.Name,
				Reason:   "value does not match validation pattern",
			}
		}

		normalized[field.Name] = value
	}

	return normalized, nil
}
