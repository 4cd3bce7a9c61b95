// Copyright 2026 The Covault Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// Catalog is the on-disk schema catalog format: a JSONC document (JSON
// with comments and trailing commas) listing every credential category
// a deployment supports.
//
//	{
//	  "schemas": [
//	    // Personal access tokens for repository automation.
//	    {
//	      "category": "github",
//	      "fields": [
//	        {"name": "token", "required": true, "validation_pattern": "^(ghp|gho)_[A-Za-z0-9]{36,}$"},
//	      ],
//	    },
//	  ],
//	}
type Catalog struct {
	Schemas []CredentialSchema `json:"schemas"`
}

// LoadCatalog reads and parses a JSONC schema catalog. Structural
// validation of each schema happens at registration, not here.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema catalog: %w", err)
	}

	var catalog Catalog
	if err := json.Unmarshal(jsonc.ToJSON(raw), &catalog); err != nil {
		return nil, fmt.Errorf("parsing schema catalog %s: %w", path, err)
	}
	if len(catalog.Schemas) == 0 {
		return nil, fmt.Errorf("schema catalog %s declares no schemas", path)
	}
	return &catalog, nil
}

// RegisterAll registers every schema in the catalog. Stops at the
// first failure — a deployment with a broken catalog should not come
// up half-configured.
func (c *Catalog) RegisterAll(registry *Registry) error {
	for _, schema := range c.Schemas {
		if err := registry.Register(schema); err != nil {
			return fmt.Errorf("registering catalog schema %q: %w", schema.Category, err)
		}
	}
	return nil
}
