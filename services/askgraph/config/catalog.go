// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the embedded query catalogs: curated question
// templates with hand-written graph queries, and ordered intent rules for
// keyword-based fallback classification.
package config

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Catalogs
// =============================================================================

//go:embed templates.yaml
var defaultTemplatesYAML []byte

//go:embed intents.yaml
var defaultIntentsYAML []byte

// =============================================================================
// Catalog Types
// =============================================================================

// CaptureSpec extracts one query parameter from the question text.
type CaptureSpec struct {
	// Param is the query parameter name the capture binds (without "$").
	Param string `yaml:"param"`

	// Pattern is a regex whose first capture group becomes the value.
	Pattern string `yaml:"pattern"`

	// Default is used when the pattern does not match. An empty default
	// with a failed match makes the entry inapplicable to the question.
	Default string `yaml:"default"`
}

// TemplateEntry is one curated question template.
//
// Description:
//
//	Examples are embedded at warm time; at query time the question's
//	embedding is scored against the mean example embedding. The query is
//	hand-written, uses parameters, and always ends with a LIMIT clause.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type TemplateEntry struct {
	// Name identifies the template in logs and metrics.
	Name string `yaml:"name"`

	// Description explains what the template answers.
	Description string `yaml:"description"`

	// Examples are representative phrasings of the question.
	Examples []string `yaml:"examples"`

	// Query is the parameterized graph query.
	Query string `yaml:"query"`

	// CountParam names the integer parameter filled from "top N"-style
	// phrasing in the question. Empty if the template takes no count.
	CountParam string `yaml:"count_param"`

	// DefaultCount is the CountParam value when the question names no number.
	DefaultCount int `yaml:"default_count"`

	// Captures extract string parameters from the question text.
	Captures []CaptureSpec `yaml:"captures"`
}

// TemplateCatalog is the full set of curated templates.
type TemplateCatalog struct {
	Templates []TemplateEntry `yaml:"templates"`
}

// IntentRule is one ordered keyword rule for fallback classification.
//
// Description:
//
//	A rule matches when the question contains any word from Any, and (if
//	AlsoAny is non-empty) any word from AlsoAny as well. Rules are checked
//	in catalog order; the first match wins.
type IntentRule struct {
	// Name identifies the intent in logs and metrics.
	Name string `yaml:"name"`

	// Description explains what the intent answers.
	Description string `yaml:"description"`

	// Any lists trigger substrings; at least one must appear.
	Any []string `yaml:"any"`

	// AlsoAny lists secondary substrings; when non-empty, at least one
	// must also appear.
	AlsoAny []string `yaml:"also_any"`

	// Query is the parameterized graph query for this intent.
	Query string `yaml:"query"`

	// CountParam and DefaultCount mirror TemplateEntry.
	CountParam   string `yaml:"count_param"`
	DefaultCount int    `yaml:"default_count"`

	// Captures extract string parameters from the question text.
	Captures []CaptureSpec `yaml:"captures"`
}

// IntentCatalog is the ordered rule list.
type IntentCatalog struct {
	Intents []IntentRule `yaml:"intents"`
}

// =============================================================================
// Singleton Catalog Loaders
// =============================================================================

var (
	catalogMu        sync.RWMutex
	cachedTemplates  *TemplateCatalog
	templatesLoadErr error
	templatesLoaded  bool
	cachedIntents    *IntentCatalog
	intentsLoadErr   error
	intentsLoaded    bool
)

// GetTemplateCatalog returns the cached template catalog, loading the
// embedded defaults on first call.
//
// Outputs:
//
//	*TemplateCatalog - The loaded catalog. Never nil on success.
//	error - Non-nil if parsing or validation failed.
//
// Thread Safety: Safe for concurrent use.
func GetTemplateCatalog(ctx context.Context) (*TemplateCatalog, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetTemplateCatalog: ctx must not be nil")
	}

	catalogMu.RLock()
	if templatesLoaded {
		cat, err := cachedTemplates, templatesLoadErr
		catalogMu.RUnlock()
		return cat, err
	}
	catalogMu.RUnlock()

	catalogMu.Lock()
	defer catalogMu.Unlock()
	if !templatesLoaded {
		cachedTemplates, templatesLoadErr = LoadTemplateCatalog(defaultTemplatesYAML)
		templatesLoaded = true
	}
	return cachedTemplates, templatesLoadErr
}

// GetIntentCatalog returns the cached intent catalog, loading the embedded
// defaults on first call.
//
// Thread Safety: Safe for concurrent use.
func GetIntentCatalog(ctx context.Context) (*IntentCatalog, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetIntentCatalog: ctx must not be nil")
	}

	catalogMu.RLock()
	if intentsLoaded {
		cat, err := cachedIntents, intentsLoadErr
		catalogMu.RUnlock()
		return cat, err
	}
	catalogMu.RUnlock()

	catalogMu.Lock()
	defer catalogMu.Unlock()
	if !intentsLoaded {
		cachedIntents, intentsLoadErr = LoadIntentCatalog(defaultIntentsYAML)
		intentsLoaded = true
	}
	return cachedIntents, intentsLoadErr
}

// ResetCatalogs clears the cached catalogs for testing.
func ResetCatalogs() {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	cachedTemplates, templatesLoadErr, templatesLoaded = nil, nil, false
	cachedIntents, intentsLoadErr, intentsLoaded = nil, nil, false
}

// LoadTemplateCatalog parses and validates a template catalog.
func LoadTemplateCatalog(data []byte) (*TemplateCatalog, error) {
	var cat TemplateCatalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("config: parsing template catalog: %w", err)
	}
	seen := make(map[string]struct{})
	for i, t := range cat.Templates {
		if err := validateEntry(t.Name, t.Query, t.CountParam, len(t.Examples)); err != nil {
			return nil, fmt.Errorf("config: template %d: %w", i, err)
		}
		if _, dup := seen[t.Name]; dup {
			return nil, fmt.Errorf("config: duplicate template name %q", t.Name)
		}
		seen[t.Name] = struct{}{}
	}
	return &cat, nil
}

// LoadIntentCatalog parses and validates an intent catalog.
func LoadIntentCatalog(data []byte) (*IntentCatalog, error) {
	var cat IntentCatalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("config: parsing intent catalog: %w", err)
	}
	for i, r := range cat.Intents {
		if err := validateEntry(r.Name, r.Query, r.CountParam, len(r.Any)); err != nil {
			return nil, fmt.Errorf("config: intent %d: %w", i, err)
		}
	}
	return &cat, nil
}

// validateEntry enforces the invariants shared by templates and intents:
// a name, a bounded query, and a referenced count parameter.
func validateEntry(name, query, countParam string, triggerCount int) error {
	if name == "" {
		return fmt.Errorf("missing name")
	}
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%s: missing query", name)
	}
	if !strings.Contains(strings.ToUpper(query), "LIMIT") {
		return fmt.Errorf("%s: query has no LIMIT clause", name)
	}
	if countParam != "" && !strings.Contains(query, "$"+countParam) {
		return fmt.Errorf("%s: count_param %q not referenced in query", name, countParam)
	}
	if triggerCount == 0 {
		return fmt.Errorf("%s: no examples or trigger keywords", name)
	}
	return nil
}
