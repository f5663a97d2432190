// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTemplateCatalog_LoadsEmbeddedDefaults(t *testing.T) {
	ResetCatalogs()
	t.Cleanup(ResetCatalogs)

	cat, err := GetTemplateCatalog(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, cat.Templates)

	names := make(map[string]TemplateEntry)
	for _, tmpl := range cat.Templates {
		names[tmpl.Name] = tmpl
	}
	for _, want := range []string{"top_contributors", "most_reported_issues", "best_solutions_for_issue"} {
		assert.Contains(t, names, want)
	}

	// Every template with a count param defaults to a positive count.
	for _, tmpl := range cat.Templates {
		if tmpl.CountParam != "" {
			assert.Positive(t, tmpl.DefaultCount, "template %s: count param without positive default", tmpl.Name)
		}
		assert.GreaterOrEqual(t, len(tmpl.Examples), 2, "template %s: expected multiple example phrasings", tmpl.Name)
	}

	// The weighting is baked into the catalog queries, against the graph's
	// persisted relationship properties.
	best := names["best_solutions_for_issue"]
	for _, frag := range []string{
		"'expert' THEN 2.0",
		"c.post_fix_outcome",
		"'resolved' THEN 1.0",
		"m.certainty_level",
		"m.evidence_strength",
		"c.confirmation_strength",
		"'permanent' THEN 1.2",
		"duration.inDays(date(c.confirmed_at)",
	} {
		assert.Contains(t, best.Query, frag)
	}
}

func TestTemplateCatalog_RankedQueriesReturnRankColumn(t *testing.T) {
	ResetCatalogs()
	t.Cleanup(ResetCatalogs)

	cat, err := GetTemplateCatalog(context.Background())
	require.NoError(t, err)

	for _, tmpl := range cat.Templates {
		if !strings.Contains(tmpl.Query, "ORDER BY") {
			continue
		}
		assert.Contains(t, tmpl.Query, "AS rank", "template %s: ranked query must return an explicit rank column", tmpl.Name)
	}
}

func TestIntentCatalog_RankedQueriesReturnRankColumn(t *testing.T) {
	ResetCatalogs()
	t.Cleanup(ResetCatalogs)

	cat, err := GetIntentCatalog(context.Background())
	require.NoError(t, err)

	ranked := 0
	for _, intent := range cat.Intents {
		if !strings.Contains(intent.Query, "ORDER BY") {
			continue
		}
		ranked++
		assert.Contains(t, intent.Query, "AS rank", "intent %s: ranked query must return an explicit rank column", intent.Name)
	}
	require.Positive(t, ranked, "expected at least one ranked intent query")
}

func TestIntentCatalog_WeightedQueriesUsePersistedProperties(t *testing.T) {
	ResetCatalogs()
	t.Cleanup(ResetCatalogs)

	cat, err := GetIntentCatalog(context.Background())
	require.NoError(t, err)

	byName := make(map[string]IntentRule)
	for _, intent := range cat.Intents {
		byName[intent.Name] = intent
	}

	effectiveness, ok := byName["solution_effectiveness"]
	require.True(t, ok)
	for _, frag := range []string{
		"c.post_fix_outcome",
		"c.confirmation_strength",
		"date(c.confirmed_at)",
		"m.certainty_level",
		"m.evidence_strength",
	} {
		assert.Contains(t, effectiveness.Query, frag)
	}

	severity, ok := byName["issue_severity"]
	require.True(t, ok)
	for _, frag := range []string{"m.evidence_strength", "m.certainty_level", "pv.source_reliability_score"} {
		assert.Contains(t, severity.Query, frag)
	}
}

func TestGetIntentCatalog_LoadsEmbeddedDefaults(t *testing.T) {
	ResetCatalogs()
	t.Cleanup(ResetCatalogs)

	cat, err := GetIntentCatalog(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(cat.Intents), 2)
	assert.Equal(t, "issue_severity", cat.Intents[0].Name, "severity rule must be ordered first")
}

func TestLoadTemplateCatalog_RejectsMissingLimit(t *testing.T) {
	_, err := LoadTemplateCatalog([]byte(`
templates:
  - name: unbounded
    examples: ["q"]
    query: "MATCH (n) RETURN n"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LIMIT")
}

func TestLoadTemplateCatalog_RejectsUnreferencedCountParam(t *testing.T) {
	_, err := LoadTemplateCatalog([]byte(`
templates:
  - name: bad_count
    examples: ["q"]
    count_param: limit
    query: "MATCH (n) RETURN n LIMIT 5"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count_param")
}

func TestLoadTemplateCatalog_RejectsDuplicateNames(t *testing.T) {
	_, err := LoadTemplateCatalog([]byte(`
templates:
  - name: dup
    examples: ["a"]
    query: "MATCH (n) RETURN n LIMIT 1"
  - name: dup
    examples: ["b"]
    query: "MATCH (n) RETURN n LIMIT 1"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadIntentCatalog_RejectsRuleWithoutTriggers(t *testing.T) {
	_, err := LoadIntentCatalog([]byte(`
intents:
  - name: empty
    query: "MATCH (n) RETURN n LIMIT 1"
`))
	require.Error(t, err)
}
