// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package synthesizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/signalpath/feedbackgraph/services/askgraph/graphstore"
)

// maxListedRows bounds the deterministic fallback listing.
const maxListedRows = 10

// formatSingleRow renders a one-row result directly.
//
// A single scalar ("count(r)": 42) becomes "42". A single pair becomes
// "name: value, name: value" in column order.
func formatSingleRow(row graphstore.Row) string {
	if len(row.Columns) == 1 {
		return formatValue(row.Values[row.Columns[0]])
	}
	parts := make([]string, 0, len(row.Columns))
	for _, col := range row.Columns {
		parts = append(parts, fmt.Sprintf("%s: %s", col, formatValue(row.Values[col])))
	}
	return strings.Join(parts, ", ")
}

// formatRowListing renders rows as a readable bulleted listing. Used as the
// fabrication-guard fallback and when no chat client is configured.
func formatRowListing(rows []graphstore.Row) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d results:\n", len(rows))
	for i, row := range rows {
		if i >= maxListedRows {
			fmt.Fprintf(&sb, "... and %d more results\n", len(rows)-maxListedRows)
			break
		}
		parts := make([]string, 0, len(row.Columns))
		for _, col := range row.Columns {
			parts = append(parts, fmt.Sprintf("%s: %s", col, formatValue(row.Values[col])))
		}
		fmt.Fprintf(&sb, "- %s\n", strings.Join(parts, ", "))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// formatRowsForPrompt renders rows as a compact pipe-delimited table for
// the synthesis prompt.
func formatRowsForPrompt(rows []graphstore.Row) string {
	if len(rows) == 0 {
		return "(no rows)"
	}
	var sb strings.Builder
	sb.WriteString(strings.Join(rows[0].Columns, " | "))
	sb.WriteString("\n")
	for _, row := range rows {
		parts := make([]string, 0, len(row.Columns))
		for _, col := range row.Columns {
			parts = append(parts, formatValue(row.Values[col]))
		}
		sb.WriteString(strings.Join(parts, " | "))
		sb.WriteString("\n")
	}
	return sb.String()
}

// formatValue renders one normalized store value as text.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case float64:
		// Whole floats print without the trailing .0 noise.
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case map[string]any:
		if label, ok := val["_label"].(string); ok {
			if name := pickDisplayName(val); name != "" {
				return fmt.Sprintf("%s(%s)", label, name)
			}
			return label
		}
		return fmt.Sprintf("%v", val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, formatValue(item))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// pickDisplayName finds a human-readable identifier in a flattened node map.
func pickDisplayName(m map[string]any) string {
	for _, key := range []string{"name", "title", "description", "id"} {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// =============================================================================
// Fabrication Guard
// =============================================================================

// fabricationThreshold is how many invented numbers an answer may contain
// before it is discarded. One stray number can be a harmless ordinal
// ("the 2 top results"); two or more means the model is making data up.
const fabricationThreshold = 2

var numberTokenRe = regexp.MustCompile(`\d+(?:\.\d+)?`)

// detectFabrication reports whether the answer contains numeric tokens that
// appear nowhere in the result rows.
//
// # Description
//
// Every numeric token in the rows (and every sub-token of formatted
// values) goes into an allow set; numeric tokens in the answer that miss
// the set count as invented. The row count itself is allowed, since "5
// results" is a legitimate thing for the model to say.
func detectFabrication(answer string, rows []graphstore.Row) (bool, int) {
	allowed := make(map[string]struct{})
	allowed[canonicalNumber(strconv.Itoa(len(rows)))] = struct{}{}
	for _, row := range rows {
		for _, col := range row.Columns {
			for _, tok := range numberTokenRe.FindAllString(formatValue(row.Values[col]), -1) {
				allowed[canonicalNumber(tok)] = struct{}{}
			}
		}
	}

	invented := 0
	for _, tok := range numberTokenRe.FindAllString(answer, -1) {
		if _, ok := allowed[canonicalNumber(tok)]; !ok {
			invented++
		}
	}
	return invented >= fabricationThreshold, invented
}

// canonicalNumber normalizes a numeric token so "2.50" and "2.5" compare
// equal.
func canonicalNumber(tok string) string {
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return tok
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
