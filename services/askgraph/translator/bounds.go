// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package translator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MaxRows caps how many rows any query may return. Queries asking for more
// are rewritten down; queries with no LIMIT get one appended.
const MaxRows = 100

var (
	limitClauseRe = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)\b`)
	limitParamRe  = regexp.MustCompile(`(?i)\bLIMIT\s+\$(\w+)\b`)
)

// NormalizeLimit enforces the row cap on a query and its parameters.
//
// # Description
//
// Three cases:
//  1. Literal LIMIT above the cap: rewritten down to the cap in the text.
//  2. Parameterized LIMIT ($name): the bound parameter value is clamped.
//  3. No LIMIT at all: "LIMIT 100" is appended.
//
// The returned query is always bounded; params is mutated in place when a
// limit parameter needs clamping.
func NormalizeLimit(query string, params map[string]any) string {
	if m := limitParamRe.FindStringSubmatch(query); m != nil {
		name := m[1]
		if params != nil {
			params[name] = clampCount(paramInt64(params[name]))
		}
		return query
	}

	if m := limitClauseRe.FindStringSubmatch(query); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > MaxRows {
			return limitClauseRe.ReplaceAllString(query, fmt.Sprintf("LIMIT %d", MaxRows))
		}
		return query
	}

	return strings.TrimRight(strings.TrimSpace(query), ";") + fmt.Sprintf("\nLIMIT %d", MaxRows)
}

// clampCount bounds a requested row count to [1, MaxRows]. Counts stay
// int64 throughout so the bound value matches the driver's canonical
// integer type.
func clampCount(n int64) int64 {
	if n < 1 {
		return 1
	}
	if n > MaxRows {
		return MaxRows
	}
	return n
}

// paramInt64 coerces a parameter value to int64, defaulting to 1 for
// non-numeric values.
func paramInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 1
	}
}
