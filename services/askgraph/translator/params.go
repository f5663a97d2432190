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
	"regexp"
	"strconv"
	"strings"

	"github.com/signalpath/feedbackgraph/services/askgraph/config"
)

// countPhraseRe matches "top 5", "show 3", "first 10", "5 most", "5 best".
var countPhraseRe = regexp.MustCompile(`(?i)\b(?:top|show|first|give me|list)\s+(\d+)\b|\b(\d+)\s+(?:most|best|worst|latest|newest|top)\b`)

// extractCount pulls a requested row count out of the question.
//
// Outputs:
//   - int64: The count, clamped to [1, MaxRows]. Undefined when ok is false.
//   - bool: Whether the question named a count at all.
func extractCount(question string) (int64, bool) {
	m := countPhraseRe.FindStringSubmatch(question)
	if m == nil {
		return 0, false
	}
	digits := m[1]
	if digits == "" {
		digits = m[2]
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return clampCount(n), true
}

// applyCaptures runs each capture spec against the question and binds the
// extracted values into params.
//
// Outputs:
//   - bool: False when a capture with no default failed to match, which
//     makes the catalog entry inapplicable to this question.
func applyCaptures(question string, captures []config.CaptureSpec, params map[string]any) bool {
	for _, spec := range captures {
		re, err := regexp.Compile("(?i)" + spec.Pattern)
		if err != nil {
			return false
		}
		m := re.FindStringSubmatch(question)
		if m != nil && len(m) > 1 && strings.TrimSpace(m[1]) != "" {
			params[spec.Param] = strings.TrimSpace(m[1])
			continue
		}
		if spec.Default == "" {
			return false
		}
		params[spec.Param] = spec.Default
	}
	return true
}

// bindCatalogParams fills the count parameter and captures for a catalog
// entry, returning nil when the entry is inapplicable.
func bindCatalogParams(question, countParam string, defaultCount int, captures []config.CaptureSpec) map[string]any {
	params := make(map[string]any)
	if countParam != "" {
		count := int64(defaultCount)
		if n, ok := extractCount(question); ok {
			count = n
		}
		params[countParam] = clampCount(count)
	}
	if !applyCaptures(question, captures, params) {
		return nil
	}
	return params
}
