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
	"log/slog"
	"strings"

	"github.com/signalpath/feedbackgraph/services/askgraph/config"
)

// intentConfidence is the fixed confidence attached to keyword matches.
// Keyword rules are precise when they fire but carry no similarity signal,
// so they sit between template matches and generated queries.
const intentConfidence = 0.6

// IntentClassifier matches questions against ordered keyword rules.
//
// # Description
//
// Rules fire on lowercase substring containment: a rule matches when the
// question contains any trigger from Any and, when AlsoAny is non-empty,
// any trigger from AlsoAny as well. The first matching rule in catalog
// order wins. No I/O happens here; classification is pure string work.
//
// # Thread Safety
//
// Safe for concurrent use; the catalog is immutable after loading.
type IntentClassifier struct {
	catalog *config.IntentCatalog
	logger  *slog.Logger
}

// NewIntentClassifier creates a classifier over the given catalog.
func NewIntentClassifier(catalog *config.IntentCatalog, logger *slog.Logger) *IntentClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntentClassifier{catalog: catalog, logger: logger}
}

// Classify returns a translation for the first matching rule, or nil when
// no rule fires.
func (c *IntentClassifier) Classify(question string) *Result {
	lower := strings.ToLower(question)

	for _, rule := range c.catalog.Intents {
		if !containsAny(lower, rule.Any) {
			continue
		}
		if len(rule.AlsoAny) > 0 && !containsAny(lower, rule.AlsoAny) {
			continue
		}
		params := bindCatalogParams(question, rule.CountParam, rule.DefaultCount, rule.Captures)
		if params == nil {
			c.logger.Debug("intent classifier: captures did not bind, skipping",
				slog.String("intent", rule.Name),
			)
			continue
		}
		return &Result{
			Query:          NormalizeLimit(rule.Query, params),
			Params:         params,
			Method:         MethodIntent,
			Confidence:     intentConfidence,
			Reason:         fmt.Sprintf("matched intent %s", rule.Name),
			ExpectsResults: true,
		}
	}
	return nil
}

// containsAny reports whether s contains any of the lowercase triggers.
func containsAny(s string, triggers []string) bool {
	for _, t := range triggers {
		if strings.Contains(s, strings.ToLower(t)) {
			return true
		}
	}
	return false
}
