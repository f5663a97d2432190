// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package translator turns natural-language questions into parameterized
// graph queries. Three strategies escalate in order of cost: embedding
// similarity against a curated template catalog, ordered keyword intent
// rules, and schema-grounded LLM generation.
package translator

// Method identifies which strategy produced a translation.
type Method string

const (
	// MethodTemplate means a curated template matched by embedding similarity.
	MethodTemplate Method = "template"

	// MethodIntent means an ordered keyword rule matched.
	MethodIntent Method = "intent"

	// MethodGenerated means the LLM produced the query from the schema.
	MethodGenerated Method = "generated"

	// MethodNotPossible means no strategy could produce a query.
	MethodNotPossible Method = "not_possible"
)

// Result is one translation outcome.
type Result struct {
	// Query is the parameterized graph query. Empty when Method is
	// MethodNotPossible.
	Query string

	// Params binds the query's parameters.
	Params map[string]any

	// Method records the producing strategy.
	Method Method

	// Confidence is the strategy's score in [0,1]. Template matches carry
	// the cosine similarity; intent matches carry a fixed mid confidence;
	// generated queries carry a fixed lower confidence.
	Confidence float64

	// Reason explains the outcome for logs and for the not-possible answer.
	Reason string

	// ExpectsResults is false for questions the translator knows ask about
	// data the graph does not track.
	ExpectsResults bool
}

// NotPossible builds the terminal result for untranslatable questions.
func NotPossible(reason string) *Result {
	return &Result{Method: MethodNotPossible, Reason: reason}
}
