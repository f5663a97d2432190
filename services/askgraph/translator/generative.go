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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/signalpath/feedbackgraph/services/askgraph/providers"
	"github.com/signalpath/feedbackgraph/services/askgraph/schema"
)

// generatedConfidence is the fixed confidence attached to LLM-generated
// queries. Lowest of the three strategies: the model can hallucinate
// structure the curated paths cannot.
const generatedConfidence = 0.4

// generationMaxTokens bounds the LLM response for a single query.
const generationMaxTokens = 1024

// GenerativeTranslator produces queries with an LLM grounded in the
// discovered schema.
//
// # Description
//
// The system prompt carries the rendered schema description (labels,
// properties, connections, enumerated values, dialect rules) and demands a
// JSON object: {"reasoning", "query", "parameters", "expects_results"}.
// Parsing is permissive — strict JSON, then fenced blocks, then a brace
// scan, then a bare MATCH...RETURN extraction — because local models wrap
// output unpredictably.
//
// # Thread Safety
//
// Safe for concurrent use.
type GenerativeTranslator struct {
	chat   providers.ChatClient
	logger *slog.Logger
}

// NewGenerativeTranslator creates a translator over the given chat client.
func NewGenerativeTranslator(chat providers.ChatClient, logger *slog.Logger) *GenerativeTranslator {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerativeTranslator{chat: chat, logger: logger}
}

// generationResponse is the JSON shape the model is asked to produce.
type generationResponse struct {
	Reasoning      string         `json:"reasoning"`
	Query          string         `json:"query"`
	Parameters     map[string]any `json:"parameters"`
	ExpectsResults *bool          `json:"expects_results"`
}

// Translate generates a query for the question, using recent conversation
// turns for pronoun and follow-up resolution.
//
// # Outputs
//
//   - *Result: MethodGenerated on success; MethodNotPossible (with
//     ExpectsResults false) when the model reports the question asks about
//     data the graph does not track, or when no query can be extracted.
//   - error: Non-nil only on chat transport failure.
func (g *GenerativeTranslator) Translate(ctx context.Context, question string, desc *schema.Descriptor, history []providers.Message) (*Result, error) {
	messages := make([]providers.Message, 0, len(history)+2)
	messages = append(messages, providers.Message{Role: "system", Content: buildGenerationPrompt(desc)})
	messages = append(messages, history...)
	messages = append(messages, providers.Message{Role: "user", Content: question})

	raw, err := g.chat.Chat(ctx, messages, providers.ChatOptions{MaxTokens: generationMaxTokens})
	if err != nil {
		return nil, fmt.Errorf("generative translation: %w", err)
	}

	parsed, ok := parseGenerationResponse(raw)
	if !ok {
		g.logger.Warn("generative translator: unparseable model output",
			slog.Int("response_len", len(raw)),
		)
		return NotPossible("the model produced no usable query"), nil
	}

	if parsed.ExpectsResults != nil && !*parsed.ExpectsResults {
		reason := parsed.Reasoning
		if reason == "" {
			reason = "the graph does not track the requested data"
		}
		return &Result{Method: MethodNotPossible, Reason: reason, ExpectsResults: false}, nil
	}
	if strings.TrimSpace(parsed.Query) == "" {
		return NotPossible("the model produced no query"), nil
	}

	params := parsed.Parameters
	if params == nil {
		params = make(map[string]any)
	}
	return &Result{
		Query:          NormalizeLimit(parsed.Query, params),
		Params:         params,
		Method:         MethodGenerated,
		Confidence:     generatedConfidence,
		Reason:         parsed.Reasoning,
		ExpectsResults: true,
	}, nil
}

// buildGenerationPrompt assembles the schema-grounded system prompt.
func buildGenerationPrompt(desc *schema.Descriptor) string {
	var b strings.Builder
	b.WriteString("You translate questions about product feedback into Cypher queries.\n\n")
	b.WriteString(desc.RenderedDescription)
	b.WriteString(`
Respond with a single JSON object and nothing else:
{"reasoning": "<one sentence>", "query": "<cypher>", "parameters": {<bindings>}, "expects_results": <bool>}

Set "expects_results" to false and leave "query" empty when the question
asks about data the schema above does not contain. Never invent labels,
relationship types, or properties that are not in the schema.`)
	return b.String()
}

// =============================================================================
// Permissive Response Parsing
// =============================================================================

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	bareCypherRe  = regexp.MustCompile(`(?is)\b(MATCH\b.*?\bRETURN\b[^;]*)`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// parseGenerationResponse extracts the structured response from raw model
// output, trying progressively looser strategies.
func parseGenerationResponse(raw string) (generationResponse, bool) {
	trimmed := strings.TrimSpace(raw)

	// 1. The whole output is the JSON object.
	if resp, ok := tryUnmarshal(trimmed); ok {
		return resp, true
	}

	// 2. A fenced code block holds the JSON object.
	if m := fencedBlockRe.FindStringSubmatch(trimmed); m != nil {
		if resp, ok := tryUnmarshal(m[1]); ok {
			return resp, true
		}
	}

	// 3. Scan for the outermost balanced brace pair.
	if candidate := extractBraceSpan(trimmed); candidate != "" {
		if resp, ok := tryUnmarshal(candidate); ok {
			return resp, true
		}
	}

	// 4. The model ignored the format and emitted bare Cypher.
	if m := bareCypherRe.FindStringSubmatch(trimmed); m != nil {
		return generationResponse{Query: strings.TrimSpace(m[1])}, true
	}

	return generationResponse{}, false
}

// tryUnmarshal attempts to decode one candidate, tolerating trailing commas.
func tryUnmarshal(candidate string) (generationResponse, bool) {
	var resp generationResponse
	if err := json.Unmarshal([]byte(candidate), &resp); err == nil {
		return resp, resp.Query != "" || resp.ExpectsResults != nil
	}
	cleaned := trailingComma.ReplaceAllString(candidate, "$1")
	if err := json.Unmarshal([]byte(cleaned), &resp); err == nil {
		return resp, resp.Query != "" || resp.ExpectsResults != nil
	}
	return generationResponse{}, false
}

// extractBraceSpan returns the first balanced top-level {...} span, aware
// of string literals and escapes.
func extractBraceSpan(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
