// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package synthesizer turns query result rows into grounded natural-language
// answers, with a fabrication guard that falls back to deterministic
// formatting when the model invents numbers.
package synthesizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalpath/feedbackgraph/services/askgraph/graphstore"
	"github.com/signalpath/feedbackgraph/services/askgraph/providers"
)

var (
	synthesisTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "askgraph",
		Subsystem: "synthesizer",
		Name:      "synthesis_total",
		Help:      "Answer synthesis by path: direct, llm, fallback, empty, not_tracked",
	}, []string{"path"})
)

var synthTracer = otel.Tracer("askgraph.synthesizer")

const (
	// maxPromptRows bounds how many rows reach the synthesis prompt.
	maxPromptRows = 50

	// synthesisMaxTokens bounds the LLM answer length.
	synthesisMaxTokens = 768

	// NoResultsMessage answers queries that ran fine but matched nothing.
	NoResultsMessage = "The query ran successfully but matched no data. The graph tracks this kind of information, it just has no records for your question."

	// NotTrackedMessage answers questions about data the graph does not hold.
	// Deliberately distinct from NoResultsMessage.
	NotTrackedMessage = "The feedback graph does not track the information your question asks about, so there is nothing to query."
)

// Synthesizer produces the final answer text.
//
// # Thread Safety
//
// Safe for concurrent use.
type Synthesizer struct {
	chat   providers.ChatClient
	logger *slog.Logger
}

// New creates a Synthesizer. A nil chat client forces deterministic
// formatting for every answer.
func New(chat providers.ChatClient, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{chat: chat, logger: logger}
}

// NotTracked returns the fixed answer for questions about untracked data.
func (s *Synthesizer) NotTracked() string {
	synthesisTotal.WithLabelValues("not_tracked").Inc()
	return NotTrackedMessage
}

// Synthesize renders rows into an answer for the question.
//
// # Description
//
// Four paths, cheapest first:
//  1. No rows: the fixed no-results message.
//  2. One row with at most two columns: direct deterministic formatting,
//     no LLM call.
//  3. LLM synthesis over a prompt holding at most maxPromptRows rows (a
//     truncation note is added when rows were dropped), constrained to use
//     only the supplied data.
//  4. Fabrication fallback: when the LLM answer contains numbers that do
//     not appear anywhere in the rows, the answer is discarded and a
//     deterministic listing of the rows is returned instead.
//
// # Outputs
//
//   - string: The answer. Never empty.
//   - error: Non-nil only on chat transport failure with no usable
//     fallback path. In practice the deterministic fallback absorbs
//     failures, so callers can treat errors as internal.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, rows []graphstore.Row) (string, error) {
	ctx, span := synthTracer.Start(ctx, "synthesizer.Synthesize")
	defer span.End()
	span.SetAttributes(attribute.Int("rows", len(rows)))

	if len(rows) == 0 {
		synthesisTotal.WithLabelValues("empty").Inc()
		return NoResultsMessage, nil
	}

	if len(rows) == 1 && len(rows[0].Columns) <= 2 {
		synthesisTotal.WithLabelValues("direct").Inc()
		return formatSingleRow(rows[0]), nil
	}

	if s.chat == nil {
		synthesisTotal.WithLabelValues("fallback").Inc()
		return formatRowListing(rows), nil
	}

	answer, err := s.synthesizeLLM(ctx, question, rows)
	if err != nil {
		s.logger.Warn("synthesis chat failed, using deterministic listing",
			slog.String("error", err.Error()),
		)
		synthesisTotal.WithLabelValues("fallback").Inc()
		return formatRowListing(rows), nil
	}

	if fabricated, invented := detectFabrication(answer, rows); fabricated {
		s.logger.Warn("synthesis answer contains numbers absent from the data, discarding",
			slog.Int("invented_numbers", invented),
		)
		synthesisTotal.WithLabelValues("fallback").Inc()
		return formatRowListing(rows), nil
	}

	synthesisTotal.WithLabelValues("llm").Inc()
	return answer, nil
}

// synthesizeLLM builds the grounded prompt and calls the model.
func (s *Synthesizer) synthesizeLLM(ctx context.Context, question string, rows []graphstore.Row) (string, error) {
	promptRows := rows
	truncated := false
	if len(promptRows) > maxPromptRows {
		promptRows = promptRows[:maxPromptRows]
		truncated = true
	}

	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nQuery results:\n")
	b.WriteString(formatRowsForPrompt(promptRows))
	if truncated {
		fmt.Fprintf(&b, "\n(Showing the first %d of %d rows.)\n", maxPromptRows, len(rows))
	}

	messages := []providers.Message{
		{Role: "system", Content: synthesisSystemPrompt},
		{Role: "user", Content: b.String()},
	}
	answer, err := s.chat.Chat(ctx, messages, providers.ChatOptions{MaxTokens: synthesisMaxTokens})
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", fmt.Errorf("model returned an empty answer")
	}
	return answer, nil
}

// synthesisSystemPrompt constrains the model to the supplied data.
const synthesisSystemPrompt = `You summarize query results for a product-feedback team.
Answer the question using ONLY the rows provided. Do not add numbers,
names, or facts that are not in the rows. If the rows only partially
answer the question, say what they show and nothing more. Be concise.`
