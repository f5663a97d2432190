// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor runs translated queries against the graph store, with a
// single LLM repair pass for queries the store rejects as malformed.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalpath/feedbackgraph/services/askgraph/graphstore"
	"github.com/signalpath/feedbackgraph/services/askgraph/providers"
	"github.com/signalpath/feedbackgraph/services/askgraph/schema"
	"github.com/signalpath/feedbackgraph/services/askgraph/translator"
)

var (
	repairTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "askgraph",
		Subsystem: "executor",
		Name:      "repair_total",
		Help:      "Query repair attempts by outcome: success, failed, unparseable",
	}, []string{"outcome"})
)

var executorTracer = otel.Tracer("askgraph.executor")

// repairMaxTokens bounds the LLM response for a repair attempt.
const repairMaxTokens = 1024

// QueryRunner is the slice of the graph store the executor needs.
type QueryRunner interface {
	Run(ctx context.Context, query string, params map[string]any, mode graphstore.AccessMode) ([]graphstore.Row, error)
}

// Executor runs queries with retry (delegated to the store client) and at
// most one repair pass.
//
// # Thread Safety
//
// Safe for concurrent use.
type Executor struct {
	store  QueryRunner
	chat   providers.ChatClient
	logger *slog.Logger
}

// New creates an Executor.
//
// # Inputs
//
//   - store: The graph store client. Must not be nil.
//   - chat: Chat client for the repair pass. Nil disables repair.
//   - logger: May be nil.
func New(store QueryRunner, chat providers.ChatClient, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: store, chat: chat, logger: logger}
}

// Execute runs the translated query, repairing it once if the store
// rejects it as malformed.
//
// # Description
//
// Transient store failures are retried inside the store client; this layer
// only reacts to malformed-query errors. On the first malformed error the
// original question, the failing query, and the store's error message are
// sent to the LLM for a corrected query, which is bound-normalized and run
// once. If the repaired query fails too — or repair is disabled, or the
// repair output is unusable — the ORIGINAL error surfaces, not the
// repair's, so callers see what the translator actually produced.
//
// # Outputs
//
//   - []graphstore.Row: Result rows. May be empty.
//   - error: The original store error when execution (and repair) fail.
func (e *Executor) Execute(ctx context.Context, question string, result *translator.Result, desc *schema.Descriptor) ([]graphstore.Row, error) {
	ctx, span := executorTracer.Start(ctx, "executor.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("method", string(result.Method)))

	rows, origErr := e.store.Run(ctx, result.Query, result.Params, graphstore.AccessRead)
	if origErr == nil {
		span.SetAttributes(attribute.Int("rows", len(rows)))
		return rows, nil
	}
	if !graphstore.IsMalformed(origErr) || e.chat == nil {
		span.RecordError(origErr)
		span.SetStatus(codes.Error, "query failed")
		return nil, origErr
	}

	e.logger.Warn("query rejected as malformed, attempting repair",
		slog.String("method", string(result.Method)),
		slog.String("error", origErr.Error()),
	)

	repaired, err := e.repair(ctx, question, result, desc, origErr)
	if err != nil {
		repairTotal.WithLabelValues("unparseable").Inc()
		span.RecordError(origErr)
		span.SetStatus(codes.Error, "repair unusable")
		return nil, origErr
	}

	rows, err = e.store.Run(ctx, repaired.Query, repaired.Params, graphstore.AccessRead)
	if err != nil {
		repairTotal.WithLabelValues("failed").Inc()
		e.logger.Warn("repaired query failed too, surfacing original error",
			slog.String("repair_error", err.Error()),
		)
		span.RecordError(origErr)
		span.SetStatus(codes.Error, "repair failed")
		return nil, origErr
	}

	repairTotal.WithLabelValues("success").Inc()
	span.SetAttributes(attribute.Int("rows", len(rows)), attribute.Bool("repaired", true))
	return rows, nil
}

// repairedQuery is the corrected query and its bindings.
type repairedQuery struct {
	Query  string
	Params map[string]any
}

// repair asks the LLM for a corrected query.
func (e *Executor) repair(ctx context.Context, question string, result *translator.Result, desc *schema.Descriptor, storeErr error) (*repairedQuery, error) {
	messages := []providers.Message{
		{Role: "system", Content: buildRepairPrompt(desc)},
		{Role: "user", Content: fmt.Sprintf(
			"Question: %s\n\nFailing query:\n%s\n\nStore error:\n%s\n\nReturn the corrected query.",
			question, result.Query, storeErr.Error(),
		)},
	}

	raw, err := e.chat.Chat(ctx, messages, providers.ChatOptions{MaxTokens: repairMaxTokens})
	if err != nil {
		return nil, fmt.Errorf("repair chat: %w", err)
	}

	query := extractQuery(raw)
	if query == "" {
		return nil, fmt.Errorf("repair produced no query")
	}

	params := make(map[string]any, len(result.Params))
	for k, v := range result.Params {
		params[k] = v
	}
	return &repairedQuery{Query: translator.NormalizeLimit(query, params), Params: params}, nil
}

// buildRepairPrompt assembles the schema-grounded repair prompt.
func buildRepairPrompt(desc *schema.Descriptor) string {
	var b strings.Builder
	b.WriteString("You fix Cypher queries the store rejected. Keep the original intent and parameter names.\n\n")
	if desc != nil {
		b.WriteString(desc.RenderedDescription)
	}
	b.WriteString("\nRespond with the corrected query only. No commentary, no fences.")
	return b.String()
}

// extractQuery pulls a Cypher query out of possibly-wrapped model output.
func extractQuery(raw string) string {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```cypher")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	upper := strings.ToUpper(trimmed)
	if idx := strings.Index(upper, "MATCH"); idx > 0 {
		trimmed = trimmed[idx:]
	} else if idx < 0 {
		return ""
	}
	return strings.TrimSpace(trimmed)
}
