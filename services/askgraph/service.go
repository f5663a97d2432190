// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package askgraph exposes natural-language question answering over the
// product-feedback graph. It wires schema discovery, translation, execution,
// and answer synthesis into one HTTP service.
package askgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalpath/feedbackgraph/services/askgraph/graphstore"
	"github.com/signalpath/feedbackgraph/services/askgraph/providers"
	"github.com/signalpath/feedbackgraph/services/askgraph/schema"
	"github.com/signalpath/feedbackgraph/services/askgraph/session"
	"github.com/signalpath/feedbackgraph/services/askgraph/synthesizer"
	"github.com/signalpath/feedbackgraph/services/askgraph/translator"
)

// =============================================================================
// Metrics
// =============================================================================

var (
	askTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "askgraph",
		Subsystem: "service",
		Name:      "ask_total",
		Help:      "Answered questions by translation method and outcome",
	}, []string{"method", "status"})

	askDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "askgraph",
		Subsystem: "service",
		Name:      "ask_duration_seconds",
		Help:      "End to end question answering latency",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"method"})
)

var tracer = otel.Tracer("askgraph.service")

// =============================================================================
// Errors
// =============================================================================

// ErrSchemaUnavailable means schema discovery has not succeeded, so no query
// traffic can be served.
var ErrSchemaUnavailable = errors.New("schema discovery has not completed")

// ErrTranslationFailed means every translation strategy errored, typically a
// provider outage.
var ErrTranslationFailed = errors.New("question could not be translated")

// ErrQueryFailed means the graph store rejected the query even after the
// repair pass.
var ErrQueryFailed = errors.New("graph query failed")

// =============================================================================
// Service
// =============================================================================

// Answer is the outcome of one question.
type Answer struct {
	// SessionID identifies the conversation. Clients send it back to keep
	// follow-up context.
	SessionID string `json:"session_id"`

	// Answer is the natural-language response.
	Answer string `json:"answer"`

	// Method records which translation strategy produced the query.
	Method string `json:"method"`

	// Confidence is the translation strategy's score in [0,1].
	Confidence float64 `json:"confidence"`

	// Query is the executed graph query, empty for untracked questions.
	Query string `json:"query,omitempty"`

	// RowCount is how many rows the query returned.
	RowCount int `json:"row_count"`
}

// Service orchestrates the question answering pipeline.
//
// # Thread Safety
//
// Safe for concurrent use; every dependency is.
type Service struct {
	schema      SchemaSource
	translator  QueryTranslator
	executor    QueryExecutor
	synthesizer *synthesizer.Synthesizer
	sessions    *session.Manager
	logger      *slog.Logger
}

// SchemaSource supplies the cached graph descriptor. Satisfied by
// schema.Cache.
type SchemaSource interface {
	Get(ctx context.Context) (*schema.Descriptor, error)
	Ready() bool
}

// QueryTranslator is the translation entry point the service depends on.
// Satisfied by translator.EscalatingTranslator.
type QueryTranslator interface {
	Translate(ctx context.Context, question string, desc *schema.Descriptor, history []providers.Message) (*translator.Result, error)
}

// QueryExecutor runs a translated query with retry and repair. Satisfied by
// executor.Executor.
type QueryExecutor interface {
	Execute(ctx context.Context, question string, result *translator.Result, desc *schema.Descriptor) ([]graphstore.Row, error)
}

// NewService wires the pipeline together.
func NewService(cache SchemaSource, trans QueryTranslator, exec QueryExecutor, synth *synthesizer.Synthesizer, sessions *session.Manager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		schema:      cache,
		translator:  trans,
		executor:    exec,
		synthesizer: synth,
		sessions:    sessions,
		logger:      logger,
	}
}

// AnswerQuery answers one natural-language question.
//
// # Description
//
// The pipeline: load the cached schema descriptor, translate the question
// with the session's recent turns as context, execute the query against the
// store, synthesize a grounded answer, and record the exchange in the
// session. Untracked questions short-circuit to the fixed not-tracked answer
// without touching the store.
//
// # Inputs
//
//   - ctx: Carries cancellation and the request trace.
//   - question: The user's question. Must be non-empty; the handler validates.
//   - sessionID: Existing session ID, or empty to start a conversation.
//
// # Outputs
//
//   - *Answer: The response payload. Nil only when error is non-nil.
//   - error: One of ErrSchemaUnavailable, ErrTranslationFailed, or
//     ErrQueryFailed, wrapped with detail for logs.
func (s *Service) AnswerQuery(ctx context.Context, question, sessionID string) (*Answer, error) {
	ctx, span := tracer.Start(ctx, "service.AnswerQuery")
	defer span.End()
	start := time.Now()

	desc, err := s.schema.Get(ctx)
	if err != nil {
		askTotal.WithLabelValues("none", "schema_unavailable").Inc()
		return nil, fmt.Errorf("%w: %v", ErrSchemaUnavailable, err)
	}

	sess := s.sessions.Acquire(sessionID)
	span.SetAttributes(attribute.String("session_id", sess.ID))

	result, err := s.translator.Translate(ctx, question, desc, translationContext(sess))
	if err != nil {
		askTotal.WithLabelValues("none", "translation_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrTranslationFailed, err)
	}
	span.SetAttributes(attribute.String("method", string(result.Method)))

	if result.Method == translator.MethodNotPossible {
		answer := s.synthesizer.NotTracked()
		s.sessions.Record(sess.ID, question, answer, nil)
		askTotal.WithLabelValues(string(result.Method), "not_tracked").Inc()
		askDuration.WithLabelValues(string(result.Method)).Observe(time.Since(start).Seconds())
		s.logger.Info("question not answerable from graph",
			"session_id", sess.ID, "reason", result.Reason)
		return &Answer{
			SessionID:  sess.ID,
			Answer:     answer,
			Method:     string(result.Method),
			Confidence: result.Confidence,
		}, nil
	}

	rows, err := s.executor.Execute(ctx, question, result, desc)
	if err != nil {
		askTotal.WithLabelValues(string(result.Method), "query_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	answer, err := s.synthesizer.Synthesize(ctx, question, rows)
	if err != nil {
		// The synthesizer falls back deterministically; an error here means
		// even the fallback had nothing to work with.
		askTotal.WithLabelValues(string(result.Method), "synthesis_error").Inc()
		return nil, fmt.Errorf("answer synthesis: %w", err)
	}

	s.sessions.Record(sess.ID, question, answer, rows)
	askTotal.WithLabelValues(string(result.Method), "success").Inc()
	askDuration.WithLabelValues(string(result.Method)).Observe(time.Since(start).Seconds())

	s.logger.Info("question answered",
		"session_id", sess.ID,
		"method", result.Method,
		"confidence", result.Confidence,
		"rows", len(rows),
		"duration_ms", time.Since(start).Milliseconds())

	return &Answer{
		SessionID:  sess.ID,
		Answer:     answer,
		Method:     string(result.Method),
		Confidence: result.Confidence,
		Query:      result.Query,
		RowCount:   len(rows),
	}, nil
}

// translationContext builds the message list handed to the translator: the
// session's recent turns, preceded by a compact note naming the entities the
// previous answer mentioned so follow-up questions can resolve against them.
func translationContext(sess *session.State) []providers.Message {
	if len(sess.LastEntities) == 0 {
		return sess.History
	}
	parts := make([]string, 0, len(sess.LastEntities))
	for _, e := range sess.LastEntities {
		parts = append(parts, fmt.Sprintf("%s %q", e.Kind, e.Name))
	}
	ctx := providers.Message{
		Role:    "system",
		Content: "Entities mentioned in earlier answers: " + strings.Join(parts, ", "),
	}
	history := make([]providers.Message, 0, len(sess.History)+1)
	history = append(history, ctx)
	history = append(history, sess.History...)
	return history
}

// ResetSession clears a conversation's memory.
func (s *Service) ResetSession(sessionID string) bool {
	return s.sessions.Reset(sessionID)
}

// Schema returns the cached descriptor, forcing discovery if needed.
func (s *Service) Schema(ctx context.Context) (*schema.Descriptor, error) {
	desc, err := s.schema.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaUnavailable, err)
	}
	return desc, nil
}

// Ready reports whether the service can answer queries.
func (s *Service) Ready() bool {
	return s.schema.Ready()
}
