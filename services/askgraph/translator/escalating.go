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
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalpath/feedbackgraph/services/askgraph/providers"
	"github.com/signalpath/feedbackgraph/services/askgraph/schema"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	translationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "askgraph",
		Subsystem: "translator",
		Name:      "translation_total",
		Help:      "Translations by producing method: template, intent, generated, not_possible",
	}, []string{"method"})

	translationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "askgraph",
		Subsystem: "translator",
		Name:      "translation_latency_seconds",
		Help:      "Latency of the full escalation chain by producing method",
		Buckets:   []float64{0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"method"})
)

var translatorTracer = otel.Tracer("askgraph.translator")

// =============================================================================
// EscalatingTranslator
// =============================================================================

// EscalatingTranslator chains the three strategies in order of cost.
//
// Description:
//
//	Template matching runs first (one embedding call). On a miss, the
//	ordered intent rules run (no I/O). Only when both curated paths miss
//	does the LLM generate a query from the schema. Each strategy's miss is
//	silent; only the generative strategy can declare a question
//	untranslatable.
//
// Thread Safety: Safe for concurrent use (delegates to thread-safe
// strategies).
type EscalatingTranslator struct {
	templates  *TemplateMatcher
	intents    *IntentClassifier
	generative *GenerativeTranslator
	logger     *slog.Logger
}

// NewEscalatingTranslator creates the full escalation chain.
//
// Inputs:
//
//	templates  - Warmed template matcher. Must not be nil.
//	intents    - Intent classifier. Must not be nil.
//	generative - LLM fallback. Must not be nil.
//	logger     - Logger instance. May be nil.
func NewEscalatingTranslator(templates *TemplateMatcher, intents *IntentClassifier, generative *GenerativeTranslator, logger *slog.Logger) *EscalatingTranslator {
	if logger == nil {
		logger = slog.Default()
	}
	return &EscalatingTranslator{
		templates:  templates,
		intents:    intents,
		generative: generative,
		logger:     logger,
	}
}

// Translate runs the escalation chain for one question.
//
// Outputs:
//
//	*Result - Never nil. Method records which strategy produced the query;
//	          MethodNotPossible when no strategy could.
//	error   - Non-nil only on generative transport failure.
func (t *EscalatingTranslator) Translate(ctx context.Context, question string, desc *schema.Descriptor, history []providers.Message) (*Result, error) {
	ctx, span := translatorTracer.Start(ctx, "translator.Translate")
	defer span.End()
	start := time.Now()

	result, err := t.translate(ctx, question, desc, history)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "translation failed")
		return nil, err
	}

	method := string(result.Method)
	translationTotal.WithLabelValues(method).Inc()
	translationLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String("method", method),
		attribute.Float64("confidence", result.Confidence),
	)
	t.logger.Info("translation complete",
		slog.String("method", method),
		slog.Float64("confidence", result.Confidence),
		slog.Duration("latency", time.Since(start)),
	)
	return result, nil
}

func (t *EscalatingTranslator) translate(ctx context.Context, question string, desc *schema.Descriptor, history []providers.Message) (*Result, error) {
	if result, err := t.templates.Match(ctx, question); err != nil {
		return nil, err
	} else if result != nil {
		return result, nil
	}

	if result := t.intents.Classify(question); result != nil {
		return result, nil
	}

	t.logger.Debug("curated strategies missed, generating",
		slog.Int("question_len", len(question)),
	)
	return t.generative.Translate(ctx, question, desc, history)
}
