// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var providerTracer = otel.Tracer("askgraph.providers")

// Package-level Prometheus metrics for provider calls. Auto-registered via
// promauto so no explicit registry wiring is needed.
var (
	// llmCallDuration measures the duration of provider API calls.
	//
	// Labels:
	//   - provider: "openai", "ollama"
	//   - operation: "chat" or "embed"
	//   - status: "success" or "error"
	llmCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "askgraph",
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Duration of provider API calls in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "operation", "status"},
	)

	// llmErrorsTotal counts provider errors by type.
	//
	// Labels:
	//   - provider: "openai", "ollama"
	//   - error_type: "timeout", "auth", "rate_limit", "server", "unknown"
	llmErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "askgraph",
			Subsystem: "llm",
			Name:      "errors_total",
			Help:      "Total provider errors by type.",
		},
		[]string{"provider", "error_type"},
	)
)

// classifyProviderError maps an error to a label-safe error type string.
//
// Description:
//
//	Inspects the error message to categorize it into one of the predefined
//	error types. Used for Prometheus labels to avoid high cardinality.
//
// Outputs:
//
//	string - One of: "timeout", "auth", "rate_limit", "server", "unknown".
//	         Returns empty string for nil error.
//
// Thread Safety: Safe for concurrent use.
func classifyProviderError(err error) string {
	if err == nil {
		return ""
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "context canceled") ||
		strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "returned 401") ||
		strings.Contains(msg, "returned 403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "api key"):
		return "auth"
	case strings.Contains(msg, "returned 429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests"):
		return "rate_limit"
	case strings.Contains(msg, "returned 500") ||
		strings.Contains(msg, "returned 502") ||
		strings.Contains(msg, "returned 503") ||
		strings.Contains(msg, "server error"):
		return "server"
	default:
		return "unknown"
	}
}

// recordProviderMetrics records metrics for one completed provider call.
func recordProviderMetrics(provider, operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		llmErrorsTotal.WithLabelValues(provider, classifyProviderError(err)).Inc()
	}
	llmCallDuration.WithLabelValues(provider, operation, status).Observe(duration.Seconds())
}

// =============================================================================
// Instrumented Wrappers
// =============================================================================

// InstrumentedChat wraps a ChatClient with metrics and tracing.
//
// Thread Safety: InstrumentedChat is safe for concurrent use if the wrapped
// client is.
type InstrumentedChat struct {
	inner    ChatClient
	provider string
}

// NewInstrumentedChat wraps the given client. The provider name becomes the
// metric label.
func NewInstrumentedChat(inner ChatClient, provider string) *InstrumentedChat {
	return &InstrumentedChat{inner: inner, provider: provider}
}

// Chat implements ChatClient.
func (c *InstrumentedChat) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	ctx, span := providerTracer.Start(ctx, "providers.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", c.provider),
		attribute.Int("messages", len(messages)),
	)

	start := time.Now()
	resp, err := c.inner.Chat(ctx, messages, opts)
	recordProviderMetrics(c.provider, "chat", time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat call failed")
	}
	return resp, err
}

// InstrumentedEmbedder wraps an Embedder with metrics and tracing.
//
// Thread Safety: InstrumentedEmbedder is safe for concurrent use if the
// wrapped embedder is.
type InstrumentedEmbedder struct {
	inner    Embedder
	provider string
}

// NewInstrumentedEmbedder wraps the given embedder.
func NewInstrumentedEmbedder(inner Embedder, provider string) *InstrumentedEmbedder {
	return &InstrumentedEmbedder{inner: inner, provider: provider}
}

// Embed implements Embedder.
func (e *InstrumentedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := providerTracer.Start(ctx, "providers.Embed")
	defer span.End()
	span.SetAttributes(attribute.String("provider", e.provider))

	start := time.Now()
	vec, err := e.inner.Embed(ctx, text)
	recordProviderMetrics(e.provider, "embed", time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed call failed")
	}
	return vec, err
}
