// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graphstore is the execution adapter for the feedback graph. It
// issues parameterized Cypher against the Neo4j store in read-only or
// read-write mode, retries transient faults with linear backoff, and
// normalizes driver records into plain rows the rest of the pipeline can
// consume without importing driver types.
package graphstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	storeQueryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "askgraph",
		Subsystem: "store",
		Name:      "query_total",
		Help:      "Graph store queries by mode and outcome",
	}, []string{"mode", "outcome"})

	storeQueryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "askgraph",
		Subsystem: "store",
		Name:      "query_latency_seconds",
		Help:      "Latency of graph store queries including retries",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	})

	storeRetryTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "askgraph",
		Subsystem: "store",
		Name:      "retry_total",
		Help:      "Transient-fault retries of graph store queries",
	})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var storeTracer = otel.Tracer("askgraph.graphstore")

// =============================================================================
// Access Modes and Rows
// =============================================================================

// AccessMode selects the session routing mode for a query.
type AccessMode int

const (
	// AccessRead routes the query to a read replica when available and
	// rejects writes server-side. The question-answering pipeline only ever
	// uses this mode.
	AccessRead AccessMode = iota

	// AccessWrite routes to the leader. Reserved for import collaborators.
	AccessWrite
)

// Row is one result record: ordered column names plus a name→value map.
// Values are scalars, []any, map[string]any, or flattened node/relationship
// maps — never driver types.
type Row struct {
	Columns []string
	Values  map[string]any
}

// Get returns the value for a column and whether it was present.
func (r Row) Get(column string) (any, bool) {
	v, ok := r.Values[column]
	return v, ok
}

// =============================================================================
// Client
// =============================================================================

// retry policy for transient faults. Linear backoff: attempt * retryDelay.
const (
	maxAttempts = 3
	retryDelay  = 250 * time.Millisecond
)

// Client executes Cypher against the Neo4j store.
//
// # Description
//
// One Client is shared process-wide; the underlying driver pools
// connections. Every query runs in its own session with the requested
// access mode. Transient faults are retried up to maxAttempts times with
// linearly increasing backoff before the error surfaces; malformed-query
// errors fail fast so the executor's repair pass can react.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// Config holds the connection settings for the graph store.
type Config struct {
	URI      string
	Username string
	Password string
	Database string // empty selects the server default database
}

// NewClient connects to the graph store and verifies connectivity.
//
// # Inputs
//
//   - ctx: Context for the connectivity check.
//   - cfg: Connection settings. URI must not be empty.
//   - logger: Logger instance. May be nil.
//
// # Outputs
//
//   - *Client: Connected client. Nil on error.
//   - error: ErrCodeUnavailable StoreError if the store is unreachable or
//     credentials are rejected.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URI == "" {
		return nil, fmt.Errorf("graph store URI must not be empty")
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, NewStoreError(ErrCodeUnavailable, "", fmt.Errorf("create driver: %w", err))
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, NewStoreError(ErrCodeUnavailable, "", fmt.Errorf("verify connectivity: %w", err))
	}

	logger.Info("graph store connected", slog.String("uri", cfg.URI), slog.String("database", cfg.Database))
	return &Client{driver: driver, database: cfg.Database, logger: logger}, nil
}

// Run executes a parameterized query and returns normalized rows.
//
// # Description
//
// Parameters are a flat key→scalar map. Integer-valued parameters must be
// int64 Go values so the driver maps them to Cypher integers rather than
// floats — callers that extract counts from text are responsible for the
// conversion.
//
// Transient faults (connectivity, leader switch, deadlocks) are retried up
// to maxAttempts times with backoff attempt*retryDelay. Malformed-query
// errors surface immediately with IsMalformed(err) == true.
//
// # Inputs
//
//   - ctx: Context for cancellation. Backoff sleeps honor cancellation.
//   - query: Cypher text with $named placeholders.
//   - params: Parameter map. May be nil.
//   - mode: AccessRead or AccessWrite.
//
// # Outputs
//
//   - []Row: Normalized result rows. Empty slice when the query matched nothing.
//   - error: *StoreError on failure.
//
// # Thread Safety
//
// Safe for concurrent use.
func (c *Client) Run(ctx context.Context, query string, params map[string]any, mode AccessMode) ([]Row, error) {
	ctx, span := storeTracer.Start(ctx, "graphstore.Client.Run",
		trace.WithAttributes(
			attribute.String("query_preview", previewQuery(query)),
			attribute.Int("param_count", len(params)),
			attribute.Bool("read_only", mode == AccessRead),
		),
	)
	defer span.End()

	start := time.Now()
	modeLabel := "read"
	if mode == AccessWrite {
		modeLabel = "write"
	}

	rows, err := withRetry(ctx, c.logger, retryDelay, func() ([]Row, error) {
		return c.runOnce(ctx, query, params, mode)
	})
	storeQueryLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		code := classify(err)
		storeQueryTotal.WithLabelValues(modeLabel, string(code)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		return nil, NewStoreError(code, query, err)
	}

	storeQueryTotal.WithLabelValues(modeLabel, "success").Inc()
	span.SetAttributes(attribute.Int("row_count", len(rows)))
	return rows, nil
}

// withRetry runs fn up to maxAttempts times, sleeping attempt*delay between
// attempts. Only transient classifications are retried; everything else
// surfaces immediately. The final attempt's error is returned unwrapped so
// the caller can classify and wrap it once.
func withRetry(ctx context.Context, logger *slog.Logger, delay time.Duration, fn func() ([]Row, error)) ([]Row, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		rows, err := fn()
		if err == nil {
			return rows, nil
		}
		lastErr = err

		if classify(err) != ErrCodeTransient || attempt == maxAttempts {
			return nil, err
		}

		storeRetryTotal.Inc()
		logger.Warn("graph store transient fault, retrying",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		select {
		case <-time.After(time.Duration(attempt) * delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// runOnce executes the query in a fresh session and collects all records.
func (c *Client) runOnce(ctx context.Context, query string, params map[string]any, mode AccessMode) ([]Row, error) {
	accessMode := neo4j.AccessModeRead
	if mode == AccessWrite {
		accessMode = neo4j.AccessModeWrite
	}

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   accessMode,
		DatabaseName: c.database,
	})
	defer func() { _ = session.Close(ctx) }()

	work := func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	}

	var raw any
	var err error
	if mode == AccessRead {
		raw, err = session.ExecuteRead(ctx, work)
	} else {
		raw, err = session.ExecuteWrite(ctx, work)
	}
	if err != nil {
		return nil, err
	}

	records := raw.([]*neo4j.Record)
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, normalizeRecord(rec))
	}
	return rows, nil
}

// Close releases the driver's connection pool.
func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// =============================================================================
// Record Normalization
// =============================================================================

// normalizeRecord converts a driver record into a Row, flattening nodes and
// relationships into plain maps so downstream packages stay driver-free.
func normalizeRecord(rec *neo4j.Record) Row {
	values := make(map[string]any, len(rec.Keys))
	for i, key := range rec.Keys {
		values[key] = normalizeValue(rec.Values[i])
	}
	columns := make([]string, len(rec.Keys))
	copy(columns, rec.Keys)
	return Row{Columns: columns, Values: values}
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case neo4j.Node:
		m := make(map[string]any, len(t.Props)+1)
		for k, pv := range t.Props {
			m[k] = normalizeValue(pv)
		}
		if len(t.Labels) > 0 {
			m["_label"] = t.Labels[0]
		}
		return m
	case neo4j.Relationship:
		m := make(map[string]any, len(t.Props)+1)
		for k, pv := range t.Props {
			m[k] = normalizeValue(pv)
		}
		m["_type"] = t.Type
		return m
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

// previewQuery truncates query text for span attributes.
func previewQuery(q string) string {
	const max = 120
	if len(q) > max {
		return q[:max] + "..."
	}
	return q
}
