// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/signalpath/feedbackgraph/services/askgraph/graphstore"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	discoveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "askgraph",
		Subsystem: "schema",
		Name:      "discovery_duration_seconds",
		Help:      "Duration of a full schema discovery pass",
		Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	})

	discoveryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "askgraph",
		Subsystem: "schema",
		Name:      "discovery_total",
		Help:      "Schema discovery passes by outcome",
	}, []string{"outcome"})
)

var schemaTracer = otel.Tracer("askgraph.schema")

// =============================================================================
// Discovery Parameters
// =============================================================================

const (
	// sampleNodesPerLabel bounds how many nodes are fetched per label to
	// learn properties and representative values.
	sampleNodesPerLabel = 25

	// sampleRelsPerType bounds how many relationships are fetched per type.
	sampleRelsPerType = 25

	// maxEnumValues is the cardinality ceiling for a string property to be
	// treated as an enumerable domain value set (categories, platforms).
	maxEnumValues = 8

	// maxStructuralEdges bounds the distinct triple scan.
	maxStructuralEdges = 200

	// samplingConcurrency limits parallel per-label sampling queries.
	samplingConcurrency = 4
)

// QueryRunner is the slice of the graph store that discovery needs.
type QueryRunner interface {
	Run(ctx context.Context, query string, params map[string]any, mode graphstore.AccessMode) ([]graphstore.Row, error)
}

// Discoverer introspects the graph store.
//
// # Thread Safety
//
// Safe for concurrent use; Discover holds no state between calls.
type Discoverer struct {
	store  QueryRunner
	logger *slog.Logger
}

// NewDiscoverer creates a Discoverer over the given store.
func NewDiscoverer(store QueryRunner, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{store: store, logger: logger}
}

// Discover runs the full introspection pass and returns a rendered descriptor.
//
// # Description
//
// Issues the label inventory, relationship inventory, and structural-edge
// queries in parallel, then samples a bounded number of records per label
// and per relationship type (also in parallel, bounded concurrency) to learn
// properties, value types, and enumerable domain values. The rendered
// natural-language description is attached before returning.
//
// # Outputs
//
//   - *Descriptor: Complete descriptor, never nil on success.
//   - error: Wraps ErrUnavailable when any introspection query fails.
func (d *Discoverer) Discover(ctx context.Context) (*Descriptor, error) {
	ctx, span := schemaTracer.Start(ctx, "schema.Discoverer.Discover")
	defer span.End()
	start := time.Now()

	var (
		labels   []string
		relTypes []string
		edges    []StructuralEdge
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		labels, err = d.fetchLabels(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		relTypes, err = d.fetchRelationshipTypes(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		edges, err = d.fetchStructuralEdges(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		discoveryTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "introspection failed")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	desc := &Descriptor{
		StructuralEdges:     edges,
		SampleValuesByLabel: make(map[string]map[string][]string),
	}

	// Per-label and per-type sampling. Individual sampling failures abort
	// discovery: a descriptor with silently missing labels would mislead the
	// translator into "not tracked" answers for data that exists.
	var mu sync.Mutex
	sg, sctx := errgroup.WithContext(ctx)
	sg.SetLimit(samplingConcurrency)

	for _, label := range labels {
		sg.Go(func() error {
			nt, samples, err := d.sampleLabel(sctx, label)
			if err != nil {
				return err
			}
			mu.Lock()
			desc.NodeTypes = append(desc.NodeTypes, nt)
			if len(samples) > 0 {
				desc.SampleValuesByLabel[label] = samples
			}
			mu.Unlock()
			return nil
		})
	}
	for _, relType := range relTypes {
		sg.Go(func() error {
			rt, err := d.sampleRelationshipType(sctx, relType)
			if err != nil {
				return err
			}
			mu.Lock()
			desc.RelationshipTypes = append(desc.RelationshipTypes, rt)
			mu.Unlock()
			return nil
		})
	}
	if err := sg.Wait(); err != nil {
		discoveryTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "sampling failed")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Deterministic ordering regardless of goroutine completion order.
	sort.Slice(desc.NodeTypes, func(i, j int) bool { return desc.NodeTypes[i].Label < desc.NodeTypes[j].Label })
	sort.Slice(desc.RelationshipTypes, func(i, j int) bool { return desc.RelationshipTypes[i].Type < desc.RelationshipTypes[j].Type })
	sort.Slice(desc.StructuralEdges, func(i, j int) bool {
		a, b := desc.StructuralEdges[i], desc.StructuralEdges[j]
		if a.FromLabel != b.FromLabel {
			return a.FromLabel < b.FromLabel
		}
		if a.RelType != b.RelType {
			return a.RelType < b.RelType
		}
		return a.ToLabel < b.ToLabel
	})

	desc.RenderedDescription = Render(desc)

	discoveryTotal.WithLabelValues("success").Inc()
	discoveryDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("node_labels", len(desc.NodeTypes)),
		attribute.Int("relationship_types", len(desc.RelationshipTypes)),
		attribute.Int("structural_edges", len(desc.StructuralEdges)),
	)
	d.logger.Info("schema discovery complete",
		slog.Int("node_labels", len(desc.NodeTypes)),
		slog.Int("relationship_types", len(desc.RelationshipTypes)),
		slog.Int("structural_edges", len(desc.StructuralEdges)),
		slog.Duration("duration", time.Since(start)),
	)
	return desc, nil
}

// fetchLabels lists node labels via the store's label registry.
func (d *Discoverer) fetchLabels(ctx context.Context) ([]string, error) {
	rows, err := d.store.Run(ctx, "CALL db.labels() YIELD label RETURN label", nil, graphstore.AccessRead)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	labels := make([]string, 0, len(rows))
	for _, row := range rows {
		if v, ok := row.Get("label"); ok {
			if s, ok := v.(string); ok {
				labels = append(labels, s)
			}
		}
	}
	return labels, nil
}

// fetchRelationshipTypes lists relationship types.
func (d *Discoverer) fetchRelationshipTypes(ctx context.Context) ([]string, error) {
	rows, err := d.store.Run(ctx,
		"CALL db.relationshipTypes() YIELD relationshipType RETURN relationshipType",
		nil, graphstore.AccessRead)
	if err != nil {
		return nil, fmt.Errorf("list relationship types: %w", err)
	}
	types := make([]string, 0, len(rows))
	for _, row := range rows {
		if v, ok := row.Get("relationshipType"); ok {
			if s, ok := v.(string); ok {
				types = append(types, s)
			}
		}
	}
	return types, nil
}

// fetchStructuralEdges observes the distinct label-to-label connection shape.
func (d *Discoverer) fetchStructuralEdges(ctx context.Context) ([]StructuralEdge, error) {
	query := fmt.Sprintf(`MATCH (a)-[r]->(b)
WITH labels(a)[0] AS fromLabel, type(r) AS relType, labels(b)[0] AS toLabel
RETURN DISTINCT fromLabel, relType, toLabel
LIMIT %d`, maxStructuralEdges)

	rows, err := d.store.Run(ctx, query, nil, graphstore.AccessRead)
	if err != nil {
		return nil, fmt.Errorf("scan structural edges: %w", err)
	}

	edges := make([]StructuralEdge, 0, len(rows))
	for _, row := range rows {
		from, _ := row.Get("fromLabel")
		rel, _ := row.Get("relType")
		to, _ := row.Get("toLabel")
		fs, fok := from.(string)
		rs, rok := rel.(string)
		ts, tok := to.(string)
		if fok && rok && tok {
			edges = append(edges, StructuralEdge{FromLabel: fs, RelType: rs, ToLabel: ts})
		}
	}
	return edges, nil
}

// sampleLabel fetches a bounded node sample for one label and derives its
// property inventory plus enumerable value sets.
func (d *Discoverer) sampleLabel(ctx context.Context, label string) (NodeType, map[string][]string, error) {
	query := fmt.Sprintf("MATCH (n:`%s`) RETURN n LIMIT $sample", escapeLabel(label))
	rows, err := d.store.Run(ctx, query, map[string]any{"sample": int64(sampleNodesPerLabel)}, graphstore.AccessRead)
	if err != nil {
		return NodeType{}, nil, fmt.Errorf("sample label %s: %w", label, err)
	}

	props, enums := deriveProperties(rows, "n")
	return NodeType{Label: label, Properties: props}, enums, nil
}

// sampleRelationshipType fetches a bounded relationship sample for one type.
func (d *Discoverer) sampleRelationshipType(ctx context.Context, relType string) (RelationshipType, error) {
	query := fmt.Sprintf("MATCH ()-[r:`%s`]->() RETURN r LIMIT $sample", escapeLabel(relType))
	rows, err := d.store.Run(ctx, query, map[string]any{"sample": int64(sampleRelsPerType)}, graphstore.AccessRead)
	if err != nil {
		return RelationshipType{}, fmt.Errorf("sample relationship %s: %w", relType, err)
	}

	props, _ := deriveProperties(rows, "r")
	return RelationshipType{Type: relType, Properties: props}, nil
}

// deriveProperties inspects sampled records (flattened node/relationship
// maps under the given column) and returns the property inventory plus
// low-cardinality string value sets.
func deriveProperties(rows []graphstore.Row, column string) ([]Property, map[string][]string) {
	typesByProp := make(map[string]map[string]struct{})
	valuesByProp := make(map[string]map[string]struct{})

	for _, row := range rows {
		v, ok := row.Get(column)
		if !ok {
			continue
		}
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for name, pv := range m {
			if strings.HasPrefix(name, "_") {
				continue // internal flattening keys (_label, _type)
			}
			if typesByProp[name] == nil {
				typesByProp[name] = make(map[string]struct{})
			}
			typesByProp[name][valueTypeName(pv)] = struct{}{}

			if s, ok := pv.(string); ok {
				if valuesByProp[name] == nil {
					valuesByProp[name] = make(map[string]struct{})
				}
				valuesByProp[name][s] = struct{}{}
			}
		}
	}

	props := make([]Property, 0, len(typesByProp))
	for name, typeSet := range typesByProp {
		types := make([]string, 0, len(typeSet))
		for t := range typeSet {
			types = append(types, t)
		}
		sort.Strings(types)
		props = append(props, Property{Name: name, Types: types})
	}
	sort.Slice(props, func(i, j int) bool { return props[i].Name < props[j].Name })

	enums := make(map[string][]string)
	for name, valueSet := range valuesByProp {
		if len(valueSet) == 0 || len(valueSet) > maxEnumValues {
			continue
		}
		values := make([]string, 0, len(valueSet))
		for v := range valueSet {
			values = append(values, v)
		}
		sort.Strings(values)
		enums[name] = values
	}
	return props, enums
}

// valueTypeName maps a normalized store value onto a schema type label.
func valueTypeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case int64, int:
		return "integer"
	case float64:
		return "float"
	case bool:
		return "boolean"
	case time.Time:
		return "datetime"
	case []any:
		return "list"
	case map[string]any:
		return "map"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// escapeLabel strips backticks so labels can be interpolated into quoted
// Cypher identifiers. Labels come from the store's own registry, not user
// input.
func escapeLabel(label string) string {
	return strings.ReplaceAll(label, "`", "")
}
