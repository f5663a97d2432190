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
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/signalpath/feedbackgraph/services/askgraph/graphstore"
)

// mockRunner answers introspection queries from canned fixtures.
type mockRunner struct {
	mu       sync.Mutex
	calls    []string
	failWith error

	// discoverCount counts full label-inventory queries, which happen
	// exactly once per discovery pass.
	discoverCount atomic.Int64
}

func (m *mockRunner) Run(ctx context.Context, query string, params map[string]any, mode graphstore.AccessMode) ([]graphstore.Row, error) {
	m.mu.Lock()
	m.calls = append(m.calls, query)
	m.mu.Unlock()

	if m.failWith != nil {
		return nil, m.failWith
	}

	switch {
	case strings.Contains(query, "db.labels"):
		m.discoverCount.Add(1)
		return []graphstore.Row{
			rowOf("label", "User"),
			rowOf("label", "Issue"),
		}, nil
	case strings.Contains(query, "db.relationshipTypes"):
		return []graphstore.Row{
			rowOf("relationshipType", "AUTHORED"),
		}, nil
	case strings.Contains(query, "RETURN DISTINCT fromLabel"):
		return []graphstore.Row{
			{
				Columns: []string{"fromLabel", "relType", "toLabel"},
				Values:  map[string]any{"fromLabel": "User", "relType": "AUTHORED", "toLabel": "Issue"},
			},
		}, nil
	case strings.Contains(query, "MATCH (n:`User`)"):
		return []graphstore.Row{
			rowOf("n", map[string]any{"_label": "User", "name": "ada", "expertise": "expert", "karma": int64(12)}),
			rowOf("n", map[string]any{"_label": "User", "name": "lin", "expertise": "novice"}),
		}, nil
	case strings.Contains(query, "MATCH (n:`Issue`)"):
		return []graphstore.Row{
			rowOf("n", map[string]any{"_label": "Issue", "title": "crash on save", "severity": "high"}),
		}, nil
	case strings.Contains(query, "MATCH ()-[r:`AUTHORED`]"):
		return []graphstore.Row{
			rowOf("r", map[string]any{"_type": "AUTHORED", "at": "2025-01-01"}),
		}, nil
	}
	return nil, nil
}

func rowOf(col string, v any) graphstore.Row {
	return graphstore.Row{Columns: []string{col}, Values: map[string]any{col: v}}
}

func TestDiscover_BuildsDescriptor(t *testing.T) {
	d := NewDiscoverer(&mockRunner{}, nil)
	desc, err := d.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if len(desc.NodeTypes) != 2 {
		t.Fatalf("expected 2 node types, got %d", len(desc.NodeTypes))
	}
	// Sorted by label: Issue before User.
	if desc.NodeTypes[0].Label != "Issue" || desc.NodeTypes[1].Label != "User" {
		t.Errorf("unexpected label ordering: %s, %s", desc.NodeTypes[0].Label, desc.NodeTypes[1].Label)
	}

	user := desc.NodeTypes[1]
	wantProps := map[string]string{"expertise": "string", "karma": "integer", "name": "string"}
	if len(user.Properties) != len(wantProps) {
		t.Fatalf("expected %d User properties, got %d: %+v", len(wantProps), len(user.Properties), user.Properties)
	}
	for _, p := range user.Properties {
		if wantProps[p.Name] != p.Types[0] {
			t.Errorf("property %s: expected type %s, got %s", p.Name, wantProps[p.Name], p.Types[0])
		}
	}

	if len(desc.RelationshipTypes) != 1 || desc.RelationshipTypes[0].Type != "AUTHORED" {
		t.Errorf("unexpected relationship types: %+v", desc.RelationshipTypes)
	}
	if len(desc.StructuralEdges) != 1 {
		t.Fatalf("expected 1 structural edge, got %d", len(desc.StructuralEdges))
	}
	edge := desc.StructuralEdges[0]
	if edge.FromLabel != "User" || edge.RelType != "AUTHORED" || edge.ToLabel != "Issue" {
		t.Errorf("unexpected edge: %+v", edge)
	}

	enums := desc.SampleValuesByLabel["User"]
	if got := enums["expertise"]; len(got) != 2 || got[0] != "expert" || got[1] != "novice" {
		t.Errorf("expected enumerated expertise values, got %v", got)
	}

	if desc.RenderedDescription == "" {
		t.Error("expected non-empty rendered description")
	}
}

func TestDiscover_StoreFailureWrapsUnavailable(t *testing.T) {
	d := NewDiscoverer(&mockRunner{failWith: errors.New("connection refused")}, nil)
	_, err := d.Discover(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestDescriptor_HasProperty(t *testing.T) {
	desc := &Descriptor{
		NodeTypes: []NodeType{
			{Label: "User", Properties: []Property{{Name: "expertise", Types: []string{"string"}}}},
		},
		RelationshipTypes: []RelationshipType{
			{Type: "CONFIRMS", Properties: []Property{{Name: "outcome", Types: []string{"string"}}}},
		},
	}

	if !desc.HasProperty("expertise") {
		t.Error("expected HasProperty(expertise) to be true")
	}
	if !desc.HasProperty("outcome") {
		t.Error("expected HasProperty(outcome) to be true")
	}
	if desc.HasProperty("sentiment_score") {
		t.Error("expected HasProperty(sentiment_score) to be false")
	}
}

func TestCache_ConcurrentGetSingleDiscovery(t *testing.T) {
	runner := &mockRunner{}
	cache := NewCache(NewDiscoverer(runner, nil))

	const callers = 16
	results := make([]*Descriptor, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			desc, err := cache.Get(context.Background())
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			results[i] = desc
		}()
	}
	close(start)
	wg.Wait()

	if got := runner.discoverCount.Load(); got != 1 {
		t.Fatalf("expected exactly 1 discovery pass, got %d", got)
	}
	for i := 1; i < callers; i++ {
		if results[i] != results[0] {
			t.Fatalf("caller %d received a different descriptor instance", i)
		}
	}
	if !cache.Ready() {
		t.Error("expected cache to report ready after population")
	}
}

func TestCache_FailureNotCached(t *testing.T) {
	runner := &mockRunner{failWith: errors.New("store down")}
	cache := NewCache(NewDiscoverer(runner, nil))

	if _, err := cache.Get(context.Background()); err == nil {
		t.Fatal("expected first Get to fail")
	}
	if cache.Ready() {
		t.Error("cache must not report ready after failed discovery")
	}

	runner.failWith = nil
	desc, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if desc == nil {
		t.Fatal("expected descriptor on retry")
	}
}

func TestRender_Deterministic(t *testing.T) {
	desc := &Descriptor{
		NodeTypes: []NodeType{
			{Label: "Issue", Properties: []Property{{Name: "severity", Types: []string{"string"}}}},
			{Label: "User", Properties: []Property{{Name: "name", Types: []string{"string"}}}},
		},
		RelationshipTypes: []RelationshipType{{Type: "MENTIONS"}},
		StructuralEdges:   []StructuralEdge{{FromLabel: "Report", RelType: "MENTIONS", ToLabel: "Issue"}},
		SampleValuesByLabel: map[string]map[string][]string{
			"Issue": {"severity": {"high", "low", "medium"}},
		},
	}

	first := Render(desc)
	second := Render(desc)
	if first != second {
		t.Fatal("render output is not deterministic")
	}

	for _, want := range []string{
		"(:Issue)",
		"[:MENTIONS]",
		"(:Report)-[:MENTIONS]->(:Issue)",
		`one of: "high", "low", "medium"`,
		"LIMIT",
		"HAVING",
	} {
		if !strings.Contains(first, want) {
			t.Errorf("rendered description missing %q", want)
		}
	}
}
