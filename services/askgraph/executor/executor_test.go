// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/signalpath/feedbackgraph/services/askgraph/graphstore"
	"github.com/signalpath/feedbackgraph/services/askgraph/providers"
	"github.com/signalpath/feedbackgraph/services/askgraph/schema"
	"github.com/signalpath/feedbackgraph/services/askgraph/translator"
)

// scriptedStore returns one canned response per Run call, in order.
type scriptedStore struct {
	responses []storeResponse
	calls     []string
}

type storeResponse struct {
	rows []graphstore.Row
	err  error
}

func (s *scriptedStore) Run(ctx context.Context, query string, params map[string]any, mode graphstore.AccessMode) ([]graphstore.Row, error) {
	s.calls = append(s.calls, query)
	if len(s.responses) == 0 {
		return nil, errors.New("scripted store exhausted")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp.rows, resp.err
}

type repairChat struct {
	response string
	err      error
	called   bool
}

func (c *repairChat) Chat(ctx context.Context, messages []providers.Message, opts providers.ChatOptions) (string, error) {
	c.called = true
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

func malformedErr() error {
	return graphstore.NewStoreError(graphstore.ErrCodeMalformed, "MATCH bad", errors.New("syntax error at offset 6"))
}

func transientErr() error {
	return graphstore.NewStoreError(graphstore.ErrCodeTransient, "MATCH ok", errors.New("connection reset"))
}

func sampleResult() *translator.Result {
	return &translator.Result{
		Query:  "MATCH (u:User) RETURN u.name AS user LIMIT $limit",
		Params: map[string]any{"limit": int64(5)},
		Method: translator.MethodGenerated,
	}
}

func sampleRows() []graphstore.Row {
	return []graphstore.Row{{Columns: []string{"user"}, Values: map[string]any{"user": "ada"}}}
}

func TestExecute_SuccessNoRepair(t *testing.T) {
	store := &scriptedStore{responses: []storeResponse{{rows: sampleRows()}}}
	chat := &repairChat{}
	e := New(store, chat, nil)

	rows, err := e.Execute(context.Background(), "q", sampleResult(), testDescriptor())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected 1 row, got %d", len(rows))
	}
	if chat.called {
		t.Error("repair must not run on success")
	}
}

func TestExecute_RepairSucceeds(t *testing.T) {
	store := &scriptedStore{responses: []storeResponse{
		{err: malformedErr()},
		{rows: sampleRows()},
	}}
	chat := &repairChat{response: "MATCH (u:User) RETURN u.name AS user LIMIT $limit"}
	e := New(store, chat, nil)

	rows, err := e.Execute(context.Background(), "who are the users", sampleResult(), testDescriptor())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected repaired rows, got %d", len(rows))
	}
	if !chat.called {
		t.Error("expected repair chat invoked")
	}
	if len(store.calls) != 2 {
		t.Errorf("expected exactly 2 store calls, got %d", len(store.calls))
	}
}

func TestExecute_RepairFailureSurfacesOriginalError(t *testing.T) {
	orig := malformedErr()
	store := &scriptedStore{responses: []storeResponse{
		{err: orig},
		{err: graphstore.NewStoreError(graphstore.ErrCodeMalformed, "still bad", errors.New("still a syntax error"))},
	}}
	chat := &repairChat{response: "MATCH (u:User) RETURN u LIMIT 5"}
	e := New(store, chat, nil)

	_, err := e.Execute(context.Background(), "q", sampleResult(), testDescriptor())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, orig) && err.Error() != orig.Error() {
		t.Errorf("expected original error surfaced, got %v", err)
	}
	// Exactly one repair attempt: two store calls total, never a third.
	if len(store.calls) != 2 {
		t.Errorf("expected exactly 2 store calls, got %d", len(store.calls))
	}
}

func TestExecute_TransientErrorSkipsRepair(t *testing.T) {
	store := &scriptedStore{responses: []storeResponse{{err: transientErr()}}}
	chat := &repairChat{}
	e := New(store, chat, nil)

	if _, err := e.Execute(context.Background(), "q", sampleResult(), testDescriptor()); err == nil {
		t.Fatal("expected error")
	}
	if chat.called {
		t.Error("repair must not run for transient errors")
	}
}

func TestExecute_UnusableRepairOutputSurfacesOriginalError(t *testing.T) {
	store := &scriptedStore{responses: []storeResponse{{err: malformedErr()}}}
	chat := &repairChat{response: "I cannot fix this query, sorry."}
	e := New(store, chat, nil)

	_, err := e.Execute(context.Background(), "q", sampleResult(), testDescriptor())
	if err == nil {
		t.Fatal("expected error")
	}
	if !graphstore.IsMalformed(err) {
		t.Errorf("expected original malformed error, got %v", err)
	}
	if len(store.calls) != 1 {
		t.Errorf("expected no second store call for unusable repair, got %d", len(store.calls))
	}
}

func TestExecute_NilChatDisablesRepair(t *testing.T) {
	store := &scriptedStore{responses: []storeResponse{{err: malformedErr()}}}
	e := New(store, nil, nil)

	if _, err := e.Execute(context.Background(), "q", sampleResult(), testDescriptor()); err == nil {
		t.Fatal("expected error")
	}
	if len(store.calls) != 1 {
		t.Errorf("expected single store call, got %d", len(store.calls))
	}
}

func TestExtractQuery(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "MATCH (n) RETURN n LIMIT 1", "MATCH (n) RETURN n LIMIT 1"},
		{"fenced", "```cypher\nMATCH (n) RETURN n LIMIT 1\n```", "MATCH (n) RETURN n LIMIT 1"},
		{"with preamble", "Here is the fix: MATCH (n) RETURN n LIMIT 1", "MATCH (n) RETURN n LIMIT 1"},
		{"no query", "I cannot help with that.", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractQuery(tt.raw); got != tt.want {
				t.Errorf("extractQuery(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func testDescriptor() *schema.Descriptor {
	return &schema.Descriptor{RenderedDescription: "## Graph Schema\n"}
}

func TestBuildRepairPrompt_IncludesSchema(t *testing.T) {
	prompt := buildRepairPrompt(testDescriptor())
	if !strings.Contains(prompt, "Graph Schema") {
		t.Error("expected schema in repair prompt")
	}
}
