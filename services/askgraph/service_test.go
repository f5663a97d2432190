// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package askgraph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/signalpath/feedbackgraph/services/askgraph/graphstore"
	"github.com/signalpath/feedbackgraph/services/askgraph/providers"
	"github.com/signalpath/feedbackgraph/services/askgraph/schema"
	"github.com/signalpath/feedbackgraph/services/askgraph/session"
	"github.com/signalpath/feedbackgraph/services/askgraph/synthesizer"
	"github.com/signalpath/feedbackgraph/services/askgraph/translator"
)

// =============================================================================
// Mocks
// =============================================================================

type mockSchema struct {
	desc *schema.Descriptor
	err  error
}

func (m *mockSchema) Get(ctx context.Context) (*schema.Descriptor, error) {
	return m.desc, m.err
}

func (m *mockSchema) Ready() bool { return m.err == nil }

type mockTranslator struct {
	result      *translator.Result
	err         error
	lastHistory []providers.Message
}

func (m *mockTranslator) Translate(ctx context.Context, question string, desc *schema.Descriptor, history []providers.Message) (*translator.Result, error) {
	m.lastHistory = history
	return m.result, m.err
}

type mockExecutor struct {
	rows  []graphstore.Row
	err   error
	calls int
}

func (m *mockExecutor) Execute(ctx context.Context, question string, result *translator.Result, desc *schema.Descriptor) ([]graphstore.Row, error) {
	m.calls++
	return m.rows, m.err
}

func testDescriptor() *schema.Descriptor {
	return &schema.Descriptor{
		NodeTypes: []schema.NodeType{
			{Label: "User", Properties: []schema.Property{{Name: "name", Types: []string{"string"}}}},
		},
	}
}

func newTestService(sch SchemaSource, trans QueryTranslator, exec QueryExecutor) (*Service, *session.Manager) {
	sessions := session.NewManager(0)
	synth := synthesizer.New(nil, nil)
	return NewService(sch, trans, exec, synth, sessions, nil), sessions
}

func rankedUserRows() []graphstore.Row {
	mk := func(user string, reports int64) graphstore.Row {
		return graphstore.Row{
			Columns: []string{"user", "reports"},
			Values:  map[string]any{"user": user, "reports": reports},
		}
	}
	return []graphstore.Row{mk("ada", 5), mk("lin", 3), mk("kai", 1)}
}

// =============================================================================
// AnswerQuery
// =============================================================================

func TestAnswerQuery_TemplateMatchReturnsRankedAnswer(t *testing.T) {
	trans := &mockTranslator{result: &translator.Result{
		Query:          "MATCH (u:User)-[:AUTHORED]->(r:Report) RETURN u.name AS user, count(r) AS reports ORDER BY reports DESC LIMIT $limit",
		Params:         map[string]any{"limit": int64(5)},
		Method:         translator.MethodTemplate,
		Confidence:     0.91,
		ExpectsResults: true,
	}}
	exec := &mockExecutor{rows: rankedUserRows()}
	svc, _ := newTestService(&mockSchema{desc: testDescriptor()}, trans, exec)

	answer, err := svc.AnswerQuery(context.Background(), "who are the top reporters?", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Method != "template" {
		t.Fatalf("expected template method, got %q", answer.Method)
	}
	if answer.RowCount != 3 {
		t.Fatalf("expected 3 rows, got %d", answer.RowCount)
	}
	for _, want := range []string{"ada", "5", "lin", "3", "kai", "1"} {
		if !strings.Contains(answer.Answer, want) {
			t.Errorf("expected answer to mention %q, got %q", want, answer.Answer)
		}
	}
	if answer.SessionID == "" {
		t.Fatal("expected a session ID in the response")
	}
}

func TestAnswerQuery_NotTrackedSkipsExecution(t *testing.T) {
	trans := &mockTranslator{result: translator.NotPossible("the graph does not record sentiment scores")}
	exec := &mockExecutor{}
	svc, _ := newTestService(&mockSchema{desc: testDescriptor()}, trans, exec)

	answer, err := svc.AnswerQuery(context.Background(), "what is the average sentiment score?", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Answer != synthesizer.NotTrackedMessage {
		t.Fatalf("expected the not-tracked answer, got %q", answer.Answer)
	}
	if answer.Answer == synthesizer.NoResultsMessage {
		t.Fatal("not-tracked answer must differ from the no-results answer")
	}
	if exec.calls != 0 {
		t.Fatalf("expected no store execution, got %d calls", exec.calls)
	}
	if answer.Query != "" {
		t.Fatalf("expected no query in the response, got %q", answer.Query)
	}
}

func TestAnswerQuery_EmptyResultsDistinctFromNotTracked(t *testing.T) {
	trans := &mockTranslator{result: &translator.Result{
		Query:          "MATCH (i:Issue) WHERE toLower(i.description) CONTAINS $term RETURN i LIMIT 100",
		Params:         map[string]any{"term": "teleportation"},
		Method:         translator.MethodGenerated,
		Confidence:     0.4,
		ExpectsResults: true,
	}}
	exec := &mockExecutor{rows: nil}
	svc, _ := newTestService(&mockSchema{desc: testDescriptor()}, trans, exec)

	answer, err := svc.AnswerQuery(context.Background(), "any teleportation issues?", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Answer != synthesizer.NoResultsMessage {
		t.Fatalf("expected the no-results answer, got %q", answer.Answer)
	}
}

func TestAnswerQuery_SchemaUnavailable(t *testing.T) {
	svc, _ := newTestService(&mockSchema{err: schema.ErrUnavailable}, &mockTranslator{}, &mockExecutor{})

	_, err := svc.AnswerQuery(context.Background(), "anything", "")
	if !errors.Is(err, ErrSchemaUnavailable) {
		t.Fatalf("expected ErrSchemaUnavailable, got %v", err)
	}
}

func TestAnswerQuery_TranslationError(t *testing.T) {
	trans := &mockTranslator{err: errors.New("provider down")}
	svc, _ := newTestService(&mockSchema{desc: testDescriptor()}, trans, &mockExecutor{})

	_, err := svc.AnswerQuery(context.Background(), "anything", "")
	if !errors.Is(err, ErrTranslationFailed) {
		t.Fatalf("expected ErrTranslationFailed, got %v", err)
	}
}

func TestAnswerQuery_ExecutionError(t *testing.T) {
	trans := &mockTranslator{result: &translator.Result{
		Query: "MATCH (n) RETURN n LIMIT 100", Method: translator.MethodGenerated, ExpectsResults: true,
	}}
	exec := &mockExecutor{err: graphstore.NewStoreError(graphstore.ErrCodeMalformed, "q", errors.New("syntax"))}
	svc, _ := newTestService(&mockSchema{desc: testDescriptor()}, trans, exec)

	_, err := svc.AnswerQuery(context.Background(), "anything", "")
	if !errors.Is(err, ErrQueryFailed) {
		t.Fatalf("expected ErrQueryFailed, got %v", err)
	}
}

func TestAnswerQuery_SessionHistoryFlowsToTranslator(t *testing.T) {
	trans := &mockTranslator{result: &translator.Result{
		Query: "MATCH (n) RETURN count(n) AS n LIMIT 1", Method: translator.MethodIntent, ExpectsResults: true,
	}}
	exec := &mockExecutor{rows: []graphstore.Row{{
		Columns: []string{"n"}, Values: map[string]any{"n": int64(7)},
	}}}
	svc, _ := newTestService(&mockSchema{desc: testDescriptor()}, trans, exec)

	first, err := svc.AnswerQuery(context.Background(), "how many reports?", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trans.lastHistory) != 0 {
		t.Fatalf("expected empty history on the first turn, got %d messages", len(trans.lastHistory))
	}

	_, err = svc.AnswerQuery(context.Background(), "and last week?", first.SessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trans.lastHistory) != 2 {
		t.Fatalf("expected 2 history messages on the second turn, got %d", len(trans.lastHistory))
	}
	if trans.lastHistory[0].Content != "how many reports?" {
		t.Fatalf("expected the first question in history, got %q", trans.lastHistory[0].Content)
	}
}

func TestAnswerQuery_EntityNotePrecedesHistory(t *testing.T) {
	trans := &mockTranslator{result: &translator.Result{
		Query: "MATCH (u:User) RETURN u.name AS user LIMIT 100", Method: translator.MethodTemplate, ExpectsResults: true,
	}}
	exec := &mockExecutor{rows: []graphstore.Row{{
		Columns: []string{"user"}, Values: map[string]any{"user": "ada"},
	}}}
	svc, _ := newTestService(&mockSchema{desc: testDescriptor()}, trans, exec)

	first, err := svc.AnswerQuery(context.Background(), "who reported the most?", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = svc.AnswerQuery(context.Background(), "what did they report?", first.SessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trans.lastHistory) != 3 {
		t.Fatalf("expected entity note plus 2 turns, got %d messages", len(trans.lastHistory))
	}
	note := trans.lastHistory[0]
	if note.Role != "system" || !strings.Contains(note.Content, `User "ada"`) {
		t.Fatalf("expected a system entity note naming ada, got %+v", note)
	}
}

func TestAnswerQuery_NotTrackedRecordedInSession(t *testing.T) {
	trans := &mockTranslator{result: translator.NotPossible("untracked")}
	svc, _ := newTestService(&mockSchema{desc: testDescriptor()}, trans, &mockExecutor{})

	first, err := svc.AnswerQuery(context.Background(), "sentiment?", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = svc.AnswerQuery(context.Background(), "ok, what else?", first.SessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trans.lastHistory) != 2 {
		t.Fatalf("expected the not-tracked turn in history, got %d messages", len(trans.lastHistory))
	}
}

func TestResetSession(t *testing.T) {
	trans := &mockTranslator{result: &translator.Result{
		Query: "MATCH (n) RETURN count(n) AS n LIMIT 1", Method: translator.MethodIntent, ExpectsResults: true,
	}}
	exec := &mockExecutor{rows: []graphstore.Row{{
		Columns: []string{"n"}, Values: map[string]any{"n": int64(1)},
	}}}
	svc, _ := newTestService(&mockSchema{desc: testDescriptor()}, trans, exec)

	first, _ := svc.AnswerQuery(context.Background(), "how many?", "")
	if !svc.ResetSession(first.SessionID) {
		t.Fatal("expected reset to succeed for a live session")
	}
	if svc.ResetSession("unknown") {
		t.Fatal("expected reset to fail for an unknown session")
	}

	_, _ = svc.AnswerQuery(context.Background(), "again?", first.SessionID)
	if len(trans.lastHistory) != 0 {
		t.Fatalf("expected empty history after reset, got %d messages", len(trans.lastHistory))
	}
}

func TestReady(t *testing.T) {
	svc, _ := newTestService(&mockSchema{desc: testDescriptor()}, &mockTranslator{}, &mockExecutor{})
	if !svc.Ready() {
		t.Fatal("expected ready with a healthy schema source")
	}

	down, _ := newTestService(&mockSchema{err: schema.ErrUnavailable}, &mockTranslator{}, &mockExecutor{})
	if down.Ready() {
		t.Fatal("expected not ready when discovery fails")
	}
}
