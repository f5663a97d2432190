// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session keeps per-conversation state: recent turns for follow-up
// resolution, plus the last result set and the entities it mentioned.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalpath/feedbackgraph/services/askgraph/graphstore"
	"github.com/signalpath/feedbackgraph/services/askgraph/providers"
)

const (
	// maxHistoryTurns bounds how many messages a session retains. Eight
	// messages is four question/answer exchanges — enough for pronouns
	// and "what about the second one" without unbounded prompt growth.
	maxHistoryTurns = 8

	// maxTurnContent bounds one stored message. Long synthesized answers
	// are truncated; the head carries the substance.
	maxTurnContent = 2000

	// defaultIdleTTL is how long an untouched session survives a sweep.
	defaultIdleTTL = 30 * time.Minute
)

// Entity is something a previous answer referred to, kept so follow-up
// questions can be resolved against it.
type Entity struct {
	// Kind is the node label the entity came from ("User", "Issue").
	Kind string

	// Name is the display identifier.
	Name string
}

// State is one conversation's memory.
//
// # Thread Safety
//
// Not safe for concurrent use on its own; the Manager serializes access.
type State struct {
	// ID is the session identifier handed back to the client.
	ID string

	// History holds the recent turns, oldest first.
	History []providers.Message

	// LastRows is the previous answer's result set.
	LastRows []graphstore.Row

	// LastEntities are the entities the previous answer mentioned.
	LastEntities []Entity

	lastAccess time.Time
}

// Manager owns all live sessions.
//
// # Thread Safety
//
// Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*State
	idleTTL  time.Duration
	now      func() time.Time
}

// NewManager creates an empty Manager. Pass 0 for the default idle TTL.
func NewManager(idleTTL time.Duration) *Manager {
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	return &Manager{
		sessions: make(map[string]*State),
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// Acquire returns the session for the given ID, creating a fresh one when
// the ID is empty or unknown.
//
// # Outputs
//
//   - *State: A snapshot copy the caller may read freely. Mutations are
//     applied through Record/Reset, never through the snapshot.
func (m *Manager) Acquire(id string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		if s, ok := m.sessions[id]; ok {
			s.lastAccess = m.now()
			return snapshot(s)
		}
	}

	s := &State{ID: uuid.NewString(), lastAccess: m.now()}
	m.sessions[s.ID] = s
	return snapshot(s)
}

// Record appends one question/answer exchange and the supporting result
// set to the session, enforcing the history bounds.
func (m *Manager) Record(id, question, answer string, rows []graphstore.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return
	}
	s.lastAccess = m.now()
	s.History = append(s.History,
		providers.Message{Role: "user", Content: truncateTurn(question)},
		providers.Message{Role: "assistant", Content: truncateTurn(answer)},
	)
	if len(s.History) > maxHistoryTurns {
		s.History = s.History[len(s.History)-maxHistoryTurns:]
	}
	s.LastRows = rows
	s.LastEntities = extractEntities(rows)
}

// Reset clears the session's memory but keeps the ID valid.
//
// # Outputs
//
//   - bool: Whether the session existed.
func (m *Manager) Reset(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	s.History = nil
	s.LastRows = nil
	s.LastEntities = nil
	s.lastAccess = m.now()
	return true
}

// Sweep drops sessions idle past the TTL and returns how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.idleTTL)
	removed := 0
	for id, s := range m.sessions {
		if s.lastAccess.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Len reports the live session count.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// snapshot copies the session so callers read without holding the lock.
func snapshot(s *State) *State {
	copied := &State{ID: s.ID, lastAccess: s.lastAccess}
	copied.History = append(copied.History, s.History...)
	copied.LastRows = append(copied.LastRows, s.LastRows...)
	copied.LastEntities = append(copied.LastEntities, s.LastEntities...)
	return copied
}

// truncateTurn bounds one stored message.
func truncateTurn(content string) string {
	if len(content) > maxTurnContent {
		return content[:maxTurnContent]
	}
	return content
}

// extractEntities pulls label-like and name-like values out of result rows.
//
// # Description
//
// Two shapes are recognized: flattened node maps (carrying "_label" plus a
// display property) and scalar columns whose name looks like an identifier
// ("user", "issue", "solution", "product", "source"). The column name
// becomes the entity kind for scalars.
func extractEntities(rows []graphstore.Row) []Entity {
	var entities []Entity
	seen := make(map[string]struct{})

	add := func(kind, name string) {
		if name == "" {
			return
		}
		key := kind + "\x00" + name
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		entities = append(entities, Entity{Kind: kind, Name: name})
	}

	for _, row := range rows {
		for _, col := range row.Columns {
			switch v := row.Values[col].(type) {
			case map[string]any:
				if label, ok := v["_label"].(string); ok {
					add(label, displayName(v))
				}
			case string:
				if isEntityColumn(col) {
					add(capitalize(col), v)
				}
			}
		}
	}
	return entities
}

// entityColumns are scalar column names treated as entity identifiers.
var entityColumns = map[string]struct{}{
	"user": {}, "author": {}, "issue": {}, "solution": {},
	"product": {}, "source": {}, "report": {},
}

func isEntityColumn(col string) bool {
	_, ok := entityColumns[strings.ToLower(col)]
	return ok
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// displayName finds a human-readable identifier in a flattened node map.
func displayName(m map[string]any) string {
	for _, key := range []string{"name", "title", "description", "id"} {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
