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
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/signalpath/feedbackgraph/services/askgraph/config"
	"github.com/signalpath/feedbackgraph/services/askgraph/providers"
)

// =============================================================================
// Template Matcher
// =============================================================================

// templateWarmConcurrency is the number of parallel embedding calls during
// warm-up.
const templateWarmConcurrency = 8

// templateQueryTimeout is the per-question embedding call timeout. Match()
// is on the hot path; a few seconds is ample for a local embedding call.
const templateQueryTimeout = 5 * time.Second

// SimilarityThreshold is the minimum cosine similarity for a template match.
const SimilarityThreshold = 0.75

// TemplateMatcher scores questions against the curated template catalog by
// embedding similarity.
//
// # Description
//
// At warm time, every example phrasing of every template is embedded; the
// per-template mean vector is stored unit-normalized so cosine similarity
// at query time reduces to a dot product. Embedding-based matching is
// robust to word form: "who are the most trusted users" and "which users
// are most reliable" land near the same template vector.
//
// If the embedding backend is unavailable, the matcher degrades gracefully:
// Match() returns (nil, nil) and the caller escalates to the next strategy.
//
// Vectors are persisted through the TemplateCacheStore between restarts,
// keyed by the corpus hash. A nil store disables persistence.
//
// # Thread Safety
//
// Safe for concurrent use after Warm() completes.
type TemplateMatcher struct {
	mu      sync.RWMutex
	vectors map[string][]float32 // template name → unit-normalized mean vector
	warmed  bool

	catalog  *config.TemplateCatalog
	byName   map[string]config.TemplateEntry
	embedder providers.Embedder
	model    string
	store    TemplateCacheStore
	logger   *slog.Logger
}

// NewTemplateMatcher creates an unwarmed matcher.
//
// # Inputs
//
//   - catalog: The template catalog. Must not be nil.
//   - embedder: Embedding backend. Must not be nil.
//   - model: Embedding model name; part of the persistence cache key.
//   - store: Optional persistence store. Nil disables persistence.
//   - logger: May be nil.
func NewTemplateMatcher(catalog *config.TemplateCatalog, embedder providers.Embedder, model string, store TemplateCacheStore, logger *slog.Logger) *TemplateMatcher {
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]config.TemplateEntry, len(catalog.Templates))
	for _, t := range catalog.Templates {
		byName[t.Name] = t
	}
	return &TemplateMatcher{
		vectors:  make(map[string][]float32),
		catalog:  catalog,
		byName:   byName,
		embedder: embedder,
		model:    model,
		store:    store,
		logger:   logger,
	}
}

// Warm pre-computes the mean embedding vector for every template.
//
// # Description
//
// Checks the persistence store first; on a miss, embeds every example
// phrasing in parallel (bounded concurrency), averages per template, and
// stores unit-normalized vectors. Individual template failures are logged
// and skipped; if every template fails, warmed stays false and Match()
// degrades gracefully.
//
// # Outputs
//
//   - error: Non-nil only when the embedding backend is completely
//     unreachable for all templates.
//
// # Thread Safety
//
// Not safe to call concurrently. Call once at service startup.
func (m *TemplateMatcher) Warm(ctx context.Context) error {
	if len(m.catalog.Templates) == 0 {
		return nil
	}

	corpusHash := computeCorpusHash(m.catalog.Templates, m.model)
	if m.store != nil {
		cached, err := m.store.LoadEmbeddings(ctx, corpusHash)
		if err != nil {
			m.logger.Warn("template matcher: store load failed, continuing with warm-up",
				slog.String("error", err.Error()),
			)
		} else if len(cached) > 0 {
			m.mu.Lock()
			for name, vec := range cached {
				m.vectors[name] = vec // already unit-normalized on save
			}
			m.warmed = true
			m.mu.Unlock()
			m.logger.Info("template matcher: loaded vectors from cache",
				slog.Int("template_count", len(cached)),
				slog.String("corpus_hash", shortHash(corpusHash)),
			)
			return nil
		}
	}

	m.logger.Info("template matcher: starting warm-up",
		slog.Int("template_count", len(m.catalog.Templates)),
		slog.String("model", m.model),
	)

	type result struct {
		name   string
		vector []float32
	}
	resultCh := make(chan result, len(m.catalog.Templates))

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, templateWarmConcurrency)

	for _, tmpl := range m.catalog.Templates {
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			vec, err := m.embedTemplate(gctx, tmpl)
			if err != nil {
				m.logger.Warn("template matcher: failed to embed template",
					slog.String("template", tmpl.Name),
					slog.String("error", err.Error()),
				)
				// Individual failure is not fatal.
				return nil
			}
			resultCh <- result{name: tmpl.Name, vector: vec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("template matcher warm-up: %w", err)
	}
	close(resultCh)

	m.mu.Lock()
	for r := range resultCh {
		m.vectors[r.name] = r.vector
	}
	m.warmed = len(m.vectors) > 0
	embedded := len(m.vectors)
	var toSave map[string][]float32
	if m.warmed && m.store != nil {
		toSave = make(map[string][]float32, len(m.vectors))
		for k, v := range m.vectors {
			toSave[k] = v
		}
	}
	m.mu.Unlock()

	m.logger.Info("template matcher: warm-up complete",
		slog.Int("embedded_templates", embedded),
		slog.Int("requested_templates", len(m.catalog.Templates)),
	)

	// Persistence failure is non-fatal: vectors are already in RAM.
	if toSave != nil {
		if err := m.store.SaveEmbeddings(ctx, corpusHash, toSave); err != nil {
			m.logger.Warn("template matcher: failed to persist vectors",
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Match scores the question against every template and returns a
// translation when the best match clears the similarity threshold.
//
// # Description
//
// Returns (nil, nil) when no template clears the threshold, when the
// matcher was never warmed, or when the question embedding fails — all
// cases where the caller should escalate to the next strategy. Candidates
// above the threshold are tried best-first; a candidate whose required
// captures do not bind is skipped.
//
// # Thread Safety
//
// Safe for concurrent use after Warm() completes.
func (m *TemplateMatcher) Match(ctx context.Context, question string) (*Result, error) {
	m.mu.RLock()
	warmed := m.warmed
	m.mu.RUnlock()
	if !warmed {
		return nil, nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, templateQueryTimeout)
	defer cancel()

	queryVec, err := m.embedder.Embed(embedCtx, question)
	if err != nil {
		m.logger.Warn("template matcher: question embedding failed, escalating",
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	queryUnit := unitNormalize(queryVec)
	if queryUnit == nil {
		return nil, nil
	}

	type candidate struct {
		name  string
		score float64
	}
	var candidates []candidate

	m.mu.RLock()
	for name, vec := range m.vectors {
		sim := float64(dotProduct(queryUnit, vec))
		if sim >= SimilarityThreshold {
			candidates = append(candidates, candidate{name: name, score: sim})
		}
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	for _, c := range candidates {
		tmpl := m.byName[c.name]
		params := bindCatalogParams(question, tmpl.CountParam, tmpl.DefaultCount, tmpl.Captures)
		if params == nil {
			m.logger.Debug("template matcher: captures did not bind, skipping",
				slog.String("template", tmpl.Name),
			)
			continue
		}
		return &Result{
			Query:          NormalizeLimit(tmpl.Query, params),
			Params:         params,
			Method:         MethodTemplate,
			Confidence:     c.score,
			Reason:         fmt.Sprintf("matched template %s", tmpl.Name),
			ExpectsResults: true,
		}, nil
	}
	return nil, nil
}

// IsWarmed reports whether the matcher has been successfully warmed.
func (m *TemplateMatcher) IsWarmed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.warmed
}

// embedTemplate embeds every example phrasing of one template and returns
// the unit-normalized mean vector.
func (m *TemplateMatcher) embedTemplate(ctx context.Context, tmpl config.TemplateEntry) ([]float32, error) {
	var mean []float32
	embedded := 0
	for _, example := range tmpl.Examples {
		vec, err := m.embedder.Embed(ctx, example)
		if err != nil {
			return nil, fmt.Errorf("embed example %q: %w", example, err)
		}
		if mean == nil {
			mean = make([]float32, len(vec))
		}
		for i := range vec {
			if i < len(mean) {
				mean[i] += vec[i]
			}
		}
		embedded++
	}
	if embedded == 0 {
		return nil, fmt.Errorf("template %s has no examples", tmpl.Name)
	}
	for i := range mean {
		mean[i] /= float32(embedded)
	}
	unit := unitNormalize(mean)
	if unit == nil {
		return nil, fmt.Errorf("template %s produced a zero vector", tmpl.Name)
	}
	return unit, nil
}

// =============================================================================
// Vector Helpers
// =============================================================================

// unitNormalize returns the unit vector, or nil for a zero-magnitude input.
func unitNormalize(v []float32) []float32 {
	norm := l2Norm(v)
	if norm == 0 {
		return nil
	}
	unit := make([]float32, len(v))
	for i, x := range v {
		unit[i] = x / float32(norm)
	}
	return unit
}

// l2Norm computes the L2 (Euclidean) norm of a float32 vector.
func l2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// dotProduct computes the dot product of two float32 vectors. Mismatched
// lengths use the shorter.
func dotProduct(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
