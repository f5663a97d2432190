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

// =============================================================================
// TemplateCacheStore — Embedding Persistence
// =============================================================================
//
// Template embedding vectors are expensive to compute but change only when
// the template catalog or embedding model changes. This store persists them
// in BadgerDB between service restarts.
//
// The corpus hash — SHA256 of template names, example phrasings, and the
// embedding model name — serves as the cache key. Any catalog or model
// change produces a different hash, so stale entries become unreachable and
// expire via BadgerDB's native TTL without an explicit invalidation API.
//
// Storage layout:
//
//	askgraph/tmpl/v1/{corpusHash}  →  gob-encoded map[string][]float32
//	                                   (template name → unit-normalized vector)
//	                                   TTL: 7 days

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/signalpath/feedbackgraph/services/askgraph/config"
	badgerstore "github.com/signalpath/feedbackgraph/services/askgraph/storage/badger"
)

// templateCacheDefaultTTL is the default lifetime of a cached embedding
// entry. Long enough to survive weekends and short deployments without
// accumulating stale data indefinitely.
const templateCacheDefaultTTL = 7 * 24 * time.Hour

// templateCacheKeyPrefix is prepended to the corpus hash to form the
// BadgerDB key. Versioned (v1) to allow future format changes without
// collision.
const templateCacheKeyPrefix = "askgraph/tmpl/v1/"

// errCacheMiss distinguishes "key not found" (a normal cache miss) from a
// genuine storage error in LoadEmbeddings.
var errCacheMiss = errors.New("cache miss")

// TemplateCacheStore persists template embedding vectors across restarts.
//
// # Description
//
// Both methods are nil-safe at the call sites: the TemplateMatcher checks
// for a nil TemplateCacheStore and skips persistence, operating in
// in-memory-only mode. Correct for tests and for deployments without a
// cache directory configured.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type TemplateCacheStore interface {
	// LoadEmbeddings retrieves cached unit-normalized template vectors for
	// the given corpus hash.
	//
	// Returns (nil, nil) on cache miss (key absent or TTL expired).
	// Returns (nil, error) on storage failure.
	LoadEmbeddings(ctx context.Context, corpusHash string) (map[string][]float32, error)

	// SaveEmbeddings persists unit-normalized template vectors for the
	// given corpus hash with the store's TTL. Persistence failure is
	// non-fatal for callers; vectors are recomputed on the next restart.
	SaveEmbeddings(ctx context.Context, corpusHash string, vectors map[string][]float32) error
}

// BadgerTemplateCacheStore implements TemplateCacheStore backed by a
// BadgerDB instance opened at startup.
//
// # Description
//
// Vectors are gob-encoded as map[string][]float32. TTL is enforced by
// BadgerDB's native GC; expired keys return ErrKeyNotFound, which this
// store treats as a cache miss.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type BadgerTemplateCacheStore struct {
	db     *badgerstore.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewBadgerTemplateCacheStore creates a store backed by the given DB.
//
// # Inputs
//
//   - db: Opened BadgerDB wrapper. Must not be nil. The caller owns the DB
//     lifecycle; this store does not close it.
//   - ttl: Lifetime for each cached entry. Pass 0 for the default (7 days).
//   - logger: Logger for cache hit/miss diagnostics. May be nil.
func NewBadgerTemplateCacheStore(db *badgerstore.DB, ttl time.Duration, logger *slog.Logger) *BadgerTemplateCacheStore {
	if db == nil {
		panic("NewBadgerTemplateCacheStore: db must not be nil")
	}
	if ttl <= 0 {
		ttl = templateCacheDefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerTemplateCacheStore{db: db, ttl: ttl, logger: logger}
}

// LoadEmbeddings retrieves cached unit-normalized template vectors.
func (s *BadgerTemplateCacheStore) LoadEmbeddings(ctx context.Context, corpusHash string) (map[string][]float32, error) {
	key := templateCacheKey(corpusHash)

	var raw []byte
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get cache key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})

	if errors.Is(err, errCacheMiss) {
		s.logger.Debug("template cache: miss", slog.String("hash", shortHash(corpusHash)))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("template cache load: %w", err)
	}

	vectors, err := gobDecode(raw)
	if err != nil {
		return nil, fmt.Errorf("template cache decode: %w", err)
	}

	s.logger.Debug("template cache: hit",
		slog.String("hash", shortHash(corpusHash)),
		slog.Int("template_count", len(vectors)),
	)
	return vectors, nil
}

// SaveEmbeddings persists unit-normalized template vectors with the TTL.
func (s *BadgerTemplateCacheStore) SaveEmbeddings(ctx context.Context, corpusHash string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}

	raw, err := gobEncode(vectors)
	if err != nil {
		return fmt.Errorf("template cache encode: %w", err)
	}

	key := templateCacheKey(corpusHash)
	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(key, raw).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("template cache save: %w", err)
	}

	s.logger.Debug("template cache: saved",
		slog.String("hash", shortHash(corpusHash)),
		slog.Int("template_count", len(vectors)),
		slog.Duration("ttl", s.ttl),
	)
	return nil
}

// =============================================================================
// Corpus Hash
// =============================================================================

// computeCorpusHash computes a deterministic SHA256 hash of the template
// catalog and embedding model name.
//
// # Description
//
// The hash captures every signal that determines vector content: template
// names, their example phrasings, and the model name. Templates are sorted
// by name and examples sorted internally so YAML ordering does not matter.
//
// # Outputs
//
//   - string: Lowercase hex-encoded SHA256 digest (64 characters).
func computeCorpusHash(templates []config.TemplateEntry, model string) string {
	sorted := make([]config.TemplateEntry, len(templates))
	copy(sorted, templates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	h := sha256.New()
	for _, t := range sorted {
		examples := make([]string, len(t.Examples))
		copy(examples, t.Examples)
		sort.Strings(examples)
		fmt.Fprintf(h, "%s\t%s\n", t.Name, strings.Join(examples, "|"))
	}
	fmt.Fprintf(h, "model=%s\n", model)

	return hex.EncodeToString(h.Sum(nil))
}

// =============================================================================
// Helpers
// =============================================================================

// templateCacheKey builds the BadgerDB key for the given corpus hash.
func templateCacheKey(corpusHash string) []byte {
	return []byte(templateCacheKeyPrefix + corpusHash)
}

// shortHash returns the first 8 characters of a hash for log display.
func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8] + "..."
	}
	return h
}

// gobEncode serializes a map[string][]float32 using encoding/gob.
func gobEncode(vectors map[string][]float32) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(vectors); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

// gobDecode deserializes a map[string][]float32 from gob-encoded bytes.
func gobDecode(data []byte) (map[string][]float32, error) {
	var vectors map[string][]float32
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	return vectors, nil
}
