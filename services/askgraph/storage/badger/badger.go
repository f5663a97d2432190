// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger provides a thin lifecycle-and-transaction wrapper around a
// BadgerDB instance used for service-local caches (template embedding
// vectors). It exists so callers deal with contexts and closed-state checks
// instead of raw *badger.DB handles.
package badger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// DB wraps an opened BadgerDB instance.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type DB struct {
	mu     sync.RWMutex
	db     *dgbadger.DB
	closed bool
	logger *slog.Logger
}

// Open opens (or creates) a BadgerDB at the given directory.
//
// # Inputs
//
//   - dir: Directory for the database files. Created if absent.
//   - logger: Logger for lifecycle events. May be nil.
//
// # Outputs
//
//   - *DB: Opened database wrapper.
//   - error: Non-nil if the directory cannot be opened.
func Open(dir string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := dgbadger.DefaultOptions(dir)
	opts.Logger = nil // badger's own logger is too chatty for a cache store

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}

	logger.Debug("badger: opened", slog.String("dir", dir))
	return &DB{db: db, logger: logger}, nil
}

// WithTxn runs fn inside a read-write transaction.
//
// Returns the context error if ctx is already done, and a closed-state
// error if Close was called.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return fmt.Errorf("badger: db is closed")
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return fmt.Errorf("badger: db is closed")
	}
	return d.db.View(fn)
}

// Close closes the underlying database. Idempotent.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}
