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
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes the discovered descriptor for the process lifetime.
//
// # Description
//
// The first Get triggers discovery; concurrent callers arriving before the
// cache is populated share the in-flight pass via singleflight and all
// receive the identical *Descriptor instance. Discovery failures are NOT
// cached — the next Get retries, so a store that comes up late does not
// require a process restart.
//
// # Thread Safety
//
// Safe for concurrent use.
type Cache struct {
	discoverer *Discoverer

	mu     sync.RWMutex
	cached *Descriptor

	group singleflight.Group
}

// NewCache creates a Cache over the given discoverer.
func NewCache(discoverer *Discoverer) *Cache {
	return &Cache{discoverer: discoverer}
}

// Get returns the cached descriptor, running discovery on first call.
//
// # Outputs
//
//   - *Descriptor: The process-wide descriptor. The same pointer for every
//     successful call.
//   - error: Wraps ErrUnavailable if discovery fails. Not cached.
func (c *Cache) Get(ctx context.Context) (*Descriptor, error) {
	c.mu.RLock()
	cached := c.cached
	c.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := c.group.Do("schema", func() (any, error) {
		// Re-check under the group: a previous flight may have populated
		// the cache between our read and Do.
		c.mu.RLock()
		existing := c.cached
		c.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		desc, err := c.discoverer.Discover(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cached = desc
		c.mu.Unlock()
		return desc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Descriptor), nil
}

// Ready reports whether discovery has completed successfully. Used by the
// readiness endpoint to gate query traffic.
func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cached != nil
}
