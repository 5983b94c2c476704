// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache is the bounded read-through cache fronting both storage
// backends (spec.md §4.1). Adapted from the teacher's
// cache/graph_cache.go: the same container/list LRU and
// golang.org/x/sync/singleflight dedup-on-miss pattern, retargeted from
// whole-graph entries to per-entity entries.
package cache

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// entry is one cached value plus its LRU list element and expiry.
type entry struct {
	key        string
	value      any
	expiresAt  time.Time
	listElem   *list.Element
	sizeBytes  int64
}

// Stats mirrors the teacher's GraphCache stats fields.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// Options configures a Cache.
type Options struct {
	// MaxEntries bounds how many keys are retained before LRU eviction.
	MaxEntries int
	// TTL is the per-entry expiry; zero means entries never expire on
	// their own (still subject to LRU eviction).
	TTL time.Duration
}

// Cache is a bounded LRU guarded by a single mutex, with read-through
// dedup-on-miss.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List
	flight  singleflight.Group
	opts    Options

	hits, misses, evictions int64
}

func New(opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 10_000
	}
	return &Cache{
		entries: make(map[string]*entry),
		lru:     list.New(),
		opts:    opts,
	}
}

// Get returns the cached value for key, if present and unexpired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.isExpired(e) {
		c.misses++
		if ok {
			c.removeLocked(e)
		}
		return nil, false
	}
	c.hits++
	c.lru.MoveToFront(e.listElem)
	return e.value, true
}

// GetOrBuild returns the cached value for key, or calls build exactly once
// across concurrent callers (via singleflight) on a miss, caching the
// result.
func (c *Cache) GetOrBuild(key string, build func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.flight.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := build()
		if err != nil {
			return nil, err
		}
		c.Put(key, v)
		return v, nil
	})
	return v, err
}

// Put inserts or updates key's cached value, evicting the least recently
// used entry if the cache is at capacity.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.value = value
		if c.opts.TTL > 0 {
			e.expiresAt = time.Now().Add(c.opts.TTL)
		}
		c.lru.MoveToFront(e.listElem)
		return
	}
	e := &entry{key: key, value: value}
	if c.opts.TTL > 0 {
		e.expiresAt = time.Now().Add(c.opts.TTL)
	}
	e.listElem = c.lru.PushFront(key)
	c.entries[key] = e
	c.evictIfNeeded()
}

// Invalidate removes key, used on write to the same key (spec.md §4.1).
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// InvalidatePrefix removes every key beginning with prefix, used when an
// adjacency-scan cache entry must be dropped alongside a point entry.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			c.removeLocked(e)
		}
	}
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.lru = list.New()
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Evictions: c.evictions, Size: len(c.entries)}
}

func (c *Cache) isExpired(e *entry) bool {
	return c.opts.TTL > 0 && !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

func (c *Cache) evictIfNeeded() {
	for len(c.entries) > c.opts.MaxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			return
		}
		key := oldest.Value.(string)
		if e, ok := c.entries[key]; ok {
			c.removeLocked(e)
			c.evictions++
		}
	}
}

func (c *Cache) removeLocked(e *entry) {
	c.lru.Remove(e.listElem)
	delete(c.entries, e.key)
}
