// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMissThenPutThenHit(t *testing.T) {
	c := New(Options{MaxEntries: 4})
	_, ok := c.Get("k1")
	assert.False(t, ok)

	c.Put("k1", "v1")
	v, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(Options{MaxEntries: 2})
	c.Put("k1", 1)
	c.Put("k2", 2)
	_, _ = c.Get("k1") // touch k1 so k2 is least recently used
	c.Put("k3", 3)

	_, ok := c.Get("k2")
	assert.False(t, ok, "k2 should have been evicted")
	_, ok = c.Get("k1")
	assert.True(t, ok)
	_, ok = c.Get("k3")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	c := New(Options{MaxEntries: 4, TTL: 10 * time.Millisecond})
	c.Put("k1", "v1")
	_, ok := c.Get("k1")
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = c.Get("k1")
	assert.False(t, ok)
}

func TestInvalidateAndInvalidatePrefix(t *testing.T) {
	c := New(Options{MaxEntries: 10})
	c.Put("sys:1:comp:a", 1)
	c.Put("sys:1:comp:b", 2)
	c.Put("sys:2:comp:a", 3)

	c.Invalidate("sys:1:comp:a")
	_, ok := c.Get("sys:1:comp:a")
	assert.False(t, ok)

	c.InvalidatePrefix("sys:1:")
	_, ok = c.Get("sys:1:comp:b")
	assert.False(t, ok)
	_, ok = c.Get("sys:2:comp:a")
	assert.True(t, ok)
}

func TestGetOrBuildDedupsConcurrentMisses(t *testing.T) {
	c := New(Options{MaxEntries: 10})
	var calls atomic.Int32
	var wg sync.WaitGroup
	results := make([]any, 8)
	for i := range results {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			v, err := c.GetOrBuild("shared", func() (any, error) {
				calls.Add(1)
				time.Sleep(10 * time.Millisecond)
				return "built", nil
			})
			require.NoError(t, err)
			results[idx] = v
		}(i)
	}
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, "built", v)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestClearRemovesAllEntries(t *testing.T) {
	c := New(Options{MaxEntries: 10})
	c.Put("k1", 1)
	c.Put("k2", 2)
	c.Clear()
	assert.Equal(t, 0, c.Stats().Size)
}
