// cache_test.go: behavioral tests for TtlCache.
//
// Copyright (c) 2026 Synclib Authors
// SPDX-License-Identifier: MIT
package corelock

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a TimeSource under direct test control.
type fakeClock struct {
	now atomic.Int64 // unix nano
}

func newFakeClock(t time.Time) *fakeClock {
	c := &fakeClock{}
	c.now.Store(t.UnixNano())
	return c
}

func (c *fakeClock) Now() time.Time { return time.Unix(0, c.now.Load()) }
func (c *fakeClock) Advance(d time.Duration) {
	c.now.Add(int64(d))
}

// TestTtlCacheSingleFlight is scenario S4's single-flight half: N concurrent
// Get calls for the same key observe exactly one build invocation.
func TestTtlCacheSingleFlight(t *testing.T) {
	var calls int32
	block := make(chan struct{})
	cache, err := NewTtlCache(func(key int) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-block
		return fmt.Sprintf("v%d", key), nil
	}, DefaultCacheConfig())
	if err != nil {
		t.Fatalf("NewTtlCache: %v", err)
	}

	const n = 32
	results := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			v, err := cache.Get(7)
			results[i] = v
			errs[i] = err
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(block)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("want exactly 1 build call, got %d", got)
	}
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error %v", i, errs[i])
		}
		if results[i] != "v7" {
			t.Fatalf("caller %d: want v7, got %q", i, results[i])
		}
	}
}

// TestTtlCacheDeleteOldRespectsMinLife is scenario S4's eviction half: an
// entry younger than MinLife survives DeleteOld, and is evicted once the
// clock advances past it.
func TestTtlCacheDeleteOldRespectsMinLife(t *testing.T) {
	clock := newFakeClock(time.Unix(1000, 0))
	cfg := DefaultCacheConfig()
	cfg.MinLife = 300 * time.Millisecond
	cfg.TimeSource = clock
	cache, err := NewTtlCache(func(key string) (int, error) {
		return len(key), nil
	}, cfg)
	if err != nil {
		t.Fatalf("NewTtlCache: %v", err)
	}

	if _, err := cache.Get("alpha"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if n := cache.DeleteOld(); n != 0 {
		t.Fatalf("fresh entry should survive DeleteOld, removed %d", n)
	}
	if cache.Count() != 1 {
		t.Fatalf("entry should still be present")
	}

	clock.Advance(310 * time.Millisecond)
	if n := cache.DeleteOld(); n != 1 {
		t.Fatalf("aged entry should be evicted, removed %d", n)
	}
	if cache.Count() != 0 {
		t.Fatalf("cache should be empty after eviction")
	}
}

// TestTtlCacheErrorCachingAndRemove is scenario S5: a failing build caches
// its error for subsequent callers, and Remove lets a later Get rebuild.
func TestTtlCacheErrorCachingAndRemove(t *testing.T) {
	var calls int32
	fail := true
	cache, err := NewTtlCache(func(key string) (int, error) {
		atomic.AddInt32(&calls, 1)
		if fail {
			return 0, fmt.Errorf("boom")
		}
		return 42, nil
	}, DefaultCacheConfig())
	if err != nil {
		t.Fatalf("NewTtlCache: %v", err)
	}

	if _, err := cache.Get("k"); err == nil {
		t.Fatalf("expected a cached build failure")
	}
	if _, err := cache.Get("k"); err == nil || !IsBuildFailure(err) {
		t.Fatalf("second Get should replay the cached BuildFailure, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("want exactly 1 build call before Remove, got %d", got)
	}

	if !cache.Remove("k") {
		t.Fatalf("Remove should report the key was present")
	}
	fail = false
	v, err := cache.Get("k")
	if err != nil {
		t.Fatalf("Get after Remove should rebuild successfully: %v", err)
	}
	if v != 42 {
		t.Fatalf("want 42, got %d", v)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("want exactly 2 build calls total, got %d", got)
	}
}

// TestTtlCacheTrimToLRU is scenario S6: TrimTo evicts by strict
// least-recently-used order, independent of MinLife.
func TestTtlCacheTrimToLRU(t *testing.T) {
	clock := newFakeClock(time.Unix(2000, 0))
	cfg := DefaultCacheConfig()
	cfg.TimeSource = clock
	// MinLife comfortably outlasts the whole fill loop below, so the
	// DeleteOld pass TrimTo now runs afterward is a no-op for survivors:
	// this test is purely about TrimTo's LRU selection.
	cfg.MinLife = time.Hour
	cache, err := NewTtlCache(func(key int) (int, error) {
		return key, nil
	}, cfg)
	if err != nil {
		t.Fatalf("NewTtlCache: %v", err)
	}

	const total = 100
	for i := 0; i < total; i++ {
		if _, err := cache.Get(i); err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		clock.Advance(time.Millisecond)
	}

	const keep = 60
	removed := cache.TrimTo(keep)
	if removed != total-keep {
		t.Fatalf("want %d removed, got %d", total-keep, removed)
	}
	if cache.Count() != keep {
		t.Fatalf("want %d remaining, got %d", keep, cache.Count())
	}

	// The most recently used `keep` keys (the last ones touched) must
	// survive; the earliest ones must be gone.
	for i := 0; i < total-keep; i++ {
		if cache.Remove(i) {
			t.Fatalf("key %d should already have been trimmed", i)
		}
	}
	for i := total - keep; i < total; i++ {
		if !cache.Remove(i) {
			t.Fatalf("key %d should have survived the trim", i)
		}
	}
}

// TestTtlCachePanicRecovered checks that a panicking build is converted into
// a cached error rather than crashing the caller's goroutine.
func TestTtlCachePanicRecovered(t *testing.T) {
	cache, err := NewTtlCache(func(key string) (int, error) {
		panic("build exploded")
	}, DefaultCacheConfig())
	if err != nil {
		t.Fatalf("NewTtlCache: %v", err)
	}

	_, err = cache.Get("k")
	if err == nil {
		t.Fatalf("expected an error from the recovered panic")
	}

	_, err = cache.Get("k")
	if err == nil {
		t.Fatalf("expected the cached panic-derived error to replay")
	}
}

func TestTtlCacheStats(t *testing.T) {
	fail := true
	cache, err := NewTtlCache(func(key int) (int, error) {
		if fail {
			return 0, fmt.Errorf("boom")
		}
		return key, nil
	}, DefaultCacheConfig())
	if err != nil {
		t.Fatalf("NewTtlCache: %v", err)
	}

	cache.Get(1) // miss, build failure
	cache.Get(1) // hit, replays cached failure
	fail = false
	cache.Get(2) // miss, successful build
	cache.Get(2) // hit
	cache.Remove(2)

	stats := cache.Stats()
	if stats.Misses != 2 {
		t.Fatalf("want 2 misses, got %d", stats.Misses)
	}
	if stats.Hits != 2 {
		t.Fatalf("want 2 hits, got %d", stats.Hits)
	}
	if stats.Builds != 1 {
		t.Fatalf("want 1 successful build, got %d", stats.Builds)
	}
	if stats.BuildFailures != 1 {
		t.Fatalf("want 1 build failure, got %d", stats.BuildFailures)
	}
	if stats.Evictions != 1 {
		t.Fatalf("want 1 eviction, got %d", stats.Evictions)
	}
	if stats.Size != 1 {
		t.Fatalf("want size 1, got %d", stats.Size)
	}
	if got := stats.HitRatio(); got != 50 {
		t.Fatalf("want hit ratio 50, got %v", got)
	}
}

func TestTtlCacheInvalidConfig(t *testing.T) {
	cfg := DefaultCacheConfig()
	cfg.MinLife = -time.Second
	if _, err := NewTtlCache(func(k int) (int, error) { return k, nil }, cfg); err == nil {
		t.Fatalf("expected NewTtlCache to reject a negative MinLife")
	}

	if _, err := NewTtlCache[int, int](nil, DefaultCacheConfig()); err == nil {
		t.Fatalf("expected NewTtlCache to reject a nil build function")
	}
}
