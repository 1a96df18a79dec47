// cache.go: a concurrent memoizing cache with per-key single-flight builds,
// minimum-lifetime eviction, and LRU trim-to-bound.
//
// One build runs per key regardless of how many callers race to request it;
// errors are cached and replayed verbatim, and a build panic is converted to
// a cached error rather than crashing the caller. This package's own
// OnceFlag serves as each entry's build-completion latch. The map and LRU
// list share this package's RWSpinlock rather than a sync.RWMutex,
// consistent with the rest of the module.
//
// Copyright (c) 2026 Synclib Authors
// SPDX-License-Identifier: MIT
package corelock

import (
	"container/list"
	"runtime"
	"sync/atomic"
	"time"
)

// entry is one cached key/value (or key/error) pair. Exactly one goroutine
// ever builds an entry; every other caller observing the same key waits on
// ready and then reads value/err, which are only ever written before ready
// is set and never afterward.
type entry[K comparable, V any] struct {
	key   K
	value V
	err   error
	ready OnceFlag

	lruElem         *list.Element
	lastAccessNanos int64 // atomic
}

// TtlCache memoizes calls to a build function per key, evicting entries that
// have gone unused for at least MinLife and trimming to a caller-chosen
// bound by least-recently-used order.
//
// The zero value is not usable; construct with NewTtlCache.
type TtlCache[K comparable, V any] struct {
	build   func(K) (V, error)
	minLife time.Duration
	clock   TimeSource
	logger  Logger
	metrics MetricsCollector

	mu RWSpinlock
	m  map[K]*entry[K, V]
	lru *list.List

	deleting        int32 // atomic try-lock: only one DeleteOld runs at a time
	deletionHorizon int64 // atomic unix-nano watermark: the latest horizon any DeleteOld has requested
	inflightBuilds  int32 // atomic count of builds currently running; consulted by DeleteOld's courtesy yield

	hits          uint64
	misses        uint64
	builds        uint64
	buildFailures uint64
	evictions     uint64

	onInsert atomic.Value // stores func(); invoked after a new key is inserted
}

// SetOnInsert registers fn to run every time Get inserts a brand-new entry
// (one not already present under any key). AutoEviction uses this to rearm
// itself once an entry reappears in a cache it had previously found empty
// and disarmed against. At most one callback may be registered; a later call
// replaces the previous one.
func (c *TtlCache[K, V]) SetOnInsert(fn func()) {
	c.onInsert.Store(fn)
}

// CacheStats reports TtlCache performance counters.
type CacheStats struct {
	Hits          uint64
	Misses        uint64
	Builds        uint64
	BuildFailures uint64
	Evictions     uint64
	Size          int
}

// HitRatio returns the hit ratio as a percentage (0-100). It is 0 when no
// Get calls have been made yet.
func (s CacheStats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Stats returns a snapshot of this cache's performance counters.
func (c *TtlCache[K, V]) Stats() CacheStats {
	return CacheStats{
		Hits:          atomic.LoadUint64(&c.hits),
		Misses:        atomic.LoadUint64(&c.misses),
		Builds:        atomic.LoadUint64(&c.builds),
		BuildFailures: atomic.LoadUint64(&c.buildFailures),
		Evictions:     atomic.LoadUint64(&c.evictions),
		Size:          c.Count(),
	}
}

// NewTtlCache constructs a TtlCache that calls build at most once per key
// concurrently, caching whatever it returns (value or error) until the entry
// is evicted or explicitly removed.
func NewTtlCache[K comparable, V any](build func(K) (V, error), cfg CacheConfig) (*TtlCache[K, V], error) {
	if build == nil {
		return nil, NewErrInvalidArgument("build", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &TtlCache[K, V]{
		build:   build,
		minLife: cfg.MinLife,
		clock:   cfg.TimeSource,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		m:       make(map[K]*entry[K, V]),
		lru:     list.New(),
	}, nil
}

func (c *TtlCache[K, V]) rlock() func() {
	var taken bool
	if err := c.mu.EnterRead(&taken); err != nil {
		panic(err)
	}
	return func() {
		if err := c.mu.ExitRead(); err != nil {
			panic(err)
		}
	}
}

func (c *TtlCache[K, V]) wlock() func() {
	var taken bool
	if err := c.mu.EnterWrite(&taken); err != nil {
		panic(err)
	}
	return func() {
		if err := c.mu.ExitWrite(); err != nil {
			panic(err)
		}
	}
}

// Get returns the cached value for key, building it first if this is the
// first request for key (or the first since its last eviction/removal).
// Concurrent callers for the same key share a single build: exactly one of
// them runs build, and every other caller blocks on that call's result,
// success or failure alike. A failing build's error is cached and replayed
// to every caller until the entry is evicted or Remove'd.
func (c *TtlCache[K, V]) Get(key K) (V, error) {
	e, isBuilder := c.getOrInsert(key)
	if isBuilder {
		atomic.AddUint64(&c.misses, 1)
		c.runBuild(e)
	} else {
		atomic.AddUint64(&c.hits, 1)
		e.ready.Wait()
	}

	atomic.StoreInt64(&e.lastAccessNanos, c.clock.Now().UnixNano())
	c.touch(e)

	if e.err != nil {
		var zero V
		return zero, e.err
	}
	return e.value, nil
}

// getOrInsert returns the entry for key, creating and inserting a fresh,
// not-yet-built one if none exists. The bool return reports whether the
// caller is the one responsible for building it.
func (c *TtlCache[K, V]) getOrInsert(key K) (*entry[K, V], bool) {
	unlock := c.rlock()
	e, ok := c.m[key]
	unlock()
	if ok {
		return e, false
	}

	unlock = c.wlock()
	if e, ok = c.m[key]; ok {
		unlock()
		return e, false
	}
	e = &entry[K, V]{key: key}
	e.lruElem = c.lru.PushBack(e)
	c.m[key] = e
	unlock()

	if hook := c.onInsert.Load(); hook != nil {
		hook.(func())()
	}
	return e, true
}

func (c *TtlCache[K, V]) runBuild(e *entry[K, V]) {
	atomic.AddInt32(&c.inflightBuilds, 1)
	defer atomic.AddInt32(&c.inflightBuilds, -1)
	defer func() {
		if r := recover(); r != nil {
			e.err = NewErrPanicRecovered(e.key, r)
			c.logger.Warn("build panicked", "panic", r)
			atomic.AddUint64(&c.buildFailures, 1)
			c.metrics.RecordBuild(false)
		}
		e.ready.Set()
	}()

	v, err := c.build(e.key)
	if err != nil {
		e.err = NewErrBuildFailure(e.key, err)
		atomic.AddUint64(&c.buildFailures, 1)
		c.metrics.RecordBuild(false)
		return
	}
	e.value = v
	atomic.AddUint64(&c.builds, 1)
	c.metrics.RecordBuild(true)
}

// touch moves e to the most-recently-used end of the LRU list. It is a
// separate, short write-locked step from the (possibly long) build itself so
// that a slow build never holds the map lock.
func (c *TtlCache[K, V]) touch(e *entry[K, V]) {
	unlock := c.wlock()
	defer unlock()
	if e.lruElem != nil {
		c.lru.MoveToBack(e.lruElem)
	}
}

// Remove evicts key immediately, regardless of MinLife, and reports whether
// it was present. A build already in flight for key is unaffected: its
// result is simply discarded once it completes, since no entry remains in
// the map to receive it and a later Get for the same key starts a fresh
// build.
func (c *TtlCache[K, V]) Remove(key K) bool {
	unlock := c.wlock()
	e, ok := c.m[key]
	if ok {
		delete(c.m, key)
		c.lru.Remove(e.lruElem)
	}
	unlock()
	if ok {
		atomic.AddUint64(&c.evictions, 1)
		c.metrics.RecordEviction()
	}
	return ok
}

// Count returns the number of entries currently cached, including any still
// in the process of building.
func (c *TtlCache[K, V]) Count() int {
	unlock := c.rlock()
	defer unlock()
	return len(c.m)
}

// deleteOldBatch caps how much of the LRU list DeleteOld walks before
// considering a yield, so a large eviction run doesn't hold the write lock
// continuously and starve concurrent accessors.
const deleteOldBatch = 32

// DeleteOld evicts every entry whose last access is at least MinLife in the
// past, walking the LRU list from its least-recently-used end and stopping
// at the first entry that is still within MinLife (everything after it, by
// LRU order, is even more recently used) or whose build is still in flight.
// It returns the number of entries removed.
//
// Only one DeleteOld (or AutoEviction-driven DeleteOld) runs at a time; a
// call that finds one already running raises the shared deletion horizon to
// its own and returns 0 immediately rather than blocking. The running sweep
// re-reads that horizon before it finishes and keeps evicting up to it.
func (c *TtlCache[K, V]) DeleteOld() int {
	target := c.clock.Now().Add(-c.minLife).UnixNano()
	for {
		cur := atomic.LoadInt64(&c.deletionHorizon)
		if target <= cur || atomic.CompareAndSwapInt64(&c.deletionHorizon, cur, target) {
			break
		}
	}
	if !atomic.CompareAndSwapInt32(&c.deleting, 0, 1) {
		return 0
	}
	defer atomic.StoreInt32(&c.deleting, 0)

	removed := 0
	for {
		horizon := atomic.LoadInt64(&c.deletionHorizon)
		n := c.deleteOldOnce(horizon)
		removed += n
		if n < deleteOldBatch && atomic.LoadInt64(&c.deletionHorizon) == horizon {
			return removed
		}
		// Only yield between batches when builds are actually contending for
		// the lock; an idle cache has no one to yield to.
		if atomic.LoadInt32(&c.inflightBuilds) > 0 {
			runtime.Gosched()
		}
	}
}

func (c *TtlCache[K, V]) deleteOldOnce(horizon int64) int {
	unlock := c.wlock()
	defer unlock()

	n := 0
	elem := c.lru.Front()
	for elem != nil && n < deleteOldBatch {
		e := elem.Value.(*entry[K, V])
		if !e.ready.IsSet() {
			break
		}
		if atomic.LoadInt64(&e.lastAccessNanos) > horizon {
			break
		}
		next := elem.Next()
		c.lru.Remove(elem)
		delete(c.m, e.key)
		elem = next
		n++
		atomic.AddUint64(&c.evictions, 1)
		c.metrics.RecordEviction()
	}
	return n
}

// TrimTo evicts least-recently-used entries, ignoring MinLife, until at most
// maxEntries remain, then runs DeleteOld so anything left over that has
// already aged past MinLife is swept too. It returns the total number of
// entries removed by both phases. A negative maxEntries is treated as zero.
//
// Unlike DeleteOld, the size-bound phase does not skip an entry whose build
// is still in flight if that entry is the least recently used; as with
// Remove, the in-flight build simply completes into an entry the map no
// longer holds.
func (c *TtlCache[K, V]) TrimTo(maxEntries int) int {
	if maxEntries < 0 {
		maxEntries = 0
	}
	removed := 0
	for {
		unlock := c.wlock()
		if len(c.m) <= maxEntries {
			unlock()
			break
		}
		elem := c.lru.Front()
		e := elem.Value.(*entry[K, V])
		c.lru.Remove(elem)
		delete(c.m, e.key)
		unlock()
		removed++
		atomic.AddUint64(&c.evictions, 1)
		c.metrics.RecordEviction()
	}
	removed += c.DeleteOld()
	return removed
}
