// autoevict.go: a self-arming/self-disarming periodic DeleteOld driver.
//
// Rather than running a cleanup sweep unconditionally on a fixed ticker for
// as long as the cache exists, this arms a timer only while the cache is
// non-empty and disarms it the moment a sweep empties the cache, rearming on
// the next Touch: a single reused *time.Timer whose callback runs the sweep.
//
// Copyright (c) 2026 Synclib Authors
// SPDX-License-Identifier: MIT
package corelock

import (
	"sync"
	"time"
)

// AutoEviction periodically calls DeleteOld on a TtlCache, but only while the
// cache holds at least one entry. It arms its timer on construction and on
// every Touch call made while disarmed, and disarms itself whenever a sweep
// leaves the cache empty, so an idle cache causes no timer wakeups.
type AutoEviction[K comparable, V any] struct {
	cache  *TtlCache[K, V]
	cfg    AutoEvictionConfig
	logger Logger

	mu     sync.Mutex
	timer  *time.Timer
	armed  bool
	closed bool
}

// NewAutoEviction starts an AutoEviction driving cache's DeleteOld every cfg
// Interval while cache is non-empty. The caller must call Stop when done.
func NewAutoEviction[K comparable, V any](cache *TtlCache[K, V], cfg AutoEvictionConfig, logger Logger) (*AutoEviction[K, V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = NoOpLogger{}
	}
	a := &AutoEviction[K, V]{cache: cache, cfg: cfg, logger: logger}
	a.mu.Lock()
	a.armLocked()
	a.mu.Unlock()
	cache.SetOnInsert(a.Touch)
	return a, nil
}

// armLocked starts (or restarts) the timer. Caller must hold a.mu.
func (a *AutoEviction[K, V]) armLocked() {
	if a.closed {
		return
	}
	a.armed = true
	if a.timer == nil {
		a.timer = time.AfterFunc(a.cfg.Interval, a.fire)
	} else {
		a.timer.Reset(a.cfg.Interval)
	}
}

func (a *AutoEviction[K, V]) fire() {
	a.cache.DeleteOld()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if a.cache.Count() == 0 {
		a.armed = false
		a.logger.Debug("autoeviction disarmed: cache empty")
		return
	}
	a.timer.Reset(a.cfg.Interval)
}

// Touch rearms the sweep if it had disarmed itself.
func (a *AutoEviction[K, V]) Touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.armed {
		a.armLocked()
	}
}

// Stop permanently halts the background sweep. It is idempotent.
func (a *AutoEviction[K, V]) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
	}
}
