// config.go: configuration structs for TtlCache and AutoEviction.
//
// Validate normalizes missing optional fields to zero-overhead defaults, but
// fails hard on the handful of values that would otherwise silently
// misbehave.
//
// Copyright (c) 2026 Synclib Authors
// SPDX-License-Identifier: MIT
package corelock

import "time"

// CacheConfig configures a TtlCache.
type CacheConfig struct {
	// MinLife is how long an entry must go unaccessed before DeleteOld may
	// evict it. Must be >= 0; zero means entries are eligible for eviction
	// as soon as they are built.
	MinLife time.Duration

	// TimeSource provides the current time. Defaults to DefaultTimeSource.
	TimeSource TimeSource

	// Logger receives diagnostic events. Defaults to NoOpLogger.
	Logger Logger

	// Metrics receives operation counters. Defaults to NoOpMetricsCollector.
	Metrics MetricsCollector
}

// Validate normalizes unset optional fields to their defaults and rejects a
// negative MinLife, which has no sensible interpretation.
func (c *CacheConfig) Validate() error {
	if c.MinLife < 0 {
		return NewErrInvalidArgument("MinLife", c.MinLife)
	}
	if c.TimeSource == nil {
		c.TimeSource = DefaultTimeSource
	}
	if c.Logger == nil {
		c.Logger = NoOpLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NoOpMetricsCollector{}
	}
	return nil
}

// DefaultCacheConfig returns a CacheConfig with every optional field
// defaulted and MinLife zero (entries are evictable as soon as built).
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TimeSource: DefaultTimeSource,
		Logger:     NoOpLogger{},
		Metrics:    NoOpMetricsCollector{},
	}
}

// AsyncLockConfig configures an AsyncLock.
type AsyncLockConfig struct {
	// ReuseReceipts lets synchronous grants/denials return one of two
	// singleton Receipts instead of allocating. See Receipt's doc comment
	// for the aliasing hazard this trades for.
	ReuseReceipts bool

	// Logger receives diagnostic events. Defaults to NoOpLogger.
	Logger Logger

	// Metrics receives grant/contention/timeout counters. Defaults to
	// NoOpMetricsCollector.
	Metrics MetricsCollector
}

// Validate normalizes unset optional fields to their defaults. AsyncLockConfig
// has no field that can be invalid, so this never returns an error; it exists
// for symmetry with CacheConfig.Validate.
func (c *AsyncLockConfig) Validate() error {
	if c.Logger == nil {
		c.Logger = NoOpLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NoOpMetricsCollector{}
	}
	return nil
}

// AutoEvictionConfig configures an AutoEviction wrapper.
type AutoEvictionConfig struct {
	// Interval is how often DeleteOld runs while the cache is non-empty.
	// Must be > 0.
	Interval time.Duration
}

// Validate rejects a non-positive Interval.
func (c *AutoEvictionConfig) Validate() error {
	if c.Interval <= 0 {
		return NewErrInvalidArgument("Interval", c.Interval)
	}
	return nil
}
