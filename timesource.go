// timesource.go: injectable clock used by TtlCache and AsyncLock.
//
// Copyright (c) 2026 Synclib Authors
// SPDX-License-Identifier: MIT
package corelock

import (
	"time"

	timecache "github.com/agilira/go-timecache"
)

// TimeSource provides the current time. TtlCache uses it to stamp last-access
// times and compute eviction horizons; AsyncLock's deadline sweep uses
// DefaultTimeSource to decide which queued deadlines have passed. Tests
// inject a fake TimeSource into TtlCache (through CacheConfig) to make
// minimum-lifetime behavior deterministic.
type TimeSource interface {
	Now() time.Time
}

// systemTimeSource is the default TimeSource. It reads from go-timecache's
// background-refreshed clock rather than calling time.Now() on every access,
// trading a bounded staleness window for avoiding a syscall per access.
type systemTimeSource struct{}

func (systemTimeSource) Now() time.Time {
	return time.Unix(0, timecache.CachedTimeNano())
}

// DefaultTimeSource is the TimeSource used when a Config leaves TimeSource nil.
var DefaultTimeSource TimeSource = systemTimeSource{}
