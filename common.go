// common.go: shared spinloop backoff helpers used by RWSpinlock and AsyncLock.
//
// Copyright (c) 2026 Synclib Authors
// SPDX-License-Identifier: MIT

package corelock

import (
	"math"
	"runtime"
	"time"
)

// NoDeadline represents a point in time far enough in the future that it
// is never reached in practice. AsyncLock treats a Waiter with this
// deadline as having no timeout.
var NoDeadline time.Time

func init() {
	NoDeadline = time.Now().Add(time.Duration(math.MaxInt64)).Add(time.Duration(math.MaxInt64))
}

// spinDelay is called in spinloops to delay resumption of the loop. The
// first few attempts busy-wait for an exponentially growing number of
// iterations; beyond that the calling goroutine yields to the scheduler.
// Usage:
//
//	var attempts uint
//	for tryingSomething {
//	    attempts = spinDelay(attempts)
//	}
func spinDelay(attempts uint) uint {
	if attempts < 7 {
		for i := 0; i != 1<<attempts; i++ {
		}
		attempts++
	} else {
		runtime.Gosched()
	}
	return attempts
}
