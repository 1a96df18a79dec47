// flag.go: a one-shot latch with a lazily-allocated blocking primitive.
//
// No blocking primitive is allocated until some goroutine actually needs to
// block. OnceFlag only ever needs to wake *everyone* exactly once, which a
// closed channel gives for free, so its event is a lazily-allocated channel
// closed by Set, rather than this package's single-release semaphore
// (semaphore.go), which wakes only one waiter per release.
//
// Copyright (c) 2026 Synclib Authors
// SPDX-License-Identifier: MIT
package corelock

import (
	"sync/atomic"
)

// gate is the lazily-allocated blocking primitive behind OnceFlag. Closing
// ch wakes every goroutine currently blocked on it, and any future receive
// on an already-closed channel returns immediately.
type gate struct {
	ch chan struct{}
}

// OnceFlag is a one-shot latch: it starts unset, and Set makes it
// permanently set. No blocking primitive is allocated until some goroutine
// actually calls Wait before the flag is set; IsSet/Set never allocate one.
//
// The zero value is a valid, unset OnceFlag. OnceFlag cannot be reset.
type OnceFlag struct {
	isSet atomic.Bool
	event atomic.Pointer[gate]
}

// IsSet reports whether Set has been called. It is monotonic: false, then
// permanently true.
func (f *OnceFlag) IsSet() bool {
	return f.isSet.Load()
}

// Set marks the flag as permanently set and wakes every current or future
// Wait call. It is idempotent and safe to call concurrently with itself and
// with Wait.
func (f *OnceFlag) Set() {
	f.isSet.Store(true)
	if g := f.event.Swap(nil); g != nil {
		close(g.ch)
	}
}

// Wait blocks until Set has been called, returning immediately if it
// already has.
func (f *OnceFlag) Wait() {
	for {
		if f.isSet.Load() {
			return
		}
		candidate := &gate{ch: make(chan struct{})}
		if f.event.CompareAndSwap(nil, candidate) {
			// We installed candidate. Set may have already run and found
			// the field nil just before our CAS landed, in which case no
			// one will ever close candidate.ch; detect that and close it
			// ourselves so neither we nor anyone else who finds it hangs.
			if f.isSet.Load() {
				if cur := f.event.Swap(nil); cur != nil {
					close(cur.ch)
				}
				return
			}
			<-candidate.ch
			return
		}
		// Someone else's gate is installed (or was, and Set already
		// cleared it): wait on it if it's still there, otherwise loop to
		// observe isSet on the next iteration.
		if cur := f.event.Load(); cur != nil {
			<-cur.ch
			return
		}
	}
}
