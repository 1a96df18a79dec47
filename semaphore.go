// semaphore.go: a binary semaphore that blocks a goroutine on a channel
// rather than an OS primitive. No other type in this package uses it:
// OnceFlag closes a channel of its own, and AsyncLock waiters resolve
// through their Receipt's done channel.
//
// A single-slot buffered channel: V() is a non-blocking best-effort send,
// P() a blocking receive, and PWithDeadline a select over the channel, a
// *time.Timer, and a context.Done() channel.
//
// Copyright (c) 2026 Synclib Authors
// SPDX-License-Identifier: MIT
package corelock

import "time"

// semaphore is a binary semaphore: its count is always 0 or 1.
type semaphore struct {
	ch chan struct{}
}

// waitOutcome is the result of a deadline/cancellation-aware wait.
type waitOutcome int

const (
	waitOK waitOutcome = iota
	waitExpired
	waitCanceled
)

// newSemaphore returns an initialized semaphore with count 0.
func newSemaphore() *semaphore {
	return &semaphore{ch: make(chan struct{}, 1)}
}

// P blocks until the semaphore's count is 1, then decrements it to 0.
func (s *semaphore) P() {
	<-s.ch
}

// PWithDeadline blocks until one of: the semaphore count becomes 1 (consumed,
// waitOK returned); deadlineTimer fires (waitExpired); or cancelChan becomes
// readable or closed (waitCanceled).  A nil deadlineTimer means no deadline; a
// nil cancelChan means no cancellation.
func (s *semaphore) PWithDeadline(deadlineTimer *time.Timer, cancelChan <-chan struct{}) waitOutcome {
	var deadlineChan <-chan time.Time
	if deadlineTimer != nil {
		deadlineChan = deadlineTimer.C
	}
	if deadlineTimer == nil && cancelChan == nil {
		<-s.ch
		return waitOK
	}
	select {
	case <-s.ch:
		return waitOK
	case <-deadlineChan:
		return waitExpired
	case <-cancelChan:
		return waitCanceled
	}
}

// V ensures the semaphore's count is 1; it never blocks.
func (s *semaphore) V() {
	select {
	case s.ch <- struct{}{}:
	default: // count is already 1
	}
}
