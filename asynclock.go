// asynclock.go: a strictly FIFO, non-blocking mutual-exclusion primitive
// that hands each requester a Receipt future instead of blocking a thread.
//
// Overall shape: a lock-free fast path, a mutex-guarded slow path operating
// on a doubly-linked waiter list, and an Exit that drains one waiter off the
// front of that list. A Receipt carries an identity distinct from
// goroutine identity, so completions can be observed from any goroutine, not
// just the one that called EnterAsync; its deadline/cancellation path is
// built on deadlineheap.go and context.Context, with a single timer armed
// for the nearest deadline rather than one timer per waiter.
//
// A Receipt is this package's idiomatic rendering of a completion handle: a
// struct exposing a close-on-completion channel, so a pending request can be
// keyed by something other than a thread id.
//
// Copyright (c) 2026 Synclib Authors
// SPDX-License-Identifier: MIT
package corelock

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxSpinners    = 4
	spinIterations = 200
)

// Receipt is the handle returned by AsyncLock.EnterAsync/TryEnterAsync. It
// may already be resolved (Done is closed) or still pending a grant,
// cancellation, or timeout.
//
// When an AsyncLock is constructed with reuseReceipts true, a resolved
// Receipt returned synchronously may be one of two singletons shared across
// every caller of that lock; an incomplete Receipt returned from EnterAsync
// is always a fresh object, so its identity is unambiguous while pending.
// Holding onto a resolved singleton Receipt past its Exit and mistaking it
// for a later grant is a caller hazard, not a bug in AsyncLock.
type Receipt struct {
	done    chan struct{}
	granted atomic.Bool
	errVal  atomic.Value // stores error; absent means nil
	w       *waiter      // nil for synchronously-resolved receipts
}

// Done returns a channel that is closed once the Receipt's outcome is
// decided: granted, denied, canceled, timed out, or disposed.
func (r *Receipt) Done() <-chan struct{} {
	return r.done
}

// Granted reports whether the lock was (or will be, once Done closes)
// granted to this Receipt. Its value is only meaningful after Done is
// closed; reading it earlier may observe a stale false.
func (r *Receipt) Granted() bool {
	return r.granted.Load()
}

// Err returns the reason a pending Receipt did not end up granted: a
// canceled or disposed error, or nil for an ordinary timeout/denial or a
// successful grant. Only meaningful after Done is closed.
func (r *Receipt) Err() error {
	if v := r.errVal.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Wait blocks until the Receipt resolves or ctx is done, whichever comes
// first. It does not itself cancel the Receipt's underlying request; a
// caller that wants to give up on a still-pending Receipt must call Exit on
// it.
func (r *Receipt) Wait(ctx context.Context) (bool, error) {
	select {
	case <-r.done:
		return r.granted.Load(), r.Err()
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func newCompletedReceipt(granted bool) *Receipt {
	r := &Receipt{done: make(chan struct{})}
	r.granted.Store(granted)
	close(r.done)
	return r
}

func completeReceipt(r *Receipt, granted bool, err error) {
	if granted {
		r.granted.Store(true)
	}
	if err != nil {
		r.errVal.Store(err)
	}
	close(r.done)
}

// AsyncLock is a fair, suspension-based exclusive lock. Callers never block
// an OS thread waiting for it: EnterAsync returns immediately with a Receipt
// that is either already resolved or will resolve later, in strict FIFO
// order among queued requests.
//
// The zero value is not usable; construct with NewAsyncLock.
type AsyncLock struct {
	reuseReceipts bool
	trueReceipt   *Receipt
	falseReceipt  *Receipt

	holder atomic.Pointer[Receipt]

	// queueCount is the live queue length, except that Exit transiently
	// pins it to -1 while it holds exclusive rights to the fast-exit path.
	queueCount int64
	spinners   int32

	mu           sync.Mutex
	queue        dll
	receiptIndex map[*Receipt]*waiter
	dh           deadlineHeap
	timer        *time.Timer

	clock   TimeSource
	logger  Logger
	metrics MetricsCollector
}

// NewAsyncLock constructs a free AsyncLock from cfg. When cfg.ReuseReceipts is
// true, synchronous grants and denials may return one of two singleton
// Receipts instead of allocating; an incomplete Receipt returned while a
// request is queued is always freshly allocated regardless of this setting.
func NewAsyncLock(cfg AsyncLockConfig) *AsyncLock {
	cfg.Validate()
	l := &AsyncLock{
		reuseReceipts: cfg.ReuseReceipts,
		receiptIndex:  make(map[*Receipt]*waiter),
		clock:         DefaultTimeSource,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}
	l.queue.MakeEmpty()
	if cfg.ReuseReceipts {
		l.trueReceipt = newCompletedReceipt(true)
		l.falseReceipt = newCompletedReceipt(false)
	}
	return l
}

// ReusesReceipts reports whether this lock was constructed with
// reuseReceipts true.
func (l *AsyncLock) ReusesReceipts() bool {
	return l.reuseReceipts
}

// IsHeld reports whether any Receipt currently holds the lock.
func (l *AsyncLock) IsHeld() bool {
	return l.holder.Load() != nil
}

// IsHeldBy reports whether receipt is the current holder.
func (l *AsyncLock) IsHeldBy(receipt *Receipt) bool {
	return l.holder.Load() == receipt
}

func (l *AsyncLock) grantedReceipt() *Receipt {
	if l.reuseReceipts {
		return l.trueReceipt
	}
	return newCompletedReceipt(true)
}

func (l *AsyncLock) deniedReceipt() *Receipt {
	if l.reuseReceipts {
		return l.falseReceipt
	}
	return newCompletedReceipt(false)
}

// tryFastAcquire attempts the lock-free CAS holder: nil -> a granted
// receipt. It never blocks and never touches the queue.
func (l *AsyncLock) tryFastAcquire() (*Receipt, bool) {
	r := l.grantedReceipt()
	if l.holder.CompareAndSwap(nil, r) {
		l.metrics.RecordGrant(0)
		return r, true
	}
	return nil, false
}

// spinAcquire retries the fast CAS for a short bounded time before the
// caller resorts to the queued path, on the theory that most contention
// resolves faster than it would take to construct a waiter and block.
func (l *AsyncLock) spinAcquire() (*Receipt, bool) {
	if atomic.LoadInt64(&l.queueCount) > 0 {
		return nil, false // someone's already queued; don't jump the line
	}
	if atomic.AddInt32(&l.spinners, 1) > maxSpinners {
		atomic.AddInt32(&l.spinners, -1)
		return nil, false
	}
	defer atomic.AddInt32(&l.spinners, -1)
	for i := 0; i < spinIterations; i++ {
		if r, ok := l.tryFastAcquire(); ok {
			return r, true
		}
		for j := 0; j < 16; j++ {
		}
	}
	return nil, false
}

// TryEnterAsync attempts only the lock-free fast path: it never queues and
// never blocks. It returns a granted Receipt and true, or a denied Receipt
// and false.
func (l *AsyncLock) TryEnterAsync() (*Receipt, bool) {
	if r, ok := l.tryFastAcquire(); ok {
		return r, true
	}
	return l.deniedReceipt(), false
}

// EnterAsync requests the lock. It returns immediately: the returned Receipt
// may already be granted, may already be denied (only possible if ctx was
// already done on entry), or may still be pending, in which case the caller
// observes the eventual outcome via Receipt.Wait or Receipt.Done.
//
// If ctx carries a deadline, a still-pending request is timed out at that
// deadline (delivering a denied Receipt, not an error). If ctx is
// subsequently canceled while the request is still pending, the request is
// withdrawn and the Receipt resolves with ctx.Err() via Err().
func (l *AsyncLock) EnterAsync(ctx context.Context) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return l.deniedReceipt(), err
	}
	if r, ok := l.tryFastAcquire(); ok {
		return r, nil
	}
	if r, ok := l.spinAcquire(); ok {
		return r, nil
	}
	l.metrics.RecordContention()
	return l.enqueue(ctx), nil
}

func (l *AsyncLock) enqueue(ctx context.Context) *Receipt {
	l.mu.Lock()
	if l.queue.IsEmpty() {
		if r, ok := l.tryFastAcquire(); ok {
			l.mu.Unlock()
			return r
		}
	}

	w := newWaiter()
	receipt := &Receipt{done: make(chan struct{}), w: w}
	w.receipt = receipt
	if dl, ok := ctx.Deadline(); ok {
		w.deadline = dl
	}

	w.q.InsertAfter(l.queue.prev) // tail: FIFO order, drained from the front
	l.receiptIndex[receipt] = w
	atomic.AddInt64(&l.queueCount, 1)
	if w.deadline != NoDeadline {
		heap.Push(&l.dh, w)
		l.rescheduleTimerLocked()
	}
	l.mu.Unlock()

	if ctx.Done() != nil {
		go l.watchCancellation(ctx, receipt)
	}
	return receipt
}

// watchCancellation bridges ctx's cancellation into the waiter's state
// machine. context.Context has no synchronous callback-registration
// mechanism equivalent to a CancellationToken, so a short-lived goroutine
// per context-bound pending request is the idiomatic translation: it exits
// as soon as either side resolves.
func (l *AsyncLock) watchCancellation(ctx context.Context, receipt *Receipt) {
	select {
	case <-receipt.done:
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			// The deadline is already in the deadline heap; sweepLocked
			// times the request out.
			return
		}
		l.resolveWaiter(receipt.w, outcomeCanceled, false, ctx.Err())
	}
}

// detachLocked removes w from every index it may currently be in, if it has
// not already been removed by a concurrent winner of its outcome CAS. It is
// idempotent: callers that lose the CAS race still call it, to help the
// winner's bookkeeping along whenever they happen to hold mu first.
// Requires l.mu held.
func (l *AsyncLock) detachLocked(w *waiter) {
	if _, present := l.receiptIndex[w.receipt]; !present {
		return
	}
	delete(l.receiptIndex, w.receipt)
	w.q.Remove()
	if w.heapIndex >= 0 {
		heap.Remove(&l.dh, w.heapIndex)
	}
	atomic.AddInt64(&l.queueCount, -1)
}

// resolveWaiter attempts the one-time Pending -> target transition for w and,
// regardless of who wins that race, ensures w is detached from every index.
// Only the actual winner completes w.receipt and returns it to the pool.
func (l *AsyncLock) resolveWaiter(w *waiter, target waiterOutcome, granted bool, err error) {
	won := atomic.CompareAndSwapInt32((*int32)(&w.outcome), int32(outcomePending), int32(target))
	l.mu.Lock()
	l.detachLocked(w)
	l.mu.Unlock()
	if won {
		completeReceipt(w.receipt, granted, err)
		freeWaiter(w)
	}
}

// grantNextLocked scans the queue from the front for the first still-pending
// waiter, grants it the lock, and makes it the new holder. It returns false
// if the queue held no grantable waiter, in which case the lock is left
// unheld. Requires l.mu held.
func (l *AsyncLock) grantNextLocked() bool {
	cursor := l.queue.next
	for cursor != &l.queue {
		w := cursor.elem
		next := cursor.next
		depth := int(atomic.LoadInt64(&l.queueCount)) - 1
		won := atomic.CompareAndSwapInt32((*int32)(&w.outcome), int32(outcomePending), int32(outcomeGrantedTrue))
		l.detachLocked(w)
		if won {
			l.holder.Store(w.receipt)
			completeReceipt(w.receipt, true, nil)
			freeWaiter(w)
			if depth < 0 {
				depth = 0
			}
			l.metrics.RecordGrant(depth)
			return true
		}
		cursor = next
	}
	l.holder.Store(nil)
	return false
}

// Exit releases the lock if receipt currently holds it, or withdraws
// receipt's still-pending request otherwise. It reports whether the lock was
// actually held by receipt (which is what a caller needs to know: true means
// this call actually released the critical section).
func (l *AsyncLock) Exit(receipt *Receipt) bool {
	if atomic.CompareAndSwapInt64(&l.queueCount, 0, -1) {
		if l.holder.Load() == receipt {
			if atomic.CompareAndSwapInt64(&l.queueCount, -1, 0) {
				l.holder.Store(nil)
				return true
			}
			// A concurrent enqueue observed the queue as non-empty and
			// pushed a waiter while this fast-exit held the -1 reservation,
			// so the fast path alone can't release the lock: fall through
			// to the slow path (still holding holder == receipt) to drain
			// that waiter under mu instead of stranding it.
			return l.slowExit(receipt)
		}
		if !atomic.CompareAndSwapInt64(&l.queueCount, -1, 0) {
			return l.slowExit(receipt)
		}
	}
	return l.slowExit(receipt)
}

func (l *AsyncLock) slowExit(receipt *Receipt) bool {
	l.mu.Lock()
	if l.holder.Load() != receipt {
		w, pending := l.receiptIndex[receipt]
		l.mu.Unlock()
		if pending {
			l.resolveWaiter(w, outcomeDisposed, false, NewErrObjectDisposed("Exit"))
		}
		return false
	}
	l.grantNextLocked()
	l.mu.Unlock()
	return true
}

func (l *AsyncLock) rescheduleTimerLocked() {
	if l.dh.Len() == 0 {
		if l.timer != nil {
			l.timer.Stop()
		}
		return
	}
	d := time.Until(l.dh[0].deadline)
	if d < 0 {
		d = 0
	}
	if l.timer == nil {
		l.timer = time.AfterFunc(d, l.onTimerFire)
	} else {
		l.timer.Reset(d)
	}
}

func (l *AsyncLock) onTimerFire() {
	l.mu.Lock()
	l.sweepLocked()
	l.mu.Unlock()
}

// sweepLocked pops every waiter whose deadline has passed off the deadline
// heap and times it out, then rearms the timer for the new earliest
// deadline, if any remain. Requires l.mu held.
func (l *AsyncLock) sweepLocked() {
	now := l.clock.Now()
	for l.dh.Len() > 0 && !l.dh[0].deadline.After(now) {
		w := l.dh[0]
		won := atomic.CompareAndSwapInt32((*int32)(&w.outcome), int32(outcomePending), int32(outcomeTimedOut))
		l.detachLocked(w)
		if won {
			completeReceipt(w.receipt, false, nil)
			freeWaiter(w)
			l.metrics.RecordTimeout()
			l.logger.Debug("async lock waiter timed out")
		}
	}
	l.rescheduleTimerLocked()
}
