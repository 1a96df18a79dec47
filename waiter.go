// waiter.go: the doubly-linked waiter list and pooled waiter struct shared by
// AsyncLock's FIFO queue and its deadline heap.
//
// A waiter carries a Receipt to complete and a heap index (for
// deadlineheap.go), and records which of several outcomes (granted
// true/false, canceled, timed out, disposed) it was resolved with. The free
// list itself is guarded by a hand-rolled spin-test-and-set uint32, which is
// fine since it is only ever held for a handful of pointer writes.
//
// Copyright (c) 2026 Synclib Authors
// SPDX-License-Identifier: MIT
package corelock

import (
	"sync/atomic"
	"time"
)

// A dll represents a doubly-linked list of waiters.
type dll struct {
	next *dll
	prev *dll
	elem *waiter // points to the waiter struct this dll struct is embedded in, or nil if none.
}

// MakeEmpty makes list *l empty.
// Requires that *l is currently not part of a non-empty list.
func (l *dll) MakeEmpty() {
	l.next = l
	l.prev = l
}

// IsEmpty reports whether list *l is empty.
// Requires that *l is currently part of a list, or the zero dll element.
func (l *dll) IsEmpty() bool {
	return l.next == l
}

// InsertAfter inserts element *e into the list after position *p.
// Requires that *e is currently not part of a list and that *p is part of a list.
func (e *dll) InsertAfter(p *dll) {
	e.next = p.next
	e.prev = p
	e.next.prev = e
	e.prev.next = e
}

// Remove removes *e from the list it is currently in.
// Requires that *e is currently part of a list.
func (e *dll) Remove() {
	e.next.prev = e.prev
	e.prev.next = e.next
}

// waiterOutcome records why a waiter stopped waiting.
type waiterOutcome int32

const (
	outcomePending waiterOutcome = iota
	outcomeGrantedTrue
	outcomeGrantedFalse
	outcomeCanceled
	outcomeTimedOut
	outcomeDisposed
)

// A waiter represents a single request queued on an AsyncLock.
//
// To queue: allocate *w with newWaiter(), link w.receipt to a fresh Receipt,
// queue w.q on the lock's waiter list, and, if it has a deadline, push it onto
// the lock's deadlineHeap (which maintains w.heapIndex).
//
// To resolve: CAS w.outcome from outcomePending to the terminal outcome,
// detach *w from whatever queues still hold it (whether or not the CAS won),
// and, only if the CAS won, complete w.receipt.
//
// Return *w to the pool with freeWaiter(w) once w.receipt has been completed
// and nothing still references w.
type waiter struct {
	q       dll      // Doubly-linked list element for the AsyncLock FIFO queue.
	receipt *Receipt // The Receipt this waiter will eventually complete.

	deadline  time.Time // Absolute deadline; NoDeadline if none.
	heapIndex int       // Index into deadlineHeap, or -1 if not in the heap.

	outcome waiterOutcome // Read/written atomically; outcomePending while queued.
}

var freeWaiters dll      // freeWaiters is a doubly-linked list of free waiter structs.
var freeWaitersMu uint32 // spinlock protects freeWaiters

// newWaiter returns a pointer to an unused waiter struct, resetting its
// reusable fields.
func newWaiter() (w *waiter) {
	spinTestAndSet(&freeWaitersMu)
	if freeWaiters.next == nil { // first time through, initialize the free list.
		freeWaiters.MakeEmpty()
	}
	if !freeWaiters.IsEmpty() { // If free list is non-empty, dequeue an item.
		q := freeWaiters.next
		q.Remove()
		w = q.elem
	}
	atomic.StoreUint32(&freeWaitersMu, 0) // release store
	if w == nil {                         // If free list was empty, allocate an item.
		w = new(waiter)
		w.q.elem = w
	}
	w.receipt = nil
	w.deadline = NoDeadline
	w.heapIndex = -1
	atomic.StoreInt32((*int32)(&w.outcome), int32(outcomePending))
	return w
}

// freeWaiter returns an unused waiter struct *w to the free pool.
func freeWaiter(w *waiter) {
	spinTestAndSet(&freeWaitersMu)
	w.q.InsertAfter(&freeWaiters)
	atomic.StoreUint32(&freeWaitersMu, 0) // release store
}

// spinTestAndSet spins until it atomically swaps *addr from 0 to 1, a
// trivial spinlock for the tiny free-list critical sections above.
func spinTestAndSet(addr *uint32) {
	var attempts uint
	for !atomic.CompareAndSwapUint32(addr, 0, 1) {
		attempts = spinDelay(attempts)
	}
}
