// deadlineheap.go: a min-heap of queued AsyncLock waiters ordered by
// deadline, used to drive the single rescheduled timeout timer.
//
// The distilled design calls for a priority structure over deadlines
// ("deadlineIndex") but excludes the linked binary heap it was originally
// built on as an external collaborator out of scope for this core; the
// standard library's container/heap is the natural substitute, so
// deadlineHeap is the textbook container/heap.Interface implementation over
// a []*waiter slice.
//
// Copyright (c) 2026 Synclib Authors
// SPDX-License-Identifier: MIT
package corelock

// deadlineHeap is a container/heap.Interface ordering *waiter by deadline,
// earliest first. Every element's heapIndex is kept in sync with its slice
// position so a waiter can be removed in O(log n) given only its own
// pointer, by container/heap.Remove(h, w.heapIndex).
type deadlineHeap []*waiter

func (h deadlineHeap) Len() int { return len(h) }

func (h deadlineHeap) Less(i, j int) bool {
	return h[i].deadline.Before(h[j].deadline)
}

func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *deadlineHeap) Push(x interface{}) {
	w := x.(*waiter)
	w.heapIndex = len(*h)
	*h = append(*h, w)
}

func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.heapIndex = -1
	*h = old[:n-1]
	return w
}
