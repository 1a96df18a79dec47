// rwspin_test.go: concurrency tests for RWSpinlock, in a goroutine/loop-count
// style rather than an assertion framework.
//
// Copyright (c) 2026 Synclib Authors
// SPDX-License-Identifier: MIT
package corelock

import (
	"sync"
	"testing"
)

// TestRWSpinlockWriteMutualExclusion runs many goroutines updating shared
// counters under write-locked sections and checks a non-atomic
// read-modify-write invariant (a+b==0) inside each section, plus the final
// count; both hold only if writers are serialized.
func TestRWSpinlockWriteMutualExclusion(t *testing.T) {
	var lock RWSpinlock
	var a, b int
	const goroutines = 8
	const iterations = 20000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				var taken bool
				if err := lock.EnterWrite(&taken); err != nil {
					t.Errorf("EnterWrite: %v", err)
					return
				}
				a++
				b--
				if a+b != 0 {
					t.Errorf("invariant a+b==0 violated: a=%d b=%d", a, b)
				}
				if err := lock.ExitWrite(); err != nil {
					t.Errorf("ExitWrite: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if a != goroutines*iterations {
		t.Fatalf("want a=%d, got %d", goroutines*iterations, a)
	}
	if !lock.IsReadable() || !lock.IsWritable() {
		t.Fatalf("lock should be free after all writers exit")
	}
}

// TestRWSpinlockReadersConcurrent checks that multiple readers can hold the
// lock at once (IsWritable observed false while they do) and that
// IsReadable/IsWritable both return true once both have exited (S1 in the spec).
func TestRWSpinlockReadersConcurrent(t *testing.T) {
	var lock RWSpinlock
	var t1, t2 bool
	if err := lock.EnterRead(&t1); err != nil {
		t.Fatal(err)
	}
	if err := lock.EnterRead(&t2); err != nil {
		t.Fatal(err)
	}
	if lock.IsWritable() {
		t.Fatalf("lock should not be writable while readers hold it")
	}
	if err := lock.ExitRead(); err != nil {
		t.Fatal(err)
	}
	t1 = false
	if err := lock.ExitRead(); err != nil {
		t.Fatal(err)
	}
	t2 = false
	if !lock.IsReadable() || !lock.IsWritable() {
		t.Fatalf("lock should be fully free after both readers exit")
	}
}

// TestRWSpinlockWriterExcludesReader checks that a held write lock refuses a
// subsequent TryEnterRead, and that TryEnterWrite succeeds once that writer
// has released the lock.
func TestRWSpinlockWriterExcludesReader(t *testing.T) {
	var lock RWSpinlock
	var wtaken bool
	if err := lock.EnterWrite(&wtaken); err != nil {
		t.Fatal(err)
	}

	var rtaken bool
	if err := lock.TryEnterRead(&rtaken); err != nil {
		t.Fatal(err)
	}
	if rtaken {
		t.Fatalf("TryEnterRead should fail while a writer holds the lock")
	}

	if err := lock.ExitWrite(); err != nil {
		t.Fatal(err)
	}

	var wtaken2 bool
	if err := lock.TryEnterWrite(&wtaken2); err != nil {
		t.Fatal(err)
	}
	if !wtaken2 {
		t.Fatalf("TryEnterWrite should succeed on a free lock")
	}
	if err := lock.ExitWrite(); err != nil {
		t.Fatal(err)
	}
}

// TestRWSpinlockMixedWorkload exercises readers and writers concurrently and
// checks that writer sections are never observed overlapping a reader
// section, using a shared "writer active" flag readers must never see set.
func TestRWSpinlockMixedWorkload(t *testing.T) {
	var lock RWSpinlock
	var writerActive int32
	var wg sync.WaitGroup

	const readers = 6
	const writers = 3
	const iterations = 5000

	wg.Add(readers + writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				var taken bool
				if err := lock.EnterWrite(&taken); err != nil {
					t.Errorf("EnterWrite: %v", err)
					return
				}
				writerActive = 1
				writerActive = 0
				if err := lock.ExitWrite(); err != nil {
					t.Errorf("ExitWrite: %v", err)
					return
				}
			}
		}()
	}
	for i := 0; i < readers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				var taken bool
				if err := lock.EnterRead(&taken); err != nil {
					t.Errorf("EnterRead: %v", err)
					return
				}
				if writerActive != 0 {
					t.Errorf("reader observed writer active")
				}
				if err := lock.ExitRead(); err != nil {
					t.Errorf("ExitRead: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

// TestRWSpinlockExitWithoutEnterFails checks that ExitWrite/ExitRead report
// InvalidReleaseState rather than corrupting the word silently when called
// on a free lock.
func TestRWSpinlockExitWithoutEnterFails(t *testing.T) {
	var lock RWSpinlock
	if err := lock.ExitWrite(); err == nil {
		t.Fatalf("expected InvalidReleaseState from ExitWrite on a free lock")
	}
	if err := lock.ExitRead(); err == nil {
		t.Fatalf("expected InvalidReleaseState from ExitRead on a free lock")
	}
	if !lock.IsReadable() || !lock.IsWritable() {
		t.Fatalf("failed exits should not have perturbed a free lock's readable/writable state")
	}
}

// TestRWSpinlockTakenAlreadySet checks that TryEnterWrite/TryEnterRead report
// LockAlreadyHeld rather than silently double-acquiring when *taken is
// already true on entry.
func TestRWSpinlockTakenAlreadySet(t *testing.T) {
	var lock RWSpinlock
	taken := true
	if err := lock.TryEnterWrite(&taken); err == nil {
		t.Fatalf("expected LockAlreadyHeld")
	}
	if err := lock.TryEnterRead(&taken); err == nil {
		t.Fatalf("expected LockAlreadyHeld")
	}
}
