// Copyright 2001-2004 Jakub Jermar. Go rendition Copyright 2024.
// Use of this source code is governed by a BSD-style license.

package waitq

import "github.com/helion-kernel/kcore/sched"

// Mutex is, per spec.md §3.4, a semaphore with count 1: exactly one holder
// at a time, no recursion.
type Mutex struct {
	sem *Semaphore
}

// NewMutex creates an unlocked mutex.
func NewMutex(s *sched.Scheduler) *Mutex {
	return &Mutex{sem: NewSemaphore(s, 1)}
}

// Lock blocks indefinitely until the mutex is acquired.
func (m *Mutex) Lock(h *sched.Handle) { m.sem.Down(h, 0, false) }

// TryLock acquires the mutex only if it is immediately available.
func (m *Mutex) TryLock(h *sched.Handle) bool {
	return m.sem.Down(h, 0, true) == OKAtomic
}

// LockTimeout blocks for at most usec microseconds.
func (m *Mutex) LockTimeout(h *sched.Handle, usec uint64) Result {
	return m.sem.Down(h, usec, false)
}

// AcquireFull is the fully general acquire, exposing both the timeout and
// non-blocking flags the source's mutex_lock accepts together. It exists
// for package rwlock, which must pass a caller-supplied non-blocking flag
// through to the inner mutex (spec.md §4.5 read-lock step 5/6).
func (m *Mutex) AcquireFull(h *sched.Handle, usec uint64, nonBlocking bool) Result {
	return m.sem.Down(h, usec, nonBlocking)
}

// Queue exposes the mutex's underlying wait queue. Only package rwlock
// calls this: spec.md §3.4 says the rwlock's inner mutex is there
// precisely so the rwlock "reuses the wait queue" for its own hand-off
// logic, which must peek at and selectively wake specific waiters rather
// than go through the generic Wakeup(First).
func (m *Mutex) Queue() *WaitQueue { return m.sem.wq }

// Unlock releases the mutex. The caller must hold it; unlocking a mutex
// the caller does not hold is the "unlocking a lock not held" bug spec.md
// §7 calls out as a fatal invariant violation. It is not detected here:
// Mutex — like the source's plain mutex_unlock — has no holder-identity
// field to check against, and the rwlock layer does not check it either.
func (m *Mutex) Unlock() { m.sem.Up() }
