// Copyright 2001-2004 Jakub Jermar. Go rendition Copyright 2024.
// Use of this source code is governed by a BSD-style license.

// Package rwlock implements spec.md §4.5: a reader/writer lock with direct
// hand-off between a releaser and the waiters it chooses, built on top of
// package waitq's Mutex exactly as the source layers rwlock.c over an
// internal mutex — "from which it reuses the wait queue."
package rwlock

import (
	"github.com/helion-kernel/kcore/kthread"
	"github.com/helion-kernel/kcore/sched"
	"github.com/helion-kernel/kcore/spinlock"
	"github.com/helion-kernel/kcore/waitq"
)

// RWLock is spec.md §3.4's rwlock: a spinlock guarding readersIn, and an
// inner mutex whose wait queue doubles as the rwlock's own.
type RWLock struct {
	lock      spinlock.SpinLock
	exclusive *waitq.Mutex
	readersIn int64
}

// New creates an unlocked rwlock.
func New(s *sched.Scheduler) *RWLock {
	return &RWLock{exclusive: waitq.NewMutex(s)}
}

// WriteLock blocks indefinitely until this thread holds the lock
// exclusively.
func (rw *RWLock) WriteLock(h *sched.Handle) { rw.WriteLockTimeout(h, 0) }

// WriteLockTimeout implements the write-lock protocol (spec.md §4.5).
func (rw *RWLock) WriteLockTimeout(h *sched.Handle, usec uint64) waitq.Result {
	t := h.Thread()
	t.Lock()
	t.SetRWHolderKindLocked(kthread.RWHolderWriter)
	t.Unlock()

	res := rw.exclusive.LockTimeout(h, usec)
	if res == waitq.Timeout {
		rw.lock.Lock()
		if rw.readersIn > 0 {
			rw.letOthersIn(true)
		}
		rw.lock.Unlock()
	}
	return res
}

// WriteUnlock releases a lock held exclusively by this thread, per the
// unlock/hand-off protocol of spec.md §4.5.
func (rw *RWLock) WriteUnlock() {
	rw.lock.Lock()
	rw.letOthersIn(false)
	rw.lock.Unlock()
}

// ReadLock blocks indefinitely until this thread holds a shared read lock.
func (rw *RWLock) ReadLock(h *sched.Handle) waitq.Result {
	return rw.readLock(h, 0, false)
}

// ReadLockTimeout bounds how long ReadLock may block.
func (rw *RWLock) ReadLockTimeout(h *sched.Handle, usec uint64) waitq.Result {
	return rw.readLock(h, usec, false)
}

// TryReadLock acquires a read lock only if it is immediately available.
func (rw *RWLock) TryReadLock(h *sched.Handle) bool {
	return rw.readLock(h, 0, true) == waitq.OKAtomic
}

// readLock implements the read-lock protocol (spec.md §4.5 steps 1-6).
func (rw *RWLock) readLock(h *sched.Handle, usec uint64, nonBlocking bool) waitq.Result {
	t := h.Thread()
	t.Lock()
	t.SetRWHolderKindLocked(kthread.RWHolderReader)
	t.Unlock()

	rw.lock.Lock()

	if rw.exclusive.TryLock(h) {
		rw.readersIn++
		rw.lock.Unlock()
		return waitq.OKAtomic
	}

	if rw.readersIn > 0 && rw.exclusive.Queue().Empty() {
		// Mutex is held on behalf of the reader group and no writer is
		// queued ahead of us: join directly, no blocking needed.
		rw.readersIn++
		rw.lock.Unlock()
		return waitq.OKAtomic
	}

	// Must block. Register the deferred callback that releases rw.lock
	// only once this thread is safely enqueued on the mutex's wait queue
	// (spec.md §4.2's deferred-unlock hook) — the same problem and the
	// same solution as the mutex/CondVar case, just with rw.lock as the
	// externally-held spinlock instead of an external caller's lock.
	t.RegisterCallMe(func(arg any) {
		arg.(*spinlock.SpinLock).Unlock()
	}, &rw.lock)

	res := rw.exclusive.AcquireFull(h, usec, nonBlocking)
	switch res {
	case waitq.OKBlocked, waitq.Timeout:
		// Thread was enqueued; the deferred callback already released
		// rw.lock, and in the OKBlocked case the waker already
		// incremented readersIn on this thread's behalf (see letOthersIn).
	default:
		// WouldBlock (or the unreachable-in-practice OKAtomic: nothing
		// can grab the permit out from under us while we hold rw.lock):
		// the callback never fired, so undo it and release ourselves.
		t.RegisterCallMe(nil, nil)
		rw.lock.Unlock()
	}
	return res
}

// ReadUnlock releases a read lock held by this thread. The last reader out
// performs the hand-off exactly like WriteUnlock.
func (rw *RWLock) ReadUnlock() {
	rw.lock.Lock()
	rw.readersIn--
	if rw.readersIn == 0 {
		rw.letOthersIn(false)
	}
	rw.lock.Unlock()
}

// letOthersIn is the unlock/hand-off logic (spec.md §4.5). Caller must hold
// rw.lock; it does not release rw.lock itself. When readersOnly is true
// (the write-lock-timeout path releasing readers it was blocking), it stops
// at the first non-reader and never wakes a writer.
func (rw *RWLock) letOthersIn(readersOnly bool) {
	q := rw.exclusive.Queue()
	for first := true; ; first = false {
		head := q.PeekFront()
		if head == nil {
			// Nobody waiting at all: mark the mutex available again,
			// exactly what a plain mutex unlock does on an empty queue.
			// Once readers have been handed the lock (or on the
			// readers-only path, where readers still hold it) the mutex
			// stays held on the reader group's behalf.
			if first && !readersOnly {
				q.Wakeup(waitq.First)
			}
			return
		}

		head.Lock()
		kind := head.RWHolderKindLocked()
		head.Unlock()

		if kind == kthread.RWHolderWriter {
			if readersOnly {
				return
			}
			q.WakeFront()
			return
		}

		// Reader: hand off directly and keep looking for more readers
		// behind it.
		if q.WakeFront() == nil {
			return
		}
		rw.readersIn++
	}
}
