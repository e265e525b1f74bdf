// Copyright 2001-2004 Jakub Jermar. Go rendition Copyright 2024.
// Use of this source code is governed by a BSD-style license.

package waitq

import "github.com/helion-kernel/kcore/sched"

// CondVar is a Mesa-style condition variable layered on WaitQueue
// (SPEC_FULL.md §4 supplement, grounded in the teacher's nsync.CV): Wait
// atomically releases an associated Mutex and blocks, re-acquiring it
// before returning, exactly like nsync's Wait/WaitWithDeadline pair.
//
// The atomic release is the same problem the rwlock's read-lock path
// solves in spec.md §4.2: release an external lock only after this thread
// is safely enqueued. CondVar uses the identical deferred call_me hook.
type CondVar struct {
	wq *WaitQueue
}

// NewCondVar creates a condition variable.
func NewCondVar(s *sched.Scheduler) *CondVar {
	return &CondVar{wq: New(s)}
}

// Wait releases mu, blocks until Signal or Broadcast wakes this thread,
// then re-acquires mu before returning.
func (cv *CondVar) Wait(h *sched.Handle, mu *Mutex) Result {
	return cv.WaitTimeout(h, mu, 0)
}

// WaitTimeout is Wait with a bound on how long to block.
func (cv *CondVar) WaitTimeout(h *sched.Handle, mu *Mutex, usec uint64) Result {
	h.Thread().RegisterCallMe(func(arg any) {
		arg.(*Mutex).Unlock()
	}, mu)

	res := cv.wq.SleepTimeout(h, usec, false)
	if res == OKAtomic {
		// A pending wake-up was consumed without sleeping, so the deferred
		// unlock never ran: undo it and release mu here instead.
		h.Thread().RegisterCallMe(nil, nil)
		mu.Unlock()
	}
	mu.Lock(h)
	return res
}

// Signal wakes at most one waiter.
func (cv *CondVar) Signal() { cv.wq.Wakeup(First) }

// Broadcast wakes every waiter.
func (cv *CondVar) Broadcast() { cv.wq.Wakeup(All) }
