// Copyright 2001-2004 Jakub Jermar. Go rendition Copyright 2024.
// Use of this source code is governed by a BSD-style license.

package waitq

import "github.com/helion-kernel/kcore/sched"

// Semaphore is a counting semaphore expressed exactly as spec.md §3.4
// defines a mutex — "a wait queue with a semaphore-style counter" — except
// here the counter is not a separate field: it is the wait queue's own
// missed-wakeup counter, seeded to the initial permit count. Down is
// SleepTimeout, Up is Wakeup(First); nothing else is needed, which is the
// same elegance the source gets from mutex_lock/mutex_unlock being direct
// waitq_sleep_timeout/waitq_wakeup calls.
type Semaphore struct {
	wq *WaitQueue
}

// NewSemaphore creates a semaphore with the given number of available
// permits.
func NewSemaphore(s *sched.Scheduler, initial int64) *Semaphore {
	return &Semaphore{wq: NewWithCount(s, initial)}
}

// Down acquires a permit, blocking (subject to usec/nonBlocking) if none is
// immediately available.
func (sem *Semaphore) Down(h *sched.Handle, usec uint64, nonBlocking bool) Result {
	return sem.wq.SleepTimeout(h, usec, nonBlocking)
}

// Up releases a permit, waking one blocked waiter if any.
func (sem *Semaphore) Up() { sem.wq.Wakeup(First) }
