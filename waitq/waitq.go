// Copyright 2001-2004 Jakub Jermar. Go rendition Copyright 2024.
// Use of this source code is governed by a BSD-style license.

package waitq

import (
	"github.com/helion-kernel/kcore/kthread"
	"github.com/helion-kernel/kcore/sched"
	"github.com/helion-kernel/kcore/spinlock"
)

// WaitQueue is spec.md §3.3: a spinlock, a FIFO of blocked threads, and a
// non-negative missed-wakeup counter, with the invariant that at most one
// of "missed_wakeups > 0" and "list non-empty" holds at a time.
type WaitQueue struct {
	lock          spinlock.SpinLock
	head          kthread.DLL
	missedWakeups int64

	s *sched.Scheduler
}

// New creates an empty wait queue bound to s, used to ready woken threads.
func New(s *sched.Scheduler) *WaitQueue {
	wq := &WaitQueue{s: s}
	wq.head.MakeEmpty()
	return wq
}

// NewWithCount creates a wait queue whose missed-wakeup counter starts at n
// instead of zero — the construction Semaphore uses (SPEC_FULL.md §4) to
// represent n already-available permits without a second counter field.
func NewWithCount(s *sched.Scheduler, n int64) *WaitQueue {
	wq := New(s)
	wq.missedWakeups = n
	return wq
}

// SleepTimeout implements waitq_sleep_timeout (spec.md §4.2). h must be the
// handle of the calling thread: only a thread can put itself to sleep.
func (wq *WaitQueue) SleepTimeout(h *sched.Handle, usec uint64, nonBlocking bool) Result {
	wq.lock.Lock()
	if wq.missedWakeups > 0 {
		wq.missedWakeups--
		wq.lock.Unlock()
		return OKAtomic
	}
	if usec == 0 && nonBlocking {
		wq.lock.Unlock()
		return WouldBlock
	}

	t := h.Thread()
	t.Lock()
	t.Transition(kthread.Sleeping)
	t.SetSleepQueueLocked(wq)
	wq.head.PushBack(&t.WQLink)

	var tm *timer
	if usec > 0 {
		tm = newTimer(wq, t, usec)
		t.SetTimeoutLocked(tm)
		t.SetTimeoutPendingLocked(true)
	}
	t.Unlock()
	wq.lock.Unlock()

	// Deferred-unlock hook (spec.md §4.2): the thread is now safely on the
	// list, so any external lock a caller wants released only after that
	// point (the rwlock read-lock path, CondVar.Wait) can run now.
	t.Lock()
	fn, arg := t.TakeCallMeLocked()
	t.Unlock()
	if fn != nil {
		fn(arg)
	}

	h.Block()

	t.Lock()
	res := Result(t.WakeResultLocked())
	t.Unlock()
	return res
}

// Wakeup implements waitq_wakeup (spec.md §4.2).
func (wq *WaitQueue) Wakeup(mode Mode) {
	wq.lock.Lock()
	if wq.head.IsEmpty() {
		if mode == First {
			wq.missedWakeups++
		}
		wq.lock.Unlock()
		return
	}

	var woken []*kthread.Thread
	if mode == First {
		woken = append(woken, wq.head.PopFront())
	} else {
		for !wq.head.IsEmpty() {
			woken = append(woken, wq.head.PopFront())
		}
	}
	wq.lock.Unlock()

	for _, t := range woken {
		wq.completeWake(t, OKBlocked)
	}
}

// Empty reports whether the queue currently has no waiters. Exposed for
// the rwlock's read-lock fast path (spec.md §4.5 step 4: "the mutex's wait
// queue is empty (no waiting writer in front of us)").
func (wq *WaitQueue) Empty() bool {
	wq.lock.Lock()
	defer wq.lock.Unlock()
	return wq.head.IsEmpty()
}

// PeekFront returns the thread at the head of the queue without removing
// it, or nil if the queue is empty. Exported for rwlock's hand-off logic,
// which must inspect a waiter's RWHolderKind before deciding whether (and
// how) to wake it.
func (wq *WaitQueue) PeekFront() *kthread.Thread {
	wq.lock.Lock()
	defer wq.lock.Unlock()
	return wq.head.Front()
}

// WakeFront pops and wakes exactly the thread currently at the head of the
// queue, returning it, or nil if the queue is empty. Exported for rwlock's
// hand-off logic (spec.md §4.5), which interleaves inspecting the head
// (PeekFront) with waking specific waiters rather than going through the
// counter-based Wakeup.
func (wq *WaitQueue) WakeFront() *kthread.Thread {
	wq.lock.Lock()
	if wq.head.IsEmpty() {
		wq.lock.Unlock()
		return nil
	}
	t := wq.head.PopFront()
	wq.lock.Unlock()
	wq.completeWake(t, OKBlocked)
	return t
}

// Interrupt forcibly wakes t with result Interrupted, if t is still waiting
// on wq. It reports whether t was actually on the queue. SPEC_FULL.md §4
// supplement: the source's timeout subsystem can cancel a blocked thread's
// wait from the outside (e.g. on task teardown); this is the analogous
// explicit primitive.
func (wq *WaitQueue) Interrupt(t *kthread.Thread) bool {
	wq.lock.Lock()
	if !t.WQLink.IsInList(&wq.head) {
		wq.lock.Unlock()
		return false
	}
	t.WQLink.Remove()
	wq.lock.Unlock()
	wq.completeWake(t, Interrupted)
	return true
}

// completeWake cancels any armed timeout, clears the thread's sleep state,
// records result, and readies it. The caller must already have removed t
// from wq.head.
func (wq *WaitQueue) completeWake(t *kthread.Thread, result Result) {
	t.Lock()
	if h := t.TimeoutLocked(); h != nil {
		h.Cancel()
		t.SetTimeoutLocked(nil)
	}
	t.SetTimeoutPendingLocked(false)
	t.SetSleepQueueLocked(nil)
	t.SetWakeResultLocked(int32(result))
	t.Unlock()
	// Ready performs the Sleeping -> Ready transition itself.
	wq.s.Ready(t)
}
