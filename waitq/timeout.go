// Copyright 2001-2004 Jakub Jermar. Go rendition Copyright 2024.
// Use of this source code is governed by a BSD-style license.

package waitq

import (
	"time"

	"github.com/helion-kernel/kcore/kthread"
)

// timer is the wait-queue's use of the external timer subsystem (spec.md
// §6: "timeout_register/timeout_unregister... one-shot timers used by
// waitq_sleep_timeout"). It implements kthread.TimeoutHandle so a thread
// can hold onto it without kthread knowing anything about timers.
type timer struct {
	wq *WaitQueue
	t  *kthread.Thread
	rt *time.Timer
}

func newTimer(wq *WaitQueue, t *kthread.Thread, usec uint64) *timer {
	tm := &timer{wq: wq, t: t}
	tm.rt = time.AfterFunc(time.Duration(usec)*time.Microsecond, func() {
		wq.fireTimeout(t, tm)
	})
	return tm
}

// Cancel stops the underlying real timer. It returns false if the timer
// had already fired (or is in the process of firing); the caller cannot
// distinguish "already fired" from "about to fire" and must not assume
// fireTimeout has finished running just because Cancel returned false — the
// wait-queue spinlock is what actually arbitrates the race (spec.md §4.2).
func (tm *timer) Cancel() bool { return tm.rt.Stop() }

// fireTimeout is the timer callback. Per spec.md §4.2's ordering rule,
// whichever side — this callback or a concurrent Wakeup/Interrupt — acquires
// wq.lock first wins; the loser observes the thread is no longer linked and
// does nothing beyond clearing its own stale pending flag.
func (wq *WaitQueue) fireTimeout(t *kthread.Thread, tm *timer) {
	wq.lock.Lock()
	if !t.WQLink.IsInList(&wq.head) {
		wq.lock.Unlock()
		t.Lock()
		if t.TimeoutLocked() == kthread.TimeoutHandle(tm) {
			t.SetTimeoutPendingLocked(false)
		}
		t.Unlock()
		return
	}
	t.WQLink.Remove()
	wq.lock.Unlock()

	wq.completeWake(t, Timeout)
}
