// Copyright 2001-2004 Jakub Jermar. Go rendition Copyright 2024.
// Use of this source code is governed by a BSD-style license.

package sched

import (
	"runtime"

	"github.com/helion-kernel/kcore/kthread"
)

// doExit implements thread_exit (spec.md §4.4): it runs on the exiting
// thread's own goroutine, as the tail of the body wrapper Create installs.
//
// Before transitioning to Exiting it must win the race against any timeout
// that is concurrently firing against this thread (spec.md §4.2's "a timer
// callback may already be running when thread_exit starts tearing the
// thread down"): Cancel is attempted, and if the timeout already fired and
// is mid-flight, doExit spins until the firing side clears
// timeoutPending under the thread's own lock, so nothing touches
// this thread's fields after it is gone.
func (s *Scheduler) doExit(t *kthread.Thread) {
	t.Lock()
	for t.TimeoutPendingLocked() {
		h := t.TimeoutLocked()
		t.Unlock()
		if h != nil {
			h.Cancel()
		}
		runtime.Gosched()
		t.Lock()
	}
	t.Transition(kthread.Exiting)
	t.Unlock()

	if s.metrics != nil {
		s.metrics.threadsExited.Inc()
	}
	t.ParkFinal()
}

// finishExit runs on the dispatching CPU's goroutine once AwaitParked
// returns for a thread that left Running via Exiting. It is thread_destroy
// (spec.md §4.4): clear any FPU ownership, drop the registry entry, and
// release the task membership and stack.
func (s *Scheduler) finishExit(t *kthread.Thread) {
	for _, cpu := range s.cpus {
		cpu.clearFPUOwnerIfSelf(t)
	}
	s.registry.Remove(t)
	t.Destroy()

	if s.metrics != nil {
		s.metrics.threadsDestroyed.Inc()
	}
}
