// Copyright 2001-2004 Jakub Jermar. Go rendition Copyright 2024.
// Use of this source code is governed by a BSD-style license.

package sched

import (
	"sync/atomic"
	"time"

	"github.com/helion-kernel/kcore/klog"
	"github.com/helion-kernel/kcore/kthread"
)

// quantumTicks returns the number of CheckPreempt calls a thread dispatched
// from run-queue level p is allowed to make before it is considered to have
// exhausted its quantum, per spec.md §4.3's "every priority level, even the
// lowest, must receive a strictly positive quantum". DESIGN.md's Open
// Question decisions settle the exact curve: the budget grows with p
// (lower priority) rather than shrinks, mirroring the source's
// calculate_optimal_load comment that threads which have already sunk to a
// low priority are typically CPU-bound batch work that benefits from fewer,
// longer dispatches rather than frequent short ones.
//
// There is no hardware timer interrupt in this simulation (Go cannot
// forcibly preempt a running goroutine the way a real kernel preempts a
// running thread on quantum expiry) — quantum accounting is therefore
// cooperative: a thread body calls Handle.CheckPreempt periodically, and
// CheckPreempt is what actually parks it once its budget is spent. This is
// an explicit, documented departure from the source's involuntary
// preemption; see DESIGN.md.
func quantumTicks(p int32) int64 {
	const base = 8
	return base + int64(p)
}

// pollInterval bounds how long an idle dispatch loop waits on its doorbell
// before re-checking its run queues and the stop channel.
const pollInterval = 50 * time.Millisecond

// runDispatchLoop is the per-CPU scheduler() loop from spec.md §4.3: pick
// the highest nonempty run queue, pop its head, dispatch it, and react to
// how it came back (quantum expiry vs. voluntary block vs. exit).
func (s *Scheduler) runDispatchLoop(cpu *CPU) {
	for {
		select {
		case <-cpu.stop:
			return
		default:
		}

		t, level := cpu.popReady()
		if t == nil {
			cpu.setCurrent(nil)
			cpu.updateLoad(0)
			cpu.waitForWork(pollInterval)
			continue
		}

		s.dispatch(cpu, t, level)
	}
}

// popReady scans this CPU's run queues from highest to lowest priority and
// pops the first nonempty one.
func (c *CPU) popReady() (*kthread.Thread, int32) {
	for p := int32(0); p < RQCount; p++ {
		if t := c.rq[p].popFront(); t != nil {
			return t, p
		}
	}
	return nil, -1
}

func (s *Scheduler) dispatch(cpu *CPU, t *kthread.Thread, level int32) {
	cpu.decNRDY()
	s.decNRDY()
	cpu.updateLoad(float64(cpu.NRDY()))

	t.Lock()
	if fn, arg := t.TakeCallMeLocked(); fn != nil {
		t.Unlock()
		fn(arg)
		t.Lock()
	}
	t.Transition(kthread.Running)
	t.SetTicksLocked(quantumTicks(level))
	t.Unlock()

	cpu.setCurrent(t)
	t.EnsureStarted()
	t.Resume()
	t.AwaitParked()
	cpu.setCurrent(nil)

	t.Lock()
	state := t.StateLocked()
	t.Unlock()

	switch state {
	case kthread.Running:
		// CheckPreempt spent the thread's quantum while it was still
		// otherwise runnable: re-ready it, same as an interrupted but
		// still-runnable thread in spec.md §4.3 step 6. Ready itself
		// performs the Running -> Ready transition; it must not be done
		// here first, or Ready's already-Ready guard panics on it.
		s.Ready(t)
	case kthread.Sleeping:
		// The thread parked itself on a wait queue; package waitq already
		// transitioned it and will call Ready on wake-up. Nothing further
		// to do here.
	case kthread.Exiting:
		s.finishExit(t)
	default:
		klog.Panicf("sched: dispatch: thread %d left dispatch in unexpected state %s", t.ID(), state)
	}
}

func (c *CPU) decNRDY()   { atomic.AddInt64(&c.nrdyLocal, -1) }
func (c *CPU) nrdyIncr()  { atomic.AddInt64(&c.nrdyLocal, 1) }

func (s *Scheduler) decNRDY()   { atomic.AddInt64(&s.nrdy, -1) }
func (s *Scheduler) incrNRDY()  { atomic.AddInt64(&s.nrdy, 1) }
