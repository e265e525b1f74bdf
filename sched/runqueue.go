// Copyright 2001-2004 Jakub Jermar. Go rendition Copyright 2024.
// Use of this source code is governed by a BSD-style license.

package sched

import (
	"github.com/helion-kernel/kcore/ipl"
	"github.com/helion-kernel/kcore/kthread"
	"github.com/helion-kernel/kcore/spinlock"
)

// RQCount is the number of priority levels per CPU (spec.md §3.2), indexed
// 0 (highest priority) through RQCount-1 (lowest).
const RQCount = 16

// runQueue is one per-priority, per-CPU FIFO (spec.md §3.2): "A doubly-
// linked intrusive queue of threads plus a count and a spinlock." Its lock
// is the owning CPU's IRQ spinlock (package spinlock), not a bare one: both
// Ready and the dispatch loop's popReady touch a run queue from contexts
// that must not be interrupted mid-splice, and binding the queue's own lock
// to the CPU's mask means that guarantee holds at every call site instead
// of depending on callers to have already disabled interrupts themselves.
type runQueue struct {
	lock  *spinlock.IRQ
	head  kthread.DLL
	count int64
}

func newRunQueue(mask *ipl.Mask) *runQueue {
	rq := &runQueue{lock: spinlock.NewIRQ(mask)}
	rq.head.MakeEmpty()
	return rq
}

func (rq *runQueue) append(t *kthread.Thread) {
	prev := rq.lock.Lock()
	defer rq.lock.Unlock(prev)
	rq.head.PushBack(&t.RQLink)
	rq.count++
}

func (rq *runQueue) popFront() *kthread.Thread {
	prev := rq.lock.Lock()
	defer rq.lock.Unlock(prev)
	t := rq.head.PopFront()
	if t != nil {
		rq.count--
	}
	return t
}

func (rq *runQueue) len() int64 {
	prev := rq.lock.Lock()
	defer rq.lock.Unlock(prev)
	return rq.count
}
