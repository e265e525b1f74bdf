// Copyright 2001-2004 Jakub Jermar. Go rendition Copyright 2024.
// Use of this source code is governed by a BSD-style license.

package kthread

import "github.com/helion-kernel/kcore/spinlock"

// Task is the minimal back-reference a thread needs (spec.md §3.1 "owning
// task: back-reference... task holds the strong membership", and §6's
// "Task object — provides task.lock and a thread list the core appends
// to"). Address-space/credentials/IPC-endpoint concerns belong to a real
// task subsystem that is out of scope here (spec.md §1); this is just
// enough of a Task to exercise the membership and destruction-ordering
// rules the scheduling core depends on.
type Task struct {
	lock    spinlock.SpinLock
	id      uint64
	threads DLL // head sentinel; threads are linked in via their TaskLink
}

// NewTask creates an empty task with the given id.
func NewTask(id uint64) *Task {
	tk := &Task{id: id}
	tk.threads.MakeEmpty()
	return tk
}

func (tk *Task) ID() uint64 { return tk.id }

func (tk *Task) addThread(t *Thread) {
	tk.lock.Lock()
	defer tk.lock.Unlock()
	t.TaskLink.InsertAfter(&tk.threads)
}

// removeThread detaches t from the task's thread list. Called by
// Thread.Destroy (from package sched's finishExit), which does not hold
// t.lock; only the task's own lock is taken here.
func (tk *Task) removeThread(t *Thread) {
	tk.lock.Lock()
	defer tk.lock.Unlock()
	t.TaskLink.Remove()
}

// ThreadCount returns the number of threads currently attached to the task.
// Task destruction (owned by a layer above this core) must wait for this to
// reach zero — spec.md §6: "task destruction must wait for all its threads
// to be destroyed."
func (tk *Task) ThreadCount() int {
	tk.lock.Lock()
	defer tk.lock.Unlock()
	n := 0
	for p := tk.threads.next; p != &tk.threads; p = p.next {
		n++
	}
	return n
}
