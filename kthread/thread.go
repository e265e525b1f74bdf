// Copyright 2001-2004 Jakub Jermar. Go rendition Copyright 2024.
// Use of this source code is governed by a BSD-style license.

// Package kthread implements the schedulable thread object from spec.md
// §3.1/§4.4: creation, the centralized state machine, destruction, and the
// global thread registry (§3.5). Everything that needs a scheduler to act —
// thread_ready, thread_exit, thread_sleep, dispatch — lives one layer up, in
// package sched; this package only owns what the source attributes to
// proc/thread.c's object lifecycle, plus the B+-tree registry it installs
// itself into.
package kthread

import (
	"fmt"
	"sync"

	"github.com/helion-kernel/kcore/spinlock"
)

// RWHolderKind records whether a thread, the last time it blocked trying to
// acquire a reader/writer lock, was doing so as a reader or a writer. It is
// examined only by the rwlock package's hand-off logic, and only for a
// thread that is actually on that lock's wait queue — see spec.md §4.5's
// "NOTE on rwlock_holder_type" for why this is safe to store directly on the
// thread (a thread can block on at most one rwlock at a time).
type RWHolderKind int

const (
	RWHolderNone RWHolderKind = iota
	RWHolderReader
	RWHolderWriter
)

// TimeoutHandle is the minimal view a Thread needs of a pending timer: just
// enough to cancel it. waitq's timer wrapper implements this; kthread never
// needs to know about timer queues, deadlines, or callbacks.
type TimeoutHandle interface {
	Cancel() bool
}

// StackAllocator is the narrow interface the thread object consumes from
// the physical memory / kernel-stack subsystem (spec.md §6: "Frame
// allocator... physical pages for kernel stacks"), kept external to this
// package exactly as the source keeps frame_alloc/frame_free external to
// proc/thread.c.
type StackAllocator interface {
	AllocStack() ([]byte, error)
	FreeStack([]byte)
}

const defaultStackSize = 64 * 1024

// DefaultStackAllocator hands out freshly-allocated, page-sized-in-spirit
// byte slices. It stands in for frame_alloc(STACK_FRAMES, ...) when no
// arena/pooling allocator is supplied.
type DefaultStackAllocator struct {
	Size int
}

func (a DefaultStackAllocator) AllocStack() ([]byte, error) {
	size := a.Size
	if size == 0 {
		size = defaultStackSize
	}
	return make([]byte, size), nil
}

func (DefaultStackAllocator) FreeStack([]byte) {}

// FPUContext is an opaque, thread-exclusive FPU register snapshot (spec.md
// §3.1). Its contents are architecture glue and irrelevant to the
// scheduling core; it only needs to exist, be lazily allocated, and be
// ownable "on behalf" by a CPU's FPU-owner slot (see sched.CPU).
type FPUContext struct {
	regs [64]uint64 // opaque payload; no code in this repo interprets it
}

// Thread is the schedulable entity. See spec.md §3.1 for the full invariant
// list; the short version: the task link is attached from creation until
// Destroy, and at most one of {ready-queue link, wait-queue link} is
// attached at a time — neither while Running or Exiting.
type Thread struct {
	lock spinlock.SpinLock // thread's own lock; guards every field below

	id   uint64
	name string

	state State
	task  *Task

	stack     []byte
	allocator StackAllocator

	priority int32 // index into [0, RQCount); package sched (runqueue.go) owns RQCount
	ticks    int64 // quantum remaining; negative = uninitialized

	cpuID int32
	wired bool

	sleepQueue     any // opaque handle to whatever is blocking this thread; nil if not blocked
	timeout        TimeoutHandle
	timeoutPending bool

	rwHolderKind RWHolderKind

	// wakeResult carries the waitq package's result code (OK_BLOCKED,
	// TIMEOUT, INTERRUPTED, ...) from whichever side resumes this thread
	// back to the caller of waitq_sleep_timeout. Opaque here for the same
	// reason sleepQueue is: only package waitq interprets the value.
	wakeResult int32

	callMe     func(any)
	callMeWith any

	fpu         *FPUContext
	fpuEngaged  bool

	// RQLink, WQLink and TaskLink are the three intrusive list nodes from
	// spec.md §3.1; TaskLink stays attached for the thread's whole life,
	// and at most one of RQLink and WQLink is attached at a time. They are
	// exported so package sched and package waitq — which
	// own the lists these nodes thread through — can splice them directly.
	RQLink   DLL
	WQLink   DLL
	TaskLink DLL

	startOnce sync.Once
	resumeCh  chan struct{}
	parkedCh  chan struct{}
	body      func()
}

// New allocates a thread in the Entering state, with a kernel stack from
// alloc, and inserts it into reg and task's thread list. It does not enqueue
// the thread for scheduling — the caller (package sched's Create) does that
// next, matching spec.md §4.4 step 7: "caller typically calls thread_ready
// next."
func New(id uint64, name string, task *Task, alloc StackAllocator, reg *Registry) (*Thread, error) {
	stack, err := alloc.AllocStack()
	if err != nil {
		return nil, fmt.Errorf("kthread: stack allocation failed: %w", err)
	}
	t := &Thread{
		id:        id,
		name:      name,
		task:      task,
		stack:     stack,
		allocator: alloc,
		state:     Entering,
		priority:  -1, // first thread_ready enqueues into rq[0]
		ticks:     -1,
		cpuID:     -1,
		resumeCh:  make(chan struct{}),
		parkedCh:  make(chan struct{}),
	}
	t.RQLink.Elem = t
	t.WQLink.Elem = t
	t.TaskLink.Elem = t
	t.RQLink.MakeEmpty()
	t.WQLink.MakeEmpty()
	t.TaskLink.MakeEmpty()

	reg.insert(t)
	task.addThread(t)
	return t, nil
}

func (t *Thread) ID() uint64    { return t.id }
func (t *Thread) Name() string  { return t.name }
func (t *Thread) Task() *Task   { return t.task }
func (t *Thread) Wired() bool   { t.Lock(); defer t.Unlock(); return t.wired }

// SetWiredLocked pins or unpins the thread from migration. Caller must hold
// t.Lock(). Per spec.md §3.1, once wired the thread's cpu is fixed for its
// whole lifetime — callers are expected to call this only during creation.
func (t *Thread) SetWiredLocked(w bool) { t.wired = w }

// Lock/Unlock expose the thread's own spinlock to collaborating packages
// (sched, waitq, rwlock) that must serialize state/field mutations per
// spec.md §5 ("holding it is required when mutating state, cpu, priority,
// or the deferred-call fields").
func (t *Thread) Lock()   { t.lock.Lock() }
func (t *Thread) Unlock() { t.lock.Unlock() }

// State returns the current lifecycle state. Callers that need a
// read-modify-write must hold t.Lock() around both the read and the write.
func (t *Thread) State() State {
	t.Lock()
	defer t.Unlock()
	return t.state
}

// StateLocked returns the current state; caller must already hold t.Lock().
func (t *Thread) StateLocked() State { return t.state }

// Transition moves the thread to "to", enforcing the legal edges. Caller
// must hold t.Lock().
func (t *Thread) Transition(to State) { t.transition(to) }

func (t *Thread) PriorityLocked() int32     { return t.priority }
func (t *Thread) SetPriorityLocked(p int32) { t.priority = p }

func (t *Thread) TicksLocked() int64     { return t.ticks }
func (t *Thread) SetTicksLocked(v int64) { t.ticks = v }

func (t *Thread) CPUIDLocked() int32     { return t.cpuID }
func (t *Thread) SetCPUIDLocked(id int32) { t.cpuID = id }

// SleepQueueLocked / SetSleepQueueLocked store the opaque wait-queue handle
// that blocks this thread (nil when not blocked). Package waitq is the only
// caller that interprets the value; kthread only needs to know whether it's
// nil for the §3.1 "Sleeping ⇔ sleep_queue non-null" invariant.
func (t *Thread) SleepQueueLocked() any          { return t.sleepQueue }
func (t *Thread) SetSleepQueueLocked(q any)      { t.sleepQueue = q }

func (t *Thread) TimeoutPendingLocked() bool      { return t.timeoutPending }
func (t *Thread) SetTimeoutPendingLocked(v bool)  { t.timeoutPending = v }
func (t *Thread) SetTimeoutLocked(h TimeoutHandle) { t.timeout = h }
func (t *Thread) TimeoutLocked() TimeoutHandle      { return t.timeout }

func (t *Thread) RWHolderKindLocked() RWHolderKind     { return t.rwHolderKind }
func (t *Thread) SetRWHolderKindLocked(k RWHolderKind) { t.rwHolderKind = k }

func (t *Thread) WakeResultLocked() int32      { return t.wakeResult }
func (t *Thread) SetWakeResultLocked(r int32)  { t.wakeResult = r }

// RegisterCallMe installs the deferred (fn, arg) pair invoked exactly once
// the next time this thread is dispatched (spec.md §3.1 "deferred call").
// Passing a nil fn clears any previously registered call.
func (t *Thread) RegisterCallMe(fn func(any), arg any) {
	t.Lock()
	defer t.Unlock()
	t.callMe = fn
	t.callMeWith = arg
}

// TakeCallMeLocked atomically reads and clears the deferred call, so the
// scheduler can invoke it exactly once. Caller must hold t.Lock().
func (t *Thread) TakeCallMeLocked() (func(any), any) {
	fn, arg := t.callMe, t.callMeWith
	t.callMe, t.callMeWith = nil, nil
	return fn, arg
}

// EngageFPU lazily allocates the thread's FPU context on first use.
func (t *Thread) EngageFPU() *FPUContext {
	t.Lock()
	defer t.Unlock()
	if t.fpu == nil {
		t.fpu = &FPUContext{}
	}
	t.fpuEngaged = true
	return t.fpu
}

// SetBody installs the cushion routine the thread's goroutine will run on
// first dispatch. Only package sched calls this, exactly once, at creation.
func (t *Thread) SetBody(body func()) { t.body = body }

// EnsureStarted lazily launches the goroutine backing this thread. The
// goroutine blocks immediately on the first Resume — matching the source's
// cushion(), which does not run thread_code until the thread is actually
// dispatched for the first time.
func (t *Thread) EnsureStarted() {
	t.startOnce.Do(func() {
		go func() {
			<-t.resumeCh
			if t.body != nil {
				t.body()
			}
		}()
	})
}

// Resume lets the thread's goroutine run (or keep running from wherever it
// last called ParkSelf). Only the scheduler's dispatch loop calls this.
func (t *Thread) Resume() { t.resumeCh <- struct{}{} }

// AwaitParked blocks until the thread's goroutine yields the virtual CPU,
// either because it blocked on a wait queue, its quantum expired, or it is
// exiting for good. Only the scheduler's dispatch loop calls this.
func (t *Thread) AwaitParked() { <-t.parkedCh }

// ParkSelf must be called from the thread's own goroutine. It yields the
// virtual CPU back to the scheduler and blocks until Resume is called
// again — the Go-idiomatic stand-in for a context switch away from and
// eventually back to this thread, since Go offers no way to hand-save and
// restore a goroutine's real register state (see spec.md §6's ctx_save/
// ctx_restore/ctx_set, which are architecture glue external to this core).
func (t *Thread) ParkSelf() {
	t.parkedCh <- struct{}{}
	<-t.resumeCh
}

// ParkFinal must be called from the thread's own goroutine exactly once, as
// the very last thing it does before returning. It tells the scheduler the
// goroutine is finished and will never be resumed again.
func (t *Thread) ParkFinal() { t.parkedCh <- struct{}{} }

// Destroy detaches t from its task and releases its stack — the part of
// spec.md §4.4's thread_destroy that only this package can do, since the
// task's thread list and the stack allocator are private to it. The caller
// (package sched) is responsible for the registry removal and FPU-owner
// clearing steps, which need state kthread doesn't have.
func (t *Thread) Destroy() {
	t.task.removeThread(t)
	t.releaseStack()
}

func (t *Thread) releaseStack() {
	if t.allocator != nil && t.stack != nil {
		t.allocator.FreeStack(t.stack)
		t.stack = nil
	}
}
