// Copyright 2001-2004 Jakub Jermar. Go rendition Copyright 2024.
// Use of this source code is governed by a BSD-style license.

// Package waitq implements the blocking primitive spec.md §3.3/§4.2 builds
// every higher-level wait on: a FIFO of blocked threads paired with a
// missed-wakeup counter, plus the counting Semaphore, Mutex, and CondVar
// this core layers on top of it (SPEC_FULL.md §4).
package waitq

// Result is the outcome of SleepTimeout, mirroring spec.md §4.2's four
// named results.
type Result int32

const (
	// OKBlocked means a wake-up was delivered while the caller was
	// actually asleep on the queue.
	OKBlocked Result = iota
	// OKAtomic means a pending missed wake-up was consumed without the
	// caller ever sleeping.
	OKAtomic
	// Timeout means the armed timer fired before any wake-up arrived.
	Timeout
	// WouldBlock means non-blocking mode was requested and no wake-up was
	// pending.
	WouldBlock
	// Interrupted means the sleep was cancelled externally (spec.md §4.2);
	// see WaitQueue.Interrupt.
	Interrupted
)

func (r Result) String() string {
	switch r {
	case OKBlocked:
		return "OK_BLOCKED"
	case OKAtomic:
		return "OK_ATOMIC"
	case Timeout:
		return "TIMEOUT"
	case WouldBlock:
		return "WOULD_BLOCK"
	case Interrupted:
		return "INTERRUPTED"
	default:
		return "UNKNOWN"
	}
}

// Mode selects how many waiters Wakeup releases.
type Mode int

const (
	First Mode = iota
	All
)
