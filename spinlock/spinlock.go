// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package spinlock provides the raw mutual-exclusion primitive used for
// short, non-blocking critical sections throughout the kernel core. Its
// acquire/release loop is adapted directly from the spin-then-yield delay
// loop in the teacher's nsync package (nsync/common.go's spinDelay and
// spinTestAndSet): an atomic test-and-set, a short busy-wait, and a fallback
// to runtime.Gosched so the loop eventually yields to the Go scheduler
// instead of starving it.
//
// A SpinLock must be acquired with interrupts already disabled on the local
// CPU (see package ipl); IRQ, below, combines the two so callers don't have
// to remember the ordering.
package spinlock

import (
	"runtime"
	"sync/atomic"
)

// SpinLock is a raw test-and-set mutual-exclusion lock. The zero value is
// unlocked. Critical sections held under a SpinLock must be short and must
// never block (no sleep, no blocking lock acquisition, no allocation that
// can sleep) — see package doc.
type SpinLock struct {
	state uint32 // 0 = free, 1 = held
}

// TryLock attempts to acquire s without blocking.
func (s *SpinLock) TryLock() bool {
	return atomic.CompareAndSwapUint32(&s.state, 0, 1)
}

// Lock busy-waits until it acquires s.
func (s *SpinLock) Lock() {
	var attempts uint
	for !atomic.CompareAndSwapUint32(&s.state, 0, 1) {
		attempts = spinDelay(attempts)
	}
}

// Unlock releases s. It is a bug to call Unlock on a lock the caller does
// not hold; callers are responsible for that invariant the same way the
// source kernel trusts its callers not to double-unlock a spinlock.
func (s *SpinLock) Unlock() {
	atomic.StoreUint32(&s.state, 0)
}

// Held reports whether s is currently locked by anyone. It exists for
// debug-build assertions (e.g. "are we still holding our own lock"), not for
// making locking decisions — by the time the caller observes the result it
// may already be stale.
func (s *SpinLock) Held() bool {
	return atomic.LoadUint32(&s.state) != 0
}

// spinDelay backs off a spin loop: a handful of busy iterations, then a
// cooperative yield, exactly as nsync/common.go does it.
func spinDelay(attempts uint) uint {
	if attempts < 7 {
		for i := 0; i != 1<<attempts; i++ {
		}
		attempts++
	} else {
		runtime.Gosched()
	}
	return attempts
}
