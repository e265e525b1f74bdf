// Copyright 2001-2004 Jakub Jermar. Go rendition Copyright 2024.
// Use of this source code is governed by a BSD-style license.

package spinlock

import "github.com/helion-kernel/kcore/ipl"

// IRQ pairs a SpinLock with the local CPU's interrupt mask, so that the two
// are always acquired and released together in the correct order: disable
// interrupts, then take the lock; release the lock, then restore interrupts.
// This is the "irq_spinlock_*" variant from the design: a scoped guard that
// makes the nesting of the two operations impossible to get backwards.
type IRQ struct {
	SpinLock
	mask *ipl.Mask
}

// NewIRQ binds an IRQ spinlock to the interrupt mask of the CPU it protects.
func NewIRQ(mask *ipl.Mask) *IRQ {
	return &IRQ{mask: mask}
}

// Lock disables interrupts on the owning CPU and then acquires the
// underlying spinlock, returning the previously-active interrupt level so
// it can be threaded back through to Unlock.
func (l *IRQ) Lock() ipl.Level {
	prev := l.mask.Disable()
	l.SpinLock.Lock()
	return prev
}

// Unlock releases the underlying spinlock and restores interrupts to the
// level returned by the matching Lock call.
func (l *IRQ) Unlock(prev ipl.Level) {
	l.SpinLock.Unlock()
	l.mask.Restore(prev)
}
