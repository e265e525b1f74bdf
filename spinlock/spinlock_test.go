// Copyright 2001-2004 Jakub Jermar. Go rendition Copyright 2024.
// Use of this source code is governed by a BSD-style license.

package spinlock

import (
	"sync"
	"testing"

	"github.com/helion-kernel/kcore/ipl"
)

// TestSpinLockTryLock checks the zero value starts unlocked and that
// TryLock only ever succeeds for one caller at a time.
func TestSpinLockTryLock(t *testing.T) {
	var l SpinLock
	if l.Held() {
		t.Fatal("zero-value SpinLock reports held")
	}
	if !l.TryLock() {
		t.Fatal("TryLock on a free lock must succeed")
	}
	if !l.Held() {
		t.Fatal("Held must report true once TryLock succeeds")
	}
	if l.TryLock() {
		t.Fatal("TryLock on an already-held lock must fail")
	}
	l.Unlock()
	if l.Held() {
		t.Fatal("Held must report false after Unlock")
	}
	if !l.TryLock() {
		t.Fatal("TryLock must succeed again once the lock is released")
	}
}

// TestSpinLockMutualExclusion hammers a shared counter from many goroutines
// guarded by a single SpinLock; a racy implementation would lose increments.
func TestSpinLockMutualExclusion(t *testing.T) {
	var l SpinLock
	var counter int
	const goroutines = 50
	const perGoroutine = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for n := 0; n < perGoroutine; n++ {
				l.Lock()
				counter++
				l.Unlock()
			}
		}()
	}
	wg.Wait()

	if want := goroutines * perGoroutine; counter != want {
		t.Fatalf("counter = %d, want %d", counter, want)
	}
}

// TestIRQLockRestoresPreviousLevel checks that IRQ.Unlock restores whatever
// level the mask was at before the matching Lock, rather than unconditionally
// re-enabling interrupts.
func TestIRQLockRestoresPreviousLevel(t *testing.T) {
	var mask ipl.Mask
	l := NewIRQ(&mask)

	if mask.Read() != ipl.Enabled {
		t.Fatalf("mask starts at %v, want Enabled", mask.Read())
	}

	prev := l.Lock()
	if mask.Read() != ipl.Disabled {
		t.Fatal("Lock must disable interrupts on the owning CPU")
	}
	if !l.Held() {
		t.Fatal("Lock must acquire the underlying SpinLock")
	}
	l.Unlock(prev)
	if mask.Read() != ipl.Enabled {
		t.Fatal("Unlock must restore the pre-Lock interrupt level")
	}
	if l.Held() {
		t.Fatal("Unlock must release the underlying SpinLock")
	}

	// Nesting: disable once up front (as a caller already inside a masked
	// section would find it), then Lock/Unlock must leave it disabled
	// afterwards instead of clobbering it back to Enabled.
	outer := mask.Disable()
	prev = l.Lock()
	l.Unlock(prev)
	if mask.Read() != ipl.Disabled {
		t.Fatal("Unlock must not re-enable interrupts a caller had already disabled")
	}
	mask.Restore(outer)
	if mask.Read() != ipl.Enabled {
		t.Fatal("restoring the outer save should re-enable interrupts")
	}
}

// TestIRQLockMutualExclusion is TestSpinLockMutualExclusion's analogue for
// the combined IRQ guard, confirming the mask pairing doesn't undermine the
// exclusion the embedded SpinLock provides.
func TestIRQLockMutualExclusion(t *testing.T) {
	var mask ipl.Mask
	l := NewIRQ(&mask)
	var counter int
	const goroutines = 50
	const perGoroutine = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for n := 0; n < perGoroutine; n++ {
				prev := l.Lock()
				counter++
				l.Unlock(prev)
			}
		}()
	}
	wg.Wait()

	if want := goroutines * perGoroutine; counter != want {
		t.Fatalf("counter = %d, want %d", counter, want)
	}
}
