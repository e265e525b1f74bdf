// Copyright 2001-2004 Jakub Jermar. Go rendition Copyright 2024.
// Use of this source code is governed by a BSD-style license.

package rwlock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/helion-kernel/kcore/kthread"
	"github.com/helion-kernel/kcore/sched"
)

func newTestScheduler(t *testing.T, cpus int) (*sched.Scheduler, *kthread.Task) {
	t.Helper()
	s := sched.New(sched.Config{CPUCount: cpus})
	s.Start()
	t.Cleanup(s.Stop)
	return s, kthread.NewTask(1)
}

// TestWriteLockExclusive checks that writers never overlap: every writer
// takes a private snapshot of a shared counter across its own increment and
// never observes another writer's partial update.
func TestWriteLockExclusive(t *testing.T) {
	s, task := newTestScheduler(t, 4)
	rw := New(s)

	const writers = 8
	const perWriter = 100
	var shared int64
	var wg sync.WaitGroup
	wg.Add(writers)

	for i := 0; i < writers; i++ {
		th, err := s.Create(func(h *sched.Handle, _ any) {
			defer wg.Done()
			for n := 0; n < perWriter; n++ {
				rw.WriteLock(h)
				before := shared
				shared = before + 1
				rw.WriteUnlock()
			}
		}, nil, task, "writer")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		s.Ready(th)
	}

	wg.Wait()
	if shared != writers*perWriter {
		t.Fatalf("shared = %d, want %d", shared, writers*perWriter)
	}
}

// TestReadersRunConcurrently confirms multiple readers can hold the lock at
// the same time: each reader reports the peak concurrent-reader count it
// observed, and at least one reader must have seen more than one.
func TestReadersRunConcurrently(t *testing.T) {
	s, task := newTestScheduler(t, 8)
	rw := New(s)

	const readers = 6
	var concurrent int64
	var peak int64
	var wg sync.WaitGroup
	wg.Add(readers)

	for i := 0; i < readers; i++ {
		th, err := s.Create(func(h *sched.Handle, _ any) {
			defer wg.Done()
			rw.ReadLock(h)
			n := atomic.AddInt64(&concurrent, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			h.USleep(5000)
			atomic.AddInt64(&concurrent, -1)
			rw.ReadUnlock()
		}, nil, task, "reader")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		s.Ready(th)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for readers to finish")
	}

	if peak < 2 {
		t.Fatalf("peak concurrent readers = %d, want at least 2", peak)
	}
}

// TestWriterExcludesReaders checks a writer never overlaps with a reader:
// a reader holding the read lock must never observe the writer's active
// flag set.
func TestWriterExcludesReaders(t *testing.T) {
	s, task := newTestScheduler(t, 6)
	rw := New(s)

	var writerActive int32
	var violations int32
	const rounds = 50

	var wg sync.WaitGroup
	wg.Add(2)

	writer, err := s.Create(func(h *sched.Handle, _ any) {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			rw.WriteLock(h)
			atomic.StoreInt32(&writerActive, 1)
			h.USleep(1000)
			atomic.StoreInt32(&writerActive, 0)
			rw.WriteUnlock()
		}
	}, nil, task, "writer")
	if err != nil {
		t.Fatalf("Create writer: %v", err)
	}

	reader, err := s.Create(func(h *sched.Handle, _ any) {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			rw.ReadLock(h)
			if atomic.LoadInt32(&writerActive) != 0 {
				atomic.AddInt32(&violations, 1)
			}
			rw.ReadUnlock()
		}
	}, nil, task, "reader")
	if err != nil {
		t.Fatalf("Create reader: %v", err)
	}

	s.Ready(writer)
	s.Ready(reader)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}

	if violations != 0 {
		t.Fatalf("reader observed an active writer %d times, want 0", violations)
	}
}

// waitForState polls until th reaches want, failing the test if it doesn't
// happen before the deadline.
func waitForState(t *testing.T, th *kthread.Thread, want kthread.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for th.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("thread %d never reached state %s (stuck at %s)", th.ID(), want, th.State())
		}
		time.Sleep(time.Millisecond)
	}
}

// TestWriterWakesByDirectHandoffNotByLateReader drives spec.md §4.5's
// hardest case: three readers hold the lock, a writer queues up behind
// them, and only then does a fourth reader arrive. letOthersIn must hand
// the lock straight to the already-queued writer once the last of the
// three readers releases, rather than letting the late reader race in
// ahead of it — the late reader must stay queued behind the writer and
// only acquire once the writer's own WriteUnlock hands off to it in turn.
func TestWriterWakesByDirectHandoffNotByLateReader(t *testing.T) {
	s, task := newTestScheduler(t, 8)
	rw := New(s)

	const holders = 3
	holding := make(chan struct{}, holders)
	var holderWG sync.WaitGroup
	holderWG.Add(holders)

	for i := 0; i < holders; i++ {
		th, err := s.Create(func(h *sched.Handle, _ any) {
			defer holderWG.Done()
			rw.ReadLock(h)
			holding <- struct{}{}
			h.USleep(50_000) // hold the lock long enough to queue the writer and late reader behind it
			rw.ReadUnlock()
		}, nil, task, "holder")
		if err != nil {
			t.Fatalf("Create holder: %v", err)
		}
		s.Ready(th)
	}

	for i := 0; i < holders; i++ {
		select {
		case <-holding:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for all three readers to acquire")
		}
	}

	var orderMu sync.Mutex
	var order []string
	record := func(name string) {
		orderMu.Lock()
		order = append(order, name)
		orderMu.Unlock()
	}

	writerDone := make(chan struct{})
	writerTh, err := s.Create(func(h *sched.Handle, _ any) {
		rw.WriteLock(h)
		record("writer")
		rw.WriteUnlock()
		close(writerDone)
	}, nil, task, "writer")
	if err != nil {
		t.Fatalf("Create writer: %v", err)
	}
	s.Ready(writerTh)
	waitForState(t, writerTh, kthread.Sleeping)

	lateReaderDone := make(chan struct{})
	lateReaderTh, err := s.Create(func(h *sched.Handle, _ any) {
		rw.ReadLock(h)
		record("late-reader")
		rw.ReadUnlock()
		close(lateReaderDone)
	}, nil, task, "late-reader")
	if err != nil {
		t.Fatalf("Create late reader: %v", err)
	}
	s.Ready(lateReaderTh)
	waitForState(t, lateReaderTh, kthread.Sleeping)

	holderWG.Wait()

	select {
	case <-writerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never acquired the lock via hand-off")
	}
	select {
	case <-lateReaderDone:
	case <-time.After(2 * time.Second):
		t.Fatal("late reader never acquired the lock")
	}

	if len(order) != 2 || order[0] != "writer" || order[1] != "late-reader" {
		t.Fatalf("acquire order = %v, want [writer late-reader]: the writer must be handed the lock directly, not raced by the late reader", order)
	}
}
