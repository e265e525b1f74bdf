// Copyright 2001-2004 Jakub Jermar. Go rendition Copyright 2024.
// Use of this source code is governed by a BSD-style license.

package waitq

import (
	"sync"
	"testing"
	"time"

	"github.com/helion-kernel/kcore/kthread"
	"github.com/helion-kernel/kcore/sched"
)

// newTestScheduler mirrors cmd/kctl's boot sequence: a handful of CPUs,
// dispatch loops started, stopped on test cleanup.
func newTestScheduler(t *testing.T, cpus int) (*sched.Scheduler, *kthread.Task) {
	t.Helper()
	s := sched.New(sched.Config{CPUCount: cpus})
	s.Start()
	t.Cleanup(s.Stop)
	return s, kthread.NewTask(1)
}

// TestMutexMutualExclusion is the same shape as nsync/mu_test.go's counting
// loop: many threads increment a shared, unprotected-by-Go counter only
// through the mutex, and the final count must be exact.
func TestMutexMutualExclusion(t *testing.T) {
	s, task := newTestScheduler(t, 4)
	mu := NewMutex(s)

	const workers = 8
	const perWorker = 200
	var counter int
	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		th, err := s.Create(func(h *sched.Handle, _ any) {
			defer wg.Done()
			for n := 0; n < perWorker; n++ {
				mu.Lock(h)
				counter++
				mu.Unlock()
			}
		}, nil, task, "mutex-worker")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		s.Ready(th)
	}

	wg.Wait()
	if counter != workers*perWorker {
		t.Fatalf("counter = %d, want %d", counter, workers*perWorker)
	}
}

// TestSemaphoreProducerConsumer exercises Semaphore as a pure item counter
// (spec.md §3.4's generalization from mutex's count-1 special case).
func TestSemaphoreProducerConsumer(t *testing.T) {
	s, task := newTestScheduler(t, 4)
	sem := NewSemaphore(s, 0)
	mu := NewMutex(s)

	const items = 500
	var buf []int
	var consumed int
	var wg sync.WaitGroup
	wg.Add(2)

	producer, err := s.Create(func(h *sched.Handle, _ any) {
		defer wg.Done()
		for i := 0; i < items; i++ {
			mu.Lock(h)
			buf = append(buf, i)
			mu.Unlock()
			sem.Up()
		}
	}, nil, task, "producer")
	if err != nil {
		t.Fatalf("Create producer: %v", err)
	}

	consumer, err := s.Create(func(h *sched.Handle, _ any) {
		defer wg.Done()
		for i := 0; i < items; i++ {
			sem.Down(h, 0, false)
			mu.Lock(h)
			if len(buf) > 0 {
				buf = buf[1:]
				consumed++
			}
			mu.Unlock()
		}
	}, nil, task, "consumer")
	if err != nil {
		t.Fatalf("Create consumer: %v", err)
	}

	s.Ready(producer)
	s.Ready(consumer)
	wg.Wait()

	if consumed != items {
		t.Fatalf("consumed = %d, want %d", consumed, items)
	}
}

// TestSemaphoreTryDownDoesNotBlock checks the non-blocking path returns
// WouldBlock immediately rather than sleeping forever when no permit is
// available.
func TestSemaphoreTryDownDoesNotBlock(t *testing.T) {
	s, task := newTestScheduler(t, 2)
	sem := NewSemaphore(s, 0)

	result := make(chan Result, 1)
	th, err := s.Create(func(h *sched.Handle, _ any) {
		result <- sem.Down(h, 0, true)
	}, nil, task, "try-down")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.Ready(th)

	select {
	case r := <-result:
		if r != WouldBlock {
			t.Fatalf("Down(nonBlocking) = %s, want WOULD_BLOCK", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for non-blocking Down to return")
	}
}

// TestCondVarBroadcastWakesAllWaiters mirrors nsync/cv_test.go's rendezvous
// shape: several threads wait on a predicate guarded by a Mutex until a
// single signaler flips it and broadcasts.
func TestCondVarBroadcastWakesAllWaiters(t *testing.T) {
	s, task := newTestScheduler(t, 4)
	mu := NewMutex(s)
	cv := NewCondVar(s)
	ready := false

	const waiters = 5
	var wg sync.WaitGroup
	wg.Add(waiters + 1)

	for i := 0; i < waiters; i++ {
		th, err := s.Create(func(h *sched.Handle, _ any) {
			defer wg.Done()
			mu.Lock(h)
			for !ready {
				cv.Wait(h, mu)
			}
			mu.Unlock()
		}, nil, task, "cv-waiter")
		if err != nil {
			t.Fatalf("Create waiter: %v", err)
		}
		s.Ready(th)
	}

	signaler, err := s.Create(func(h *sched.Handle, _ any) {
		defer wg.Done()
		h.USleep(2000)
		mu.Lock(h)
		ready = true
		mu.Unlock()
		cv.Broadcast()
	}, nil, task, "cv-signaler")
	if err != nil {
		t.Fatalf("Create signaler: %v", err)
	}
	s.Ready(signaler)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for broadcast to wake every waiter")
	}
}

// TestWakeupOnEmptyQueueIsMissed verifies the invariant spec.md §3.3 states
// directly: a Wakeup(First) with nobody waiting is remembered as a missed
// wake-up, consumed atomically by the next SleepTimeout instead of lost.
func TestWakeupOnEmptyQueueIsMissed(t *testing.T) {
	s, task := newTestScheduler(t, 2)
	wq := New(s)
	wq.Wakeup(First)

	result := make(chan Result, 1)
	th, err := s.Create(func(h *sched.Handle, _ any) {
		result <- wq.SleepTimeout(h, 0, false)
	}, nil, task, "sleeper")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.Ready(th)

	select {
	case r := <-result:
		if r != OKAtomic {
			t.Fatalf("SleepTimeout after missed wakeup = %s, want OK_ATOMIC", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out: missed wakeup was not consumed")
	}
}

// TestSleepTimeoutExpires checks a sleeper with no wakeup coming eventually
// observes Timeout.
func TestSleepTimeoutExpires(t *testing.T) {
	s, task := newTestScheduler(t, 2)
	wq := New(s)

	result := make(chan Result, 1)
	th, err := s.Create(func(h *sched.Handle, _ any) {
		result <- wq.SleepTimeout(h, 10_000, false)
	}, nil, task, "timeout-sleeper")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.Ready(th)

	select {
	case r := <-result:
		if r != Timeout {
			t.Fatalf("SleepTimeout = %s, want TIMEOUT", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SleepTimeout's own timeout to fire")
	}
}
