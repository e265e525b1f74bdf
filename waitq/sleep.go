// Copyright 2001-2004 Jakub Jermar. Go rendition Copyright 2024.
// Use of this source code is governed by a BSD-style license.

package waitq

import "github.com/helion-kernel/kcore/sched"

func init() {
	sched.SleepFunc = usleep
}

// usleep implements thread_sleep/thread_usleep (spec.md §4.4): a transient
// wait queue that can never receive a wake-up, so SleepTimeout always
// returns via its timer path with result Timeout — "this is the intent,"
// per the spec, "a pure timed delay." The wait queue is discarded once the
// call returns, matching the source's "on the caller's stack" framing.
func usleep(h *sched.Handle, usec uint64) {
	wq := New(h.Sched())
	wq.SleepTimeout(h, usec, false)
}
