// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package klog is the kernel core's leveled logger. It is a narrowed
// adaptation of the teacher's v.io/x/lib/vlog: the same wrap around
// github.com/cosmosnicolaou/llog (a glog-style leveled logger with no
// package-global flag state), trimmed to the two things the kernel core
// needs — fatal diagnostics for invariant violations (spec.md §7: "a fatal
// kernel panic with diagnostic message") and V-gated tracing of scheduling
// decisions.
package klog

import (
	"fmt"

	"github.com/cosmosnicolaou/llog"
)

// Level is a verbosity level, as consumed by V.
type Level int32

var log *llog.Log

func init() {
	log = llog.NewLogger("kcore", 1)
}

// V reports whether logging at the given verbosity level is enabled. Callers
// guard expensive trace formatting with it, following the teacher's idiom:
//
//	if klog.V(2) { klog.Infof("dispatch: cpu=%d thread=%d", cpu, tid) }
func V(level Level) bool {
	return log.V(llog.Level(level))
}

// Infof logs an informational trace line.
func Infof(format string, args ...interface{}) {
	log.Printf(llog.InfoLog, format, args...)
}

// Warningf logs a recoverable anomaly — not an invariant violation, but
// something worth a human noticing (e.g. a wait queue timeout racing a
// wakeup).
func Warningf(format string, args ...interface{}) {
	log.Printf(llog.WarningLog, format, args...)
}

// Panicf logs a fatal diagnostic and panics. It is reserved for programmer
// invariant violations per spec.md §7 ("invalid state assertion... treated
// as a bug, not a user-visible error"): double-ready, unlocking a lock not
// held, an illegal thread-state transition, and similar. These are bugs, not
// recoverable conditions, so there is no result code to return.
func Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Printf(llog.ErrorLog, "kernel panic: %s", msg)
	log.Flush()
	panic(msg)
}
