// Copyright 2001-2004 Jakub Jermar. Go rendition Copyright 2024.
// Use of this source code is governed by a BSD-style license.

package kthread

import "github.com/helion-kernel/kcore/klog"

// State is one of the six thread lifecycle states from spec.md §3.1.
type State int

const (
	Invalid State = iota
	Entering
	Ready
	Running
	Sleeping
	Exiting
)

func (s State) String() string {
	switch s {
	case Invalid:
		return "Invalid"
	case Entering:
		return "Entering"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Sleeping:
		return "Sleeping"
	case Exiting:
		return "Exiting"
	default:
		return "Unknown"
	}
}

// legalEdges centralizes the thread state machine (design notes: "the
// thread's state field and its transitions should be centralized in a
// state-machine module with a single transition(t, from, to) function").
var legalEdges = map[State][]State{
	Entering: {Ready},
	Ready:    {Running},
	Running:  {Ready, Sleeping, Exiting},
	Sleeping: {Ready},
}

// transition moves t to "to", asserting the edge is legal. Callers must
// already hold t.lock. An illegal edge is a programming bug, not a
// recoverable condition (spec.md §7), so it panics via klog.
func (t *Thread) transition(to State) {
	for _, allowed := range legalEdges[t.state] {
		if allowed == to {
			t.state = to
			return
		}
	}
	klog.Panicf("illegal thread state transition %s -> %s (thread %d %q)", t.state, to, t.id, t.name)
}
