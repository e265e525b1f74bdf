// Copyright 2001-2004 Jakub Jermar. Go rendition Copyright 2024.
// Use of this source code is governed by a BSD-style license.

package kthread

// DLL is a doubly-linked intrusive list node, modeled directly on the
// teacher's nsync package (nsync/waiter.go's unexported dll type): an empty
// list is a node whose next and prev both point to itself, so MakeEmpty,
// InsertAfter and Remove need no special-case head pointer.
//
// A Thread owns three independent DLL instances — RQLink, WQLink, TaskLink —
// one per queue it can simultaneously belong to (run queue, wait queue,
// task's thread list). Rather than the source's single generic list
// threaded through a macro-selected field, the Go rendition uses three
// concrete fields: idiomatic here, since Go has no struct-field-as-template-
// parameter, and it keeps each queue's node independently typed and GC-safe.
type DLL struct {
	next, prev *DLL
	Elem       *Thread
}

// MakeEmpty makes l an empty list.
func (l *DLL) MakeEmpty() {
	l.next = l
	l.prev = l
}

// IsEmpty reports whether l is empty.
func (l *DLL) IsEmpty() bool {
	return l.next == l
}

// InsertAfter inserts e into the list immediately after p.
func (e *DLL) InsertAfter(p *DLL) {
	e.next = p.next
	e.prev = p
	e.next.prev = e
	e.prev.next = e
}

// Remove detaches e from whatever list it is in.
func (e *DLL) Remove() {
	e.next.prev = e.prev
	e.prev.next = e.next
	e.next = e
	e.prev = e
}

// IsInList reports whether e can be reached by walking l.
func (e *DLL) IsInList(l *DLL) bool {
	for p := l.next; p != l; p = p.next {
		if p == e {
			return true
		}
	}
	return false
}

// Front returns the element at the head of list l, or nil if l is empty.
func (l *DLL) Front() *Thread {
	if l.IsEmpty() {
		return nil
	}
	return l.next.Elem
}

// PushBack inserts e at the tail of the FIFO headed by the sentinel l.
func (l *DLL) PushBack(e *DLL) {
	e.InsertAfter(l.prev)
}

// PopFront removes and returns the thread at the head of the FIFO headed by
// the sentinel l, or nil if l is empty.
func (l *DLL) PopFront() *Thread {
	if l.IsEmpty() {
		return nil
	}
	e := l.next
	t := e.Elem
	e.Remove()
	return t
}

// Len walks l and counts its elements. Intended for diagnostics/tests, not
// hot paths (callers that already track a count should use that instead).
func (l *DLL) Len() int {
	n := 0
	for p := l.next; p != l; p = p.next {
		n++
	}
	return n
}
