// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"sync"

	"github.com/lognova/logship/event"
)

// Buffer accumulates pending events from concurrent producers. The
// critical section is O(1) on append and a pointer swap on drain, so
// producers never wait on a copy or on I/O.
type Buffer struct {
	mu     sync.Mutex
	events []event.Event
	seq    uint64
	hint   int
}

// NewBuffer creates a buffer pre-sized for sizeHint events.
func NewBuffer(sizeHint int) *Buffer {
	if sizeHint < 1 {
		sizeHint = 1
	}
	return &Buffer{
		events: make([]event.Event, 0, sizeHint),
		hint:   sizeHint,
	}
}

// Append stores an event, assigning its sequence number, and returns
// the new buffer length for the caller's size-threshold check.
func (b *Buffer) Append(e event.Event) int {
	b.mu.Lock()
	b.seq++
	e.Seq = b.seq
	b.events = append(b.events, e)
	n := len(b.events)
	b.mu.Unlock()
	return n
}

// SnapshotAndClear atomically takes ownership of all buffered events in
// append order. The underlying slice is exchanged for a fresh one under
// the same lock, so no event can land in two snapshots or fall between
// them.
func (b *Buffer) SnapshotAndClear() []event.Event {
	b.mu.Lock()
	evs := b.events
	b.events = make([]event.Event, 0, b.hint)
	b.mu.Unlock()
	return evs
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	n := len(b.events)
	b.mu.Unlock()
	return n
}
