// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/lognova/logship/event"
)

// FlushReason records why a chunk was cut from the buffer.
type FlushReason string

// Flush reasons.
const (
	ReasonSizeThreshold FlushReason = "size_threshold"
	ReasonTimeInterval  FlushReason = "time_interval"
	ReasonManual        FlushReason = "manual"
	ReasonShutdown      FlushReason = "shutdown"
)

// AggregateStatus summarizes a chunk's delivery outcome.
type AggregateStatus string

// Aggregate statuses.
const (
	AllSucceeded   AggregateStatus = "all_succeeded"
	PartialFailure AggregateStatus = "partial_failure"
	AllFailed      AggregateStatus = "all_failed"
)

// AggregateResult is the per-chunk outcome reported once all of its
// delivery units are terminal. Partial failure is normal output, not an
// exceptional condition.
type AggregateResult struct {
	Status       AggregateStatus
	FailedEvents []event.Event
}

// CompletionFunc receives the aggregate outcome of a chunk. It is
// invoked exactly once per chunk, even when every unit failed and even
// when shutdown force-terminated pending units.
type CompletionFunc func(*Chunk, AggregateResult)

// Chunk is an immutable snapshot of buffered events captured at one
// flush. The event list never changes after construction; only the
// delivery bookkeeping below does.
type Chunk struct {
	ID     uint64
	Reason FlushReason
	Events []event.Event

	pending  atomic.Int32
	mu       sync.Mutex
	failed   []event.Event
	doneOnce sync.Once
}

// recordFailure marks events of one terminally failed unit.
func (c *Chunk) recordFailure(evs []event.Event) {
	c.mu.Lock()
	c.failed = append(c.failed, evs...)
	c.mu.Unlock()
}

// unitFinished decrements the pending-unit count and reports whether
// this was the chunk's last outstanding unit.
func (c *Chunk) unitFinished() bool {
	return c.pending.Add(-1) == 0
}

// aggregate summarizes the chunk once all units are terminal.
func (c *Chunk) aggregate() AggregateResult {
	c.mu.Lock()
	failed := c.failed
	c.mu.Unlock()

	switch {
	case len(failed) == 0:
		return AggregateResult{Status: AllSucceeded}
	case len(failed) >= len(c.Events):
		return AggregateResult{Status: AllFailed, FailedEvents: failed}
	default:
		return AggregateResult{Status: PartialFailure, FailedEvents: failed}
	}
}
