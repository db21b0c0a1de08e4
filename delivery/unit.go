// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"sync"
	"sync/atomic"
)

// State tracks a delivery unit through its lifecycle.
type State int32

// Unit states. Succeeded and FailedTerminal are terminal; a unit enters
// a terminal state at most once.
const (
	StatePending State = iota
	StateInFlight
	StateSucceeded
	StateFailedRetryable
	StateFailedTerminal
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInFlight:
		return "in_flight"
	case StateSucceeded:
		return "succeeded"
	case StateFailedRetryable:
		return "failed_retryable"
	case StateFailedTerminal:
		return "failed_terminal"
	default:
		return "unknown"
	}
}

// Result is handed to a unit's completion hook on its terminal
// transition. Class is empty on success.
type Result struct {
	Err      error
	Class    Classification
	Attempts int
}

// Failed reports whether the unit ended in failure.
func (r Result) Failed() bool { return r.Class != "" }

// ExecFunc performs one outbound attempt for a unit.
type ExecFunc func(ctx context.Context) error

// Unit is one retryable outbound attempt derived from a chunk. A unit
// is owned by exactly one executor worker at a time; its attempt count
// strictly increases and it reaches a terminal state at most once.
type Unit struct {
	// ChunkID identifies the chunk this unit was derived from.
	ChunkID uint64

	exec   ExecFunc
	onDone func(Result)

	state    atomic.Int32
	attempts atomic.Int32
	doneOnce sync.Once
}

// NewUnit wraps one outbound call with its completion hook. The hook
// fires exactly once, on the unit's terminal transition.
func NewUnit(chunkID uint64, exec ExecFunc, onDone func(Result)) *Unit {
	return &Unit{ChunkID: chunkID, exec: exec, onDone: onDone}
}

// State returns the unit's current lifecycle state.
func (u *Unit) State() State { return State(u.state.Load()) }

// Attempts returns how many delivery attempts have started.
func (u *Unit) Attempts() int { return int(u.attempts.Load()) }

// Terminal reports whether the unit already reached a terminal state.
func (u *Unit) Terminal() bool {
	s := u.State()
	return s == StateSucceeded || s == StateFailedTerminal
}

// beginAttempt marks the unit in flight and returns the new attempt
// count. Attempt counts never decrease or reset. A terminal state is
// never overwritten: a force-termination racing the worker wins.
func (u *Unit) beginAttempt() int {
	u.setIfNotTerminal(StateInFlight)
	return int(u.attempts.Add(1))
}

// setIfNotTerminal advances the lifecycle state unless the unit already
// reached a terminal state.
func (u *Unit) setIfNotTerminal(s State) {
	for {
		cur := State(u.state.Load())
		if cur == StateSucceeded || cur == StateFailedTerminal {
			return
		}
		if u.state.CompareAndSwap(int32(cur), int32(s)) {
			return
		}
	}
}

// finish performs the exactly-once terminal transition and fires the
// completion hook. Returns false if the unit was already terminal;
// late transitions are no-ops.
func (u *Unit) finish(s State, res Result) bool {
	fired := false
	u.doneOnce.Do(func() {
		u.state.Store(int32(s))
		fired = true
		if u.onDone != nil {
			u.onDone(res)
		}
	})
	return fired
}
