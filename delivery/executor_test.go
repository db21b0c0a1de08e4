// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, pcfg PolicyConfig) *Executor {
	t.Helper()
	e := NewExecutor(ExecutorConfig{MaxConcurrency: 2, QueueSize: 16}, NewPolicy(pcfg), nil, nil)
	e.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e
}

func fastPolicy(maxRetries int) PolicyConfig {
	return PolicyConfig{
		MaxRetries:      maxRetries,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func awaitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for unit completion")
		return Result{}
	}
}

func TestExecutor_SuccessFirstAttempt(t *testing.T) {
	e := newTestExecutor(t, fastPolicy(3))

	done := make(chan Result, 1)
	var calls atomic.Int32
	u := NewUnit(1, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, func(res Result) { done <- res })

	e.Submit(u)
	res := awaitResult(t, done)

	assert.False(t, res.Failed())
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, StateSucceeded, u.State())
}

func TestExecutor_RetryBudgetExhausted(t *testing.T) {
	e := newTestExecutor(t, fastPolicy(3))

	done := make(chan Result, 1)
	var calls atomic.Int32
	u := NewUnit(1, func(ctx context.Context) error {
		calls.Add(1)
		return &ConnectivityError{Err: errors.New("no route")}
	}, func(res Result) { done <- res })

	e.Submit(u)
	res := awaitResult(t, done)

	// Exactly maxRetries attempts, never more, ending in exhausted.
	assert.Equal(t, ClassExhausted, res.Class)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, StateFailedTerminal, u.State())
	assert.ErrorAs(t, res.Err, new(*ConnectivityError))
}

func TestExecutor_NonRetryableShortCircuits(t *testing.T) {
	e := newTestExecutor(t, fastPolicy(5))

	done := make(chan Result, 1)
	var calls atomic.Int32
	u := NewUnit(1, func(ctx context.Context) error {
		calls.Add(1)
		return &ServerError{Status: 400, Body: "malformed"}
	}, func(res Result) { done <- res })

	e.Submit(u)
	res := awaitResult(t, done)

	assert.Equal(t, ClassServerRejected, res.Class)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecutor_EventualSuccess(t *testing.T) {
	e := newTestExecutor(t, fastPolicy(5))

	done := make(chan Result, 1)
	var calls atomic.Int32
	u := NewUnit(1, func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return &ConnectivityError{Err: errors.New("flaky")}
		}
		return nil
	}, func(res Result) { done <- res })

	e.Submit(u)
	res := awaitResult(t, done)

	assert.False(t, res.Failed())
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, StateSucceeded, u.State())
}

func TestExecutor_InvalidResponseRetriedOnce(t *testing.T) {
	e := newTestExecutor(t, fastPolicy(5))

	done := make(chan Result, 1)
	var calls atomic.Int32
	u := NewUnit(1, func(ctx context.Context) error {
		calls.Add(1)
		return &InvalidResponseError{Reason: "empty body"}
	}, func(res Result) { done <- res })

	e.Submit(u)
	res := awaitResult(t, done)

	assert.Equal(t, ClassInvalidResponse, res.Class)
	assert.Equal(t, 2, res.Attempts)
}

func TestExecutor_ShutdownCancelsPendingUnit(t *testing.T) {
	// Long backoff parks the unit in a retry timer, so shutdown must
	// force-terminate it.
	e := NewExecutor(ExecutorConfig{MaxConcurrency: 1, QueueSize: 4}, NewPolicy(PolicyConfig{
		MaxRetries:      10,
		InitialInterval: 10 * time.Second,
		MaxInterval:     10 * time.Second,
		Multiplier:      1.0,
	}), nil, nil)
	e.Start()

	done := make(chan Result, 1)
	u := NewUnit(1, func(ctx context.Context) error {
		return &ConnectivityError{Err: errors.New("down")}
	}, func(res Result) { done <- res })

	e.Submit(u)
	// Let the first attempt fail and schedule its retry.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := e.Shutdown(ctx)
	require.Error(t, err)

	res := awaitResult(t, done)
	assert.Equal(t, ClassCancelled, res.Class)
	assert.Equal(t, StateFailedTerminal, u.State())
}

func TestExecutor_ShutdownWaitsForInFlight(t *testing.T) {
	e := NewExecutor(ExecutorConfig{MaxConcurrency: 2, QueueSize: 4}, NewPolicy(fastPolicy(3)), nil, nil)
	e.Start()

	done := make(chan Result, 1)
	u := NewUnit(1, func(ctx context.Context) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}, func(res Result) { done <- res })

	e.Submit(u)
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))

	res := awaitResult(t, done)
	assert.False(t, res.Failed())
	assert.Equal(t, StateSucceeded, u.State())
}

func TestExecutor_SubmitAfterShutdownIsCancelled(t *testing.T) {
	e := NewExecutor(ExecutorConfig{MaxConcurrency: 1, QueueSize: 4}, NewPolicy(fastPolicy(3)), nil, nil)
	e.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))

	done := make(chan Result, 1)
	var calls atomic.Int32
	u := NewUnit(1, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, func(res Result) { done <- res })

	// A late submission never enters the queue; it terminates as
	// cancelled so its chunk bookkeeping still completes.
	e.Submit(u)
	res := awaitResult(t, done)

	assert.Equal(t, ClassCancelled, res.Class)
	assert.Equal(t, StateFailedTerminal, u.State())
	assert.Equal(t, int32(0), calls.Load())
}

func TestUnit_TerminalTransitionExactlyOnce(t *testing.T) {
	var hooks atomic.Int32
	u := NewUnit(1, nil, func(Result) { hooks.Add(1) })

	assert.True(t, u.finish(StateSucceeded, Result{Attempts: 1}))
	assert.False(t, u.finish(StateFailedTerminal, Result{Class: ClassCancelled}))

	assert.Equal(t, int32(1), hooks.Load())
	assert.Equal(t, StateSucceeded, u.State())
}

func TestUnit_AttemptCountStrictlyIncreases(t *testing.T) {
	u := NewUnit(1, nil, nil)
	assert.Equal(t, 1, u.beginAttempt())
	assert.Equal(t, 2, u.beginAttempt())
	assert.Equal(t, 3, u.Attempts())
}

func TestUnit_BeginAttemptCannotResurrectTerminal(t *testing.T) {
	u := NewUnit(1, nil, nil)
	require.True(t, u.finish(StateFailedTerminal, Result{Class: ClassCancelled}))

	// A worker racing a force-termination must not make the unit look
	// live again.
	u.beginAttempt()
	assert.Equal(t, StateFailedTerminal, u.State())

	u.setIfNotTerminal(StateFailedRetryable)
	assert.Equal(t, StateFailedTerminal, u.State())
}
