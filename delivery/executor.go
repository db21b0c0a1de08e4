// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lognova/logship/observe"
)

// ExecutorConfig holds worker pool settings.
type ExecutorConfig struct {
	// MaxConcurrency bounds the number of simultaneous sink calls.
	MaxConcurrency int

	// QueueSize is the capacity of the FIFO unit queue. Submissions
	// beyond it block the submitter.
	QueueSize int

	// AttemptTimeout bounds one sink call. Zero means no deadline
	// beyond the executor's own lifetime.
	AttemptTimeout time.Duration
}

// DefaultExecutorConfig returns the default executor settings.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrency: 3,
		QueueSize:      256,
		AttemptTimeout: 30 * time.Second,
	}
}

// Executor runs delivery units on a bounded worker pool, applying the
// retry policy between attempts. Retries re-enter the queue after their
// backoff delay rather than blocking a worker.
type Executor struct {
	cfg     ExecutorConfig
	policy  *Policy
	metrics *observe.Metrics
	logger  *slog.Logger

	queue  chan *Unit
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	live     map[*Unit]struct{}
	draining bool
	unitsWG  sync.WaitGroup
}

// NewExecutor creates an executor. Workers start on Start.
func NewExecutor(cfg ExecutorConfig, policy *Policy, metrics *observe.Metrics, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if policy == nil {
		policy = NewPolicy(DefaultPolicyConfig())
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		cfg:     cfg,
		policy:  policy,
		metrics: metrics,
		logger:  logger,
		queue:   make(chan *Unit, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		live:    make(map[*Unit]struct{}),
	}
}

// Start launches the worker pool.
func (e *Executor) Start() {
	for i := 0; i < e.cfg.MaxConcurrency; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	e.logger.Debug("delivery executor started",
		slog.Int("workers", e.cfg.MaxConcurrency),
		slog.Int("queue_size", e.cfg.QueueSize))
}

// Submit enqueues a unit for its first attempt. Blocks when the queue
// is full; the dispatcher's in-flight chunk bound keeps this short.
// Units submitted after shutdown began are terminated as cancelled
// without entering the queue.
func (e *Executor) Submit(u *Unit) {
	if !e.register(u) {
		if u.finish(StateFailedTerminal, Result{Class: ClassCancelled, Attempts: u.Attempts()}) {
			e.metrics.RecordTerminal(string(ClassCancelled))
		}
		return
	}
	select {
	case e.queue <- u:
	case <-e.ctx.Done():
		e.complete(u, StateFailedTerminal, Result{
			Class:    ClassCancelled,
			Attempts: u.Attempts(),
		})
	}
}

// register tracks a live unit. The WaitGroup add happens under the same
// lock that Shutdown takes before waiting, so no add can race the wait.
// Returns false once draining has begun.
func (e *Executor) register(u *Unit) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draining {
		return false
	}
	e.live[u] = struct{}{}
	e.unitsWG.Add(1)
	return true
}

func (e *Executor) unregister(u *Unit) {
	e.mu.Lock()
	delete(e.live, u)
	e.mu.Unlock()
	e.unitsWG.Done()
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case u := <-e.queue:
			e.process(u)
		}
	}
}

// process runs one delivery attempt and applies the retry policy.
func (e *Executor) process(u *Unit) {
	if u.Terminal() {
		// Force-terminated while queued or waiting out a backoff.
		return
	}

	attempt := u.beginAttempt()

	ctx := e.ctx
	var cancel context.CancelFunc
	if e.cfg.AttemptTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	}
	start := time.Now()
	err := u.exec(ctx)
	if cancel != nil {
		cancel()
	}
	e.metrics.RecordAttempt(time.Since(start), err == nil)

	if err == nil {
		e.complete(u, StateSucceeded, Result{Attempts: attempt})
		return
	}

	class, status := Classify(err)
	dec := e.policy.Decide(class, status, attempt)
	if dec.Retry {
		u.setIfNotTerminal(StateFailedRetryable)
		e.metrics.RecordRetry(string(class))
		e.logger.Debug("delivery attempt failed, retrying",
			slog.Uint64("chunk_id", u.ChunkID),
			slog.Int("attempt", attempt),
			slog.String("classification", string(class)),
			slog.Duration("retry_after", dec.Delay),
			slog.String("error", err.Error()))
		time.AfterFunc(dec.Delay, func() { e.resubmit(u) })
		return
	}

	e.logger.Warn("delivery failed terminally",
		slog.Uint64("chunk_id", u.ChunkID),
		slog.Int("attempts", attempt),
		slog.String("classification", string(dec.Final)),
		slog.String("error", err.Error()))
	e.complete(u, StateFailedTerminal, Result{Err: err, Class: dec.Final, Attempts: attempt})
}

// resubmit re-enters a unit into the queue after its backoff delay.
func (e *Executor) resubmit(u *Unit) {
	if u.Terminal() {
		return
	}
	select {
	case e.queue <- u:
	case <-e.ctx.Done():
		e.complete(u, StateFailedTerminal, Result{
			Class:    ClassCancelled,
			Attempts: u.Attempts(),
		})
	}
}

// complete performs the unit's terminal transition. Duplicate terminal
// transitions indicate a local invariant violation and are logged, not
// propagated.
func (e *Executor) complete(u *Unit, s State, res Result) {
	if !u.finish(s, res) {
		e.logger.Error("duplicate terminal transition ignored",
			slog.Uint64("chunk_id", u.ChunkID),
			slog.String("state", s.String()))
		return
	}
	e.metrics.RecordTerminal(string(res.Class))
	e.unregister(u)
}

// Shutdown stops the executor: it waits for all live units to reach a
// terminal state until the context expires, then force-terminates the
// stragglers as cancelled so no completion hook is left un-invoked.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.draining = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.unitsWG.Wait()
		close(done)
	}()

	var forced int
	select {
	case <-done:
	case <-ctx.Done():
		e.mu.Lock()
		remaining := make([]*Unit, 0, len(e.live))
		for u := range e.live {
			remaining = append(remaining, u)
		}
		e.mu.Unlock()

		for _, u := range remaining {
			e.complete(u, StateFailedTerminal, Result{
				Class:    ClassCancelled,
				Attempts: u.Attempts(),
			})
			forced++
		}
		<-done
	}

	e.cancel()
	e.wg.Wait()

	if forced > 0 {
		e.logger.Warn("executor shutdown cancelled pending units", slog.Int("cancelled", forced))
		return ctx.Err()
	}
	e.logger.Debug("delivery executor stopped")
	return nil
}
