// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package pipeline implements the asynchronous, buffered, retrying
// event-delivery pipeline: producers append events without blocking on
// I/O, events are batched into immutable chunks on size or time
// triggers, and chunks are delivered through a bounded worker pool with
// classified, selectively retried failures. Every event is either
// delivered, permanently dropped with a reported cause, or still
// pending; none is silently lost.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lognova/logship/delivery"
	"github.com/lognova/logship/event"
	"github.com/lognova/logship/observe"
)

// Config holds pipeline settings.
type Config struct {
	// BufferSize is the size threshold that triggers a flush.
	BufferSize int

	// FlushInterval is the periodic flush trigger. Non-positive
	// disables time-based flushing.
	FlushInterval time.Duration

	// MaxInFlightChunks bounds chunks dispatched but not yet completed;
	// flush callers block when it is reached.
	MaxInFlightChunks int

	Executor delivery.ExecutorConfig
	Policy   delivery.PolicyConfig
}

// DefaultConfig returns the default pipeline settings.
func DefaultConfig() Config {
	return Config{
		BufferSize:        100,
		FlushInterval:     10 * time.Second,
		MaxInFlightChunks: 4,
		Executor:          delivery.DefaultExecutorConfig(),
		Policy:            delivery.DefaultPolicyConfig(),
	}
}

// Pipeline owns one buffer, scheduler, dispatcher, and executor, and
// ships events to a single sink. Ordering holds within a chunk and
// chunks dispatch in flush order, but completion across chunks is
// unordered; callers needing strict cross-chunk ordering run with
// MaxConcurrency = 1 and MaxInFlightChunks = 1. Construct one pipeline
// per sink; lifecycle is an explicit Start/Shutdown pair.
type Pipeline struct {
	cfg        Config
	sink       Sink
	buffer     *Buffer
	scheduler  *Scheduler
	dispatcher *Dispatcher
	exec       *delivery.Executor
	metrics    *observe.Metrics
	logger     *slog.Logger

	flushing atomic.Bool
}

// New creates a pipeline delivering to sink. The completion callback
// may be nil; metrics may be nil when telemetry is disabled.
func New(cfg Config, sink Sink, complete CompletionFunc, metrics *observe.Metrics, logger *slog.Logger) (*Pipeline, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("sink", sink.Name()))

	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}
	if cfg.MaxInFlightChunks < 1 {
		cfg.MaxInFlightChunks = 1
	}

	p := &Pipeline{
		cfg:     cfg,
		sink:    sink,
		buffer:  NewBuffer(cfg.BufferSize),
		metrics: metrics,
		logger:  logger,
	}
	p.exec = delivery.NewExecutor(cfg.Executor, delivery.NewPolicy(cfg.Policy), metrics, logger)
	p.dispatcher = NewDispatcher(p.buffer, sink, p.exec, cfg.MaxInFlightChunks, complete, metrics, logger)
	p.scheduler = NewScheduler(cfg.FlushInterval, func() {
		if p.buffer.Len() > 0 {
			p.dispatcher.Flush(ReasonTimeInterval)
		}
	}, logger)

	return p, nil
}

// Start launches the executor workers and the flush scheduler.
func (p *Pipeline) Start() {
	p.exec.Start()
	p.scheduler.Start()
	p.logger.Info("pipeline started",
		slog.Int("buffer_size", p.cfg.BufferSize),
		slog.Duration("flush_interval", p.cfg.FlushInterval),
		slog.Int("max_in_flight_chunks", p.cfg.MaxInFlightChunks),
		slog.Int("max_concurrency", p.cfg.Executor.MaxConcurrency))
}

// Append enqueues one event. It never blocks beyond the buffer's
// pointer-swap critical section; delivery failures surface later
// through the completion callback, never here. Crossing the size
// threshold triggers a coalesced asynchronous flush: rapid crossings
// while one flush is in flight do not start overlapping flushes.
func (p *Pipeline) Append(e event.Event) {
	n := p.buffer.Append(e)
	p.metrics.RecordAppend()

	if n >= p.cfg.BufferSize && p.flushing.CompareAndSwap(false, true) {
		go func() {
			defer p.flushing.Store(false)
			p.dispatcher.Flush(ReasonSizeThreshold)
		}()
	}
}

// Flush forces an immediate flush of buffered events. Returns the
// dispatched chunk, or nil when the buffer was empty.
func (p *Pipeline) Flush() *Chunk {
	return p.dispatcher.Flush(ReasonManual)
}

// BufferedEvents returns the number of events awaiting flush.
func (p *Pipeline) BufferedEvents() int { return p.buffer.Len() }

// Shutdown tears the pipeline down: the scheduler stops firing, one
// final flush drains the buffer, and delivery gets until the context
// deadline before still-pending units are force-terminated as
// cancelled. The final flush honors the same deadline, so a saturated
// in-flight bound cannot stall teardown past it. Every chunk's
// aggregate callback fires either way.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.scheduler.Stop()
	p.dispatcher.FlushContext(ctx, ReasonShutdown)

	err := p.exec.Shutdown(ctx)
	if cerr := p.sink.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("closing sink: %w", cerr))
	}

	p.logger.Info("pipeline stopped")
	return err
}
