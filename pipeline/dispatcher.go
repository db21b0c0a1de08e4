// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/lognova/logship/delivery"
	"github.com/lognova/logship/observe"
)

// Dispatcher cuts chunks from the buffer, hands their units to the
// executor, and tracks each chunk to its aggregate completion. The
// in-flight chunk bound applies back-pressure to whichever path
// triggered the flush, keeping worst-case memory at
// bufferSize x maxInFlightChunks.
type Dispatcher struct {
	buffer   *Buffer
	sink     Sink
	exec     *delivery.Executor
	complete CompletionFunc
	metrics  *observe.Metrics
	logger   *slog.Logger

	sem     chan struct{}
	chunkID atomic.Uint64
}

// NewDispatcher creates a dispatcher bounded to maxInFlight chunks.
func NewDispatcher(buffer *Buffer, sink Sink, exec *delivery.Executor, maxInFlight int, complete CompletionFunc, metrics *observe.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Dispatcher{
		buffer:   buffer,
		sink:     sink,
		exec:     exec,
		complete: complete,
		metrics:  metrics,
		logger:   logger,
		sem:      make(chan struct{}, maxInFlight),
	}
}

// Flush drains the buffer into a new chunk and submits it for
// delivery. An empty buffer produces no chunk and no work. Blocks the
// flushing caller while the maximum number of chunks is in flight.
func (d *Dispatcher) Flush(reason FlushReason) *Chunk {
	if d.buffer.Len() == 0 {
		return nil
	}

	d.sem <- struct{}{}
	return d.dispatch(reason)
}

// FlushContext is the shutdown-path flush: it waits for an in-flight
// slot only until ctx expires. Past the deadline the remaining events
// are still cut into a chunk, but terminally failed without dispatch so
// the completion callback fires and teardown is not held hostage by a
// chunk stuck in retry backoffs.
func (d *Dispatcher) FlushContext(ctx context.Context, reason FlushReason) *Chunk {
	if d.buffer.Len() == 0 {
		return nil
	}

	select {
	case d.sem <- struct{}{}:
		return d.dispatch(reason)
	case <-ctx.Done():
		return d.abandon(reason)
	}
}

// dispatch cuts a chunk and submits its units. The caller holds an
// in-flight slot; dispatch releases it if the buffer turned out empty.
func (d *Dispatcher) dispatch(reason FlushReason) *Chunk {
	events := d.buffer.SnapshotAndClear()
	if len(events) == 0 {
		// Lost the race with a concurrent flush.
		<-d.sem
		return nil
	}

	c := &Chunk{
		ID:     d.chunkID.Add(1),
		Reason: reason,
		Events: events,
	}
	d.metrics.RecordChunk(string(reason), len(events))

	specs, err := d.sink.Split(c)
	if err != nil {
		// The sink could not partition the chunk at all; every event is
		// a terminal failure and the completion still fires.
		d.logger.Error("sink failed to split chunk",
			slog.Uint64("chunk_id", c.ID),
			slog.String("sink", d.sink.Name()),
			slog.String("error", err.Error()))
		c.recordFailure(c.Events)
		d.finishChunk(c)
		return c
	}
	if len(specs) == 0 {
		d.finishChunk(c)
		return c
	}

	c.pending.Store(int32(len(specs)))
	for _, spec := range specs {
		spec := spec
		u := delivery.NewUnit(c.ID,
			func(ctx context.Context) error { return d.sink.Execute(ctx, spec) },
			func(res delivery.Result) { d.unitDone(c, spec, res) },
		)
		d.exec.Submit(u)
	}

	d.logger.Debug("chunk dispatched",
		slog.Uint64("chunk_id", c.ID),
		slog.String("reason", string(reason)),
		slog.Int("events", len(events)),
		slog.Int("units", len(specs)))
	return c
}

// abandon cuts the remaining buffered events into a chunk that is never
// dispatched: every event fails terminally and the completion fires at
// once. No in-flight slot is held, so nothing is released.
func (d *Dispatcher) abandon(reason FlushReason) *Chunk {
	events := d.buffer.SnapshotAndClear()
	if len(events) == 0 {
		return nil
	}

	c := &Chunk{
		ID:     d.chunkID.Add(1),
		Reason: reason,
		Events: events,
	}
	d.metrics.RecordChunk(string(reason), len(events))
	d.logger.Warn("flush deadline expired before an in-flight slot freed, failing events",
		slog.Uint64("chunk_id", c.ID),
		slog.Int("events", len(events)))

	c.recordFailure(c.Events)
	c.doneOnce.Do(func() {
		res := c.aggregate()
		d.metrics.RecordChunkDone(string(res.Status))
		if d.complete != nil {
			d.complete(c, res)
		}
	})
	return c
}

// unitDone handles one unit's terminal transition for its chunk.
func (d *Dispatcher) unitDone(c *Chunk, spec UnitSpec, res delivery.Result) {
	if res.Failed() {
		c.recordFailure(spec.Events)
	}
	if c.unitFinished() {
		d.finishChunk(c)
	}
}

// finishChunk releases the in-flight slot and fires the chunk's
// completion callback exactly once.
func (d *Dispatcher) finishChunk(c *Chunk) {
	c.doneOnce.Do(func() {
		res := c.aggregate()
		<-d.sem
		d.metrics.RecordChunkDone(string(res.Status))
		if res.Status != AllSucceeded {
			d.logger.Warn("chunk completed with failures",
				slog.Uint64("chunk_id", c.ID),
				slog.String("status", string(res.Status)),
				slog.Int("failed_events", len(res.FailedEvents)))
		}
		if d.complete != nil {
			d.complete(c, res)
		}
	})
}
