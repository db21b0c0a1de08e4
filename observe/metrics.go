// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OpenTelemetry instruments for the delivery pipeline.
// All record methods are safe on a nil receiver, so a pipeline built
// without telemetry carries no instrumentation cost.
type Metrics struct {
	meter metric.Meter

	// Counters
	eventsAppended  metric.Int64Counter
	chunksFlushed   metric.Int64Counter
	chunksCompleted metric.Int64Counter
	attemptsTotal   metric.Int64Counter
	retriesTotal    metric.Int64Counter
	unitsTerminal   metric.Int64Counter

	// Histograms
	chunkSize        metric.Int64Histogram
	deliveryDuration metric.Float64Histogram
}

// NewMetrics creates a Metrics instance with all instruments initialized.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		meter: otel.Meter("logship"),
	}

	var err error

	m.eventsAppended, err = m.meter.Int64Counter(
		"logship.events.appended.total",
		metric.WithDescription("Total events appended to the buffer"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create eventsAppended counter: %w", err)
	}

	m.chunksFlushed, err = m.meter.Int64Counter(
		"logship.chunks.flushed.total",
		metric.WithDescription("Total chunks cut from the buffer, by flush reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunksFlushed counter: %w", err)
	}

	m.chunksCompleted, err = m.meter.Int64Counter(
		"logship.chunks.completed.total",
		metric.WithDescription("Total chunks whose delivery finished, by aggregate status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunksCompleted counter: %w", err)
	}

	m.attemptsTotal, err = m.meter.Int64Counter(
		"logship.delivery.attempts.total",
		metric.WithDescription("Total sink delivery attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create attemptsTotal counter: %w", err)
	}

	m.retriesTotal, err = m.meter.Int64Counter(
		"logship.delivery.retries.total",
		metric.WithDescription("Total scheduled retries, by failure classification"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retriesTotal counter: %w", err)
	}

	m.unitsTerminal, err = m.meter.Int64Counter(
		"logship.units.terminal.total",
		metric.WithDescription("Total delivery units reaching a terminal state, by classification"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create unitsTerminal counter: %w", err)
	}

	m.chunkSize, err = m.meter.Int64Histogram(
		"logship.chunk.size",
		metric.WithDescription("Events per flushed chunk"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunkSize histogram: %w", err)
	}

	m.deliveryDuration, err = m.meter.Float64Histogram(
		"logship.delivery.duration",
		metric.WithDescription("Sink call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deliveryDuration histogram: %w", err)
	}

	return m, nil
}

// RecordAppend counts one event appended to the buffer.
func (m *Metrics) RecordAppend() {
	if m == nil {
		return
	}
	m.eventsAppended.Add(context.Background(), 1)
}

// RecordChunk counts one flushed chunk and its size.
func (m *Metrics) RecordChunk(reason string, events int) {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.chunksFlushed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.chunkSize.Record(ctx, int64(events))
}

// RecordChunkDone counts one completed chunk by aggregate status.
func (m *Metrics) RecordChunkDone(status string) {
	if m == nil {
		return
	}
	m.chunksCompleted.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", status)))
}

// RecordAttempt counts one sink call and its duration.
func (m *Metrics) RecordAttempt(d time.Duration, ok bool) {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.attemptsTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", ok)))
	m.deliveryDuration.Record(ctx, d.Seconds())
}

// RecordRetry counts one scheduled retry by classification.
func (m *Metrics) RecordRetry(class string) {
	if m == nil {
		return
	}
	m.retriesTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("classification", class)))
}

// RecordTerminal counts one terminal unit transition. An empty
// classification marks success.
func (m *Metrics) RecordTerminal(class string) {
	if m == nil {
		return
	}
	if class == "" {
		class = "succeeded"
	}
	m.unitsTerminal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("classification", class)))
}
