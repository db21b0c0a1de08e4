// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package httpsink delivers chunks to an HTTP endpoint, one JSON batch
// POST per chunk, behind a circuit breaker and an optional rate limit.
package httpsink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sony/gobreaker"

	"github.com/lognova/logship/delivery"
	"github.com/lognova/logship/event"
	"github.com/lognova/logship/pipeline"
	"github.com/lognova/logship/ratelimit"
)

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold uint32
	ResetTimeout     time.Duration
}

// Config holds HTTP sink settings.
type Config struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration

	// Compress gzips request bodies.
	Compress bool

	// ExpectAck requires a non-empty JSON body on 2xx responses; a 2xx
	// without one classifies as an invalid response.
	ExpectAck bool

	// RateLimit is sends per second, 0 = unlimited.
	RateLimit float64
	RateBurst int

	Breaker BreakerConfig
}

// batch is the wire shape of one chunk.
type batch struct {
	ChunkID uint64            `json:"chunk_id"`
	Reason  string            `json:"reason"`
	Events  []json.RawMessage `json:"events"`
}

// Sink posts one batch per chunk to a single endpoint.
type Sink struct {
	cfg       Config
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker
	limiter   *ratelimit.Limiter
	formatter event.Formatter
	logger    *slog.Logger

	gzPool sync.Pool
}

var _ pipeline.Sink = (*Sink)(nil)

// New creates an HTTP sink.
func New(cfg Config, formatter event.Formatter, logger *slog.Logger) (*Sink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("url cannot be empty")
	}
	if formatter == nil {
		return nil, fmt.Errorf("formatter cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.ResetTimeout <= 0 {
		cfg.Breaker.ResetTimeout = 60 * time.Second
	}

	s := &Sink{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   ratelimit.New(cfg.RateLimit, cfg.RateBurst),
		formatter: formatter,
		logger:    logger,
	}
	s.gzPool.New = func() any { return gzip.NewWriter(io.Discard) }

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "httpsink",
		MaxRequests: 1,
		Timeout:     cfg.Breaker.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("http sink circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return s, nil
}

// Name identifies the sink in logs.
func (s *Sink) Name() string { return "http" }

// Split renders the whole chunk into a single request body: the
// endpoint accepts one batch per chunk.
func (s *Sink) Split(c *pipeline.Chunk) ([]pipeline.UnitSpec, error) {
	rows := make([]json.RawMessage, 0, len(c.Events))
	for _, e := range c.Events {
		b, err := s.formatter.Format(e)
		if err != nil {
			return nil, fmt.Errorf("format event seq %d: %w", e.Seq, err)
		}
		rows = append(rows, b)
	}

	body, err := json.Marshal(batch{ChunkID: c.ID, Reason: string(c.Reason), Events: rows})
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}
	if s.cfg.Compress {
		body, err = s.compress(body)
		if err != nil {
			return nil, fmt.Errorf("compress batch: %w", err)
		}
	}

	return []pipeline.UnitSpec{{Payload: body, Events: c.Events}}, nil
}

// Execute posts one batch, mapping transport and status failures to the
// delivery error taxonomy. An open breaker behaves like an unreachable
// endpoint.
func (s *Sink) Execute(ctx context.Context, spec pipeline.UnitSpec) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return &delivery.ConnectivityError{Err: err}
	}

	body, ok := spec.Payload.([]byte)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", spec.Payload)
	}

	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.send(ctx, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &delivery.ConnectivityError{Err: err}
	}
	return err
}

func (s *Sink) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "logship/1.0")
	if s.cfg.Compress {
		req.Header.Set("Content-Encoding", "gzip")
	}
	for key, value := range s.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &delivery.ConnectivityError{Err: err}
	}
	defer resp.Body.Close()

	// Cap the body read: error bodies only matter for diagnostics.
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &delivery.ServerError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if s.cfg.ExpectAck {
		if len(respBody) == 0 {
			return &delivery.InvalidResponseError{Reason: "empty body on success status"}
		}
		if !json.Valid(respBody) {
			return &delivery.InvalidResponseError{Reason: "body is not valid JSON"}
		}
	}

	return nil
}

// compress gzips a request body using a pooled writer.
func (s *Sink) compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := s.gzPool.Get().(*gzip.Writer)
	defer s.gzPool.Put(zw)

	zw.Reset(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Close releases idle connections.
func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
