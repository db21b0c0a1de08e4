// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package wssink streams events over a WebSocket connection, one text
// frame per event. The connection is dialed lazily and redialed after
// any write failure.
package wssink

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lognova/logship/delivery"
	"github.com/lognova/logship/event"
	"github.com/lognova/logship/pipeline"
)

// Config holds WebSocket sink settings.
type Config struct {
	URL          string
	Header       http.Header
	WriteTimeout time.Duration
}

// Sink writes one frame per event.
type Sink struct {
	cfg       Config
	dialer    *websocket.Dialer
	formatter event.Formatter
	logger    *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ pipeline.Sink = (*Sink)(nil)

// New creates a WebSocket sink. No connection is made until the first
// delivery attempt.
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
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	return &Sink{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		formatter: formatter,
		logger:    logger,
	}, nil
}

// Name identifies the sink in logs.
func (s *Sink) Name() string { return "websocket" }

// Split renders one unit spec per event: the socket carries one frame
// per event, so each frame retries independently.
func (s *Sink) Split(c *pipeline.Chunk) ([]pipeline.UnitSpec, error) {
	specs := make([]pipeline.UnitSpec, 0, len(c.Events))
	for _, e := range c.Events {
		payload, err := s.formatter.Format(e)
		if err != nil {
			return nil, fmt.Errorf("format event seq %d: %w", e.Seq, err)
		}
		specs = append(specs, pipeline.UnitSpec{
			Payload: payload,
			Events:  []event.Event{e},
		})
	}
	return specs, nil
}

// Execute writes one frame. Socket writes are serialized; any failure
// drops the connection so the next attempt redials.
func (s *Sink) Execute(ctx context.Context, spec pipeline.UnitSpec) error {
	payload, ok := spec.Payload.([]byte)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", spec.Payload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.connLocked(ctx)
	if err != nil {
		return &delivery.ConnectivityError{Err: err}
	}

	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		s.dropLocked()
		return &delivery.ConnectivityError{Err: err}
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.dropLocked()
		return &delivery.ConnectivityError{Err: err}
	}
	return nil
}

// connLocked returns the live connection, dialing if needed.
func (s *Sink) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.URL, s.cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", s.cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	s.logger.Debug("websocket connected", slog.String("url", s.cfg.URL))
	s.conn = conn
	return conn, nil
}

func (s *Sink) dropLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Close sends a close frame best-effort and drops the connection.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := s.conn.Close()
	s.conn = nil
	return err
}
