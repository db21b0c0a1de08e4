// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package badgersink persists chunks to a local BadgerDB, one
// transaction per chunk. Durability of delivered events is exactly the
// durability of the database directory.
package badgersink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/lognova/logship/delivery"
	"github.com/lognova/logship/event"
	"github.com/lognova/logship/pipeline"
)

// Config holds BadgerDB sink settings.
type Config struct {
	Dir string
}

// row is one pre-encoded key/value write.
type row struct {
	Key []byte
	Val []byte
}

// Sink writes one row batch per chunk.
//
// Key format: chunk/{chunkID}/{seq}
type Sink struct {
	db        *badger.DB
	formatter event.Formatter
	logger    *slog.Logger
}

var _ pipeline.Sink = (*Sink)(nil)

// New opens the database and creates the sink.
func New(cfg Config, formatter event.Formatter, logger *slog.Logger) (*Sink, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("dir cannot be empty")
	}
	if formatter == nil {
		return nil, fmt.Errorf("formatter cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil // Disable BadgerDB's internal logging
	// This sink is the durable leg of delivery, so every write fsyncs.
	opts.SyncWrites = true
	opts.NumVersionsToKeep = 1

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", cfg.Dir, err)
	}

	return &Sink{db: db, formatter: formatter, logger: logger}, nil
}

// Name identifies the sink in logs.
func (s *Sink) Name() string { return "badger" }

// Split encodes the chunk into one row batch. Encoding happens here so
// Execute retries never re-serialize.
func (s *Sink) Split(c *pipeline.Chunk) ([]pipeline.UnitSpec, error) {
	rows := make([]row, 0, len(c.Events))
	for _, e := range c.Events {
		val, err := s.formatter.Format(e)
		if err != nil {
			return nil, fmt.Errorf("format event seq %d: %w", e.Seq, err)
		}
		rows = append(rows, row{
			Key: []byte(fmt.Sprintf("chunk/%d/%d", c.ID, e.Seq)),
			Val: val,
		})
	}
	return []pipeline.UnitSpec{{Payload: rows, Events: c.Events}}, nil
}

// Execute writes the row batch in a single transaction. Storage
// failures classify as connectivity: transient conditions (conflicts,
// full value log) deserve the retry budget.
func (s *Sink) Execute(ctx context.Context, spec pipeline.UnitSpec) error {
	rows, ok := spec.Payload.([]row)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", spec.Payload)
	}
	if err := ctx.Err(); err != nil {
		return &delivery.ConnectivityError{Err: err}
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, r := range rows {
			if err := txn.Set(r.Key, r.Val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &delivery.ConnectivityError{Err: fmt.Errorf("badger write: %w", err)}
	}
	return nil
}

// Close closes the database.
func (s *Sink) Close() error {
	return s.db.Close()
}
