// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badgersink

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lognova/logship/delivery"
	"github.com/lognova/logship/event"
	"github.com/lognova/logship/pipeline"
)

func newTestSink(t *testing.T) *Sink {
	t.Helper()
	s, err := New(Config{Dir: t.TempDir()}, &event.JSONFormatter{Source: "test"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testChunk(id uint64, messages ...string) *pipeline.Chunk {
	events := make([]event.Event, 0, len(messages))
	for i, m := range messages {
		events = append(events, event.Event{
			Seq:     uint64(i + 1),
			Time:    time.Now(),
			Level:   event.LevelInfo,
			Message: m,
		})
	}
	return &pipeline.Chunk{ID: id, Reason: pipeline.ReasonManual, Events: events}
}

func TestSink_RoundTrip(t *testing.T) {
	s := newTestSink(t)

	specs, err := s.Split(testChunk(1, "first", "second", "third"))
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.NoError(t, s.Execute(context.Background(), specs[0]))

	var messages []string
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("chunk/1/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			verr := it.Item().Value(func(val []byte) error {
				var env event.Envelope
				if err := json.Unmarshal(val, &env); err != nil {
					return err
				}
				messages = append(messages, env.Message)
				return nil
			})
			if verr != nil {
				return verr
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, messages)
}

func TestSink_ChunksAreIsolatedByKey(t *testing.T) {
	s := newTestSink(t)

	for _, id := range []uint64{1, 2} {
		specs, err := s.Split(testChunk(id, "a", "b"))
		require.NoError(t, err)
		require.NoError(t, s.Execute(context.Background(), specs[0]))
	}

	count := func(prefix string) int {
		n := 0
		_ = s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(prefix)
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Rewind(); it.Valid(); it.Next() {
				n++
			}
			return nil
		})
		return n
	}
	assert.Equal(t, 2, count("chunk/1/"))
	assert.Equal(t, 2, count("chunk/2/"))
}

func TestSink_CancelledContextIsConnectivity(t *testing.T) {
	s := newTestSink(t)

	specs, err := s.Split(testChunk(1, "e"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = s.Execute(ctx, specs[0])
	require.Error(t, err)
	class, _ := delivery.Classify(err)
	assert.Equal(t, delivery.ClassConnectivity, class)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, &event.JSONFormatter{}, nil)
	assert.Error(t, err)

	_, err = New(Config{Dir: t.TempDir()}, nil, nil)
	assert.Error(t, err)
}
