// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"

	"github.com/lognova/logship/event"
)

// UnitSpec describes one outbound call a sink wants for part of a
// chunk: an opaque transport payload plus the events it covers. How a
// chunk partitions into specs is the sink's choice: one HTTP request
// per chunk, or one socket frame per event.
type UnitSpec struct {
	Payload any
	Events  []event.Event
}

// Sink adapts chunks to a concrete transport. Split partitions a chunk
// into the outbound calls the transport needs; Execute performs one
// such call. Execute must wrap failures in the delivery package's typed
// errors so the retry policy can classify them.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string

	// Split partitions a chunk into delivery unit specs.
	Split(c *Chunk) ([]UnitSpec, error)

	// Execute performs one outbound call.
	Execute(ctx context.Context, spec UnitSpec) error

	// Close releases transport resources.
	Close() error
}
