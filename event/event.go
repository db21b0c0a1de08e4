// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Level classifies the severity of an event. The pipeline never
// interprets levels; they travel with the event for sinks and formatters.
type Level string

// Severity levels.
const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is one log record flowing through the pipeline. Events are
// immutable once appended. Seq is assigned by the buffer at append time
// and orders events within a chunk; it carries no meaning across chunks.
type Event struct {
	Seq     uint64
	Time    time.Time
	Level   Level
	Message string
	Fields  map[string]any
}

// Formatter renders an event into a wire payload. Sinks invoke the
// formatter when building delivery payloads; the pipeline core treats
// event contents as opaque.
type Formatter interface {
	Format(e Event) ([]byte, error)
}

// Envelope wraps a formatted event with delivery metadata.
type Envelope struct {
	EventID   string         `json:"event_id"`
	Timestamp string         `json:"timestamp"`
	Source    string         `json:"source"`
	Seq       uint64         `json:"seq"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Wrap builds the delivery envelope for an event.
func Wrap(e Event, source string) *Envelope {
	return &Envelope{
		EventID:   uuid.New().String(),
		Timestamp: e.Time.UTC().Format(time.RFC3339Nano),
		Source:    source,
		Seq:       e.Seq,
		Level:     e.Level,
		Message:   e.Message,
		Fields:    e.Fields,
	}
}

// JSONFormatter renders events as JSON envelopes.
type JSONFormatter struct {
	Source string
}

var _ Formatter = (*JSONFormatter)(nil)

// Format serializes the event's envelope to JSON.
func (f *JSONFormatter) Format(e Event) ([]byte, error) {
	return json.Marshal(Wrap(e, f.Source))
}
