// Package event defines the immutable event record the ESDB core pipeline
// ingests, applies, and never mutates again once it carries a result.
package event

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Event is a single, immutable fact in the stream. V is assigned by the
// queue and is strictly increasing starting at 1; gaps are forbidden. Once
// Result or Error has been set by the queue's Set, an event is immutable.
type Event struct {
	// ID is a correlation identifier assigned once at append time,
	// independent of V: unlike V it survives being carried across systems
	// that don't share this stream's version numbering (logs, traces,
	// at-least-once delivery to an external consumer).
	ID uuid.UUID

	// V is the event's position in the stream.
	V uint64

	// Type identifies what kind of event this is.
	Type string

	// TS is the event's creation time, Unix milliseconds.
	TS int64

	// Data carries the event payload, left undecoded for callers to
	// interpret according to Type.
	Data json.RawMessage

	// Error carries, per model name, the failure that model's hook produced
	// while handling this event. A non-empty Error means the event was
	// recorded but some or all of its derived-state changes were skipped.
	Error map[string]ErrorInfo

	// Result carries, per model name, the change description that model's
	// reducer produced for this event. Present once the event has been
	// handled.
	Result map[string]ChangeEnvelope
}

// ErrorInfo is the shape attached to a model under Event.Error.
type ErrorInfo struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// ChangeEnvelope is the JSON-serializable form of a model's reducer output,
// as persisted on the queue row and exposed on a handled Event. Models that
// need the richer, typed Change description (see package model) work with
// that type during the apply phase; ChangeEnvelope is the durable record of
// what was decided, kept independent of any one model store's change
// vocabulary so the queue package has no dependency on package model.
type ChangeEnvelope struct {
	// Model is redundant with the map key it is stored under; it is kept so
	// a ChangeEnvelope is self-describing once extracted from the map.
	Model string `json:"model"`

	// Raw is the JSON encoding of whatever change description the model's
	// ApplyChanges consumed. It exists purely for audit/debugging; the
	// authoritative effect already happened against the model's table.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Clone returns a deep-enough copy of e suitable for handing to a
// preprocessor: Error and Result are shallow-copied maps so a preprocessor
// mutating its own view cannot corrupt the original.
func (e Event) Clone() Event {
	clone := e
	if e.Error != nil {
		clone.Error = make(map[string]ErrorInfo, len(e.Error))
		for k, v := range e.Error {
			clone.Error[k] = v
		}
	}
	if e.Result != nil {
		clone.Result = make(map[string]ChangeEnvelope, len(e.Result))
		for k, v := range e.Result {
			clone.Result[k] = v
		}
	}
	return clone
}
