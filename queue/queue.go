// Package queue defines the append-only, versioned event log the ESDB core
// pulls events from and acks them against. It is an external collaborator:
// the core only depends on this interface, never on a concrete table
// layout, so any append-only store satisfying it can stand in for the
// reference implementation in queue/sqlqueue.
package queue

import (
	"context"

	"github.com/pupsourcing/esdb/event"
	"github.com/pupsourcing/esdb/sqldb"
)

// Queue is the event log contract.
type Queue interface {
	// Add appends a new event, assigning it the next version.
	Add(ctx context.Context, eventType string, data any, ts ...int64) (*event.Event, error)

	// Get fetches the event at version v, or nil if there is none.
	Get(ctx context.Context, v uint64) (*event.Event, error)

	// GetNext returns the event with v == afterV+1. When once is false, it
	// blocks (polling internally) until that event is available. When once
	// is true, it returns (nil, nil) immediately if the event is not yet
	// present.
	GetNext(ctx context.Context, afterV uint64, once bool) (*event.Event, error)

	// Set durably records the Result and/or Error an event was handled
	// with. Once set, the event is immutable. If tx is non-nil the update
	// runs within it; otherwise it runs in its own transaction.
	Set(ctx context.Context, tx sqldb.TxHandle, ev *event.Event) error

	// LatestVersion returns the highest version ever assigned, or 0 if the
	// queue is empty.
	LatestVersion(ctx context.Context) (uint64, error)
}
