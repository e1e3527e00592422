// Package model defines the contract a derived-state table exposes to the
// ESDB core: an applier for reducer-produced changes, plus the optional
// reducer/preprocessor/deriver hooks that decide what those changes are.
package model

import (
	"context"

	"github.com/pupsourcing/esdb/event"
	"github.com/pupsourcing/esdb/sqldb"
)

// Row is one document this model's store holds, keyed by ID.
type Row struct {
	ID  string
	Doc any
}

// Change describes the mutations a reducer wants applied to its model's
// store. A nil *Change (or one with every field empty) means "no change" and
// the ESDB core drops it from the event's result rather than calling
// ApplyChanges.
type Change struct {
	Set []Row
	Ins []Row
	Upd []Row
	Rm  []string
}

// IsEmpty reports whether c describes no mutation at all.
func (c *Change) IsEmpty() bool {
	return c == nil || (len(c.Set) == 0 && len(c.Ins) == 0 && len(c.Upd) == 0 && len(c.Rm) == 0)
}

// Store is the minimal contract a model's table must satisfy: applying a
// Change transactionally within the caller-supplied tx.
type Store interface {
	// ApplyChanges applies change to this model's table within tx. It is
	// always called from inside the ESDB core's apply transaction.
	ApplyChanges(ctx context.Context, tx sqldb.TxHandle, change *Change) error
}

// Reducer computes a model's Change for one event. tx is the enclosing
// reduce-phase transaction, so a reducer that needs to see its own table's
// current state (or another model's) can read through it before deciding.
// A nil Change and nil error means "no change".
type Reducer func(ctx context.Context, tx sqldb.TxHandle, store Store, ev event.Event) (*Change, error)

// Preprocessor may rewrite an event before reducers see it. It must retain
// ev.V and must set a non-empty Type; violations are surfaced by the ESDB
// core as a synthesized "_preprocess" error. Returning a non-nil error
// short-circuits the rest of preprocessing.
type Preprocessor func(ctx context.Context, ev event.Event) (*event.Event, error)

// Deriver runs after reducer changes for an event have already been
// committed (the reducer-in-transaction / deriver-out-of-transaction split:
// derivers see durable state and may mutate tables directly through db, not
// limited to their own model's table).
type Deriver func(ctx context.Context, db *sqldb.Conn, modelName string, store Store, ev event.Event, result map[string]*Change) error

// Registration binds a name to a model's store and its optional hooks.
// Migrations run once, in order, when the model is registered.
type Registration struct {
	Store        Store
	Reducer      Reducer
	Preprocessor Preprocessor
	Deriver      Deriver
	Migrations   []string
}
