// Package reducer composes per-model reducers into a single pass over one
// event, generalizing the fan-out-and-collect shape of the teacher's
// projection.Processor batch loop (one handler per item, continue on
// per-item outcome, aggregate results) from "one projection, many events"
// to "many reducers, one event".
package reducer

import (
	"context"
	"fmt"

	"github.com/pupsourcing/esdb/event"
	"github.com/pupsourcing/esdb/model"
	"github.com/pupsourcing/esdb/sqldb"
)

// Outcome is one model's reducer result for an event: either a Change to
// apply, or an error.
type Outcome struct {
	Change *model.Change
	Err    error
}

// Compose runs every registration's Reducer (in the given name order)
// against ev, within tx, and returns the per-model outcomes. A reducer's
// error never stops the others from running.
func Compose(ctx context.Context, tx sqldb.TxHandle, order []string, registrations map[string]model.Registration, ev event.Event) map[string]Outcome {
	out := make(map[string]Outcome, len(order))
	for _, name := range order {
		reg, ok := registrations[name]
		if !ok || reg.Reducer == nil {
			continue
		}
		change, err := safeReduce(ctx, tx, reg, ev)
		out[name] = Outcome{Change: change, Err: err}
	}
	return out
}

// safeReduce recovers a panicking reducer into an error outcome so one
// misbehaving model can never take the whole composition down.
func safeReduce(ctx context.Context, tx sqldb.TxHandle, reg model.Registration, ev event.Event) (change *model.Change, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reducer panicked: %v", r)
		}
	}()
	return reg.Reducer(ctx, tx, reg.Store, ev)
}

// Changes extracts the applicable (non-empty, non-error) changes from a
// composed result, in the shape applyEvent hands to each model's store.
func Changes(outcomes map[string]Outcome) map[string]*model.Change {
	changes := make(map[string]*model.Change, len(outcomes))
	for name, o := range outcomes {
		if o.Err != nil || o.Change.IsEmpty() {
			continue
		}
		changes[name] = o.Change
	}
	return changes
}

// Errors extracts the per-model errors from a composed result as
// event.ErrorInfo, the shape stored on Event.Error.
func Errors(outcomes map[string]Outcome) map[string]event.ErrorInfo {
	var errs map[string]event.ErrorInfo
	for name, o := range outcomes {
		if o.Err == nil {
			continue
		}
		if errs == nil {
			errs = make(map[string]event.ErrorInfo)
		}
		errs[name] = event.ErrorInfo{Message: o.Err.Error()}
	}
	return errs
}
