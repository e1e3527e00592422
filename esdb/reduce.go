package esdb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pupsourcing/esdb/event"
	"github.com/pupsourcing/esdb/model"
	"github.com/pupsourcing/esdb/reducer"
	"github.com/pupsourcing/esdb/sqldb"
)

// reducedEvent is reduce's output: the durable event shape (what gets
// persisted onto the queue row) alongside the actual per-model Change
// values applyEvent needs to call ApplyChanges with. Event.Result only
// carries an audit-trail envelope of each change, not the typed value, so
// the two travel together rather than requiring applyEvent to reconstruct
// changes by re-parsing JSON.
type reducedEvent struct {
	event   event.Event
	changes map[string]*model.Change
}

// reduce runs preprocessors and then the composed reducers for ev inside a
// single transaction, so every reducer observes a consistent, serialized
// view of current state.
func (d *ESDB) reduce(ctx context.Context, ev event.Event) (reducedEvent, error) {
	var out reducedEvent
	err := d.db.WithTransaction(ctx, func(ctx context.Context, tx sqldb.TxHandle) error {
		working, preErr, preModel := d.runPreprocessors(ctx, ev)

		if preErr != nil {
			change, err := d.reduceMetadata(ctx, tx, working)
			if err != nil {
				return err
			}
			out.event = working
			out.event.Error = map[string]event.ErrorInfo{preModel: {Message: preErr.Error()}}
			out.changes = map[string]*model.Change{}
			if !change.IsEmpty() {
				out.event.Result = map[string]event.ChangeEnvelope{metadataModelName: envelopeOf(change)}
				out.changes[metadataModelName] = change
			}
			return nil
		}

		outcomes := reducer.Compose(ctx, tx, d.reducerNames, d.registrations, working)
		errs := reducer.Errors(outcomes)
		changes := reducer.Changes(outcomes)

		out.event = working
		if len(errs) > 0 {
			out.event.Error = errs
			// A reducer error discards every other model's change; only
			// the metadata advance is kept.
			kept := map[string]*model.Change{}
			if change, ok := changes[metadataModelName]; ok {
				kept[metadataModelName] = change
			}
			changes = kept
		}
		out.event.Result = envelopesOf(changes)
		out.changes = changes
		return nil
	})
	if err != nil {
		return reducedEvent{}, err
	}
	return out, nil
}

// runPreprocessors applies every registered preprocessor in order, cloning
// ev so a misbehaving preprocessor cannot corrupt the caller's copy. It
// returns the rewritten event and, if a preprocessor errored or misused its
// contract, the error and the model name it should be attached under.
func (d *ESDB) runPreprocessors(ctx context.Context, ev event.Event) (working event.Event, preErr error, preModel string) {
	working = ev.Clone()
	for _, name := range d.preprocNames {
		reg := d.registrations[name]
		rewritten, err := safePreprocess(ctx, reg.Preprocessor, working)
		if err != nil {
			return working, err, name
		}
		if rewritten.V != ev.V || rewritten.Type == "" {
			return working, fmt.Errorf("preprocessor %q must retain V and set a non-empty Type", name), "_preprocess"
		}
		working = rewritten
	}
	return working, nil, ""
}

func safePreprocess(ctx context.Context, pre model.Preprocessor, ev event.Event) (rewritten event.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("preprocessor panicked: %v", r)
		}
	}()
	out, err := pre(ctx, ev)
	if err != nil {
		return ev, err
	}
	if out == nil {
		return ev, nil
	}
	return *out, nil
}

func (d *ESDB) reduceMetadata(ctx context.Context, tx sqldb.TxHandle, ev event.Event) (*model.Change, error) {
	reg := d.registrations[metadataModelName]
	return reg.Reducer(ctx, tx, reg.Store, ev)
}

func envelopeOf(change *model.Change) event.ChangeEnvelope {
	raw, _ := json.Marshal(change)
	return event.ChangeEnvelope{Model: metadataModelName, Raw: raw}
}

func envelopesOf(changes map[string]*model.Change) map[string]event.ChangeEnvelope {
	if len(changes) == 0 {
		return nil
	}
	out := make(map[string]event.ChangeEnvelope, len(changes))
	for name, change := range changes {
		raw, _ := json.Marshal(change)
		out[name] = event.ChangeEnvelope{Model: name, Raw: raw}
	}
	return out
}

// synthesizeReduxError builds the reducedEvent used when reduce itself
// returns an unexpected error (a transaction begin/commit failure, or a
// failed read of the applied version) rather than a normal per-model error;
// reducer and preprocessor panics are already recovered per model. Only
// metadata is still advanced, directly, outside of the failed transaction.
func (d *ESDB) synthesizeReduxError(ctx context.Context, ev event.Event, cause error) reducedEvent {
	out := reducedEvent{
		event:   ev,
		changes: map[string]*model.Change{},
	}
	out.event.Error = map[string]event.ErrorInfo{
		"_redux": {Message: cause.Error()},
	}

	err := d.db.WithTransaction(ctx, func(ctx context.Context, tx sqldb.TxHandle) error {
		change, err := d.reduceMetadata(ctx, tx, ev)
		if err != nil {
			return err
		}
		if !change.IsEmpty() {
			out.event.Result = map[string]event.ChangeEnvelope{metadataModelName: envelopeOf(change)}
			out.changes[metadataModelName] = change
		}
		return nil
	})
	if err != nil {
		d.logger.Error(ctx, "esdb: failed to advance metadata after redux error", "v", ev.V, "err", err)
	}
	return out
}
