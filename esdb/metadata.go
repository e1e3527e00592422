package esdb

import (
	"context"
	"fmt"

	"github.com/pupsourcing/esdb/event"
	"github.com/pupsourcing/esdb/model"
	"github.com/pupsourcing/esdb/model/jsontable"
	"github.com/pupsourcing/esdb/sqldb"
)

const metadataVersionRowID = "version"

type metadataDoc struct {
	V uint64 `json:"v"`
}

// metadataReducer advances the applied-version row. It rejects any event
// whose version does not strictly exceed the currently applied one, which
// is what makes replaying or double-dispatching an already-applied event an
// error rather than a silent no-op.
func metadataReducer(store *jsontable.Store) model.Reducer {
	return func(ctx context.Context, tx sqldb.TxHandle, _ model.Store, ev event.Event) (*model.Change, error) {
		currentV, err := readVersion(ctx, tx, store)
		if err != nil {
			return nil, err
		}
		if currentV >= ev.V {
			return nil, fmt.Errorf("current version %d is >= event version %d", currentV, ev.V)
		}
		return &model.Change{Set: []model.Row{{ID: metadataVersionRowID, Doc: metadataDoc{V: ev.V}}}}, nil
	}
}

func readVersion(ctx context.Context, tx sqldb.TxHandle, store *jsontable.Store) (uint64, error) {
	var doc metadataDoc
	found, err := store.Get(ctx, tx, metadataVersionRowID, &doc)
	if err != nil {
		return 0, fmt.Errorf("esdb: read applied version: %w", err)
	}
	if !found {
		return 0, nil
	}
	return doc.V, nil
}

// currentVersion reads the applied version directly off the connection
// (outside of any particular transaction), the read getVersion coalesces.
func (d *ESDB) currentVersion(ctx context.Context) (uint64, error) {
	return readVersion(ctx, d.db, d.metadataStore)
}
