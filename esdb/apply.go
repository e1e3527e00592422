package esdb

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/pupsourcing/esdb/event"
	"github.com/pupsourcing/esdb/model"
	"github.com/pupsourcing/esdb/sqldb"
)

// applyEvent persists reduce's outcome durably and applies every model's
// Change, all inside one transaction: the queue ack and the table mutations
// either all land or none do, closing the crash window a separate ack/apply
// pair would leave open. Derivers run afterward, against committed state,
// kept non-transactional.
func (d *ESDB) applyEvent(ctx context.Context, red reducedEvent) error {
	ev := red.event

	err := d.db.WithTransaction(ctx, func(ctx context.Context, tx sqldb.TxHandle) error {
		if err := d.queue.Set(ctx, tx, &ev); err != nil {
			return fmt.Errorf("esdb: ack event %d: %w", ev.V, err)
		}

		for name, change := range red.changes {
			if name == metadataModelName {
				continue
			}
			reg, ok := d.registrations[name]
			if !ok || reg.Store == nil {
				continue
			}
			if err := reg.Store.ApplyChanges(ctx, tx, change); err != nil {
				return fmt.Errorf("esdb: apply changes for model %q (event %d): %w", name, ev.V, err)
			}
		}

		if change, ok := red.changes[metadataModelName]; ok {
			if err := d.metadataStore.ApplyChanges(ctx, tx, change); err != nil {
				return fmt.Errorf("esdb: advance metadata (event %d): %w", ev.V, err)
			}
		}

		return nil
	})
	if err != nil {
		d.logger.Error(ctx, "esdb: applyEvent failed", "v", ev.V, "err", err)
		return err
	}

	d.runDerivers(ctx, ev, red.changes)
	return nil
}

// runDerivers runs every registered deriver concurrently against the
// committed event. Deriver writes still serialize through the connection's
// single-writer queue like any other database access; errgroup waits for
// all of them and cancels their shared context once one fails, but does not
// order how their writes interleave.
func (d *ESDB) runDerivers(ctx context.Context, ev event.Event, changes map[string]*model.Change) {
	if len(d.deriverNames) == 0 {
		return
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range d.deriverNames {
		name := name
		reg := d.registrations[name]
		g.Go(func() error {
			if err := reg.Deriver(ctx, d.db, name, reg.Store, ev, changes); err != nil {
				d.logger.Error(ctx, "esdb: deriver failed", "model", name, "v", ev.V, "err", err)
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.logger.Error(ctx, "esdb: one or more derivers failed", "v", ev.V, "err", err)
	}
}

// handleResult serializes apply behind applyingSem (a size-1 semaphore
// standing in for a promise-chain gate), then fans the outcome out to
// subscribers and waiters. It returns applyEvent's error so the poller can
// tell a successfully-applied event (safe to advance past) from one whose
// transaction rolled back, queue ack included, and so must be retried.
func (d *ESDB) handleResult(ctx context.Context, red reducedEvent) error {
	d.applyingSem <- struct{}{}
	applyErr := d.applyEvent(ctx, red)
	<-d.applyingSem

	ev := red.event
	if applyErr != nil {
		d.resolveWaiters(ctx, &ev, applyErr)
		return applyErr
	}

	if len(ev.Error) > 0 {
		d.emitError(ev)
	} else {
		d.emitResult(ev)
	}
	d.emitHandled(ev)

	var handleErr error
	if len(ev.Error) > 0 {
		handleErr = errorFromEvent(&ev)
	}
	d.resolveWaiters(ctx, &ev, handleErr)
	return nil
}
