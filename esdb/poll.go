package esdb

import (
	"context"
)

// startPolling arms the polling loop. wantVersion > 0 raises the minimum
// version the loop must reach before it is allowed to stop; wantVersion ==
// 0 switches the loop into continuous mode, where it blocks waiting for
// events from any process sharing this database rather than returning as
// soon as the queue is caught up. If a loop is already running this is a
// no-op beyond recording the request; the running loop observes it on its
// next iteration.
func (d *ESDB) startPolling(wantVersion uint64) {
	d.pollMu.Lock()
	if wantVersion > 0 {
		if wantVersion > d.minVersion {
			d.minVersion = wantVersion
		}
	} else {
		d.isPolling = true
	}
	d.reallyStop = false

	if d.running {
		d.pollMu.Unlock()
		return
	}
	d.running = true
	d.runDone = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	d.pollCancel = cancel
	d.pollMu.Unlock()

	go d.runPollLoop(ctx)
}

// stopPolling clears continuous mode and blocks until any in-flight loop
// run exits. Stopping cancels the loop's context so a run blocked inside a
// continuous-mode GetNext call returns immediately instead of waiting for
// the next event or poll tick; an event already being reduced or applied
// is finished first.
func (d *ESDB) stopPolling(ctx context.Context) {
	d.pollMu.Lock()
	d.isPolling = false
	if !d.running {
		d.pollMu.Unlock()
		return
	}
	d.reallyStop = true
	done := d.runDone
	cancel := d.pollCancel
	d.pollMu.Unlock()

	if cancel != nil {
		cancel()
	}

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// runPollLoop drives waitForEvent to completion, restarting it if, by the
// time it returns, minVersion has advanced past what it reached (someone
// called HandledVersion for a version higher than the loop's last-seen one
// while the loop was already winding down).
func (d *ESDB) runPollLoop(ctx context.Context) {
	for {
		lastV := d.waitForEvent(ctx)

		d.pollMu.Lock()
		if d.reallyStop {
			d.isPolling = false
			d.reallyStop = false
			d.running = false
			d.pollCancel = nil
			done := d.runDone
			d.pollMu.Unlock()
			close(done)
			return
		}
		if d.minVersion > lastV {
			d.pollMu.Unlock()
			continue
		}
		d.running = false
		d.pollCancel = nil
		done := d.runDone
		d.pollMu.Unlock()
		close(done)
		return
	}
}

// waitForEvent is the polling loop body: pull the next event, reduce it,
// apply it, repeat, until there is nothing left to pull (once mode) or
// reallyStop is observed (continuous mode). It never propagates a reduce
// failure to the caller; a failure is synthesized into the event's _redux
// error and the pipeline keeps moving.
func (d *ESDB) waitForEvent(ctx context.Context) uint64 {
	applied, err := d.currentVersion(ctx)
	if err != nil {
		d.logger.Error(ctx, "esdb: read applied version failed", "err", err)
		return 0
	}
	lastV := applied

	for {
		d.pollMu.Lock()
		isPolling := d.isPolling
		reallyStop := d.reallyStop
		d.pollMu.Unlock()
		if reallyStop {
			return lastV
		}

		ev, err := d.queue.GetNext(ctx, lastV, !isPolling)
		if err != nil {
			if ctx.Err() != nil {
				return lastV
			}
			d.logger.Error(ctx, "esdb: GetNext failed", "after", lastV, "err", err)
			return lastV
		}
		if ev == nil {
			return lastV
		}

		// Reduce and apply run on a context stopPolling's cancel does not
		// reach, so a transaction already under way when the loop is
		// stopped runs to completion; only the GetNext wait is cut short.
		workCtx := context.WithoutCancel(ctx)
		red, err := d.reduce(workCtx, *ev)
		if err != nil {
			red = d.synthesizeReduxError(workCtx, *ev, err)
		}
		// lastV only advances once the event is durably applied (queue ack
		// included). applyEvent wraps the ack and every model's ApplyChanges
		// in one transaction, so a failure rolls back the ack too; treating
		// ev.V as reached here would make the next GetNext skip straight
		// past an un-acked event instead of retrying it.
		if applyErr := d.handleResult(workCtx, red); applyErr == nil {
			lastV = ev.V
		} else {
			d.logger.Error(ctx, "esdb: apply failed, will retry", "v", ev.V, "err", applyErr)
		}

		d.pollMu.Lock()
		stop := d.reallyStop
		d.pollMu.Unlock()
		if stop {
			return lastV
		}
	}
}
