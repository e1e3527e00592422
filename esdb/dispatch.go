package esdb

import (
	"context"
	"fmt"

	"github.com/pupsourcing/esdb/event"
)

// Dispatch appends a new event to the queue and waits for it to be handled.
func (d *ESDB) Dispatch(ctx context.Context, eventType string, data any, ts ...int64) (*event.Event, error) {
	ev, err := d.queue.Add(ctx, eventType, data, ts...)
	if err != nil {
		return nil, fmt.Errorf("esdb: dispatch %q: %w", eventType, err)
	}
	return d.HandledVersion(ctx, ev.V)
}

// HandledVersion waits for version v to be handled (by this process or any
// other sharing the same database) and returns its event. v == 0 returns
// immediately with no event and no error, the no-op case for "nothing was
// dispatched".
func (d *ESDB) HandledVersion(ctx context.Context, v uint64) (*event.Event, error) {
	if v == 0 {
		return nil, nil
	}

	applied, err := d.getVersion(ctx)
	if err != nil {
		return nil, err
	}
	if v <= applied {
		ev, err := d.queue.Get(ctx, v)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			return nil, fmt.Errorf("esdb: version %d is behind applied version %d but missing from the queue", v, applied)
		}
		if len(ev.Error) > 0 {
			return ev, errorFromEvent(ev)
		}
		return ev, nil
	}

	w := d.waiterFor(v)
	d.startPolling(v)
	return w.wait(ctx)
}

// WaitForQueue waits for whatever the latest version in the queue is right
// now to be handled, the entry point for "catch me up to current".
func (d *ESDB) WaitForQueue(ctx context.Context) (*event.Event, error) {
	v, err := d.queue.LatestVersion(ctx)
	if err != nil {
		return nil, err
	}
	return d.HandledVersion(ctx, v)
}

// getVersion reads the applied version, coalescing concurrent callers into
// a single underlying read via singleflight: HandledVersion is commonly
// called by many goroutines racing to catch up to the same dispatch.
func (d *ESDB) getVersion(ctx context.Context) (uint64, error) {
	v, err, _ := d.versionGroup.Do("version", func() (any, error) {
		return d.currentVersion(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// checkForEvents primes the pipeline at construction so that events already
// sitting in the queue (appended by this process before New returned, or by
// another process before this one started) get picked up without anyone
// calling Dispatch first.
func (d *ESDB) checkForEvents(ctx context.Context) {
	d.startPolling(0)
}

func errorFromEvent(ev *event.Event) error {
	if len(ev.Error) == 0 {
		return nil
	}
	return fmt.Errorf("esdb: event %d handled with errors: %v", ev.V, ev.Error)
}
