package esdb

import (
	"context"
	"sync"

	"github.com/pupsourcing/esdb/event"
)

// waiter is a one-shot gate a caller blocks on until the version it wants
// has been handled. resolve/reject are idempotent via once so a waiter that
// is resolved by the normal handleResult path and then swept again by a
// race-recovery pass never double-closes its channel.
type waiter struct {
	once  sync.Once
	done  chan struct{}
	event *event.Event
	err   error
}

func newWaiter() *waiter {
	return &waiter{done: make(chan struct{})}
}

func (w *waiter) resolve(ev *event.Event) {
	w.once.Do(func() {
		w.event = ev
		close(w.done)
	})
}

func (w *waiter) reject(ev *event.Event, err error) {
	w.once.Do(func() {
		w.event = ev
		w.err = err
		close(w.done)
	})
}

func (w *waiter) wait(ctx context.Context) (*event.Event, error) {
	select {
	case <-w.done:
		return w.event, w.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// waiterFor returns the waiter registered for v, creating one if needed, and
// raises maxWaitingFor to at least v.
func (d *ESDB) waiterFor(v uint64) *waiter {
	d.waitersMu.Lock()
	defer d.waitersMu.Unlock()
	w, ok := d.waiters[v]
	if !ok {
		w = newWaiter()
		d.waiters[v] = w
	}
	if v > d.maxWaitingFor {
		d.maxWaitingFor = v
	}
	return w
}

// resolveWaiters resolves or rejects the waiter for ev.V (if any), then
// sweeps every waiter registered for a version <= ev.V: a waiter can end up
// behind the just-handled version if it was registered between this event's
// reduce and apply, and the normal per-version delivery would otherwise
// never reach it once the poller has moved on.
func (d *ESDB) resolveWaiters(ctx context.Context, ev *event.Event, handleErr error) {
	d.waitersMu.Lock()
	var stragglers []uint64
	for v := range d.waiters {
		if v <= ev.V {
			stragglers = append(stragglers, v)
		}
	}
	d.waitersMu.Unlock()

	for _, v := range stragglers {
		d.waitersMu.Lock()
		w, ok := d.waiters[v]
		if ok {
			delete(d.waiters, v)
		}
		d.waitersMu.Unlock()
		if !ok {
			continue
		}
		if v == ev.V {
			if handleErr != nil {
				w.reject(ev, handleErr)
			} else {
				w.resolve(ev)
			}
			continue
		}
		straggler, err := d.queue.Get(ctx, v)
		if err != nil {
			w.reject(nil, err)
			continue
		}
		if straggler == nil {
			// Not actually handled yet; put it back for the next sweep.
			d.waitersMu.Lock()
			d.waiters[v] = w
			d.waitersMu.Unlock()
			continue
		}
		if len(straggler.Error) > 0 {
			w.reject(straggler, errorFromEvent(straggler))
		} else {
			w.resolve(straggler)
		}
	}
}
