package esdb

import "context"

// Close stops the polling loop and closes the underlying connection. It
// does not close the queue or any model store that owns resources beyond
// the shared connection.
func (d *ESDB) Close(ctx context.Context) error {
	d.stopPolling(ctx)
	return d.db.Close(ctx)
}
