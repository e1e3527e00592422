package sqldb

import (
	"context"
	"fmt"
)

// WithTransaction seizes the connection's write lock, runs body inside a
// BEGIN IMMEDIATE/COMMIT (or ROLLBACK) bracket, and returns body's error, if
// any. A second WithTransaction call made while one is already running
// queues behind it and only starts once the first has fully committed or
// rolled back.
//
// Event ordering is: begin fires before body observes the lock; end and
// rollback are mutually exclusive; finally fires exactly once, last.
func (c *Conn) WithTransaction(ctx context.Context, body func(ctx context.Context, tx TxHandle) error) error {
	if _, err := c.ensureOpen(ctx); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.emitBegin(ctx)
	defer c.emitFinally(ctx)

	conn, err := c.db.Conn(ctx)
	if err != nil {
		return c.wrapErr(err, "BEGIN IMMEDIATE (checkout)")
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return c.wrapErr(err, "BEGIN IMMEDIATE")
	}

	bodyErr := body(ctx, conn)
	if bodyErr != nil {
		if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
			bodyErr = fmt.Errorf("%w (rollback also failed: %v)", bodyErr, rbErr)
		}
		c.emitRollback(ctx, bodyErr)
		return bodyErr
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		wrapped := c.wrapErr(err, "COMMIT")
		if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
			wrapped = fmt.Errorf("%w (rollback also failed: %v)", wrapped, rbErr)
		}
		c.emitRollback(ctx, wrapped)
		return wrapped
	}

	c.emitEnd(ctx)
	return nil
}
