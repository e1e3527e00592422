package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"

	"github.com/pupsourcing/esdb/sqlfrag"
)

// ExecContext, QueryContext and QueryRowContext let *Conn itself satisfy
// TxHandle, so model stores and reducers that accept a TxHandle can be
// handed either a live transaction or the plain connection (outside of
// WithTransaction, operations still serialize through the connection's
// single physical connection).
var _ TxHandle = (*Conn)(nil)

func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db, err := c.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}
	return db.ExecContext(ctx, query, args...)
}

func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	db, err := c.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}
	return db.QueryContext(ctx, query, args...)
}

func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	db, err := c.ensureOpen(ctx)
	if err != nil {
		// database/sql gives QueryRowContext no way to report an open
		// failure except by deferring it to the eventual Scan. A zero-value
		// *sql.DB has a nil connector, and db.conn calls connector.Connect
		// unconditionally, which panics on that nil interface rather than
		// returning an error. sql.OpenDB with a connector that always fails
		// to Connect goes through the real database/sql error path instead,
		// landing err on the returned *sql.Row the same way a genuine
		// mid-query connection failure would.
		failed := sql.OpenDB(failedOpenConnector{err: err})
		row := failed.QueryRowContext(ctx, query, args...)
		failed.Close()
		return row
	}
	return db.QueryRowContext(ctx, query, args...)
}

// failedOpenConnector is a driver.Connector whose Connect always fails with
// the given error, used to surface an ensureOpen failure through
// database/sql's own deferred-error machinery.
type failedOpenConnector struct{ err error }

func (f failedOpenConnector) Connect(context.Context) (driver.Conn, error) { return nil, f.err }
func (f failedOpenConnector) Driver() driver.Driver                       { return nil }

// Exec runs a multi-statement script with no returned rows.
func (c *Conn) Exec(ctx context.Context, sqlText string) error {
	db, err := c.ensureOpen(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, sqlText); err != nil {
		return c.wrapErr(err, sqlText)
	}
	return nil
}

// Run executes a single statement and reports the outcome.
func (c *Conn) Run(ctx context.Context, sqlText string, binds ...any) (RunResult, error) {
	db, err := c.ensureOpen(ctx)
	if err != nil {
		return RunResult{}, err
	}
	res, err := db.ExecContext(ctx, sqlText, binds...)
	if err != nil {
		return RunResult{}, c.wrapErr(err, sqlText)
	}
	return runResultOf(res), nil
}

// Get returns the first row, or nil if there are none.
func (c *Conn) Get(ctx context.Context, sqlText string, binds ...any) (Row, error) {
	db, err := c.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, sqlText, binds...)
	if err != nil {
		return nil, c.wrapErr(err, sqlText)
	}
	defer rows.Close()
	row, err := firstRow(rows)
	if err != nil {
		return nil, c.wrapErr(err, sqlText)
	}
	return row, nil
}

// All returns every row.
func (c *Conn) All(ctx context.Context, sqlText string, binds ...any) ([]Row, error) {
	db, err := c.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, sqlText, binds...)
	if err != nil {
		return nil, c.wrapErr(err, sqlText)
	}
	defer rows.Close()
	out, err := allRows(rows)
	if err != nil {
		return nil, c.wrapErr(err, sqlText)
	}
	return out, nil
}

// Each streams every row to onRow and returns the row count. onRow must be
// non-nil.
func (c *Conn) Each(ctx context.Context, sqlText string, binds []any, onRow func(Row) error) (int, error) {
	if onRow == nil {
		panic("sqldb: Each requires a non-nil onRow callback")
	}
	db, err := c.ensureOpen(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := db.QueryContext(ctx, sqlText, binds...)
	if err != nil {
		return 0, c.wrapErr(err, sqlText)
	}
	defer rows.Close()
	n, err := streamRows(rows, onRow)
	if err != nil {
		return n, c.wrapErr(err, sqlText)
	}
	return n, nil
}

// RunFrag, GetFrag, AllFrag and ExecFrag accept a sqlfrag Builder's output
// directly, the fragment-form variants the spec describes as
// "db.exec`...`" and friends.

// RunFrag runs a fragment built with sqlfrag as a single statement.
func (c *Conn) RunFrag(ctx context.Context, frag *sqlfrag.Builder) (RunResult, error) {
	sqlText, binds := frag.Build()
	return c.Run(ctx, sqlText, binds...)
}

// GetFrag runs a fragment built with sqlfrag and returns the first row.
func (c *Conn) GetFrag(ctx context.Context, frag *sqlfrag.Builder) (Row, error) {
	sqlText, binds := frag.Build()
	return c.Get(ctx, sqlText, binds...)
}

// AllFrag runs a fragment built with sqlfrag and returns every row.
func (c *Conn) AllFrag(ctx context.Context, frag *sqlfrag.Builder) ([]Row, error) {
	sqlText, binds := frag.Build()
	return c.All(ctx, sqlText, binds...)
}

// ExecFrag runs a fragment built with sqlfrag with no returned rows.
func (c *Conn) ExecFrag(ctx context.Context, frag *sqlfrag.Builder) error {
	sqlText, binds := frag.Build()
	if len(binds) == 0 {
		return c.Exec(ctx, sqlText)
	}
	_, err := c.Run(ctx, sqlText, binds...)
	return err
}
