package sqldb

import (
	"context"
	"database/sql"
	"sync"
)

// Stmt is a reusable parameterized query. Its compiled handle is
// invalidated when the owning connection closes and is recompiled lazily on
// next use.
type Stmt struct {
	conn *Conn
	sql  string

	mu      sync.Mutex
	compiled *sql.Stmt
}

// Prepare returns a Stmt bound to sql text. Compilation is lazy: the first
// call to Get/All/Run/Each compiles it against the current physical
// connection.
func (c *Conn) Prepare(ctx context.Context, sqlText string) (*Stmt, error) {
	if _, err := c.ensureOpen(ctx); err != nil {
		return nil, err
	}
	s := &Stmt{conn: c, sql: sqlText}
	c.stmtsMu.Lock()
	c.stmts[s] = struct{}{}
	c.stmtsMu.Unlock()
	return s, nil
}

func (s *Stmt) compiled_(ctx context.Context) (*sql.Stmt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.compiled != nil {
		return s.compiled, nil
	}
	db, err := s.conn.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}
	stmt, err := db.PrepareContext(ctx, s.sql)
	if err != nil {
		return nil, s.conn.wrapErr(err, s.sql)
	}
	s.compiled = stmt
	return stmt, nil
}

// Get runs the statement and returns the first row, or nil if there are
// none. Each call re-runs the query fresh, so repeated Get calls always see
// the first row rather than advancing through a shared cursor.
func (s *Stmt) Get(ctx context.Context, binds ...any) (Row, error) {
	stmt, err := s.compiled_(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, binds...)
	if err != nil {
		return nil, s.conn.wrapErr(err, s.sql)
	}
	defer rows.Close()
	return firstRow(rows)
}

// All runs the statement and returns every row.
func (s *Stmt) All(ctx context.Context, binds ...any) ([]Row, error) {
	stmt, err := s.compiled_(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, binds...)
	if err != nil {
		return nil, s.conn.wrapErr(err, s.sql)
	}
	defer rows.Close()
	return allRows(rows)
}

// Run executes the statement as a single write and reports the outcome.
func (s *Stmt) Run(ctx context.Context, binds ...any) (RunResult, error) {
	stmt, err := s.compiled_(ctx)
	if err != nil {
		return RunResult{}, err
	}
	res, err := stmt.ExecContext(ctx, binds...)
	if err != nil {
		return RunResult{}, s.conn.wrapErr(err, s.sql)
	}
	return runResultOf(res), nil
}

// Each streams every row to onRow and returns the row count.
func (s *Stmt) Each(ctx context.Context, binds []any, onRow func(Row) error) (int, error) {
	if onRow == nil {
		panic("sqldb: Stmt.Each requires a non-nil onRow callback")
	}
	stmt, err := s.compiled_(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := stmt.QueryContext(ctx, binds...)
	if err != nil {
		return 0, s.conn.wrapErr(err, s.sql)
	}
	defer rows.Close()
	return streamRows(rows, onRow)
}

// Finalize releases the compiled handle. It is idempotent.
func (s *Stmt) Finalize() {
	s.mu.Lock()
	s.finalizeLocked()
	s.mu.Unlock()

	s.conn.stmtsMu.Lock()
	delete(s.conn.stmts, s)
	s.conn.stmtsMu.Unlock()
}

// finalizeLocked closes the compiled handle without touching the owning
// connection's statement set; callers holding that set's lock (Conn.Close)
// use this directly to avoid a lock-ordering deadlock with Finalize.
func (s *Stmt) finalizeLocked() {
	if s.compiled != nil {
		s.compiled.Close()
		s.compiled = nil
	}
}
