// Package sqldb provides a serialized, single-writer wrapper around an
// embedded SQL database (modernc.org/sqlite, a pure-Go SQLite engine), the
// asynchronous handle the rest of esdb is built on: exec/run/get/all/each,
// prepared-statement caching, scoped transactions, begin/end/rollback/finally
// events, and a data_version probe for cross-process change detection.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pupsourcing/esdb/es"
)

// TxHandle is the minimal interface satisfied by *sql.DB, *sql.Tx, and
// *sql.Conn, letting every query helper in this package (and callers layered
// on top, such as the queue and model packages) run identically whether or
// not it is inside a transaction body.
type TxHandle interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ TxHandle = (*sql.DB)(nil)
	_ TxHandle = (*sql.Tx)(nil)
	_ TxHandle = (*sql.Conn)(nil)
)

// Config configures a Conn. Configuration is immutable after Open.
type Config struct {
	// File is the database path. Empty means in-memory (a fresh database
	// every time the connection (re)opens).
	File string

	// ReadOnly opens the database read-only.
	ReadOnly bool

	// OnWillOpen, if set, runs once immediately before each physical open.
	OnWillOpen func(ctx context.Context) error

	// AutoVacuum enables PRAGMA auto_vacuum=FULL at open and arranges a
	// periodic incremental vacuum.
	AutoVacuum bool

	// VacuumInterval is the period between incremental vacuum passes when
	// AutoVacuum is set. Defaults to 10 minutes.
	VacuumInterval time.Duration

	// Logger is an optional observability hook. If nil, logging is
	// disabled (zero overhead).
	Logger es.Logger
}

// RunResult is the outcome of Run: the row id assigned by a single-row
// INSERT (if any) and the number of rows affected.
type RunResult struct {
	LastInsertID int64
	Changes      int64
}

// Row is one result row, keyed by column name.
type Row map[string]any

// Conn is a serialized, single-writer handle to an embedded SQL database.
// The zero value is not usable; construct with New.
type Conn struct {
	cfg Config

	openMu sync.Mutex
	db     *sql.DB
	opened bool

	// writeMu is the process-wide write lock WithTransaction seizes for the
	// duration of a transaction body; it is what makes nested/concurrent
	// transaction calls queue rather than interleave.
	writeMu sync.Mutex

	stmtsMu sync.Mutex
	stmts   map[*Stmt]struct{}

	vacuum *vacuumScheduler

	hooksMu   sync.Mutex
	onBegin   []func(context.Context)
	onEnd     []func(context.Context)
	onRollback []func(context.Context, error)
	onFinally []func(context.Context)
}

// New constructs a Conn from cfg. The database is not physically opened
// until the first operation or an explicit call to Open.
func New(cfg Config) *Conn {
	if cfg.VacuumInterval <= 0 {
		cfg.VacuumInterval = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = es.NoOpLogger{}
	}
	return &Conn{
		cfg:   cfg,
		stmts: make(map[*Stmt]struct{}),
	}
}

// identity returns the database identity used to decorate errors: the file
// path, or ":memory:" for an in-memory database.
func (c *Conn) identity() string {
	if c.cfg.File == "" {
		return ":memory:"
	}
	return c.cfg.File
}

// Open physically opens the database if it is not already open. It is safe
// to call concurrently and safe to call when already open (no-op).
func (c *Conn) Open(ctx context.Context) error {
	c.openMu.Lock()
	defer c.openMu.Unlock()
	return c.openLocked(ctx)
}

func (c *Conn) openLocked(ctx context.Context) error {
	if c.opened {
		return nil
	}

	if c.cfg.OnWillOpen != nil {
		if err := c.cfg.OnWillOpen(ctx); err != nil {
			return fmt.Errorf("sqldb: OnWillOpen: %w", err)
		}
	}

	dsn := c.cfg.File
	if dsn == "" {
		dsn = ":memory:"
	}
	if c.cfg.ReadOnly {
		dsn += "?mode=ro"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return c.wrapErr(err, "open")
	}
	// A single physical connection is the simplest way to get the
	// single-writer, fully-serialized semantics the core pipeline depends
	// on: database/sql then queues any second caller (including a
	// transaction body holding the connection) behind the first.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return c.wrapErr(err, "ping")
	}

	if c.cfg.AutoVacuum {
		if _, err := db.ExecContext(ctx, "PRAGMA auto_vacuum=FULL"); err != nil {
			db.Close()
			return c.wrapErr(err, "PRAGMA auto_vacuum=FULL")
		}
		c.vacuum = newVacuumScheduler(db, c.cfg.VacuumInterval)
		c.vacuum.start()
	}

	c.db = db
	c.opened = true
	c.cfg.Logger.Info(ctx, "sqldb: opened", "db", c.identity())
	return nil
}

func (c *Conn) ensureOpen(ctx context.Context) (*sql.DB, error) {
	c.openMu.Lock()
	defer c.openMu.Unlock()
	if err := c.openLocked(ctx); err != nil {
		return nil, err
	}
	return c.db, nil
}

// Close finalizes prepared statements, cancels vacuum scheduling, and
// releases the handle. A subsequent operation reopens the database (a fresh
// one, for an in-memory Conn).
func (c *Conn) Close(ctx context.Context) error {
	c.openMu.Lock()
	defer c.openMu.Unlock()
	if !c.opened {
		return nil
	}

	c.stmtsMu.Lock()
	for stmt := range c.stmts {
		stmt.mu.Lock()
		stmt.finalizeLocked()
		stmt.mu.Unlock()
	}
	c.stmtsMu.Unlock()

	if c.vacuum != nil {
		c.vacuum.stop()
		c.vacuum = nil
	}

	err := c.db.Close()
	c.db = nil
	c.opened = false
	c.cfg.Logger.Info(ctx, "sqldb: closed", "db", c.identity())
	if err != nil {
		return c.wrapErr(err, "close")
	}
	return nil
}

// VacuumScheduled reports whether a periodic incremental vacuum is armed.
func (c *Conn) VacuumScheduled() bool {
	c.openMu.Lock()
	defer c.openMu.Unlock()
	return c.vacuum != nil
}

// DataVersion returns PRAGMA data_version: a per-connection counter that
// increases when another connection commits a write to this file. It never
// changes because of this connection's own writes.
func (c *Conn) DataVersion(ctx context.Context) (int64, error) {
	db, err := c.ensureOpen(ctx)
	if err != nil {
		return 0, err
	}
	var v int64
	if err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v); err != nil {
		return 0, c.wrapErr(err, "PRAGMA data_version")
	}
	return v, nil
}

// UserVersion reads PRAGMA user_version when called with no arguments, or
// sets it when called with exactly one.
func (c *Conn) UserVersion(ctx context.Context, set ...int) (int, error) {
	db, err := c.ensureOpen(ctx)
	if err != nil {
		return 0, err
	}
	if len(set) > 1 {
		return 0, fmt.Errorf("sqldb: UserVersion takes at most one value, got %d", len(set))
	}
	if len(set) == 1 {
		stmt := fmt.Sprintf("PRAGMA user_version=%d", set[0])
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return 0, c.wrapErr(err, stmt)
		}
		return set[0], nil
	}
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, c.wrapErr(err, "PRAGMA user_version")
	}
	return v, nil
}

func (c *Conn) wrapErr(err error, sqlText string) error {
	return fmt.Errorf("sqldb: db=%s sql=%q: %w", c.identity(), sqlText, err)
}

// OnBegin registers a callback fired each time WithTransaction begins.
func (c *Conn) OnBegin(fn func(context.Context)) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.onBegin = append(c.onBegin, fn)
}

// OnEnd registers a callback fired after a transaction commits.
func (c *Conn) OnEnd(fn func(context.Context)) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.onEnd = append(c.onEnd, fn)
}

// OnRollback registers a callback fired when a transaction rolls back.
func (c *Conn) OnRollback(fn func(context.Context, error)) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.onRollback = append(c.onRollback, fn)
}

// OnFinally registers a callback fired exactly once per WithTransaction
// call, after end or rollback.
func (c *Conn) OnFinally(fn func(context.Context)) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.onFinally = append(c.onFinally, fn)
}

func (c *Conn) emitBegin(ctx context.Context) {
	c.hooksMu.Lock()
	hooks := append([]func(context.Context){}, c.onBegin...)
	c.hooksMu.Unlock()
	for _, h := range hooks {
		h(ctx)
	}
}

func (c *Conn) emitEnd(ctx context.Context) {
	c.hooksMu.Lock()
	hooks := append([]func(context.Context){}, c.onEnd...)
	c.hooksMu.Unlock()
	for _, h := range hooks {
		h(ctx)
	}
}

func (c *Conn) emitRollback(ctx context.Context, cause error) {
	c.hooksMu.Lock()
	hooks := append([]func(context.Context, error){}, c.onRollback...)
	c.hooksMu.Unlock()
	for _, h := range hooks {
		h(ctx, cause)
	}
}

func (c *Conn) emitFinally(ctx context.Context) {
	c.hooksMu.Lock()
	hooks := append([]func(context.Context){}, c.onFinally...)
	c.hooksMu.Unlock()
	for _, h := range hooks {
		h(ctx)
	}
}
