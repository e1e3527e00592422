package sqldb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestConn(t *testing.T) *Conn {
	t.Helper()
	c := New(Config{})
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

// tempDBFile returns a fresh on-disk database path private to the test, the
// minimum needed for two *Conn values to observe each other's writes: an
// in-memory database is private to its own connection and can't demonstrate
// cross-connection visibility at all.
func tempDBFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "cross.db")
}

func TestRunGetAll(t *testing.T) {
	ctx := context.Background()
	c := newTestConn(t)

	if err := c.Exec(ctx, "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	res, err := c.Run(ctx, "INSERT INTO widgets (name) VALUES (?)", "gear")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if res.LastInsertID != 1 {
		t.Fatalf("unexpected last insert id: %d", res.LastInsertID)
	}
	if res.Changes != 1 {
		t.Fatalf("unexpected changes: %d", res.Changes)
	}

	if _, err := c.Run(ctx, "INSERT INTO widgets (name) VALUES (?)", "sprocket"); err != nil {
		t.Fatalf("insert 2: %v", err)
	}

	row, err := c.Get(ctx, "SELECT name FROM widgets WHERE id = ?", 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if row == nil || row["name"] != "gear" {
		t.Fatalf("unexpected row: %v", row)
	}

	missing, err := c.Get(ctx, "SELECT name FROM widgets WHERE id = ?", 999)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing row, got %v", missing)
	}

	all, err := c.All(ctx, "SELECT name FROM widgets ORDER BY id")
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 2 || all[0]["name"] != "gear" || all[1]["name"] != "sprocket" {
		t.Fatalf("unexpected rows: %v", all)
	}

	count := 0
	n, err := c.Each(ctx, "SELECT name FROM widgets ORDER BY id", nil, func(Row) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("each: %v", err)
	}
	if n != 2 || count != 2 {
		t.Fatalf("unexpected each count: n=%d count=%d", n, count)
	}
}

func TestWithTransactionCommit(t *testing.T) {
	ctx := context.Background()
	c := newTestConn(t)
	if err := c.Exec(ctx, "CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	err := c.WithTransaction(ctx, func(ctx context.Context, tx TxHandle) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "a", "1")
		return err
	})
	if err != nil {
		t.Fatalf("WithTransaction: %v", err)
	}

	row, err := c.Get(ctx, "SELECT v FROM kv WHERE k = ?", "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if row == nil || row["v"] != "1" {
		t.Fatalf("committed row not visible: %v", row)
	}
}

func TestWithTransactionRollback(t *testing.T) {
	ctx := context.Background()
	c := newTestConn(t)
	if err := c.Exec(ctx, "CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	sentinel := errors.New("body failed")
	err := c.WithTransaction(ctx, func(ctx context.Context, tx TxHandle) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "a", "1"); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	row, err := c.Get(ctx, "SELECT v FROM kv WHERE k = ?", "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if row != nil {
		t.Fatalf("rolled-back row should not be visible, got %v", row)
	}
}

func TestWithTransactionHooks(t *testing.T) {
	ctx := context.Background()
	c := newTestConn(t)

	var events []string
	c.OnBegin(func(context.Context) { events = append(events, "begin") })
	c.OnEnd(func(context.Context) { events = append(events, "end") })
	c.OnRollback(func(context.Context, error) { events = append(events, "rollback") })
	c.OnFinally(func(context.Context) { events = append(events, "finally") })

	if err := c.WithTransaction(ctx, func(ctx context.Context, tx TxHandle) error {
		return nil
	}); err != nil {
		t.Fatalf("WithTransaction: %v", err)
	}
	if got := events; len(got) != 3 || got[0] != "begin" || got[1] != "end" || got[2] != "finally" {
		t.Fatalf("unexpected hook order on commit: %v", got)
	}

	events = nil
	sentinel := errors.New("boom")
	if err := c.WithTransaction(ctx, func(ctx context.Context, tx TxHandle) error {
		return sentinel
	}); !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if got := events; len(got) != 3 || got[0] != "begin" || got[1] != "rollback" || got[2] != "finally" {
		t.Fatalf("unexpected hook order on rollback: %v", got)
	}
}

func TestDataVersionStableAcrossOwnWrites(t *testing.T) {
	ctx := context.Background()
	c := newTestConn(t)
	if err := c.Exec(ctx, "CREATE TABLE t (n INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	before, err := c.DataVersion(ctx)
	if err != nil {
		t.Fatalf("data version: %v", err)
	}
	if _, err := c.Run(ctx, "INSERT INTO t (n) VALUES (1)"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	after, err := c.DataVersion(ctx)
	if err != nil {
		t.Fatalf("data version: %v", err)
	}
	if before != after {
		t.Fatalf("data_version must not change from this connection's own writes: before=%d after=%d", before, after)
	}
}

func TestDataVersionIncreasesAcrossConnections(t *testing.T) {
	ctx := context.Background()
	file := tempDBFile(t)

	a := New(Config{File: file})
	t.Cleanup(func() { a.Close(ctx) })
	b := New(Config{File: file})
	t.Cleanup(func() { b.Close(ctx) })

	if err := a.Exec(ctx, "CREATE TABLE t (n INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	before, err := a.DataVersion(ctx)
	if err != nil {
		t.Fatalf("data version (a): %v", err)
	}

	if _, err := b.Run(ctx, "INSERT INTO t (n) VALUES (1)"); err != nil {
		t.Fatalf("insert (b): %v", err)
	}

	after, err := a.DataVersion(ctx)
	if err != nil {
		t.Fatalf("data version (a): %v", err)
	}
	if after <= before {
		t.Fatalf("data_version must strictly increase after another connection's commit: before=%d after=%d", before, after)
	}
}

func TestUserVersionGetSet(t *testing.T) {
	ctx := context.Background()
	c := newTestConn(t)

	v, err := c.UserVersion(ctx)
	if err != nil {
		t.Fatalf("get user_version: %v", err)
	}
	if v != 0 {
		t.Fatalf("expected default user_version 0, got %d", v)
	}

	if _, err := c.UserVersion(ctx, 7); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
	v, err = c.UserVersion(ctx)
	if err != nil {
		t.Fatalf("get user_version: %v", err)
	}
	if v != 7 {
		t.Fatalf("expected user_version 7, got %d", v)
	}
}

func TestStmtGetReRunsFromStart(t *testing.T) {
	ctx := context.Background()
	c := newTestConn(t)
	if err := c.Exec(ctx, "CREATE TABLE t (n INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := c.Run(ctx, "INSERT INTO t (n) VALUES (1), (2), (3)"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	stmt, err := c.Prepare(ctx, "SELECT n FROM t ORDER BY n")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	defer stmt.Finalize()

	first, err := stmt.Get(ctx)
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	second, err := stmt.Get(ctx)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if first["n"] != second["n"] {
		t.Fatalf("repeated Get should return the first row each time, got %v then %v", first, second)
	}
}

func TestCloseReopensOnNextUse(t *testing.T) {
	ctx := context.Background()
	c := New(Config{})
	defer c.Close(ctx)

	if err := c.Exec(ctx, "CREATE TABLE t (n INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	// An in-memory database is fresh after reopening, so the table from
	// before Close must be gone.
	if _, err := c.Get(ctx, "SELECT * FROM t"); err == nil {
		t.Fatal("expected an error querying a table that should not exist after reopen")
	}
}
