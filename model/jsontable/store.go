// Package jsontable provides a reference model.Store: one SQLite table per
// model, each row a JSON-encoded document keyed by id. It is grounded on the
// teacher's upsert-by-primary-key idiom in
// es/adapters/postgres/projections/snapshot.go, translated from Postgres's
// ON CONFLICT/EXCLUDED dialect to SQLite's INSERT OR REPLACE / json_patch.
package jsontable

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pupsourcing/esdb/model"
	"github.com/pupsourcing/esdb/sqldb"
	"github.com/pupsourcing/esdb/sqlfrag"
)

// Store is a JSON-document model.Store backed by a single SQLite table.
type Store struct {
	Table string
}

// New returns a Store for the given table name.
func New(table string) *Store {
	return &Store{Table: table}
}

// Migration returns the DDL that creates this model's table, for use in a
// model.Registration's Migrations slice.
func (s *Store) Migration() string {
	frag := sqlfrag.New().
		Raw("CREATE TABLE IF NOT EXISTS ").ID(s.Table).
		Raw(" (id TEXT PRIMARY KEY, doc TEXT NOT NULL)")
	sqlText, _ := frag.Build()
	return sqlText
}

// ApplyChanges implements model.Store.
func (s *Store) ApplyChanges(ctx context.Context, tx sqldb.TxHandle, change *model.Change) error {
	if change.IsEmpty() {
		return nil
	}

	for _, row := range change.Set {
		if err := s.upsert(ctx, tx, row); err != nil {
			return err
		}
	}
	for _, row := range change.Ins {
		if err := s.insert(ctx, tx, row); err != nil {
			return err
		}
	}
	for _, row := range change.Upd {
		if err := s.patch(ctx, tx, row); err != nil {
			return err
		}
	}
	for _, id := range change.Rm {
		if err := s.remove(ctx, tx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, tx sqldb.TxHandle, row model.Row) error {
	doc, err := json.Marshal(row.Doc)
	if err != nil {
		return fmt.Errorf("jsontable: marshal doc for %q: %w", row.ID, err)
	}
	frag := sqlfrag.New().
		Raw("INSERT OR REPLACE INTO ").ID(s.Table).
		Raw(" (id, doc) VALUES (").Bind(row.ID).Raw(", ").Bind(string(doc)).Raw(")")
	sqlText, binds := frag.Build()
	_, err = tx.ExecContext(ctx, sqlText, binds...)
	return err
}

func (s *Store) insert(ctx context.Context, tx sqldb.TxHandle, row model.Row) error {
	doc, err := json.Marshal(row.Doc)
	if err != nil {
		return fmt.Errorf("jsontable: marshal doc for %q: %w", row.ID, err)
	}
	frag := sqlfrag.New().
		Raw("INSERT INTO ").ID(s.Table).
		Raw(" (id, doc) VALUES (").Bind(row.ID).Raw(", ").Bind(string(doc)).Raw(")")
	sqlText, binds := frag.Build()
	_, err = tx.ExecContext(ctx, sqlText, binds...)
	return err
}

// patch applies row.Doc as a partial update via SQLite's json_patch,
// merging onto the existing document rather than replacing it outright.
func (s *Store) patch(ctx context.Context, tx sqldb.TxHandle, row model.Row) error {
	patch, err := json.Marshal(row.Doc)
	if err != nil {
		return fmt.Errorf("jsontable: marshal patch for %q: %w", row.ID, err)
	}
	frag := sqlfrag.New().
		Raw("UPDATE ").ID(s.Table).
		Raw(" SET doc = json_patch(doc, ").Bind(string(patch)).
		Raw(") WHERE id = ").Bind(row.ID)
	sqlText, binds := frag.Build()
	_, err = tx.ExecContext(ctx, sqlText, binds...)
	return err
}

func (s *Store) remove(ctx context.Context, tx sqldb.TxHandle, id string) error {
	frag := sqlfrag.New().
		Raw("DELETE FROM ").ID(s.Table).
		Raw(" WHERE id = ").Bind(id)
	sqlText, binds := frag.Build()
	_, err := tx.ExecContext(ctx, sqlText, binds...)
	return err
}

// Get fetches and decodes the document stored at id, or reports found=false
// if there is none. tx may be a live transaction or a plain *sqldb.Conn,
// so reducers can read their own table's current state before deciding a
// Change, and derivers/tests can read after commit.
func (s *Store) Get(ctx context.Context, tx sqldb.TxHandle, id string, out any) (found bool, err error) {
	frag := sqlfrag.New().
		Raw("SELECT doc FROM ").ID(s.Table).
		Raw(" WHERE id = ").Bind(id)
	sqlText, binds := frag.Build()
	row, err := sqldb.GetRow(ctx, tx, sqlText, binds...)
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, nil
	}
	doc, _ := row["doc"].(string)
	if doc == "" {
		if b, ok := row["doc"].([]byte); ok {
			doc = string(b)
		}
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return false, fmt.Errorf("jsontable: unmarshal doc for %q: %w", id, err)
	}
	return true, nil
}

// Count returns the number of rows in the table, for tests asserting on
// shape rather than content.
func (s *Store) Count(ctx context.Context, tx sqldb.TxHandle) (int, error) {
	frag := sqlfrag.New().Raw("SELECT COUNT(*) AS n FROM ").ID(s.Table)
	sqlText, binds := frag.Build()
	row, err := sqldb.GetRow(ctx, tx, sqlText, binds...)
	if err != nil {
		return 0, err
	}
	if row == nil {
		return 0, nil
	}
	n, _ := row["n"].(int64)
	return int(n), nil
}
