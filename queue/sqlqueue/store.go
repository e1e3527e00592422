// Package sqlqueue provides a reference SQLite-backed implementation of
// queue.Queue, grounded on the teacher's aggregate-keyed events table
// (es/adapters/sqlite/store.go) but simplified to the spec's single,
// strictly-versioned global stream: one row per version, no aggregate
// partitioning.
package sqlqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pupsourcing/esdb/event"
	"github.com/pupsourcing/esdb/sqldb"
	"github.com/pupsourcing/esdb/sqlfrag"
)

// Config configures the reference queue store.
type Config struct {
	// Table is the name of the events table.
	Table string

	// PollInterval is how often GetNext(ctx, v, false) re-checks for a new
	// row while waiting.
	PollInterval time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Table:        "events",
		PollInterval: 20 * time.Millisecond,
	}
}

// Store is a SQLite-backed queue.Queue implementation.
type Store struct {
	db     *sqldb.Conn
	config Config
}

// NewStore creates a queue store against db. Migrate must be called once
// before use (or the caller arranges equivalent DDL itself).
func NewStore(db *sqldb.Conn, config Config) *Store {
	if config.Table == "" {
		config.Table = "events"
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 20 * time.Millisecond
	}
	return &Store{db: db, config: config}
}

// Migrate creates the events table if it does not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	frag := sqlfrag.New().
		Raw("CREATE TABLE IF NOT EXISTS ").ID(s.config.Table).
		Raw(" (v INTEGER PRIMARY KEY, id TEXT NOT NULL, type TEXT NOT NULL, ts INTEGER NOT NULL, data TEXT NOT NULL, error TEXT, result TEXT)")
	sqlText, _ := frag.Build()
	return s.db.Exec(ctx, sqlText)
}

// Add implements queue.Queue.
func (s *Store) Add(ctx context.Context, eventType string, data any, ts ...int64) (*event.Event, error) {
	if eventType == "" {
		return nil, errors.New("sqlqueue: event type must not be empty")
	}
	when := time.Now().UnixMilli()
	if len(ts) > 0 {
		when = ts[0]
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("sqlqueue: marshal data: %w", err)
	}

	var out *event.Event
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx sqldb.TxHandle) error {
		var maxV sql.NullInt64
		selectFrag := sqlfrag.New().Raw("SELECT MAX(v) FROM ").ID(s.config.Table)
		selectSQL, selectBinds := selectFrag.Build()
		if err := tx.QueryRowContext(ctx, selectSQL, selectBinds...).Scan(&maxV); err != nil {
			return fmt.Errorf("sqlqueue: read max version: %w", err)
		}
		nextV := uint64(1)
		if maxV.Valid {
			nextV = uint64(maxV.Int64) + 1
		}
		id := uuid.New()

		insertFrag := sqlfrag.New().
			Raw("INSERT INTO ").ID(s.config.Table).
			Raw(" (v, id, type, ts, data) VALUES (").Bind(nextV).Raw(", ").Bind(id.String()).Raw(", ").Bind(eventType).Raw(", ").Bind(when).Raw(", ").Bind(string(dataJSON)).Raw(")")
		insertSQL, insertBinds := insertFrag.Build()
		if _, err := tx.ExecContext(ctx, insertSQL, insertBinds...); err != nil {
			return fmt.Errorf("sqlqueue: insert event: %w", err)
		}

		out = &event.Event{ID: id, V: nextV, Type: eventType, TS: when, Data: dataJSON}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get implements queue.Queue.
func (s *Store) Get(ctx context.Context, v uint64) (*event.Event, error) {
	frag := sqlfrag.New().
		Raw("SELECT v, id, type, ts, data, error, result FROM ").ID(s.config.Table).
		Raw(" WHERE v = ").Bind(v)
	sqlText, binds := frag.Build()
	row, err := s.db.Get(ctx, sqlText, binds...)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return rowToEvent(row)
}

// GetNext implements queue.Queue.
func (s *Store) GetNext(ctx context.Context, afterV uint64, once bool) (*event.Event, error) {
	if once {
		return s.Get(ctx, afterV+1)
	}

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		ev, err := s.Get(ctx, afterV+1)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			return ev, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Set implements queue.Queue.
func (s *Store) Set(ctx context.Context, tx sqldb.TxHandle, ev *event.Event) error {
	var errJSON, resultJSON any
	if len(ev.Error) > 0 {
		b, err := json.Marshal(ev.Error)
		if err != nil {
			return fmt.Errorf("sqlqueue: marshal error map: %w", err)
		}
		errJSON = string(b)
	}
	if len(ev.Result) > 0 {
		b, err := json.Marshal(ev.Result)
		if err != nil {
			return fmt.Errorf("sqlqueue: marshal result map: %w", err)
		}
		resultJSON = string(b)
	}

	frag := sqlfrag.New().
		Raw("UPDATE ").ID(s.config.Table).
		Raw(" SET type = ").Bind(ev.Type).
		Raw(", error = ").Bind(errJSON).
		Raw(", result = ").Bind(resultJSON).
		Raw(" WHERE v = ").Bind(ev.V)
	sqlText, binds := frag.Build()

	if tx != nil {
		_, err := tx.ExecContext(ctx, sqlText, binds...)
		return err
	}
	_, err := s.db.Run(ctx, sqlText, binds...)
	return err
}

// LatestVersion implements queue.Queue.
func (s *Store) LatestVersion(ctx context.Context) (uint64, error) {
	frag := sqlfrag.New().Raw("SELECT MAX(v) FROM ").ID(s.config.Table)
	sqlText, binds := frag.Build()
	row, err := s.db.Get(ctx, sqlText, binds...)
	if err != nil {
		return 0, err
	}
	if row == nil {
		return 0, nil
	}
	for _, v := range row {
		if v == nil {
			return 0, nil
		}
		return toUint64(v)
	}
	return 0, nil
}

func rowToEvent(row sqldb.Row) (*event.Event, error) {
	v, err := toUint64(row["v"])
	if err != nil {
		return nil, err
	}
	ts, err := toInt64(row["ts"])
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(fmt.Sprintf("%v", row["id"]))
	if err != nil {
		return nil, fmt.Errorf("sqlqueue: parse id column: %w", err)
	}

	ev := &event.Event{
		ID:   id,
		V:    v,
		Type: fmt.Sprintf("%v", row["type"]),
		TS:   ts,
		Data: json.RawMessage(toBytes(row["data"])),
	}

	if row["error"] != nil {
		var errs map[string]event.ErrorInfo
		if err := json.Unmarshal(toBytes(row["error"]), &errs); err != nil {
			return nil, fmt.Errorf("sqlqueue: unmarshal error column: %w", err)
		}
		ev.Error = errs
	}
	if row["result"] != nil {
		var result map[string]event.ChangeEnvelope
		if err := json.Unmarshal(toBytes(row["result"]), &result); err != nil {
			return nil, fmt.Errorf("sqlqueue: unmarshal result column: %w", err)
		}
		ev.Result = result
	}

	return ev, nil
}

func toBytes(v any) []byte {
	switch t := v.(type) {
	case []byte:
		return t
	case string:
		return []byte(t)
	default:
		return nil
	}
}

func toUint64(v any) (uint64, error) {
	switch t := v.(type) {
	case int64:
		return uint64(t), nil
	case int:
		return uint64(t), nil
	default:
		return 0, fmt.Errorf("sqlqueue: expected integer version, got %T", v)
	}
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	default:
		return 0, fmt.Errorf("sqlqueue: expected integer timestamp, got %T", v)
	}
}
