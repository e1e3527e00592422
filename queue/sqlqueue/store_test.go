package sqlqueue

import (
	"context"
	"testing"
	"time"

	"github.com/pupsourcing/esdb/event"
	"github.com/pupsourcing/esdb/sqldb"
)

func newTestStore(t *testing.T) (*sqldb.Conn, *Store) {
	t.Helper()
	db := sqldb.New(sqldb.Config{})
	t.Cleanup(func() { db.Close(context.Background()) })
	store := NewStore(db, DefaultConfig())
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db, store
}

func TestAddAssignsIncreasingVersions(t *testing.T) {
	ctx := context.Background()
	_, store := newTestStore(t)

	first, err := store.Add(ctx, "widget.created", map[string]string{"name": "gear"})
	if err != nil {
		t.Fatalf("add first: %v", err)
	}
	if first.V != 1 {
		t.Fatalf("expected first event to be v=1, got %d", first.V)
	}
	if first.ID.String() == "" {
		t.Fatal("expected a non-empty correlation id")
	}

	second, err := store.Add(ctx, "widget.created", map[string]string{"name": "sprocket"})
	if err != nil {
		t.Fatalf("add second: %v", err)
	}
	if second.V != 2 {
		t.Fatalf("expected second event to be v=2, got %d", second.V)
	}
	if second.ID == first.ID {
		t.Fatal("expected distinct correlation ids")
	}
}

func TestGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, store := newTestStore(t)

	added, err := store.Add(ctx, "widget.created", map[string]string{"name": "gear"}, 12345)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := store.Get(ctx, added.V)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected event to be found")
	}
	if got.Type != "widget.created" || got.TS != 12345 || got.ID != added.ID {
		t.Fatalf("unexpected event: %+v", got)
	}

	missing, err := store.Get(ctx, 999)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing version, got %+v", missing)
	}
}

func TestGetNextOnceReturnsNilWhenAbsent(t *testing.T) {
	ctx := context.Background()
	_, store := newTestStore(t)

	ev, err := store.GetNext(ctx, 0, true)
	if err != nil {
		t.Fatalf("GetNext: %v", err)
	}
	if ev != nil {
		t.Fatalf("expected nil when nothing pending, got %+v", ev)
	}
}

func TestGetNextBlocksUntilAvailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, store := newTestStore(t)

	resultCh := make(chan *event.Event, 1)
	errCh := make(chan error, 1)
	go func() {
		ev, err := store.GetNext(ctx, 0, false)
		resultCh <- ev
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := store.Add(ctx, "widget.created", map[string]string{"name": "gear"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	select {
	case ev := <-resultCh:
		if err := <-errCh; err != nil {
			t.Fatalf("GetNext: %v", err)
		}
		if ev == nil || ev.V != 1 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-ctx.Done():
		t.Fatal("GetNext did not return once the event was added")
	}
}

func TestSetPersistsResultAndError(t *testing.T) {
	ctx := context.Background()
	_, store := newTestStore(t)

	added, err := store.Add(ctx, "widget.created", map[string]string{"name": "gear"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	added.Result = map[string]event.ChangeEnvelope{"widgets": {Model: "widgets"}}
	added.Error = map[string]event.ErrorInfo{"derivers": {Message: "boom"}}
	if err := store.Set(ctx, nil, added); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := store.Get(ctx, added.V)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Result) != 1 || got.Result["widgets"].Model != "widgets" {
		t.Fatalf("unexpected result: %+v", got.Result)
	}
	if len(got.Error) != 1 || got.Error["derivers"].Message != "boom" {
		t.Fatalf("unexpected error: %+v", got.Error)
	}
}

func TestLatestVersionEmptyQueue(t *testing.T) {
	ctx := context.Background()
	_, store := newTestStore(t)
	v, err := store.LatestVersion(ctx)
	if err != nil {
		t.Fatalf("latest version: %v", err)
	}
	if v != 0 {
		t.Fatalf("expected 0 for empty queue, got %d", v)
	}
}
