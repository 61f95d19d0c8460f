package cursor

import (
	"context"
	"testing"
	"time"

	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/infra/buntstore"
)

func newTestStore(t *testing.T) *buntstore.Store {
	t.Helper()
	s, err := buntstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testScope() model.Scope {
	return model.Scope{WorkspaceID: "ws1", ProjectID: "proj1"}
}

func TestBootstrapNeededBeforeFirstSync(t *testing.T) {
	ctx := context.Background()
	m := New(newTestStore(t))
	scope := testScope()

	needed, err := m.IsBootstrapNeeded(ctx, scope, "direct")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !needed {
		t.Fatalf("expected bootstrap needed with no sync_state row")
	}
}

func TestSetThenGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	m := New(newTestStore(t))
	scope := testScope()

	if err := m.Set(ctx, scope, "direct", "dev1", 42); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, found, err := m.Get(ctx, scope, "direct", "dev1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found || got != 42 {
		t.Fatalf("expected cursor 42, got %d found=%v", got, found)
	}
}

func TestSetNeverRegresses(t *testing.T) {
	ctx := context.Background()
	m := New(newTestStore(t))
	scope := testScope()

	if err := m.Set(ctx, scope, "direct", "dev1", 100); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := m.Set(ctx, scope, "direct", "dev1", 10); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, _, err := m.Get(ctx, scope, "direct", "dev1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != 100 {
		t.Fatalf("expected cursor to stay at 100, got %d", got)
	}
}

func TestIsPotentiallyExpired(t *testing.T) {
	ctx := context.Background()
	cur := time.Unix(0, 0)
	m := New(newTestStore(t), WithClock(func() time.Time { return cur }))
	scope := testScope()

	if err := m.MarkSyncComplete(ctx, scope, "direct", "dev1"); err != nil {
		t.Fatalf("mark: %v", err)
	}

	expired, err := m.IsPotentiallyExpired(ctx, scope, "direct")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expired {
		t.Fatalf("expected fresh sync_state to not be expired")
	}

	cur = cur.Add(MaxCursorAge + time.Minute)
	expired, err = m.IsPotentiallyExpired(ctx, scope, "direct")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !expired {
		t.Fatalf("expected stale sync_state to be potentially expired")
	}
}

func TestResetClearsCursor(t *testing.T) {
	ctx := context.Background()
	m := New(newTestStore(t))
	scope := testScope()

	if err := m.Set(ctx, scope, "direct", "dev1", 55); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := m.Reset(ctx, scope, "direct", "dev1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, found, err := m.Get(ctx, scope, "direct", "dev1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found || got != 0 {
		t.Fatalf("expected cursor reset to 0, got %d found=%v", got, found)
	}
}
