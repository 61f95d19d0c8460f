package gc

import (
	"context"
	"testing"
	"time"

	"github.com/driftsync/engine/internal/domain/breaker"
	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/domain/storex"
	"github.com/driftsync/engine/internal/infra/buntstore"
)

var ctx = context.Background()

func newTestStore(t *testing.T) *buntstore.Store {
	t.Helper()
	s, err := buntstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunReapsOnlySyncedExpiredTombstones(t *testing.T) {
	store := newTestStore(t)
	scope := model.Scope{WorkspaceID: "ws1", ProjectID: "p1"}

	now := time.Unix(1_000_000, 0)
	retention := int64(1000)

	_ = store.Update(ctx, func(tx storex.Tx) error {
		if err := tx.PutTombstone(model.Tombstone{ID: "threads:synced-old", TableName: "threads", PK: "synced-old", DeletedAt: 1, Clock: 1, SyncedAt: 1}); err != nil {
			return err
		}
		if err := tx.PutTombstone(model.Tombstone{ID: "threads:unsynced-old", TableName: "threads", PK: "unsynced-old", DeletedAt: 1, Clock: 1}); err != nil {
			return err
		}
		return tx.PutTombstone(model.Tombstone{ID: "threads:synced-recent", TableName: "threads", PK: "synced-recent", DeletedAt: now.Unix(), Clock: 1, SyncedAt: now.Unix()})
	})

	m := New(scope, "direct", store, nil, breaker.New(), WithRetention(retention), WithClock(func() time.Time { return now }))
	m.run(ctx)

	var remaining []model.Tombstone
	_ = store.View(ctx, func(tx storex.Tx) error {
		var err error
		remaining, err = store.QueryTombstonesBefore(ctx, now.Unix(), 0)
		return err
	})

	var pks []string
	for _, r := range remaining {
		pks = append(pks, r.PK)
	}
	if len(pks) != 2 {
		t.Fatalf("expected synced-old reaped, 2 remaining, got %v", pks)
	}
}

func TestRunIsNoOpWhenNoTombstonesExpired(t *testing.T) {
	store := newTestStore(t)
	scope := model.Scope{WorkspaceID: "ws1", ProjectID: "p1"}

	var completed bool
	var reapedCount int
	hooks := hooksFunc{complete: func(_ model.Scope, n int) { completed = true; reapedCount = n }}

	m := New(scope, "direct", store, nil, breaker.New(), WithHooks(hooks))
	m.run(ctx)

	if !completed || reapedCount != 0 {
		t.Fatalf("expected a completed run with 0 reaped, got completed=%v count=%d", completed, reapedCount)
	}
}

type hooksFunc struct {
	started  func(model.Scope)
	complete func(model.Scope, int)
	errFn    func(model.Scope, error)
}

func (h hooksFunc) Started(s model.Scope) {
	if h.started != nil {
		h.started(s)
	}
}
func (h hooksFunc) Complete(s model.Scope, n int) {
	if h.complete != nil {
		h.complete(s, n)
	}
}
func (h hooksFunc) Error(s model.Scope, err error) {
	if h.errFn != nil {
		h.errFn(s, err)
	}
}
