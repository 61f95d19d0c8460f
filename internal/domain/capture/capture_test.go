package capture

import (
	"context"
	"testing"

	"github.com/driftsync/engine/internal/domain/hlc"
	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/domain/storex"
	"github.com/driftsync/engine/internal/infra/buntstore"
)

var ctx = context.Background()

type fakeDeviceStore struct {
	id string
	ok bool
}

func (f *fakeDeviceStore) Load() (string, bool) { return f.id, f.ok }
func (f *fakeDeviceStore) Save(id string) error { f.id, f.ok = id, true; return nil }

func newBridge(t *testing.T) (*Bridge, *buntstore.Store) {
	t.Helper()
	store, err := buntstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clock := hlc.New(&fakeDeviceStore{id: "devdevic"})
	b := New(clock, model.NewTableRegistry())
	return b, store
}

func TestInterceptPutCapturesPendingOp(t *testing.T) {
	b, store := newBridge(t)

	err := store.Update(ctx, func(tx storex.Tx) error {
		return b.Intercept(tx, storex.WriteEvent{
			Table:   "threads",
			Op:      model.OpPut,
			PK:      "t1",
			Payload: []byte(`{"clock":1,"title":"hi"}`),
		})
	})
	if err != nil {
		t.Fatalf("intercept: %v", err)
	}

	var found bool
	_ = store.View(ctx, func(tx storex.Tx) error {
		ops, err := store.QueryPendingOps(ctx, 0, 0)
		if err != nil {
			return err
		}
		for _, op := range ops {
			if op.TableName == "threads" && op.PK == "t1" {
				found = true
			}
		}
		return nil
	})
	if !found {
		t.Fatalf("expected a pending op for threads/t1")
	}
}

func TestInterceptDeleteWritesTombstone(t *testing.T) {
	b, store := newBridge(t)

	err := store.Update(ctx, func(tx storex.Tx) error {
		return tx.PutRecord("threads", "t1", model.RecordMeta{Clock: 5}, []byte(`{"clock":5}`))
	})
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}

	err = store.Update(ctx, func(tx storex.Tx) error {
		return b.Intercept(tx, storex.WriteEvent{Table: "threads", Op: model.OpDelete, PK: "t1"})
	})
	if err != nil {
		t.Fatalf("intercept delete: %v", err)
	}

	var ts model.Tombstone
	var ok bool
	_ = store.View(ctx, func(tx storex.Tx) error {
		var err error
		ts, ok, err = tx.GetTombstone("threads", "t1")
		return err
	})
	if !ok {
		t.Fatalf("expected tombstone for threads/t1")
	}
	if ts.Clock != 6 {
		t.Fatalf("expected tombstone clock 6 (local.clock+1), got %d", ts.Clock)
	}
}

func TestInterceptSkipsBlockedKV(t *testing.T) {
	b, store := newBridge(t)
	b.tables.BlockKV("session-token")

	err := store.Update(ctx, func(tx storex.Tx) error {
		return b.Intercept(tx, storex.WriteEvent{
			Table:   "kv",
			Op:      model.OpPut,
			PK:      "session-token",
			Payload: []byte(`{"clock":1}`),
		})
	})
	if err != nil {
		t.Fatalf("intercept: %v", err)
	}

	ops, err := store.QueryPendingOps(ctx, 0, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("expected blocked kv write to not be captured, got %d ops", len(ops))
	}
}

func TestInterceptSkipsSuppressedTransaction(t *testing.T) {
	b, store := newBridge(t)

	err := store.Update(ctx, func(tx storex.Tx) error {
		b.Suppress(tx.Identity())
		defer b.Unsuppress(tx.Identity())
		return b.Intercept(tx, storex.WriteEvent{
			Table:   "threads",
			Op:      model.OpPut,
			PK:      "t2",
			Payload: []byte(`{"clock":1}`),
		})
	})
	if err != nil {
		t.Fatalf("intercept: %v", err)
	}

	ops, err := store.QueryPendingOps(ctx, 0, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("expected sync-applied write to not be captured, got %d ops", len(ops))
	}
}

func TestInterceptRejectsOversizedPayload(t *testing.T) {
	b, store := newBridge(t)

	big := make([]byte, model.MaxPayloadBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	payload := append([]byte(`{"clock":1,"blob":"`), append(big, []byte(`"}`)...)...)

	err := store.Update(ctx, func(tx storex.Tx) error {
		return b.Intercept(tx, storex.WriteEvent{Table: "threads", Op: model.OpPut, PK: "t3", Payload: payload})
	})
	if err != model.ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}
