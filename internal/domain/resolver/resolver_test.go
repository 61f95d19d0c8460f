package resolver

import (
	"context"
	"testing"

	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/domain/storex"
	"github.com/driftsync/engine/internal/infra/buntstore"
)

var ctx = context.Background()

type fakeSuppressor struct{}

func (fakeSuppressor) Suppress(any)   {}
func (fakeSuppressor) Unsuppress(any) {}

type recordingHooks struct{ conflicts []model.Conflict }

func (h *recordingHooks) ConflictDetected(c model.Conflict) { h.conflicts = append(h.conflicts, c) }

func newTestResolver(t *testing.T) (*Resolver, *buntstore.Store, *recordingHooks) {
	t.Helper()
	store, err := buntstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	hooks := &recordingHooks{}
	return New(store, fakeSuppressor{}, WithHooks(hooks)), store, hooks
}

func TestApplyPutNewRecord(t *testing.T) {
	r, store, _ := newTestResolver(t)

	change := model.SyncChange{
		TableName: "threads",
		PK:        "t1",
		Op:        model.OpPut,
		Payload:   []byte(`{"title":"hi"}`),
		Stamp:     model.Stamp{Clock: 1, HLC: "0000000001000:0000:dev00001"},
	}
	res, err := r.ApplyChanges(ctx, []model.SyncChange{change})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Applied != 1 || res.Skipped != 0 {
		t.Fatalf("expected 1 applied 0 skipped, got %+v", res)
	}

	var meta model.RecordMeta
	var found bool
	_ = store.View(ctx, func(tx storex.Tx) error {
		var err error
		meta, _, found, err = tx.GetRecord("threads", "t1")
		return err
	})
	if !found || meta.Clock != 1 {
		t.Fatalf("expected record persisted with clock 1, got %+v found=%v", meta, found)
	}
}

func TestApplyPutLowerClockLosesSilently(t *testing.T) {
	r, store, hooks := newTestResolver(t)

	seed := model.SyncChange{TableName: "threads", PK: "t1", Op: model.OpPut, Payload: []byte(`{}`), Stamp: model.Stamp{Clock: 5, HLC: "0000000005000:0000:dev00001"}}
	if _, err := r.ApplyChanges(ctx, []model.SyncChange{seed}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	older := model.SyncChange{TableName: "threads", PK: "t1", Op: model.OpPut, Payload: []byte(`{}`), Stamp: model.Stamp{Clock: 2, HLC: "0000000002000:0000:dev00001"}}
	res, err := r.ApplyChanges(ctx, []model.SyncChange{older})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Applied != 0 || res.Skipped != 1 || len(hooks.conflicts) != 0 {
		t.Fatalf("expected silent skip with no conflict hook, got %+v hooks=%d", res, len(hooks.conflicts))
	}

	var meta model.RecordMeta
	_ = store.View(ctx, func(tx storex.Tx) error {
		var err error
		meta, _, _, err = tx.GetRecord("threads", "t1")
		return err
	})
	if meta.Clock != 5 {
		t.Fatalf("expected local write to survive at clock 5, got %d", meta.Clock)
	}
}

func TestApplyPutSameClockHLCTieBreakRecordsConflict(t *testing.T) {
	r, _, hooks := newTestResolver(t)

	seed := model.SyncChange{TableName: "threads", PK: "t1", Op: model.OpPut, Payload: []byte(`{}`), Stamp: model.Stamp{Clock: 5, HLC: "0000000005000:0000:dev00001"}}
	if _, err := r.ApplyChanges(ctx, []model.SyncChange{seed}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tie := model.SyncChange{TableName: "threads", PK: "t1", Op: model.OpPut, Payload: []byte(`{}`), Stamp: model.Stamp{Clock: 5, HLC: "0000000005000:0001:dev00002"}}
	res, err := r.ApplyChanges(ctx, []model.SyncChange{tie})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Applied != 1 || len(res.Conflicts) != 1 || res.Conflicts[0].Winner != model.WinnerRemote {
		t.Fatalf("expected remote to win HLC tie-break, got %+v", res)
	}
	if len(hooks.conflicts) != 1 {
		t.Fatalf("expected conflict hook fired after commit")
	}
}

func TestApplyPutExactDuplicateSkipsWithoutConflict(t *testing.T) {
	r, _, hooks := newTestResolver(t)

	change := model.SyncChange{TableName: "threads", PK: "t1", Op: model.OpPut, Payload: []byte(`{}`), Stamp: model.Stamp{Clock: 5, HLC: "0000000005000:0000:dev00001"}}
	if _, err := r.ApplyChanges(ctx, []model.SyncChange{change}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := r.ApplyChanges(ctx, []model.SyncChange{change})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Applied != 0 || res.Skipped != 1 || len(hooks.conflicts) != 0 {
		t.Fatalf("expected exact duplicate to skip with no conflict, got %+v hooks=%d", res, len(hooks.conflicts))
	}
}

func TestApplyPutSkippedByNewerTombstone(t *testing.T) {
	r, store, _ := newTestResolver(t)

	_ = store.Update(ctx, func(tx storex.Tx) error {
		return tx.PutTombstone(model.Tombstone{ID: model.TombstoneID("threads", "t1"), TableName: "threads", PK: "t1", Clock: 10})
	})

	change := model.SyncChange{TableName: "threads", PK: "t1", Op: model.OpPut, Payload: []byte(`{}`), Stamp: model.Stamp{Clock: 3, HLC: "0000000003000:0000:dev00001"}}
	res, err := r.ApplyChanges(ctx, []model.SyncChange{change})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Applied != 0 || res.Skipped != 1 {
		t.Fatalf("expected put behind a newer tombstone to skip, got %+v", res)
	}
}

func TestApplyDeleteNoLocalRecordWritesTombstone(t *testing.T) {
	r, store, _ := newTestResolver(t)

	change := model.SyncChange{TableName: "threads", PK: "t1", Op: model.OpDelete, Stamp: model.Stamp{Clock: 1, HLC: "0000000001000:0000:dev00001"}}
	if _, err := r.ApplyChanges(ctx, []model.SyncChange{change}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	var found bool
	_ = store.View(ctx, func(tx storex.Tx) error {
		var err error
		_, found, err = tx.GetTombstone("threads", "t1")
		return err
	})
	if !found {
		t.Fatalf("expected tombstone written for delete with no local record")
	}
}
