package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/driftsync/engine/internal/domain/breaker"
	"github.com/driftsync/engine/internal/domain/echocache"
	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/domain/storex"
	"github.com/driftsync/engine/internal/infra/buntstore"
)

var ctx = context.Background()

type fakeProvider struct {
	respond func(ops []model.PendingOp) (model.PushResponse, error)
}

func (f *fakeProvider) Push(_ context.Context, _ model.Scope, ops []model.PendingOp) (model.PushResponse, error) {
	return f.respond(ops)
}

func newTestManager(t *testing.T, provider Provider) (*Manager, *buntstore.Store) {
	t.Helper()
	store, err := buntstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	scope := model.Scope{WorkspaceID: "ws1", ProjectID: "proj1"}
	m := New(scope, "direct", store, provider, echocache.New(), breaker.New())
	return m, store
}

func seedPendingOp(t *testing.T, store *buntstore.Store, table, pk string, createdAt int64) model.PendingOp {
	t.Helper()
	op := model.PendingOp{
		ID:        uuid.New(),
		TableName: table,
		Kind:      model.OpPut,
		PK:        pk,
		Payload:   []byte(`{"clock":1}`),
		Stamp:     model.Stamp{DeviceID: "dev1", OpID: uuid.New(), HLC: "x", Clock: 1},
		CreatedAt: createdAt,
		Status:    model.StatusPending,
	}
	if err := store.Update(ctx, func(tx storex.Tx) error { return tx.PutPendingOp(op) }); err != nil {
		t.Fatalf("seed op: %v", err)
	}
	return op
}

func TestFlushOnceSuccessDeletesOp(t *testing.T) {
	var pushed []model.PendingOp
	provider := &fakeProvider{respond: func(ops []model.PendingOp) (model.PushResponse, error) {
		pushed = ops
		results := make([]model.PushResult, len(ops))
		for i, op := range ops {
			results[i] = model.PushResult{OpID: op.Stamp.OpID.String(), Success: true}
		}
		return model.PushResponse{Results: results, ServerVersion: 1}, nil
	}}
	m, store := newTestManager(t, provider)
	seedPendingOp(t, store, "threads", "t1", 100)

	if !m.flushOnce(ctx) {
		t.Fatalf("expected flushOnce to report work done")
	}
	if len(pushed) != 1 {
		t.Fatalf("expected provider to receive 1 op, got %d", len(pushed))
	}
	count, err := m.GetPendingCount(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected pending op removed after success, got %d", count)
	}
}

func TestCoalesceKeepsLatestPerKey(t *testing.T) {
	provider := &fakeProvider{respond: func(ops []model.PendingOp) (model.PushResponse, error) {
		results := make([]model.PushResult, len(ops))
		for i, op := range ops {
			results[i] = model.PushResult{OpID: op.Stamp.OpID.String(), Success: true}
		}
		return model.PushResponse{Results: results, ServerVersion: 1}, nil
	}}
	m, store := newTestManager(t, provider)
	seedPendingOp(t, store, "threads", "t1", 100)
	seedPendingOp(t, store, "threads", "t1", 200) // same key, newer

	m.flushOnce(ctx)
	count, _ := m.GetPendingCount(ctx)
	if count != 0 {
		t.Fatalf("expected both to resolve (coalesced into one push), got %d pending", count)
	}
}

func TestPermanentFailureMarksFailedAndIsPurgedOnRestart(t *testing.T) {
	provider := &fakeProvider{respond: func(ops []model.PendingOp) (model.PushResponse, error) {
		results := make([]model.PushResult, len(ops))
		for i, op := range ops {
			results[i] = model.PushResult{OpID: op.Stamp.OpID.String(), Success: false, ErrorCode: string(CodeValidationError), Error: "bad payload"}
		}
		return model.PushResponse{Results: results, ServerVersion: 1}, nil
	}}
	m, store := newTestManager(t, provider)
	seedPendingOp(t, store, "threads", "t1", 100)

	m.flushOnce(ctx)

	failed, err := m.GetFailedOps(ctx)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed op, got %d", len(failed))
	}

	if err := m.purgeFailedOps(ctx); err != nil {
		t.Fatalf("purge: %v", err)
	}
	failed, _ = m.GetFailedOps(ctx)
	if len(failed) != 0 {
		t.Fatalf("expected failed ops purged, got %d", len(failed))
	}
	if len(m.DeadLetters()) != 1 {
		t.Fatalf("expected purged op recorded in dead letter log")
	}
}

func TestTransientFailureSchedulesRetry(t *testing.T) {
	provider := &fakeProvider{respond: func(ops []model.PendingOp) (model.PushResponse, error) {
		results := make([]model.PushResult, len(ops))
		for i, op := range ops {
			results[i] = model.PushResult{OpID: op.Stamp.OpID.String(), Success: false, ErrorCode: string(CodeNetworkError)}
		}
		return model.PushResponse{Results: results, ServerVersion: 1}, nil
	}}
	cur := time.Unix(0, 0)
	m, store := newTestManager(t, provider)
	m.now = func() time.Time { return cur }
	seedPendingOp(t, store, "threads", "t1", 100)

	m.flushOnce(ctx)

	ops, err := store.QueryPendingOps(ctx, model.StatusPending, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("expected op to remain pending for retry, got %d", len(ops))
	}
	if ops[0].Attempts != 1 {
		t.Fatalf("expected attempts incremented to 1, got %d", ops[0].Attempts)
	}
	if ops[0].NextAttemptAt <= cur.UnixMilli() {
		t.Fatalf("expected nextAttemptAt in the future")
	}
}
