package subscription

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/driftsync/engine/internal/domain/breaker"
	"github.com/driftsync/engine/internal/domain/cursor"
	"github.com/driftsync/engine/internal/domain/echocache"
	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/domain/provider"
	"github.com/driftsync/engine/internal/domain/resolver"
	"github.com/driftsync/engine/internal/domain/storex"
	"github.com/driftsync/engine/internal/infra/buntstore"
)

var ctx = context.Background()

type fakeProvider struct {
	pullPages   map[uint64]model.PullResponse
	subscribeFn func(ctx context.Context, scope model.Scope, tables []string, onChanges provider.OnChanges, opts provider.SubscribeOptions) (provider.Unsubscribe, error)
	updatedCursor uint64
}

func (f *fakeProvider) ID() string          { return "direct" }
func (f *fakeProvider) Mode() provider.Mode { return provider.ModeDirect }

func (f *fakeProvider) Subscribe(ctx context.Context, scope model.Scope, tables []string, onChanges provider.OnChanges, opts provider.SubscribeOptions) (provider.Unsubscribe, error) {
	if f.subscribeFn != nil {
		return f.subscribeFn(ctx, scope, tables, onChanges, opts)
	}
	return func() {}, nil
}

func (f *fakeProvider) Pull(ctx context.Context, req model.PullRequest) (model.PullResponse, error) {
	if resp, ok := f.pullPages[req.Cursor]; ok {
		return resp, nil
	}
	return model.PullResponse{NextCursor: req.Cursor, HasMore: false}, nil
}

func (f *fakeProvider) Push(context.Context, model.Scope, []model.PendingOp) (model.PushResponse, error) {
	return model.PushResponse{}, nil
}

func (f *fakeProvider) UpdateCursor(_ context.Context, _ model.Scope, _ string, version uint64) error {
	f.updatedCursor = version
	return nil
}

func (f *fakeProvider) Dispose() error { return nil }

func newHarness(t *testing.T, prov *fakeProvider) (*Manager, storex.Store) {
	t.Helper()
	store, err := buntstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	scope := model.Scope{WorkspaceID: "ws1"}
	cursorMgr := cursor.New(store)
	suppressor := &capturingSuppressor{}
	res := resolver.New(store, suppressor)
	echoCache := echocache.New()
	breakers := breaker.New()

	m := New(scope, "direct", "device1", []string{"threads"}, store, prov, cursorMgr, res, suppressor, echoCache, breakers)
	return m, store
}

type capturingSuppressor struct{}

func (capturingSuppressor) Suppress(any)   {}
func (capturingSuppressor) Unsuppress(any) {}

func TestBootstrapAppliesChangesAndAdvancesCursor(t *testing.T) {
	prov := &fakeProvider{
		pullPages: map[uint64]model.PullResponse{
			0: {
				Changes: []model.SyncChange{
					{ServerVersion: 1, TableName: "threads", PK: "t1", Op: model.OpPut, Payload: []byte(`{"clock":1}`), Stamp: model.Stamp{OpID: uuid.New(), Clock: 1}},
				},
				NextCursor: 1,
				HasMore:    false,
			},
		},
	}
	m, store := newHarness(t, prov)

	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	var rec model.RecordMeta
	var found bool
	_ = store.View(ctx, func(tx storex.Tx) error {
		var err error
		rec, _, found, err = tx.GetRecord("threads", "t1")
		return err
	})
	if !found || rec.Clock != 1 {
		t.Fatalf("expected record applied with clock 1, got found=%v rec=%+v", found, rec)
	}
	if m.Status() != StatusConnected {
		t.Fatalf("expected connected status, got %v", m.Status())
	}
	if prov.updatedCursor != 1 {
		t.Fatalf("expected provider.UpdateCursor called with 1, got %d", prov.updatedCursor)
	}
}

func TestPullLoopDetectsNonAdvancingCursor(t *testing.T) {
	prov := &fakeProvider{
		pullPages: map[uint64]model.PullResponse{
			0: {NextCursor: 0, HasMore: true},
		},
	}
	m, _ := newHarness(t, prov)

	_, err := m.pullLoop(ctx, 0)
	if err == nil {
		t.Fatalf("expected loop guard error on non-advancing cursor")
	}
}

func TestHandleChangesSkipsAlreadyAppliedAndEchoedChanges(t *testing.T) {
	prov := &fakeProvider{pullPages: map[uint64]model.PullResponse{}}
	m, store := newHarness(t, prov)

	if err := m.cursorMgr.Set(ctx, m.scope, m.providerID, m.deviceID, 5); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}

	echoedOp := uuid.New()
	m.echoCache.Mark(echoedOp.String())

	changes := []model.SyncChange{
		{ServerVersion: 3, TableName: "threads", PK: "old", Op: model.OpPut, Payload: []byte(`{"clock":1}`), Stamp: model.Stamp{OpID: uuid.New(), Clock: 1}},
		{ServerVersion: 6, TableName: "threads", PK: "echoed", Op: model.OpPut, Payload: []byte(`{"clock":1}`), Stamp: model.Stamp{OpID: echoedOp, Clock: 1}},
	}

	if err := m.handleChanges(ctx, changes); err != nil {
		t.Fatalf("handleChanges: %v", err)
	}

	var foundOld, foundEchoed bool
	_ = store.View(ctx, func(tx storex.Tx) error {
		_, _, foundOld, _ = tx.GetRecord("threads", "old")
		_, _, foundEchoed, _ = tx.GetRecord("threads", "echoed")
		return nil
	})
	if foundOld {
		t.Fatalf("expected change below cursor to be skipped")
	}
	if foundEchoed {
		t.Fatalf("expected echoed change to be skipped")
	}

	cur, _, err := m.cursorMgr.Get(ctx, m.scope, m.providerID, m.deviceID)
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if cur != 6 {
		t.Fatalf("expected cursor advanced to max serverVersion 6 even for echoed change, got %d", cur)
	}
}
