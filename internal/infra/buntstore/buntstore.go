// Package buntstore is a reference implementation of storex.Store backed by
// tidwall/buntdb — an embedded, ACID, indexed key/document store. It stands
// in for whatever host-native document store the engine is wired to in
// production; the spec treats that store's physical layout as an external
// collaborator (§1) and only specifies the transactional + indexed-query
// contract this package exists to exercise.
package buntstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/domain/storex"
	"github.com/driftsync/engine/internal/infra/jsonx"
	"github.com/tidwall/buntdb"
)

const (
	idxPendingOpsByCreated   = "pending_ops_by_created"
	idxTombstonesByDeletedAt = "tombstones_by_deleted_at"
)

type Store struct {
	db *buntdb.DB

	mu        sync.Mutex
	listeners []listener
}

type listener struct {
	tables map[string]struct{}
	fn     func(storex.Tx, storex.WriteEvent) error
}

// Open creates (or reopens) a buntdb-backed store. path == ":memory:" gives
// a process-local, non-persisted instance (used by tests and by hosts that
// layer their own durability underneath).
func Open(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("buntstore: open %s: %w", path, err)
	}

	if err := db.CreateIndex(idxPendingOpsByCreated, "pendingop:*", pendingOpByCreatedLess); err != nil {
		return nil, fmt.Errorf("buntstore: create pending-ops index: %w", err)
	}
	if err := db.CreateIndex(idxTombstonesByDeletedAt, "tombstone:*", tombstoneByDeletedAtLess); err != nil {
		return nil, fmt.Errorf("buntstore: create tombstone index: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func recordKey(table, pk string) string    { return "record:" + table + ":" + pk }
func tombstoneKey(table, pk string) string { return "tombstone:" + table + ":" + pk }
func pendingOpKey(id string) string        { return "pendingop:" + id }
func syncStateKey(id string) string        { return "syncstate:" + id }

func pendingOpByCreatedLess(a, b string) bool {
	var va, vb struct {
		CreatedAt int64 `json:"createdAt"`
	}
	_ = jsonx.Unmarshal([]byte(a), &va)
	_ = jsonx.Unmarshal([]byte(b), &vb)
	return va.CreatedAt < vb.CreatedAt
}

func tombstoneByDeletedAtLess(a, b string) bool {
	var va, vb struct {
		DeletedAt int64 `json:"deletedAt"`
	}
	_ = jsonx.Unmarshal([]byte(a), &va)
	_ = jsonx.Unmarshal([]byte(b), &vb)
	return va.DeletedAt < vb.DeletedAt
}

// tx adapts a *buntdb.Tx to storex.Tx.
type tx struct {
	native *buntdb.Tx
}

// Identity returns the native *buntdb.Tx pointer. Every storex.Tx wrapper
// built around the same underlying transaction (e.g. during write-capture
// re-entrancy) shares this pointer, so it compares equal under == the way
// the capture bridge's suppression set requires (§4.4, §9).
func (t *tx) Identity() any { return t.native }

type recordEnvelope struct {
	Meta    model.RecordMeta `json:"meta"`
	Payload jsonx.RawMessage `json:"payload"`
}

func (t *tx) GetRecord(table, pk string) (model.RecordMeta, []byte, bool, error) {
	raw, err := t.native.Get(recordKey(table, pk))
	if err == buntdb.ErrNotFound {
		return model.RecordMeta{}, nil, false, nil
	}
	if err != nil {
		return model.RecordMeta{}, nil, false, err
	}
	var env recordEnvelope
	if err := jsonx.Unmarshal([]byte(raw), &env); err != nil {
		return model.RecordMeta{}, nil, false, err
	}
	return env.Meta, env.Payload, true, nil
}

func (t *tx) PutRecord(table, pk string, meta model.RecordMeta, payload []byte) error {
	raw, err := jsonx.Marshal(recordEnvelope{Meta: meta, Payload: payload})
	if err != nil {
		return err
	}
	_, _, err = t.native.Set(recordKey(table, pk), string(raw), nil)
	return err
}

func (t *tx) GetTombstone(table, pk string) (model.Tombstone, bool, error) {
	raw, err := t.native.Get(tombstoneKey(table, pk))
	if err == buntdb.ErrNotFound {
		return model.Tombstone{}, false, nil
	}
	if err != nil {
		return model.Tombstone{}, false, err
	}
	var ts model.Tombstone
	if err := jsonx.Unmarshal([]byte(raw), &ts); err != nil {
		return model.Tombstone{}, false, err
	}
	return ts, true, nil
}

func (t *tx) PutTombstone(ts model.Tombstone) error {
	raw, err := jsonx.Marshal(ts)
	if err != nil {
		return err
	}
	_, _, err = t.native.Set(tombstoneKey(ts.TableName, ts.PK), string(raw), nil)
	return err
}

func (t *tx) DeleteTombstone(table, pk string) error {
	_, err := t.native.Delete(tombstoneKey(table, pk))
	if err == buntdb.ErrNotFound {
		return nil
	}
	return err
}

func (t *tx) GetPendingOp(id string) (model.PendingOp, bool, error) {
	raw, err := t.native.Get(pendingOpKey(id))
	if err == buntdb.ErrNotFound {
		return model.PendingOp{}, false, nil
	}
	if err != nil {
		return model.PendingOp{}, false, err
	}
	var op model.PendingOp
	if err := jsonx.Unmarshal([]byte(raw), &op); err != nil {
		return model.PendingOp{}, false, err
	}
	return op, true, nil
}

func (t *tx) PutPendingOp(op model.PendingOp) error {
	raw, err := jsonx.Marshal(op)
	if err != nil {
		return err
	}
	_, _, err = t.native.Set(pendingOpKey(op.ID.String()), string(raw), nil)
	return err
}

func (t *tx) DeletePendingOp(id string) error {
	_, err := t.native.Delete(pendingOpKey(id))
	if err == buntdb.ErrNotFound {
		return nil
	}
	return err
}

func (t *tx) GetSyncState(id string) (model.SyncState, bool, error) {
	raw, err := t.native.Get(syncStateKey(id))
	if err == buntdb.ErrNotFound {
		return model.SyncState{}, false, nil
	}
	if err != nil {
		return model.SyncState{}, false, err
	}
	var st model.SyncState
	if err := jsonx.Unmarshal([]byte(raw), &st); err != nil {
		return model.SyncState{}, false, err
	}
	return st, true, nil
}

func (t *tx) PutSyncState(st model.SyncState) error {
	raw, err := jsonx.Marshal(st)
	if err != nil {
		return err
	}
	_, _, err = t.native.Set(syncStateKey(st.ID), string(raw), nil)
	return err
}

func (s *Store) View(_ context.Context, fn func(storex.Tx) error) error {
	return s.db.View(func(native *buntdb.Tx) error {
		return fn(&tx{native: native})
	})
}

// Update runs fn inside a single buntdb write transaction, committing iff
// fn returns nil. It does not fire OnWrite listeners itself; a caller that
// calls Dispatch inside fn runs them on the same native transaction, so the
// listener's own writes (pending_ops, tombstones) land atomically with the
// triggering write (§4.4 "within the same transaction as the originating
// write").
func (s *Store) Update(_ context.Context, fn func(storex.Tx) error) error {
	return s.db.Update(func(native *buntdb.Tx) error {
		return fn(&tx{native: native})
	})
}

// OnWrite registers fn as a listener for writes to tables. buntdb has no
// native write-event hook, so registered listeners run only when a caller
// performing a write inside an Update block calls Dispatch for it; writes
// made through the Tx alone do not reach them.
func (s *Store) OnWrite(tables []string, fn func(storex.Tx, storex.WriteEvent) error) {
	set := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		set[t] = struct{}{}
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, listener{tables: set, fn: fn})
	s.mu.Unlock()
}

// Dispatch runs every listener registered for ev.Table. Exported for hosts
// (or the capture bridge) that perform the write manually inside an Update
// closure and need to fan it out to OnWrite subscribers.
func (s *Store) Dispatch(t storex.Tx, ev storex.WriteEvent) error {
	s.mu.Lock()
	listeners := append([]listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		if _, ok := l.tables[ev.Table]; !ok {
			continue
		}
		if err := l.fn(t, ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) QueryPendingOps(_ context.Context, status model.PendingStatus, limit int) ([]model.PendingOp, error) {
	var out []model.PendingOp
	err := s.db.View(func(native *buntdb.Tx) error {
		return native.Ascend(idxPendingOpsByCreated, func(_, value string) bool {
			var op model.PendingOp
			if err := jsonx.Unmarshal([]byte(value), &op); err != nil {
				return true
			}
			if status != 0 && op.Status != status {
				return true
			}
			out = append(out, op)
			return limit <= 0 || len(out) < limit
		})
	})
	return out, err
}

func (s *Store) QueryTombstonesBefore(_ context.Context, cutoff int64, limit int) ([]model.Tombstone, error) {
	var out []model.Tombstone
	err := s.db.View(func(native *buntdb.Tx) error {
		return native.AscendRange(idxTombstonesByDeletedAt, `{"deletedAt":0}`, fmt.Sprintf(`{"deletedAt":%d}`, cutoff+1), func(_, value string) bool {
			var ts model.Tombstone
			if err := jsonx.Unmarshal([]byte(value), &ts); err != nil {
				return true
			}
			if ts.DeletedAt > cutoff {
				return true
			}
			out = append(out, ts)
			return limit <= 0 || len(out) < limit
		})
	})
	return out, err
}
