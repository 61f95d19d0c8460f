// Package cursor implements the CursorManager: the per-(workspace,provider)
// bookmark into the server's change stream (spec §4.3).
package cursor

import (
	"context"
	"fmt"
	"time"

	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/domain/storex"
)

// MaxCursorAge is how long a cursor may go unused before Manager considers
// it potentially expired by the server's retention window (spec §4.3).
const MaxCursorAge = 24 * time.Hour

// Manager owns sync_state rows keyed by scope.SyncStateID(), one per
// (workspace, provider) pair sharing the provider's change stream.
type Manager struct {
	store storex.Store
	now   func() time.Time
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func New(store storex.Store, opts ...Option) *Manager {
	m := &Manager{store: store, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) stateID(scope model.Scope, providerID string) string {
	return fmt.Sprintf("%s:%s", scope.SyncStateID(), providerID)
}

// Get returns the persisted cursor for scope+provider, or (0, false) if
// sync has never run (bootstrap needed).
func (m *Manager) Get(ctx context.Context, scope model.Scope, providerID, deviceID string) (uint64, bool, error) {
	var (
		cursor uint64
		found  bool
	)
	err := m.store.View(ctx, func(tx storex.Tx) error {
		st, ok, err := tx.GetSyncState(m.stateID(scope, providerID))
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		cursor, found = st.Cursor, true
		return nil
	})
	return cursor, found, err
}

// Set persists a new cursor position. It never moves the cursor backwards
// — a lower incoming value is silently ignored, since regressing the
// cursor would replay already-applied changes (§4.3 invariants).
func (m *Manager) Set(ctx context.Context, scope model.Scope, providerID, deviceID string, newCursor uint64) error {
	return m.store.Update(ctx, func(tx storex.Tx) error {
		id := m.stateID(scope, providerID)
		st, ok, err := tx.GetSyncState(id)
		if err != nil {
			return err
		}
		if ok && newCursor < st.Cursor {
			return nil
		}
		if !ok {
			st = model.SyncState{ID: id, Scope: scope, DeviceID: deviceID}
		}
		st.Cursor = newCursor
		return tx.PutSyncState(st)
	})
}

// MarkSyncComplete stamps the current time as the last successful sync for
// scope+provider, independent of whether the cursor itself advanced (an
// empty pull still counts as a successful round-trip).
func (m *Manager) MarkSyncComplete(ctx context.Context, scope model.Scope, providerID, deviceID string) error {
	return m.store.Update(ctx, func(tx storex.Tx) error {
		id := m.stateID(scope, providerID)
		st, ok, err := tx.GetSyncState(id)
		if err != nil {
			return err
		}
		if !ok {
			st = model.SyncState{ID: id, Scope: scope, DeviceID: deviceID}
		}
		st.LastSyncAt = m.now().UnixMilli()
		return tx.PutSyncState(st)
	})
}

// LastSyncAt returns the millisecond timestamp of the last MarkSyncComplete
// call, or 0 if sync has never completed.
func (m *Manager) LastSyncAt(ctx context.Context, scope model.Scope, providerID string) (int64, error) {
	var last int64
	err := m.store.View(ctx, func(tx storex.Tx) error {
		st, ok, err := tx.GetSyncState(m.stateID(scope, providerID))
		if err != nil || !ok {
			return err
		}
		last = st.LastSyncAt
		return nil
	})
	return last, err
}

// IsBootstrapNeeded reports whether scope+provider has no usable cursor —
// no persisted sync_state row, or a row whose cursor is 0 (e.g. after
// Reset).
func (m *Manager) IsBootstrapNeeded(ctx context.Context, scope model.Scope, providerID string) (bool, error) {
	cur, found, err := m.Get(ctx, scope, providerID, "")
	return !found || cur == 0, err
}

// IsPotentiallyExpired reports whether no sync round has been marked
// complete (MarkSyncComplete) within MaxCursorAge, meaning the server may
// have already pruned the
// change-log entries the cursor would need to resume from (§4.3, §4.7).
func (m *Manager) IsPotentiallyExpired(ctx context.Context, scope model.Scope, providerID string) (bool, error) {
	last, err := m.LastSyncAt(ctx, scope, providerID)
	if err != nil {
		return false, err
	}
	if last == 0 {
		return false, nil
	}
	age := m.now().UnixMilli() - last
	return age > MaxCursorAge.Milliseconds(), nil
}

// Reset discards the persisted cursor for scope+provider, forcing the next
// pull to bootstrap from scratch. Used by the subscription manager's rescan
// when IsPotentiallyExpired reports the cursor as stale.
func (m *Manager) Reset(ctx context.Context, scope model.Scope, providerID, deviceID string) error {
	return m.store.Update(ctx, func(tx storex.Tx) error {
		id := m.stateID(scope, providerID)
		return tx.PutSyncState(model.SyncState{ID: id, Scope: scope, DeviceID: deviceID})
	})
}
