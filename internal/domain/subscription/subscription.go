// Package subscription implements the SubscriptionManager: bootstrap,
// subscribe, backlog drain, rescan, and reconnect (spec §4.7).
package subscription

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/driftsync/engine/internal/domain/breaker"
	"github.com/driftsync/engine/internal/domain/cursor"
	"github.com/driftsync/engine/internal/domain/echocache"
	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/domain/provider"
	"github.com/driftsync/engine/internal/domain/resolver"
	"github.com/driftsync/engine/internal/domain/storex"
)

// Status is the subscription state machine's current node (§4.7).
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
)

// reconnectDelays is the fixed exponential-ish table (§4.7); beyond its
// length the last entry repeats until maxReconnectAttempts is hit.
var reconnectDelays = []time.Duration{
	1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second,
}

const maxReconnectAttempts = 20

const pullPageLimit = 100

var errCircuitOpen = errors.New("subscription: circuit breaker open")

// Hooks receives observability events (§4.7).
type Hooks interface {
	StatusChanged(scope model.Scope, status Status)
	BootstrapStarted(scope model.Scope)
	BootstrapComplete(scope model.Scope, elapsed time.Duration)
	BootstrapError(scope model.Scope, err error)
	PullReceived(scope model.Scope, count int)
	PullApplied(scope model.Scope, result model.ApplyChangesResult)
	SessionInvalid(scope model.Scope)
	MaxRetriesExceeded(scope model.Scope)
}

type noopHooks struct{}

func (noopHooks) StatusChanged(model.Scope, Status)                {}
func (noopHooks) BootstrapStarted(model.Scope)                     {}
func (noopHooks) BootstrapComplete(model.Scope, time.Duration)     {}
func (noopHooks) BootstrapError(model.Scope, error)                {}
func (noopHooks) PullReceived(model.Scope, int)                    {}
func (noopHooks) PullApplied(model.Scope, model.ApplyChangesResult) {}
func (noopHooks) SessionInvalid(model.Scope)                       {}
func (noopHooks) MaxRetriesExceeded(model.Scope)                   {}

// Manager runs the subscription lifecycle for one (scope, provider) pair.
type Manager struct {
	scope      model.Scope
	providerID string
	deviceID   string
	tables     []string

	store      storex.Store
	prov       provider.Provider
	cursorMgr  *cursor.Manager
	resolver   *resolver.Resolver
	suppressor resolver.Suppressor
	echoCache  *echocache.Cache
	breakers   *breaker.Registry
	hooks      Hooks
	now        func() time.Time

	statusMu sync.Mutex
	status   Status
	unsub    provider.Unsubscribe
	lastSubscribedCursor uint64
	reconnectAttempts    int
	reconnectTimer       *time.Timer
	stopped              bool

	recvMu sync.Mutex // serializes handleChanges: FIFO, never interleaved (§5)
}

type Option func(*Manager)

func WithHooks(h Hooks) Option              { return func(m *Manager) { m.hooks = h } }
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func New(scope model.Scope, providerID, deviceID string, tables []string, store storex.Store, prov provider.Provider, cursorMgr *cursor.Manager, resolverMgr *resolver.Resolver, suppressor resolver.Suppressor, echoCache *echocache.Cache, breakers *breaker.Registry, opts ...Option) *Manager {
	m := &Manager{
		scope:      scope,
		providerID: providerID,
		deviceID:   deviceID,
		tables:     tables,
		store:      store,
		prov:       prov,
		cursorMgr:  cursorMgr,
		resolver:   resolverMgr,
		suppressor: suppressor,
		echoCache:  echoCache,
		breakers:   breakers,
		hooks:      noopHooks{},
		now:        time.Now,
		status:     StatusDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) breakerKey() string { return breaker.Key(m.scope.WorkspaceID, m.providerID) }

func (m *Manager) setStatus(s Status) {
	m.statusMu.Lock()
	m.status = s
	m.statusMu.Unlock()
	m.hooks.StatusChanged(m.scope, s)
}

func (m *Manager) Status() Status {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	return m.status
}

// Start is the lifecycle entrypoint (§4.7 "start()").
func (m *Manager) Start(ctx context.Context) error {
	m.statusMu.Lock()
	if m.status == StatusConnected || m.status == StatusConnecting {
		m.statusMu.Unlock()
		return nil
	}
	m.statusMu.Unlock()

	m.setStatus(StatusConnecting)

	cur, found, err := m.cursorMgr.Get(ctx, m.scope, m.providerID, m.deviceID)
	if err != nil {
		return m.fail(err)
	}

	switch {
	case found && cur != 0:
		expired, err := m.cursorMgr.IsPotentiallyExpired(ctx, m.scope, m.providerID)
		if err != nil {
			return m.fail(err)
		}
		if expired {
			if err := m.rescan(ctx); err != nil {
				return m.fail(err)
			}
		}
	default:
		if err := m.bootstrap(ctx); err != nil {
			return m.fail(err)
		}
	}

	finalCursor, _, err := m.cursorMgr.Get(ctx, m.scope, m.providerID, m.deviceID)
	if err != nil {
		return m.fail(err)
	}
	if err := m.subscribeAt(ctx, finalCursor); err != nil {
		return m.fail(err)
	}

	m.reconnectAttempts = 0
	return nil
}

func (m *Manager) fail(err error) error {
	m.setStatus(StatusError)
	var sessionErr *provider.SessionInvalidError
	if errors.As(err, &sessionErr) {
		m.hooks.SessionInvalid(m.scope)
		return err
	}
	m.scheduleReconnect()
	return err
}

func (m *Manager) scheduleReconnect() {
	m.statusMu.Lock()
	if m.stopped {
		m.statusMu.Unlock()
		return
	}
	m.reconnectAttempts++
	attempt := m.reconnectAttempts
	m.statusMu.Unlock()

	if attempt > maxReconnectAttempts {
		m.hooks.MaxRetriesExceeded(m.scope)
		m.setStatus(StatusDisconnected)
		return
	}

	idx := attempt - 1
	if idx >= len(reconnectDelays) {
		idx = len(reconnectDelays) - 1
	}
	delay := reconnectDelays[idx]

	m.setStatus(StatusReconnecting)
	m.statusMu.Lock()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = time.AfterFunc(delay, func() { _ = m.Start(context.Background()) })
	m.statusMu.Unlock()
}

// Stop tears down the subscription and timers, transitioning to
// disconnected (§4.7 "Cancellation").
func (m *Manager) Stop() {
	m.statusMu.Lock()
	m.stopped = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	unsub := m.unsub
	m.unsub = nil
	m.statusMu.Unlock()

	if unsub != nil {
		unsub()
	}
	m.setStatus(StatusDisconnected)
}

// bootstrap is the cold-start pull loop, gated by the circuit breaker
// (§4.7 "Bootstrap").
func (m *Manager) bootstrap(ctx context.Context) error {
	if m.breakers.IsOpen(m.breakerKey()) {
		return errCircuitOpen
	}
	m.hooks.BootstrapStarted(m.scope)
	started := m.now()

	finalCursor, err := m.pullLoop(ctx, 0)
	if err != nil {
		m.hooks.BootstrapError(m.scope, err)
		return err
	}

	if err := m.finishCursorAdvance(ctx, finalCursor); err != nil {
		return err
	}
	m.hooks.BootstrapComplete(m.scope, m.now().Sub(started))
	return nil
}

// rescan discards the cursor and walks from scratch, then replays local
// pending ops so in-flight writes survive the remote-driven rewrite
// (§4.7 "Rescan").
func (m *Manager) rescan(ctx context.Context) error {
	if err := m.cursorMgr.Reset(ctx, m.scope, m.providerID, m.deviceID); err != nil {
		return err
	}
	if err := m.bootstrap(ctx); err != nil {
		return err
	}
	return m.replayPendingOps(ctx)
}

// replayPendingOps re-applies locally pending writes directly into the
// record store inside one sync-applied transaction, so a rescan's
// server-driven rewrite doesn't silently drop writes still in the outbox.
func (m *Manager) replayPendingOps(ctx context.Context) error {
	ops, err := m.store.QueryPendingOps(ctx, model.StatusPending, 0)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	return m.store.Update(ctx, func(tx storex.Tx) error {
		m.suppressor.Suppress(tx.Identity())
		defer m.suppressor.Unsuppress(tx.Identity())

		for _, op := range ops {
			switch op.Kind {
			case model.OpPut:
				meta := model.RecordMeta{Clock: op.Stamp.Clock, HLC: op.Stamp.HLC}
				if err := tx.PutRecord(op.TableName, op.PK, meta, op.Payload); err != nil {
					return err
				}
			case model.OpDelete:
				meta := model.RecordMeta{Clock: op.Stamp.Clock, HLC: op.Stamp.HLC, Deleted: true, DeletedAt: model.NowSec()}
				if err := tx.PutRecord(op.TableName, op.PK, meta, nil); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// pullLoop drives provider.Pull from startCursor until hasMore is false,
// applying non-echoed changes via the resolver and guarding against a
// non-advancing cursor (§4.7 bootstrap/rescan/drain-backlog loop guard).
func (m *Manager) pullLoop(ctx context.Context, startCursor uint64) (uint64, error) {
	cur := startCursor
	for {
		resp, err := m.prov.Pull(ctx, model.PullRequest{Scope: m.scope, Cursor: cur, Limit: pullPageLimit, Tables: m.tables})
		if err != nil {
			return cur, err
		}

		if len(resp.Changes) > 0 {
			filtered := m.filterEchoes(resp.Changes)
			if len(filtered) > 0 {
				result, err := m.resolver.ApplyChanges(ctx, filtered)
				if err != nil {
					return cur, err
				}
				m.hooks.PullApplied(m.scope, result)
			}
		}

		if resp.NextCursor <= cur && resp.HasMore {
			return cur, model.ErrInfiniteLoopDetected
		}
		cur = resp.NextCursor
		if !resp.HasMore {
			return cur, nil
		}
	}
}

func (m *Manager) filterEchoes(changes []model.SyncChange) []model.SyncChange {
	out := make([]model.SyncChange, 0, len(changes))
	for _, c := range changes {
		if m.echoCache.IsRecent(c.Stamp.OpID.String()) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (m *Manager) finishCursorAdvance(ctx context.Context, finalCursor uint64) error {
	if err := m.cursorMgr.Set(ctx, m.scope, m.providerID, m.deviceID, finalCursor); err != nil {
		return err
	}
	if err := m.cursorMgr.MarkSyncComplete(ctx, m.scope, m.providerID, m.deviceID); err != nil {
		return err
	}
	return m.prov.UpdateCursor(ctx, m.scope, m.deviceID, finalCursor)
}

func (m *Manager) subscribeAt(ctx context.Context, cur uint64) error {
	m.statusMu.Lock()
	if m.unsub != nil && m.lastSubscribedCursor == cur {
		m.statusMu.Unlock()
		return nil
	}
	prevUnsub := m.unsub
	m.statusMu.Unlock()

	if prevUnsub != nil {
		prevUnsub()
	}

	unsub, err := m.prov.Subscribe(ctx, m.scope, m.tables, m.handleChanges, provider.SubscribeOptions{Cursor: cur, Limit: pullPageLimit})
	if err != nil {
		return err
	}

	m.statusMu.Lock()
	m.unsub = unsub
	m.lastSubscribedCursor = cur
	m.statusMu.Unlock()

	m.setStatus(StatusConnected)
	return nil
}

// handleChanges is the provider's OnChanges callback (§4.7 "Receive
// handler"). It is serialized by recvMu so bursts never interleave,
// mirroring the spec's FIFO changeQueue with a plain mutex instead of a
// promise chain.
func (m *Manager) handleChanges(ctx context.Context, changes []model.SyncChange) error {
	m.recvMu.Lock()
	defer m.recvMu.Unlock()

	m.hooks.PullReceived(m.scope, len(changes))

	cur, _, err := m.cursorMgr.Get(ctx, m.scope, m.providerID, m.deviceID)
	if err != nil {
		return err
	}

	var maxVersion uint64
	var toApply []model.SyncChange
	for _, c := range changes {
		if c.ServerVersion > maxVersion {
			maxVersion = c.ServerVersion
		}
		if c.ServerVersion <= cur {
			continue
		}
		if m.echoCache.IsRecent(c.Stamp.OpID.String()) {
			continue
		}
		toApply = append(toApply, c)
	}

	if len(toApply) > 0 {
		result, err := m.resolver.ApplyChanges(ctx, toApply)
		if err != nil {
			return err
		}
		m.hooks.PullApplied(m.scope, result)
	}

	if maxVersion > cur {
		if err := m.cursorMgr.Set(ctx, m.scope, m.providerID, m.deviceID, maxVersion); err != nil {
			return err
		}
		cur = maxVersion
	}

	drained, err := m.pullLoop(ctx, cur)
	if err != nil {
		return err
	}

	if err := m.finishCursorAdvance(ctx, drained); err != nil {
		return err
	}
	if drained > cur {
		return m.subscribeAt(ctx, drained)
	}
	return nil
}
