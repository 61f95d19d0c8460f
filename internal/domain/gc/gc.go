// Package gc implements the GcManager: idle-time tombstone garbage
// collection with a retention window and circuit-breaker-gated provider
// calls (spec §4.8).
package gc

import (
	"context"
	"sync"
	"time"

	"github.com/driftsync/engine/internal/domain/breaker"
	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/domain/storex"
)

const (
	DefaultInterval         = 10 * time.Minute
	DefaultRetentionSeconds = 30 * 24 * 60 * 60
)

// GcCapable mirrors provider.GcCapable without importing the provider
// package, avoiding a domain/domain import cycle (gc only needs these two
// optional methods, not the full Provider surface).
type GcCapable interface {
	GcTombstones(ctx context.Context, scope model.Scope, retentionSeconds int64) error
	GcChangeLog(ctx context.Context, scope model.Scope, retentionSeconds int64) error
}

// Hooks receives observability events (§4.8).
type Hooks interface {
	Started(scope model.Scope)
	Complete(scope model.Scope, reaped int)
	Error(scope model.Scope, err error)
}

type noopHooks struct{}

func (noopHooks) Started(model.Scope)       {}
func (noopHooks) Complete(model.Scope, int) {}
func (noopHooks) Error(model.Scope, error)  {}

// Manager runs idle-time GC for one scope.
type Manager struct {
	scope            model.Scope
	providerID       string
	store            storex.Store
	provider         GcCapable // nil if the active provider doesn't support it
	breakers         *breaker.Registry
	hooks            Hooks
	interval         time.Duration
	retentionSeconds int64
	now              func() time.Time

	mu      sync.Mutex
	running bool
	timer   *time.Timer
	stopped bool
}

type Option func(*Manager)

func WithInterval(d time.Duration) Option   { return func(m *Manager) { m.interval = d } }
func WithRetention(sec int64) Option        { return func(m *Manager) { m.retentionSeconds = sec } }
func WithHooks(h Hooks) Option              { return func(m *Manager) { m.hooks = h } }
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func New(scope model.Scope, providerID string, store storex.Store, provider GcCapable, breakers *breaker.Registry, opts ...Option) *Manager {
	m := &Manager{
		scope:            scope,
		providerID:       providerID,
		store:            store,
		provider:         provider,
		breakers:         breakers,
		hooks:            noopHooks{},
		interval:         DefaultInterval,
		retentionSeconds: DefaultRetentionSeconds,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs an immediate GC pass and schedules the recurring one (§4.8
// "an immediate run on start(), then every intervalMs").
func (m *Manager) Start(ctx context.Context) {
	m.tick(ctx)
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
	}
}

func (m *Manager) tick(ctx context.Context) {
	m.mu.Lock()
	if m.running || m.stopped {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.run(ctx)

	m.mu.Lock()
	m.running = false
	stopped := m.stopped
	m.mu.Unlock()

	if !stopped {
		m.mu.Lock()
		if m.timer != nil {
			m.timer.Stop()
		}
		m.timer = time.AfterFunc(m.interval, func() { m.tick(context.Background()) })
		m.mu.Unlock()
	}
}

// run executes one GC pass, serialized by the running flag (§5 "GcManager.run
// is serialized by a boolean running flag; overlapping idle callbacks
// collapse to one").
func (m *Manager) run(ctx context.Context) {
	m.hooks.Started(m.scope)

	cutoff := m.now().Unix() - m.retentionSeconds
	tombstones, err := m.store.QueryTombstonesBefore(ctx, cutoff, 0)
	if err != nil {
		m.hooks.Error(m.scope, err)
		return
	}

	var reapable []model.Tombstone
	for _, ts := range tombstones {
		if ts.Synced() && ts.SyncedAt <= cutoff {
			reapable = append(reapable, ts)
		}
	}
	if len(reapable) == 0 {
		m.hooks.Complete(m.scope, 0)
		return
	}

	err = m.store.Update(ctx, func(tx storex.Tx) error {
		for _, ts := range reapable {
			if err := tx.DeleteTombstone(ts.TableName, ts.PK); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		m.hooks.Error(m.scope, err)
		return
	}

	if m.provider != nil && !m.breakers.IsOpen(breaker.Key(m.scope.WorkspaceID, m.providerID)) {
		if err := m.provider.GcTombstones(ctx, m.scope, m.retentionSeconds); err != nil {
			m.hooks.Error(m.scope, err)
		}
		if err := m.provider.GcChangeLog(ctx, m.scope, m.retentionSeconds); err != nil {
			m.hooks.Error(m.scope, err)
		}
	}

	m.hooks.Complete(m.scope, len(reapable))
}
