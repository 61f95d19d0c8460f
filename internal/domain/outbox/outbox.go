// Package outbox implements the OutboxManager: a single-scope loop that
// drains pending ops to the provider with coalescing, batching, retry
// backoff, and permanent-failure classification (spec §4.5).
package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/driftsync/engine/internal/domain/breaker"
	"github.com/driftsync/engine/internal/domain/echocache"
	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/domain/storex"
)

// Config holds the tunables named in §4.5, with the spec's defaults.
type Config struct {
	FlushInterval     time.Duration
	MaxBatchSize      int
	RetryDelays       []time.Duration
	MaxPendingWarning int
}

func DefaultConfig() Config {
	return Config{
		FlushInterval: 1000 * time.Millisecond,
		MaxBatchSize:  50,
		RetryDelays: []time.Duration{
			250 * time.Millisecond,
			1000 * time.Millisecond,
			3000 * time.Millisecond,
			5000 * time.Millisecond,
		},
		MaxPendingWarning: 500,
	}
}

// Provider is the subset of the full provider interface the outbox needs.
type Provider interface {
	Push(ctx context.Context, scope model.Scope, ops []model.PendingOp) (model.PushResponse, error)
}

// Hooks receives observability events (§4.5).
type Hooks interface {
	PushBefore(scope model.Scope, count int)
	PushAfter(scope model.Scope, succeeded, failed int)
	Retry(op model.PendingOp, delay time.Duration)
	Error(op model.PendingOp, err error)
	QueueFull(scope model.Scope, size int)
}

type noopHooks struct{}

func (noopHooks) PushBefore(model.Scope, int)          {}
func (noopHooks) PushAfter(model.Scope, int, int)      {}
func (noopHooks) Retry(model.PendingOp, time.Duration) {}
func (noopHooks) Error(model.PendingOp, error)         {}
func (noopHooks) QueueFull(model.Scope, int)           {}

// Manager drains one scope's pending ops to one provider.
type Manager struct {
	scope      model.Scope
	providerID string
	store      storex.Store
	provider   Provider
	echoCache  *echocache.Cache
	breakers   *breaker.Registry
	hooks      Hooks
	cfg        Config
	now        func() time.Time

	mu       sync.Mutex
	flushing bool
	timer    *time.Timer
	stopped  bool

	deadLetters *DeadLetterLog
}

type Option func(*Manager)

func WithConfig(cfg Config) Option          { return func(m *Manager) { m.cfg = cfg } }
func WithHooks(h Hooks) Option              { return func(m *Manager) { m.hooks = h } }
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func New(scope model.Scope, providerID string, store storex.Store, provider Provider, echoCache *echocache.Cache, breakers *breaker.Registry, opts ...Option) *Manager {
	m := &Manager{
		scope:       scope,
		providerID:  providerID,
		store:       store,
		provider:    provider,
		echoCache:   echoCache,
		breakers:    breakers,
		hooks:       noopHooks{},
		cfg:         DefaultConfig(),
		now:         time.Now,
		deadLetters: NewDeadLetterLog(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) breakerKey() string { return breaker.Key(m.scope.WorkspaceID, m.providerID) }

// DeadLetters exposes the bounded permanent-failure log for the dashboard.
func (m *Manager) DeadLetters() []DeadLetterEntry { return m.deadLetters.Entries() }

// Start runs the one-time crash-recovery step and schedules the first
// tick (§4.5 "Startup").
func (m *Manager) Start(ctx context.Context) error {
	if err := m.recoverSyncingOps(ctx); err != nil {
		return err
	}
	if err := m.purgeFailedOps(ctx); err != nil {
		return err
	}
	m.scheduleTick(0)
	return nil
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
	}
}

func (m *Manager) recoverSyncingOps(ctx context.Context) error {
	ops, err := m.store.QueryPendingOps(ctx, model.StatusSyncing, 0)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	return m.store.Update(ctx, func(tx storex.Tx) error {
		for _, op := range ops {
			op.Status = model.StatusPending
			op.NextAttemptAt = 0
			if err := tx.PutPendingOp(op); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Manager) purgeFailedOps(ctx context.Context) error {
	ops, err := m.store.QueryPendingOps(ctx, model.StatusFailed, 0)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	return m.store.Update(ctx, func(tx storex.Tx) error {
		for _, op := range ops {
			m.deadLetters.Add(DeadLetterEntry{
				OpID:      op.ID.String(),
				TableName: op.TableName,
				PK:        op.PK,
				Message:   "purged at startup (permanent failure)",
				PurgedAt:  m.now().UnixMilli(),
			})
			if err := tx.DeletePendingOp(op.ID.String()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Manager) scheduleTick(after time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(after, m.tick)
}

// tick is one iteration of the loop (§4.5 "Loop. Each tick:"). Only one
// tick is active at a time; a reentrancy flag guards flush the way the
// teacher's own single-flight patterns do.
func (m *Manager) tick() {
	m.mu.Lock()
	if m.flushing || m.stopped {
		m.mu.Unlock()
		return
	}
	m.flushing = true
	m.mu.Unlock()

	didWork := m.flushOnce(context.Background())

	m.mu.Lock()
	m.flushing = false
	m.mu.Unlock()

	if didWork {
		m.scheduleTick(100 * time.Millisecond)
	} else {
		m.scheduleTick(m.cfg.FlushInterval)
	}
}

func (m *Manager) flushOnce(ctx context.Context) bool {
	if m.breakers.IsOpen(m.breakerKey()) {
		return false
	}

	ops, err := m.store.QueryPendingOps(ctx, model.StatusPending, m.cfg.MaxBatchSize*10)
	if err != nil {
		return false
	}
	if len(ops) >= m.cfg.MaxPendingWarning {
		m.hooks.QueueFull(m.scope, len(ops))
	}

	ops, err = m.coalesce(ctx, ops)
	if err != nil {
		return false
	}

	now := m.now().UnixMilli()
	eligible := ops[:0:0]
	for _, op := range ops {
		if op.NextAttemptAt == 0 || op.NextAttemptAt <= now {
			eligible = append(eligible, op)
		}
	}
	if len(eligible) > m.cfg.MaxBatchSize {
		eligible = eligible[:m.cfg.MaxBatchSize]
	}
	if len(eligible) == 0 {
		return false
	}

	if err := m.markSyncing(ctx, eligible); err != nil {
		return false
	}
	for i := range eligible {
		m.echoCache.Mark(eligible[i].Stamp.OpID.String())
	}

	m.hooks.PushBefore(m.scope, len(eligible))
	resp, pushErr := m.provider.Push(ctx, m.scope, eligible)
	if pushErr != nil {
		m.breakers.RecordFailure(m.breakerKey())
		_ = m.requeueAll(ctx, eligible)
		return true
	}

	succeeded, failed := m.applyResults(ctx, eligible, resp)
	m.hooks.PushAfter(m.scope, succeeded, failed)
	if failed == 0 && succeeded > 0 {
		m.breakers.RecordSuccess(m.breakerKey())
	} else if failed > 0 {
		m.breakers.RecordFailure(m.breakerKey())
	}
	return true
}

// coalesce groups by (tableName, pk), keeping only the latest by
// createdAt, and deletes the dropped ops from the store (§4.5 step 4).
func (m *Manager) coalesce(ctx context.Context, ops []model.PendingOp) ([]model.PendingOp, error) {
	type key struct{ table, pk string }
	latest := make(map[key]model.PendingOp, len(ops))
	var dropped []string

	for _, op := range ops {
		k := key{op.TableName, op.PK}
		if cur, ok := latest[k]; ok {
			if op.CreatedAt >= cur.CreatedAt {
				dropped = append(dropped, cur.ID.String())
				latest[k] = op
			} else {
				dropped = append(dropped, op.ID.String())
			}
			continue
		}
		latest[k] = op
	}

	if len(dropped) > 0 {
		if err := m.store.Update(ctx, func(tx storex.Tx) error {
			for _, id := range dropped {
				if err := tx.DeletePendingOp(id); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	out := make([]model.PendingOp, 0, len(latest))
	for _, op := range latest {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (m *Manager) markSyncing(ctx context.Context, ops []model.PendingOp) error {
	return m.store.Update(ctx, func(tx storex.Tx) error {
		for i := range ops {
			ops[i].Status = model.StatusSyncing
			if err := tx.PutPendingOp(ops[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Manager) requeueAll(ctx context.Context, ops []model.PendingOp) error {
	return m.store.Update(ctx, func(tx storex.Tx) error {
		for i := range ops {
			ops[i].Status = model.StatusPending
			if err := tx.PutPendingOp(ops[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Manager) applyResults(ctx context.Context, ops []model.PendingOp, resp model.PushResponse) (succeeded, failed int) {
	byID := make(map[string]model.PendingOp, len(ops))
	for _, op := range ops {
		byID[op.Stamp.OpID.String()] = op
	}

	_ = m.store.Update(ctx, func(tx storex.Tx) error {
		for _, result := range resp.Results {
			op, ok := byID[result.OpID]
			if !ok {
				continue
			}
			if result.Success {
				succeeded++
				if err := tx.DeletePendingOp(op.ID.String()); err != nil {
					return err
				}
				if op.Kind == model.OpDelete {
					if ts, found, err := tx.GetTombstone(op.TableName, op.PK); err == nil && found {
						ts.SyncedAt = model.NowSec()
						if err := tx.PutTombstone(ts); err != nil {
							return err
						}
					}
				}
				continue
			}

			failed++
			if err := m.handleFailure(tx, op, ErrorCode(result.ErrorCode), result.Error); err != nil {
				return err
			}
		}
		return nil
	})
	return succeeded, failed
}

func (m *Manager) handleFailure(tx storex.Tx, op model.PendingOp, code ErrorCode, message string) error {
	op.Attempts++

	if isPermanent(code, message) {
		op.Status = model.StatusFailed
		m.hooks.Error(op, errorFromResult(code, message))
		return tx.PutPendingOp(op)
	}

	delay, ok := delayForAttempt(m.cfg.RetryDelays, int(op.Attempts))
	if !ok {
		op.Status = model.StatusFailed
		m.hooks.Error(op, errorFromResult(code, message))
		return tx.PutPendingOp(op)
	}

	op.Status = model.StatusPending
	op.NextAttemptAt = m.now().Add(delay).UnixMilli()
	m.hooks.Retry(op, delay)
	return tx.PutPendingOp(op)
}

// GetPendingCount, GetFailedOps, RetryFailed, PurgeCorruptOps are the
// admin operations named in §4.5.
func (m *Manager) GetPendingCount(ctx context.Context) (int, error) {
	ops, err := m.store.QueryPendingOps(ctx, model.StatusPending, 0)
	return len(ops), err
}

func (m *Manager) GetFailedOps(ctx context.Context) ([]model.PendingOp, error) {
	return m.store.QueryPendingOps(ctx, model.StatusFailed, 0)
}

func (m *Manager) RetryFailed(ctx context.Context) error {
	ops, err := m.store.QueryPendingOps(ctx, model.StatusFailed, 0)
	if err != nil {
		return err
	}
	return m.store.Update(ctx, func(tx storex.Tx) error {
		for _, op := range ops {
			op.Attempts = 0
			op.Status = model.StatusPending
			op.NextAttemptAt = 0
			if err := tx.PutPendingOp(op); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Manager) PurgeCorruptOps(ctx context.Context, requiredFields map[string][]string) error {
	ops, err := m.store.QueryPendingOps(ctx, model.StatusPending, 0)
	if err != nil {
		return err
	}
	return m.store.Update(ctx, func(tx storex.Tx) error {
		for _, op := range ops {
			if op.Kind != model.OpPut {
				continue
			}
			fields, ok := requiredFields[op.TableName]
			if !ok {
				continue
			}
			if !payloadHasFields(op.Payload, fields) {
				if err := tx.DeletePendingOp(op.ID.String()); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
