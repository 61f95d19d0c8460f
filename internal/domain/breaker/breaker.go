// Package breaker wraps sony/gobreaker into the single keyed circuit
// breaker shared by OutboxManager, SubscriptionManager, and GcManager
// (spec §5 "keyed by workspace:providerId").
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Registry hands out one gobreaker.CircuitBreaker per (workspace,
// providerId) key, creating it lazily on first use.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings func(name string) gobreaker.Settings
}

type Option func(*Registry)

// WithSettings overrides the gobreaker.Settings factory used for newly
// created breakers. The default trips after 5 consecutive failures, stays
// open for 30s, then goes half-open and lets one trial request through.
func WithSettings(f func(name string) gobreaker.Settings) Option {
	return func(r *Registry) { r.settings = f }
}

func New(opts ...Option) *Registry {
	r := &Registry{breakers: make(map[string]*gobreaker.CircuitBreaker)}
	for _, opt := range opts {
		opt(r)
	}
	if r.settings == nil {
		r.settings = defaultSettings
	}
	return r
}

func defaultSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
}

// Key builds the canonical "workspace:providerId" breaker key.
func Key(workspaceID, providerID string) string {
	return fmt.Sprintf("%s:%s", workspaceID, providerID)
}

func (r *Registry) get(key string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[key]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(r.settings(key))
		r.breakers[key] = cb
	}
	return cb
}

// IsOpen reports whether the breaker for key currently rejects requests.
func (r *Registry) IsOpen(key string) bool {
	return r.get(key).State() == gobreaker.StateOpen
}

// Execute runs fn through the breaker for key, recording success/failure.
func (r *Registry) Execute(key string, fn func() error) error {
	_, err := r.get(key).Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// RecordSuccess/RecordFailure let callers drive the breaker directly for
// operations (like the outbox's batch push) where the success/failure
// verdict depends on per-item results rather than a single error return.
func (r *Registry) RecordSuccess(key string) {
	cb := r.get(key)
	_, _ = cb.Execute(func() (any, error) { return nil, nil })
}

func (r *Registry) RecordFailure(key string) {
	cb := r.get(key)
	_, _ = cb.Execute(func() (any, error) { return nil, errBreakerRecordedFailure })
}

var errBreakerRecordedFailure = fmt.Errorf("breaker: recorded failure")
