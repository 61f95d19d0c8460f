// Package provider defines the Provider abstraction (spec §4.9): the
// transport boundary between the sync engine and a remote change-log
// service. Two concrete implementations live under internal/infra/provider
// (direct, gateway); this package only names the contract and the
// optional-capability pattern used to detect which GC hooks a provider
// supports.
package provider

import (
	"context"

	"github.com/driftsync/engine/internal/domain/model"
)

// Mode distinguishes a reactive backend subscription from a polling one
// (§4.9).
type Mode string

const (
	ModeDirect  Mode = "direct"
	ModeGateway Mode = "gateway"
)

// OnChanges is invoked for every batch of remote changes a subscription
// observes. Implementations of Provider.Subscribe must await it before
// continuing to poll/consume further (§4.9 backpressure).
type OnChanges func(ctx context.Context, changes []model.SyncChange) error

// Unsubscribe cancels a subscription started by Provider.Subscribe.
type Unsubscribe func()

// SubscribeOptions carries the resume position for a new subscription.
type SubscribeOptions struct {
	Cursor uint64
	Limit  uint32
}

// Provider is the engine's transport abstraction (§4.9). Every method must
// be safe to call concurrently with Dispose once a caller has received the
// Unsubscribe handle.
type Provider interface {
	ID() string
	Mode() Mode

	Subscribe(ctx context.Context, scope model.Scope, tables []string, onChanges OnChanges, opts SubscribeOptions) (Unsubscribe, error)
	Pull(ctx context.Context, req model.PullRequest) (model.PullResponse, error)
	Push(ctx context.Context, scope model.Scope, ops []model.PendingOp) (model.PushResponse, error)
	UpdateCursor(ctx context.Context, scope model.Scope, deviceID string, version uint64) error
	Dispose() error
}

// GcCapable is the optional capability set a provider may additionally
// satisfy (§4.8 "both optional"). GcManager type-asserts for it.
type GcCapable interface {
	GcTombstones(ctx context.Context, scope model.Scope, retentionSeconds int64) error
	GcChangeLog(ctx context.Context, scope model.Scope, retentionSeconds int64) error
}

// SessionInvalidError wraps model.ErrSessionInvalid with the provider id
// that raised it, so SubscriptionManager can attribute the event.
type SessionInvalidError struct {
	ProviderID string
	Cause      error
}

func (e *SessionInvalidError) Error() string {
	return "provider " + e.ProviderID + ": " + e.Cause.Error()
}

func (e *SessionInvalidError) Unwrap() error { return e.Cause }

// RateLimitedError carries the server's Retry-After hint (§4.9, §6).
type RateLimitedError struct {
	RetryAfterMs int64
	Cause        error
}

func (e *RateLimitedError) Error() string { return e.Cause.Error() }
func (e *RateLimitedError) Unwrap() error { return e.Cause }
