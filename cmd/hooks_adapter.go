package cmd

import (
	"time"

	"github.com/driftsync/engine/internal/domain/gc"
	"github.com/driftsync/engine/internal/domain/hooks"
	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/domain/outbox"
	"github.com/driftsync/engine/internal/domain/subscription"
)

// outboxHooks, gcHooks, and subscriptionHooks bridge each domain
// component's typed Hooks interface onto the shared hooks.Bus, so every
// component's observability events (spec §4.5/§4.8/§4.7) reach the
// dashboard and any host-registered listener through one transport.

type outboxHooks struct{ bus *hooks.Bus }

func (h outboxHooks) PushBefore(scope model.Scope, count int) {
	h.bus.Publish(hooks.TopicPushBefore, map[string]any{"scope": scope, "count": count})
}
func (h outboxHooks) PushAfter(scope model.Scope, succeeded, failed int) {
	h.bus.Publish(hooks.TopicPushAfter, map[string]any{"scope": scope, "succeeded": succeeded, "failed": failed})
}
func (h outboxHooks) Retry(op model.PendingOp, delay time.Duration) {
	h.bus.Publish(hooks.TopicRetry, map[string]any{"op": op, "delayMs": delay.Milliseconds()})
}
func (h outboxHooks) Error(op model.PendingOp, err error) {
	h.bus.Publish(hooks.TopicError, map[string]any{"op": op, "error": err.Error()})
}
func (h outboxHooks) QueueFull(scope model.Scope, size int) {
	h.bus.Publish(hooks.TopicQueueFull, map[string]any{"scope": scope, "size": size})
}

var _ outbox.Hooks = outboxHooks{}

type gcHooks struct{ bus *hooks.Bus }

func (h gcHooks) Started(scope model.Scope) {
	h.bus.Publish(hooks.TopicGcStarted, map[string]any{"scope": scope})
}
func (h gcHooks) Complete(scope model.Scope, reaped int) {
	h.bus.Publish(hooks.TopicGcComplete, map[string]any{"scope": scope, "reaped": reaped})
}
func (h gcHooks) Error(scope model.Scope, err error) {
	h.bus.Publish(hooks.TopicGcError, map[string]any{"scope": scope, "error": err.Error()})
}

var _ gc.Hooks = gcHooks{}

type subscriptionHooks struct{ bus *hooks.Bus }

func (h subscriptionHooks) StatusChanged(scope model.Scope, status subscription.Status) {
	h.bus.Publish(hooks.TopicSubscriptionStatus, map[string]any{"scope": scope, "status": status})
}
func (h subscriptionHooks) BootstrapStarted(scope model.Scope) {
	h.bus.Publish(hooks.TopicBootstrapStarted, map[string]any{"scope": scope})
}
func (h subscriptionHooks) BootstrapComplete(scope model.Scope, elapsed time.Duration) {
	h.bus.Publish(hooks.TopicBootstrapComplete, map[string]any{"scope": scope, "elapsedMs": elapsed.Milliseconds()})
}
func (h subscriptionHooks) BootstrapError(scope model.Scope, err error) {
	h.bus.Publish(hooks.TopicError, map[string]any{"scope": scope, "error": err.Error()})
}
func (h subscriptionHooks) PullReceived(scope model.Scope, count int) {
	h.bus.Publish(hooks.TopicPullBefore, map[string]any{"scope": scope, "count": count})
}
func (h subscriptionHooks) PullApplied(scope model.Scope, result model.ApplyChangesResult) {
	h.bus.Publish(hooks.TopicPullAfter, map[string]any{"scope": scope, "result": result})
}
func (h subscriptionHooks) SessionInvalid(scope model.Scope) {
	h.bus.Publish(hooks.TopicSubscriptionSession, map[string]any{"scope": scope})
}
func (h subscriptionHooks) MaxRetriesExceeded(scope model.Scope) {
	h.bus.Publish(hooks.TopicError, map[string]any{"scope": scope, "error": "max retries exceeded"})
}

var _ subscription.Hooks = subscriptionHooks{}
