// Package hooks is the engine's observability event bus. Every component
// emits named events (spec §4's "emit sync.*:..." lines); the dashboard
// and host application subscribe to them. Built on Watermill's in-process
// gochannel pubsub, the same publish/subscribe abstraction the teacher
// uses for its AMQP transport, so the ambient event-bus concern reuses the
// teacher's message-bus library rather than a bespoke observer list.
package hooks

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/driftsync/engine/internal/infra/jsonx"
)

// Topic names, grouped by component (§4.4, §4.5, §4.6, §4.7, §4.8).
const (
	TopicOpCaptured          = "sync.op:captured"
	TopicPushBefore          = "sync.push:before"
	TopicPushAfter           = "sync.push:after"
	TopicRetry               = "sync.retry"
	TopicError               = "sync.error"
	TopicQueueFull           = "sync.queue:full"
	TopicConflictDetected    = "sync.conflict:detected"
	TopicBootstrapStarted    = "sync.bootstrap:started"
	TopicBootstrapComplete   = "sync.bootstrap:complete"
	TopicSubscriptionStatus  = "sync.subscription:statusChange"
	TopicSubscriptionSession = "sync.subscription:sessionInvalid"
	TopicGcStarted           = "sync.gc:started"
	TopicGcComplete          = "sync.gc:complete"
	TopicGcError             = "sync.gc:error"
	TopicPullBefore          = "sync.pull:before"
	TopicPullAfter           = "sync.pull:after"
)

// Bus wraps a Watermill in-process pub/sub for fire-and-forget
// observability events. Payloads are JSON-encoded and delivered to every
// subscriber of a topic; delivery is best-effort (an event bus is not a
// durability boundary).
type Bus struct {
	pubsub *gochannel.GoChannel
}

// New builds a process-local hooks bus. log receives Watermill's own
// internal diagnostics (connection churn, buffer pressure), distinct from
// the domain events carried on the bus itself. Bridged via
// watermill.NewSlogLogger, the same call the teacher's AMQP router uses
// to wire slog into Watermill.
func New(log *slog.Logger) *Bus {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		Persistent:                     false,
		BlockPublishUntilSubscriberAck: false,
	}, watermill.NewSlogLogger(log))
	return &Bus{pubsub: pubsub}
}

// Publish encodes payload as JSON and fans it out to topic's subscribers.
// Encode and publish errors are discarded, not returned or logged — a
// stalled or misbehaving dashboard subscriber must never back-pressure the
// sync engine itself.
func (b *Bus) Publish(topic string, payload any) {
	raw, err := jsonx.Marshal(payload)
	if err != nil {
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), raw)
	_ = b.pubsub.Publish(topic, msg)
}

// Subscribe returns a channel of raw JSON payloads for topic. Callers
// (dashboard, host-registered listeners) must drain and ack it; gochannel
// does not drop messages for a slow subscriber: each message waits for that
// subscriber to read and ack it before the next one is delivered.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

func (b *Bus) Close() error { return b.pubsub.Close() }
