// Package dashboard fans observability events out to connected admin
// clients (long-poll and WebSocket), adapted from the teacher's
// registry.Hub/Cell actor model (internal/domain/registry). The teacher
// routes per-recipient (one cell per userID, multiple sessions
// multiplexed onto it); a dashboard has no per-identity routing need —
// every connected client wants every event — so the two-layer Hub/Cell/
// Connector split collapses into one Subscriber actor per connection,
// keeping the mailbox/backpressure/idle-eviction shape without the
// now-pointless session-multiplexing layer.
package dashboard

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/driftsync/engine/internal/domain/hooks"
	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/infra/jsonx"
)

// Event is one observability event fanned out to dashboard subscribers.
type Event struct {
	Topic   string          `json:"topic"`
	Payload jsonx.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}

// Topics lists every hooks.Topic the dashboard mirrors.
var Topics = []string{
	hooks.TopicOpCaptured,
	hooks.TopicPushBefore,
	hooks.TopicPushAfter,
	hooks.TopicRetry,
	hooks.TopicError,
	hooks.TopicQueueFull,
	hooks.TopicConflictDetected,
	hooks.TopicBootstrapStarted,
	hooks.TopicBootstrapComplete,
	hooks.TopicSubscriptionStatus,
	hooks.TopicSubscriptionSession,
	hooks.TopicGcStarted,
	hooks.TopicGcComplete,
	hooks.TopicGcError,
	hooks.TopicPullBefore,
	hooks.TopicPullAfter,
}

// Hub fans out Events to every registered Subscriber (§ "Supplemented
// Features: observability dashboard" in SPEC_FULL.md).
type Hub struct {
	mailboxSize      int
	evictionInterval time.Duration
	idleTimeout      time.Duration
	startedAt        time.Time

	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscriber

	stopCh chan struct{}
	cancel context.CancelFunc
}

type Option func(*Hub)

func WithMailboxSize(n int) Option           { return func(h *Hub) { h.mailboxSize = n } }
func WithEvictionInterval(d time.Duration) Option { return func(h *Hub) { h.evictionInterval = d } }
func WithIdleTimeout(d time.Duration) Option { return func(h *Hub) { h.idleTimeout = d } }

// New builds a Hub and subscribes it to every hooks.Bus topic in Topics.
func New(bus *hooks.Bus, opts ...Option) (*Hub, error) {
	h := &Hub{
		mailboxSize:      256,
		evictionInterval: time.Minute,
		idleTimeout:      5 * time.Minute,
		startedAt:        time.Now(),
		subs:             make(map[uuid.UUID]*Subscriber),
		stopCh:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	for _, topic := range Topics {
		msgs, err := bus.Subscribe(ctx, topic)
		if err != nil {
			cancel()
			return nil, err
		}
		go h.forward(topic, msgs)
	}

	go h.runEvictor()
	return h, nil
}

func (h *Hub) forward(topic string, msgs <-chan *message.Message) {
	for msg := range msgs {
		h.Broadcast(Event{Topic: topic, Payload: msg.Payload, SentAt: time.Now().UnixMilli()})
		msg.Ack()
	}
}

// Register creates and attaches a new Subscriber (one per client
// connection — ws or long-poll session).
func (h *Hub) Register() *Subscriber {
	s := newSubscriber(h.mailboxSize)
	h.mu.Lock()
	h.subs[s.id] = s
	h.mu.Unlock()
	return s
}

// Unregister detaches and closes a Subscriber.
func (h *Hub) Unregister(id uuid.UUID) {
	h.mu.Lock()
	s, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Broadcast pushes ev to every connected subscriber's mailbox, dropping it
// for any subscriber whose mailbox is full (§ "backpressure never stalls
// the engine" — same rule as hooks.Bus.Publish).
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		s.Push(ev)
	}
}

func (h *Hub) runEvictor() {
	ticker := time.NewTicker(h.evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.evictIdle()
		}
	}
}

func (h *Hub) evictIdle() {
	var reaped int
	h.mu.Lock()
	for id, s := range h.subs {
		if s.IsIdle(h.idleTimeout) {
			s.Close()
			delete(h.subs, id)
			reaped++
		}
	}
	h.mu.Unlock()
	if reaped > 0 {
		log.Printf("[dashboard] evicted %d idle subscribers", reaped)
	}
}

// Stats reports the Hub's connection count and uptime, adapted from the
// teacher's model.HubStats (internal/domain/model/hub_stats.go) minus its
// per-shard breakdown: a single-layer Hub has no shards to report.
func (h *Hub) Stats() model.HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return model.HubStats{
		TotalConnections: len(h.subs),
		Uptime:           time.Since(h.startedAt),
	}
}

// Shutdown stops the evictor and closes every subscriber.
func (h *Hub) Shutdown() {
	close(h.stopCh)
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		s.Close()
		delete(h.subs, id)
	}
}
