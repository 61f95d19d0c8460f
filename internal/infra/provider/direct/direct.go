// Package direct implements the reactive Provider (spec §4.9 "Direct
// provider"): push delivery over AMQP via Watermill, with pull/push/
// updateCursor/gc still served over the shared REST wire contract (§6).
// Grounded on the teacher's own AMQP router (internal/handler/amqp),
// adapted from per-user fan-out to per-(scope,table) change delivery.
package direct

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/domain/provider"
	"github.com/driftsync/engine/internal/infra/jsonx"
	"github.com/driftsync/engine/internal/infra/restclient"
)

const exchangeName = "driftsync.sync.changes"

// Provider consumes a reactive AMQP subscription for one exchange, fanning
// batches of SyncChange out to each Subscribe caller's onChanges, while
// pull/push/updateCursor/gc still go over restclient (§4.9).
type Provider struct {
	id         string
	client     *restclient.Client
	subscriber *amqp.Subscriber

	mu   sync.Mutex
	subs map[int]context.CancelFunc
	next int
}

// changeEnvelope is the wire shape published to the AMQP exchange for one
// batch of changes in a scope.
type changeEnvelope struct {
	Scope   model.Scope        `json:"scope"`
	Changes []model.SyncChange `json:"changes"`
}

func New(id string, client *restclient.Client, subscriber *amqp.Subscriber) *Provider {
	return &Provider{
		id:         id,
		client:     client,
		subscriber: subscriber,
		subs:       make(map[int]context.CancelFunc),
	}
}

func (p *Provider) ID() string          { return p.id }
func (p *Provider) Mode() provider.Mode { return provider.ModeDirect }

// Subscribe registers a reactive query: the server-side change stream for
// scope is expected to route onto a topic named after the scope (§4.9
// "one subscription per scope"). Cursor advancement is left entirely to
// the caller (SubscriptionManager), matching the spec note verbatim.
func (p *Provider) Subscribe(ctx context.Context, scope model.Scope, tables []string, onChanges provider.OnChanges, _ provider.SubscribeOptions) (provider.Unsubscribe, error) {
	topic := scopeTopic(scope)

	msgs, err := p.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("direct provider: subscribe %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	id := p.next
	p.next++
	p.subs[id] = cancel
	p.mu.Unlock()

	tableSet := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		tableSet[t] = struct{}{}
	}

	go p.consume(subCtx, msgs, tableSet, onChanges)

	return func() {
		cancel()
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}, nil
}

func (p *Provider) consume(ctx context.Context, msgs <-chan *message.Message, tableSet map[string]struct{}, onChanges provider.OnChanges) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			p.handle(ctx, msg, tableSet, onChanges)
		}
	}
}

func (p *Provider) handle(ctx context.Context, msg *message.Message, tableSet map[string]struct{}, onChanges provider.OnChanges) {
	defer func() {
		if r := recover(); r != nil {
			msg.Nack()
		}
	}()

	var env changeEnvelope
	if err := jsonx.Unmarshal(msg.Payload, &env); err != nil {
		// Poison message: ack to avoid blocking the queue on an
		// undecodable payload, mirroring the teacher's bind.go policy.
		msg.Ack()
		return
	}

	filtered := env.Changes
	if len(tableSet) > 0 {
		filtered = make([]model.SyncChange, 0, len(env.Changes))
		for _, c := range env.Changes {
			if _, ok := tableSet[c.TableName]; ok {
				filtered = append(filtered, c)
			}
		}
	}

	if len(filtered) == 0 {
		msg.Ack()
		return
	}

	if err := onChanges(ctx, filtered); err != nil {
		msg.Nack()
		return
	}
	msg.Ack()
}

func scopeTopic(scope model.Scope) string {
	return exchangeName + "." + scope.Key()
}

func (p *Provider) Pull(ctx context.Context, req model.PullRequest) (model.PullResponse, error) {
	return p.client.Pull(ctx, req)
}

func (p *Provider) Push(ctx context.Context, scope model.Scope, ops []model.PendingOp) (model.PushResponse, error) {
	return p.client.Push(ctx, scope, ops)
}

func (p *Provider) UpdateCursor(ctx context.Context, scope model.Scope, deviceID string, version uint64) error {
	return p.client.UpdateCursor(ctx, scope, deviceID, version)
}

func (p *Provider) GcTombstones(ctx context.Context, scope model.Scope, retentionSeconds int64) error {
	return p.client.GcTombstones(ctx, scope, retentionSeconds)
}

func (p *Provider) GcChangeLog(ctx context.Context, scope model.Scope, retentionSeconds int64) error {
	return p.client.GcChangeLog(ctx, scope, retentionSeconds)
}

func (p *Provider) Dispose() error {
	p.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(p.subs))
	for _, c := range p.subs {
		cancels = append(cancels, c)
	}
	p.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	return p.subscriber.Close()
}

var _ provider.Provider = (*Provider)(nil)
var _ provider.GcCapable = (*Provider)(nil)
