// Package gateway implements the polling Provider (spec §4.9 "Gateway
// provider"): a timer-driven pull loop with jitter, backpressure via
// awaiting onChanges, and session/rate-limit error translation.
package gateway

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/domain/provider"
	"github.com/driftsync/engine/internal/infra/restclient"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultJitterMax    = 500 * time.Millisecond
	defaultPullLimit    = 100
)

// Provider polls restclient.Client on a timer instead of holding a
// reactive subscription (§4.9).
type Provider struct {
	id           string
	client       *restclient.Client
	pollInterval time.Duration
	jitterMax    time.Duration
	rng          *rand.Rand

	mu          sync.Mutex
	subscribers map[int]*subscription
	nextID      int
}

type Option func(*Provider)

func WithPollInterval(d time.Duration) Option { return func(p *Provider) { p.pollInterval = d } }
func WithJitterMax(d time.Duration) Option     { return func(p *Provider) { p.jitterMax = d } }

func New(id string, client *restclient.Client, opts ...Option) *Provider {
	p := &Provider{
		id:           id,
		client:       client,
		pollInterval: DefaultPollInterval,
		jitterMax:    DefaultJitterMax,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		subscribers:  make(map[int]*subscription),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) ID() string          { return p.id }
func (p *Provider) Mode() provider.Mode { return provider.ModeGateway }

type subscription struct {
	scope     model.Scope
	tables    []string
	onChanges provider.OnChanges
	cursor    uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// Subscribe schedules a polling loop; the first poll fires after
// interval+jitter, not immediately, and the unsubscribe handle is returned
// before that first poll runs (§4.9 "does not await the first poll").
func (p *Provider) Subscribe(ctx context.Context, scope model.Scope, tables []string, onChanges provider.OnChanges, opts provider.SubscribeOptions) (provider.Unsubscribe, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		scope:     scope,
		tables:    tables,
		onChanges: onChanges,
		cursor:    opts.Cursor,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subscribers[id] = sub
	p.mu.Unlock()

	go p.pollLoop(subCtx, sub)

	return func() {
		cancel()
		<-sub.done
		p.mu.Lock()
		delete(p.subscribers, id)
		p.mu.Unlock()
	}, nil
}

func (p *Provider) pollLoop(ctx context.Context, sub *subscription) {
	defer close(sub.done)

	if !p.sleep(ctx, p.pollInterval+p.jitter()) {
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		cur := sub.cursor
		for {
			resp, err := p.Pull(ctx, model.PullRequest{Scope: sub.scope, Cursor: cur, Limit: defaultPullLimit, Tables: sub.tables})
			if err != nil {
				var sessionErr *provider.SessionInvalidError
				if errors.As(err, &sessionErr) {
					return
				}
				break
			}

			if len(resp.Changes) > 0 {
				// Backpressure: block the poll loop until the caller has
				// finished applying this batch (§5 "awaits async onChanges
				// handlers before continuing").
				if err := sub.onChanges(ctx, resp.Changes); err != nil {
					break
				}
			}

			if resp.NextCursor <= cur && resp.HasMore {
				break
			}
			cur = resp.NextCursor
			sub.cursor = cur
			if !resp.HasMore {
				break
			}
		}

		if !p.sleep(ctx, p.pollInterval+p.jitter()) {
			return
		}
	}
}

func (p *Provider) jitter() time.Duration {
	if p.jitterMax <= 0 {
		return 0
	}
	return time.Duration(p.rng.Int63n(int64(p.jitterMax)))
}

func (p *Provider) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
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
	subs := make([]*subscription, 0, len(p.subscribers))
	for _, s := range p.subscribers {
		subs = append(subs, s)
	}
	p.mu.Unlock()

	for _, s := range subs {
		s.cancel()
		<-s.done
	}
	return nil
}

var _ provider.Provider = (*Provider)(nil)
var _ provider.GcCapable = (*Provider)(nil)
