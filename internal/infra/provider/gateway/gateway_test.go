package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/domain/provider"
)

func TestSubscribeReturnsBeforeFirstPoll(t *testing.T) {
	p := New("gw", nil, WithPollInterval(200*time.Millisecond), WithJitterMax(0))

	var mu sync.Mutex
	polled := false
	onChanges := func(context.Context, []model.SyncChange) error {
		mu.Lock()
		polled = true
		mu.Unlock()
		return nil
	}

	unsub, err := p.Subscribe(context.Background(), model.Scope{WorkspaceID: "ws"}, []string{"threads"}, onChanges, provider.SubscribeOptions{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	mu.Lock()
	gotPolled := polled
	mu.Unlock()
	if gotPolled {
		t.Fatalf("expected no poll before the interval elapses")
	}

	unsub()
}

func TestJitterStaysWithinBound(t *testing.T) {
	p := New("gw", nil, WithJitterMax(10*time.Millisecond))
	for i := 0; i < 50; i++ {
		if j := p.jitter(); j < 0 || j >= 10*time.Millisecond {
			t.Fatalf("jitter %v out of bound", j)
		}
	}
}
