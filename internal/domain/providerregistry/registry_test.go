package providerregistry

import (
	"context"
	"testing"

	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/domain/provider"
)

type stubProvider struct{ id string }

func (s *stubProvider) ID() string         { return s.id }
func (s *stubProvider) Mode() provider.Mode { return provider.ModeDirect }
func (s *stubProvider) Subscribe(context.Context, model.Scope, []string, provider.OnChanges, provider.SubscribeOptions) (provider.Unsubscribe, error) {
	return func() {}, nil
}
func (s *stubProvider) Pull(context.Context, model.PullRequest) (model.PullResponse, error) {
	return model.PullResponse{}, nil
}
func (s *stubProvider) Push(context.Context, model.Scope, []model.PendingOp) (model.PushResponse, error) {
	return model.PushResponse{}, nil
}
func (s *stubProvider) UpdateCursor(context.Context, model.Scope, string, uint64) error { return nil }
func (s *stubProvider) Dispose() error                                                 { return nil }

func TestSetActiveUnknownIDErrors(t *testing.T) {
	r := New()
	if err := r.SetActive("nope"); err != model.ErrUnknownProvider {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestRegisterAndActivate(t *testing.T) {
	r := New()
	r.Register(&stubProvider{id: "direct"})
	if err := r.SetActive("direct"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	p, ok := r.Active()
	if !ok || p.ID() != "direct" {
		t.Fatalf("expected active provider direct, got %+v ok=%v", p, ok)
	}
}

func TestUnregisterActiveClearsPointer(t *testing.T) {
	r := New()
	r.Register(&stubProvider{id: "direct"})
	_ = r.SetActive("direct")
	r.Unregister("direct")

	if _, ok := r.Active(); ok {
		t.Fatalf("expected active pointer cleared after unregistering active provider")
	}
}
