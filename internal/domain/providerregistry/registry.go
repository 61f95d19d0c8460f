// Package providerregistry implements the module-level active-provider
// registry (spec §4.9 "Provider registry").
package providerregistry

import (
	"sync"

	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/domain/provider"
)

// Registry is a map from provider id to instance plus an "active" pointer.
// Setting active to an unknown id is an error; unregistering the active
// provider clears the pointer.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]provider.Provider
	activeID string
}

func New() *Registry {
	return &Registry{byID: make(map[string]provider.Provider)}
}

func (r *Registry) Register(p provider.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[p.ID()] = p
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	if r.activeID == id {
		r.activeID = ""
	}
}

func (r *Registry) Get(id string) (provider.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, model.ErrUnknownProvider
	}
	return p, nil
}

// SetActive makes id the active provider. Returns model.ErrUnknownProvider
// if id was never registered.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return model.ErrUnknownProvider
	}
	r.activeID = id
	return nil
}

// Active returns the currently active provider, or (nil, false) if none
// is set.
func (r *Registry) Active() (provider.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activeID == "" {
		return nil, false
	}
	p, ok := r.byID[r.activeID]
	return p, ok
}
