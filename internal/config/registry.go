package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/parley-ai/parley/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by [Registry.CreateProvider] when no
// factory has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func(ProviderConfig) (llm.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]func(ProviderConfig) (llm.Provider, error)),
	}
}

// RegisterProvider registers a provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterProvider(name string, factory func(ProviderConfig) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// CreateProvider instantiates a provider using the factory registered under cfg.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateProvider(cfg ProviderConfig) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// Names returns the registered provider names in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
