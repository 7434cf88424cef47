package providers

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/novu-co/novu-sub003/pkg/models"
)

type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:    log.With("module", "provider_registry"),
		factories: make(map[string]Factory),
	}
}

func (r *Registry) Register(factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[factory.ID()] = factory
}

// Create builds the provider of an integration.
func (r *Registry) Create(providerID string, channel models.StepType, credentials map[string]any) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[providerID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("provider '%s': %w", providerID, ErrProviderNotRegistered)
	}

	return factory.Create(channel, credentials, r.logger)
}

// IDs returns the registered provider ids in order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}
