// Package triggers holds the in-memory trigger cache and the event
// matcher that turns appended events into queued workflow executions.
package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/persistence"
)

// DefaultRefreshInterval is how often the cache is reloaded from the store.
const DefaultRefreshInterval = 30 * time.Second

// Registry caches active triggers belonging to published graphs. The cache
// is replaced wholesale under a write lock; matching reads it concurrently.
type Registry struct {
	mu       sync.RWMutex
	triggers []*models.WorkflowTrigger

	store           persistence.Persistence
	logger          *slog.Logger
	refreshInterval time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithRefreshInterval overrides the cache reload interval.
func WithRefreshInterval(interval time.Duration) Option {
	return func(r *Registry) {
		if interval > 0 {
			r.refreshInterval = interval
		}
	}
}

// NewRegistry creates a registry. Call Refresh (or Start) before matching.
func NewRegistry(store persistence.Persistence, logger *slog.Logger, opts ...Option) *Registry {
	registry := &Registry{
		store:           store,
		logger:          logger.With("module", "triggers"),
		refreshInterval: DefaultRefreshInterval,
	}

	for _, opt := range opts {
		opt(registry)
	}

	return registry
}

// Refresh replaces the cache with the store's current set of active
// triggers on published graphs.
func (r *Registry) Refresh(ctx context.Context) error {
	triggers, err := r.store.Triggers().ActiveForPublishedGraphs(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload triggers: %w", err)
	}

	r.mu.Lock()
	r.triggers = triggers
	r.mu.Unlock()

	r.logger.Debug("Trigger cache refreshed", "count", len(triggers))

	return nil
}

// Start refreshes immediately, then keeps the cache fresh on an interval
// until the context is canceled. A failed reload keeps the previous cache.
func (r *Registry) Start(ctx context.Context) error {
	err := r.Refresh(ctx)
	if err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(r.refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := r.Refresh(ctx)
				if err != nil {
					r.logger.Warn("Trigger cache refresh failed, keeping previous cache", "error", err)
				}
			}
		}
	}()

	return nil
}

// Triggers returns a snapshot of the cached triggers.
func (r *Registry) Triggers() []*models.WorkflowTrigger {
	r.mu.RLock()
	defer r.mu.RUnlock()

	triggers := make([]*models.WorkflowTrigger, len(r.triggers))
	copy(triggers, r.triggers)

	return triggers
}
