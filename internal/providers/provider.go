// Package providers implements the pluggable EventProvider registry: one
// live/scheduled/state data source per market type (ESPN for sports, a
// price feed for crypto), routed by types.MarketType.Key(). Grounded on
// original_source/rust_core/src/providers/{mod.rs,registry.rs} (the
// EventProvider trait and EventProviderRegistry), translated to a Go
// interface and map-backed registry the way the teacher's
// internal/exchange package wraps a resty client per concern.
package providers

import (
	"context"
	"fmt"
	"sync"

	"arbees/pkg/types"
)

// EventProvider is the interface every market-type-specific data source
// implements: live/scheduled event discovery plus per-event live state.
type EventProvider interface {
	LiveEvents(ctx context.Context) ([]types.EventInfo, error)
	ScheduledEvents(ctx context.Context, days int) ([]types.EventInfo, error)
	EventState(ctx context.Context, eventID string) (types.EventState, error)
	Name() string
}

// Registry routes by MarketType.Key() to the provider registered for it,
// matching EventProviderRegistry::market_type_to_key/get_provider.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]EventProvider
}

// NewRegistry returns an empty registry. Callers populate it with Register
// rather than a with_defaults constructor, since which sports/assets to
// poll is a deployment-time config choice here, not a compiled-in list.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]EventProvider)}
}

// Register associates key (as produced by types.MarketType.Key()) with a
// provider.
func (r *Registry) Register(key string, p EventProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[key] = p
}

// Provider returns the provider registered for mt, if any.
func (r *Registry) Provider(mt types.MarketType) (EventProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[mt.Key()]
	return p, ok
}

// providerRequired is the get_provider_required equivalent used by every
// routed call below.
func (r *Registry) providerRequired(mt types.MarketType) (EventProvider, error) {
	p, ok := r.Provider(mt)
	if !ok {
		return nil, fmt.Errorf("no provider registered for market type %q", mt.Key())
	}
	return p, nil
}

// LiveEvents routes to the provider for mt.
func (r *Registry) LiveEvents(ctx context.Context, mt types.MarketType) ([]types.EventInfo, error) {
	p, err := r.providerRequired(mt)
	if err != nil {
		return nil, err
	}
	return p.LiveEvents(ctx)
}

// ScheduledEvents routes to the provider for mt.
func (r *Registry) ScheduledEvents(ctx context.Context, mt types.MarketType, days int) ([]types.EventInfo, error) {
	p, err := r.providerRequired(mt)
	if err != nil {
		return nil, err
	}
	return p.ScheduledEvents(ctx, days)
}

// EventState routes to the provider for mt.
func (r *Registry) EventState(ctx context.Context, mt types.MarketType, eventID string) (types.EventState, error) {
	p, err := r.providerRequired(mt)
	if err != nil {
		return types.EventState{}, err
	}
	return p.EventState(ctx, eventID)
}

// AllLiveEvents polls every registered provider and concatenates results,
// reporting (via the returned errs map, keyed by provider) rather than failing outright on a
// single provider's error, matching get_all_live_events's warn-and-skip.
func (r *Registry) AllLiveEvents(ctx context.Context) ([]types.EventInfo, map[string]error) {
	r.mu.RLock()
	snapshot := make(map[string]EventProvider, len(r.providers))
	for k, p := range r.providers {
		snapshot[k] = p
	}
	r.mu.RUnlock()

	var all []types.EventInfo
	errs := make(map[string]error)
	for key, p := range snapshot {
		events, err := p.LiveEvents(ctx)
		if err != nil {
			errs[key] = err
			continue
		}
		all = append(all, events...)
	}
	return all, errs
}

// AllScheduledEvents polls every registered provider's ScheduledEvents and
// concatenates results, the scheduled-discovery counterpart to
// AllLiveEvents, used by the orchestrator's discovery loop (C15) which
// has no a priori list of market types to ask for.
func (r *Registry) AllScheduledEvents(ctx context.Context, days int) ([]types.EventInfo, map[string]error) {
	r.mu.RLock()
	snapshot := make(map[string]EventProvider, len(r.providers))
	for k, p := range r.providers {
		snapshot[k] = p
	}
	r.mu.RUnlock()

	var all []types.EventInfo
	errs := make(map[string]error)
	for key, p := range snapshot {
		events, err := p.ScheduledEvents(ctx, days)
		if err != nil {
			errs[key] = err
			continue
		}
		all = append(all, events...)
	}
	return all, errs
}

// ListProviders returns the registered provider keys.
func (r *Registry) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for k := range r.providers {
		out = append(out, k)
	}
	return out
}

// HasProvider reports whether mt has a registered provider.
func (r *Registry) HasProvider(mt types.MarketType) bool {
	_, ok := r.Provider(mt)
	return ok
}
