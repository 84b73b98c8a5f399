package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"arbees/internal/bus"
	"arbees/internal/config"
	"arbees/internal/matching"
	"arbees/internal/providers"
	"arbees/pkg/types"
)

// Discovery runs the periodic scheduled-event discovery loop of spec
// §4.13: pull scheduled events, cross-match against venue catalogues,
// assign a shard, and publish an add_game command.
type Discovery struct {
	cfg       config.DiscoveryConfig
	bus       bus.Bus
	providers *providers.Registry
	matchers  *matching.Registry
	registry  *ServiceRegistry
	kalshi    VenueCatalogue
	poly      VenueCatalogue
	logger    *slog.Logger

	mu          sync.Mutex
	assigned    map[string]types.GameAssignment // event_id -> assignment
	kalshiCache []VenueMarket
	polyCache   []VenueMarket
	cacheAt     time.Time
}

// NewDiscovery constructs a discovery loop. kalshi/poly may be nil if a
// venue catalogue isn't wired yet; cross-matching against a nil catalogue
// always misses, so the affected leg is simply left blank.
func NewDiscovery(cfg config.DiscoveryConfig, b bus.Bus, provReg *providers.Registry, matchReg *matching.Registry, registry *ServiceRegistry, kalshi, poly VenueCatalogue, logger *slog.Logger) *Discovery {
	return &Discovery{
		cfg:       cfg,
		bus:       b,
		providers: provReg,
		matchers:  matchReg,
		registry:  registry,
		kalshi:    kalshi,
		poly:      poly,
		logger:    logger.With("component", "discovery"),
		assigned:  make(map[string]types.GameAssignment),
	}
}

// Run loops every cfg.Interval until ctx is cancelled, running one
// discovery cycle per tick.
func (d *Discovery) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.cycle(ctx)
		}
	}
}

func (d *Discovery) cycle(ctx context.Context) {
	events, errs := d.providers.AllScheduledEvents(ctx, 1)
	for provider, err := range errs {
		d.logger.Warn("scheduled events fetch failed", "provider", provider, "error", err)
	}

	d.refreshCataloguesIfStale(ctx)

	now := time.Now()
	for _, ev := range events {
		if ev.StartTime.Sub(now) > d.cfg.PregameWindow {
			continue
		}
		d.mu.Lock()
		_, already := d.assigned[ev.EventID]
		d.mu.Unlock()
		if already {
			continue
		}
		d.assignEvent(ctx, ev, now)
	}
}

func (d *Discovery) refreshCataloguesIfStale(ctx context.Context) {
	d.mu.Lock()
	stale := time.Since(d.cacheAt) > d.cfg.CatalogRefresh
	d.mu.Unlock()
	if !stale {
		return
	}

	var kalshiMarkets, polyMarkets []VenueMarket
	if d.kalshi != nil {
		if m, err := d.kalshi.Markets(ctx); err != nil {
			d.logger.Warn("kalshi catalogue refresh failed", "error", err)
		} else {
			kalshiMarkets = m
		}
	}
	if d.poly != nil {
		if m, err := d.poly.Markets(ctx); err != nil {
			d.logger.Warn("polymarket catalogue refresh failed", "error", err)
		} else {
			polyMarkets = m
		}
	}

	d.mu.Lock()
	d.kalshiCache = kalshiMarkets
	d.polyCache = polyMarkets
	d.cacheAt = time.Now()
	d.mu.Unlock()
}

// assignEvent resolves ev's venue tickers by cross-matching its entities
// against the cached catalogues, picks a shard, and publishes add_game.
func (d *Discovery) assignEvent(ctx context.Context, ev types.EventInfo, now time.Time) {
	kalshiTicker := d.matchCatalogue(d.kalshiCache, ev)
	polyConditionID := d.matchCatalogue(d.polyCache, ev)

	shardID, ok := ChooseShard(d.registry, now)
	if !ok {
		d.logger.Debug("no shard with spare capacity, deferring", "event_id", ev.EventID)
		return
	}

	cmd := types.ShardCommand{
		Op:              "add_game",
		EventID:         ev.EventID,
		MarketType:      ev.MarketType,
		EntityA:         ev.EntityA,
		EntityB:         ev.EntityB,
		KalshiTicker:    kalshiTicker,
		PolyConditionID: polyConditionID,
	}
	if err := d.bus.Publish(ctx, bus.ShardCommandTopic(shardID), cmd); err != nil {
		d.logger.Error("publish add_game failed", "event_id", ev.EventID, "shard_id", shardID, "error", err)
		return
	}

	d.mu.Lock()
	d.assigned[ev.EventID] = types.GameAssignment{
		EventID:         ev.EventID,
		ShardID:         shardID,
		KalshiTicker:    kalshiTicker,
		PolyConditionID: polyConditionID,
		AssignedAt:      now,
	}
	d.mu.Unlock()

	_ = d.bus.Publish(ctx, bus.DiscoveryResultsTopic, d.assigned[ev.EventID])
	d.logger.Info("game assigned", "event_id", ev.EventID, "shard_id", shardID, "kalshi_ticker", kalshiTicker, "poly_condition_id", polyConditionID)
}

// matchCatalogue returns the ID of the first catalogue entry (in
// catalogue order) whose description the entity matcher reports as a
// match for ev's primary entity; later entries are not compared.
func (d *Discovery) matchCatalogue(catalogue []VenueMarket, ev types.EventInfo) string {
	if d.matchers == nil {
		return ""
	}
	for _, m := range catalogue {
		result, err := d.matchers.Match(ev.EntityA, m.Description, matching.Context{MarketType: ev.MarketType})
		if err != nil {
			return ""
		}
		if result.IsMatch() {
			return m.ID
		}
	}
	return ""
}

// RemoveGame un-assigns eventID and publishes remove_game to its shard.
func (d *Discovery) RemoveGame(ctx context.Context, eventID string) error {
	d.mu.Lock()
	assignment, ok := d.assigned[eventID]
	if ok {
		delete(d.assigned, eventID)
	}
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return d.bus.Publish(ctx, bus.ShardCommandTopic(assignment.ShardID), types.ShardCommand{Op: "remove_game", EventID: eventID})
}
