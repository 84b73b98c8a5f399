// Command orchestrator runs the orchestrator (C15): it tracks every
// shard's heartbeat-derived health, runs the scheduled-event discovery
// loop that assigns games to shards, and escalates a critical alert when
// every shard goes unhealthy or no discovery service is healthy.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"arbees/internal/bus"
	"arbees/internal/config"
	"arbees/internal/matching"
	"arbees/internal/orchestrator"
	"arbees/internal/providers"
	"arbees/pkg/types"
)

const alertCheckInterval = 15 * time.Second

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ARB_CONFIG"); p != "" {
		cfgPath = p
	}

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		bootLogger.Error("invalid config", "error", err)
		os.Exit(2)
	}
	logger := cfg.Logging.Build()

	b := bus.New(cfg.Bus, logger)
	defer b.Close()

	provReg := providers.NewRegistry()
	for _, sport := range []types.Sport{types.SportNBA, types.SportNFL, types.SportMLB, types.SportNHL, types.SportCFB} {
		espn, err := providers.NewEspnProvider(sport, logger)
		if err != nil {
			logger.Error("failed to construct ESPN provider", "sport", sport, "error", err)
			os.Exit(1)
		}
		provReg.Register(types.SportMarketType(sport).Key(), espn)
	}
	provReg.Register(string(types.MarketTypeCrypto), providers.NewCryptoProvider(logger))

	matchers := matching.NewRegistry()
	matchers.Register(matching.NewTeamMatcher())

	registry := orchestrator.NewServiceRegistry(cfg.Discovery.ShardTimeout)

	// Venue catalogue clients (Kalshi and Polymarket market listings) are
	// out-of-core collaborators this build doesn't implement; Discovery
	// tolerates nil catalogues and simply leaves the affected leg of each
	// assignment blank.
	discovery := orchestrator.NewDiscovery(cfg.Discovery, b, provReg, matchers, registry, nil, nil, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watchHeartbeats(gctx, b, registry, logger) })
	g.Go(func() error { return discovery.Run(gctx) })
	g.Go(func() error { return watchHealth(gctx, b, registry, logger) })

	logger.Info("orchestrator starting", "discovery_interval", cfg.Discovery.Interval, "shard_timeout", cfg.Discovery.ShardTimeout)
	if err := g.Wait(); err != nil {
		logger.Error("orchestrator exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("orchestrator stopped")
}

// watchHeartbeats feeds every shard.*.heartbeat envelope into the service
// registry until ctx is cancelled.
func watchHeartbeats(ctx context.Context, b bus.Bus, registry *orchestrator.ServiceRegistry, logger *slog.Logger) error {
	ch, cancel, err := b.SubscribePattern(ctx, bus.ShardHeartbeatPattern)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			var rec types.ServiceRecord
			if err := unmarshal(env.Payload, &rec); err != nil {
				logger.Warn("dropping malformed heartbeat", "error", err)
				continue
			}
			registry.Heartbeat(rec)
		}
	}
}

// watchHealth polls the registry on a timer and publishes a critical
// alert per spec §4.13 whenever every shard is unhealthy or no discovery
// service is healthy.
func watchHealth(ctx context.Context, b bus.Bus, registry *orchestrator.ServiceRegistry, logger *slog.Logger) error {
	ticker := time.NewTicker(alertCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := time.Now()
			if registry.AllShardsUnhealthy(now) {
				publishAlert(ctx, b, logger, "all_shards_unhealthy", "every registered shard has missed its heartbeat deadline")
			}
			if !registry.HasHealthyDiscovery(now) {
				publishAlert(ctx, b, logger, "no_healthy_discovery", "no market_discovery service is reporting healthy")
			}
		}
	}
}

func publishAlert(ctx context.Context, b bus.Bus, logger *slog.Logger, kind, detail string) {
	alert := map[string]any{"kind": kind, "detail": detail, "at": time.Now()}
	logger.Error("critical alert", "kind", kind, "detail", detail)
	if err := b.Publish(ctx, bus.AlertTopic, alert); err != nil {
		logger.Error("publish critical alert failed", "error", err)
	}
}
