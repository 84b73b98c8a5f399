// Command execution runs the signal processor (C12) and the execution
// engine (C13) in one process: the processor reads signals.trade.*,
// applies the pre-trade gate chain, and publishes execution.requests.*;
// the engine reads those requests, runs its own nine-gate safety chain,
// places the order, and publishes execution.results.*. The two stay
// logically independent — they only ever talk to each other over the
// bus — but share a process so the processor's sizing step can read the
// engine's live balance cache directly instead of round-tripping a
// query topic that doesn't otherwise exist on the wire.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"arbees/internal/bus"
	"arbees/internal/config"
	"arbees/internal/core"
	"arbees/internal/execution"
	"arbees/internal/matching"
	"arbees/internal/signalproc"
	"arbees/internal/venue/poly"
	"arbees/pkg/types"
)

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

	kill := execution.NewKillSwitch(cfg.KillSwitch.SentinelFile, logger)
	inflight := core.NewInFlightBitmap()

	eng := execution.New(cfg.Risk, cfg.Venues.LiveTradingAuthorized, cfg.Venues.PaperMode, b, kill, inflight, logger)
	registerExecutors(eng, cfg, logger)

	matchers := matching.NewRegistry()
	matchers.Register(matching.NewTeamMatcher())

	proc := signalproc.New(cfg.Signal, cfg.Risk, b, matchers, eng.BalanceLookup, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return kill.Watch(gctx, b) })
	g.Go(func() error { return proc.Start(gctx) })
	g.Go(func() error { return eng.Start(gctx) })

	logger.Info("execution service starting", "paper_mode", cfg.Venues.PaperMode, "live_trading_authorized", cfg.Venues.LiveTradingAuthorized)
	if err := g.Wait(); err != nil {
		logger.Error("execution service exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("execution service stopped")
}

// registerExecutors wires one VenueExecutor per venue per spec §4.11's
// placement switch: paper always fills, venue K is a stub until a real
// client is wired (spec §9's open question), venue P places real FAK
// orders unless paper mode is on.
func registerExecutors(eng *execution.Engine, cfg *config.Config, logger *slog.Logger) {
	eng.RegisterExecutor(types.VenuePaper, execution.PaperExecutor{})
	eng.RegisterExecutor(types.VenueK, execution.NotImplementedExecutor{})

	if cfg.Venues.PaperMode {
		eng.RegisterExecutor(types.VenueP, execution.PaperExecutor{})
		return
	}

	auth, err := poly.NewAuth(cfg.Venues)
	if err != nil {
		logger.Error("failed to construct venue P auth, falling back to paper fills", "error", err)
		eng.RegisterExecutor(types.VenueP, execution.PaperExecutor{})
		return
	}
	eng.RegisterExecutor(types.VenueP, poly.NewClient(cfg.Venues, auth, false, logger))
}
