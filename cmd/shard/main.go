// Command shard runs one game/event shard (C11): it polls providers for
// assigned events, computes model probability and net trading edge, runs
// the SIMD arbitrage scanner over the atomic order-book table, and
// publishes trade/arbitrage signals. Which event_ids it tracks is
// controlled entirely by the orchestrator over its command topic; this
// binary never discovers events on its own.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"arbees/internal/bus"
	"arbees/internal/config"
	"arbees/internal/core"
	"arbees/internal/probability"
	"arbees/internal/providers"
	"arbees/internal/shard"
	"arbees/pkg/types"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to config file")
	shardID := flag.String("shard-id", "", "unique id for this shard (required)")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if *shardID == "" {
		bootLogger.Error("missing required -shard-id flag")
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		bootLogger.Error("invalid config", "error", err)
		os.Exit(2)
	}
	logger := cfg.Logging.Build()

	table := core.NewTable()

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

	modelReg := probability.NewRegistry()
	modelReg.Register(probability.NewSportModel())
	modelReg.Register(probability.NewCryptoModel())

	b := bus.New(cfg.Bus, logger)
	defer b.Close()

	s := shard.New(*shardID, cfg.Shard, cfg.Signal, b, table, provReg, modelReg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("shard starting", "shard_id", *shardID, "max_games", cfg.Shard.MaxGames)
	if err := s.Start(ctx); err != nil {
		logger.Error("shard exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shard stopped", "shard_id", *shardID)
}
