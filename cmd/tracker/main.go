// Command tracker runs the position tracker (C14): it consumes execution
// results and resolution events into the position ledger, persists the
// ledger on every state change, and periodically sweeps open positions
// for take-profit/stop-loss exits.
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
	"arbees/internal/core"
	"arbees/internal/tracker"
	"arbees/pkg/types"
)

const exitCheckInterval = 30 * time.Second

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

	ledger, err := core.LoadLedger(cfg.Store.DataDir)
	if err != nil {
		logger.Error("failed to load ledger", "error", err)
		os.Exit(1)
	}
	table := core.NewTable()

	b := bus.New(cfg.Bus, logger)
	defer b.Close()

	t := tracker.New(cfg.Store, b, ledger, table, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.Start(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(exitCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				t.CheckExits(gctx, func(id types.MarketID) string {
					if mp, ok := table.Metadata(id); ok {
						return mp.League
					}
					return ""
				})
			}
		}
	})

	logger.Info("position tracker starting", "data_dir", cfg.Store.DataDir)
	if err := g.Wait(); err != nil {
		logger.Error("position tracker exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("position tracker stopped")
}
