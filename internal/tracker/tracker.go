// Package tracker implements the position tracker (C14): it consumes
// execution results into the position ledger (C6), logs guaranteed
// profit as legs match, settles positions on market resolution, and runs
// per-sport exit monitors. Grounded on spec §4.12 and
// original_source/position_tracker.rs's record_fill/resolve_position/
// reset_daily_pnl verbs (SPEC_FULL.md supplemented features 2-3).
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"arbees/internal/bus"
	"arbees/internal/config"
	"arbees/internal/core"
	"arbees/pkg/types"
)

// ExitThresholds configures the take-profit/stop-loss exit monitor for
// one sport or market family, tunable independently of signal sizing.
type ExitThresholds struct {
	TakeProfitPct float64
	StopLossPct   float64
}

// Tracker owns a core.Ledger and drives it from execution results and
// resolution events. Per spec §5, the ledger is owned by exactly one
// task; Tracker is that task.
type Tracker struct {
	cfg     config.StoreConfig
	bus     bus.Bus
	ledger  *core.Ledger
	table   *core.Table
	logger  *slog.Logger

	exitThresholds map[string]ExitThresholds // keyed by MarketType.Key()
	defaultExit    ExitThresholds
}

// New constructs a tracker over ledger (typically loaded via
// core.LoadLedger at startup).
func New(cfg config.StoreConfig, b bus.Bus, ledger *core.Ledger, table *core.Table, logger *slog.Logger) *Tracker {
	return &Tracker{
		cfg:            cfg,
		bus:            b,
		ledger:         ledger,
		table:          table,
		logger:         logger.With("component", "position_tracker"),
		exitThresholds: make(map[string]ExitThresholds),
		defaultExit:    ExitThresholds{TakeProfitPct: 0.5, StopLossPct: 0.3},
	}
}

// SetExitThresholds configures the exit monitor for one market type key.
func (t *Tracker) SetExitThresholds(marketTypeKey string, thresholds ExitThresholds) {
	t.exitThresholds[marketTypeKey] = thresholds
}

// Start subscribes to execution.results.* and resolution.* until ctx is
// cancelled, persisting the ledger on every state change.
func (t *Tracker) Start(ctx context.Context) error {
	resultsCh, cancelResults, err := t.bus.SubscribePattern(ctx, bus.ExecResultPattern)
	if err != nil {
		return fmt.Errorf("subscribe execution results: %w", err)
	}
	defer cancelResults()

	resolutionCh, cancelResolution, err := t.bus.SubscribePattern(ctx, bus.ResolutionPattern)
	if err != nil {
		return fmt.Errorf("subscribe resolutions: %w", err)
	}
	defer cancelResolution()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-resultsCh:
			if !ok {
				return nil
			}
			var res types.ExecutionResult
			if err := unmarshal(env.Payload, &res); err != nil {
				t.logger.Warn("dropping malformed execution result", "error", err)
				continue
			}
			t.handleResult(ctx, res)
		case env, ok := <-resolutionCh:
			if !ok {
				return nil
			}
			var ev types.ResolutionEvent
			if err := unmarshal(env.Payload, &ev); err != nil {
				t.logger.Warn("dropping malformed resolution event", "error", err)
				continue
			}
			t.handleResolution(ctx, ev)
		}
	}
}

// handleResult implements spec §4.12's first paragraph: on a Filled or
// Partial result, record the fill and log guaranteed profit once legs
// are matched.
func (t *Tracker) handleResult(ctx context.Context, res types.ExecutionResult) {
	if res.Status != types.ExecFilled && res.Status != types.ExecPartial {
		return
	}

	description := ""
	if mp, ok := t.table.Metadata(res.MarketID); ok {
		description = mp.Description
	}

	t.ledger.RecordFill(res.MarketID, description, res.Venue, res.Side,
		decimal.NewFromFloat(res.FilledQty), decimal.NewFromFloat(res.AvgPrice), decimal.NewFromFloat(res.Fees))

	pos, ok := t.ledger.Position(res.MarketID)
	if !ok {
		return
	}
	matched := pos.MatchedContracts()
	if matched.IsPositive() {
		profit := pos.GuaranteedProfit()
		t.logger.Info("guaranteed profit locked", "market_id", res.MarketID, "matched_contracts", matched, "guaranteed_profit", profit)
	}

	t.publishUpdate(ctx, res.MarketID, "open", pos.GuaranteedProfit(), nil)

	if err := t.ledger.Save(t.cfg.DataDir); err != nil {
		t.logger.Error("save ledger failed", "error", err)
	}
}

// handleResolution implements spec §4.12's second paragraph: resolve the
// position and publish the realized PnL.
func (t *Tracker) handleResolution(ctx context.Context, ev types.ResolutionEvent) {
	pnl, ok := t.ledger.ResolvePosition(ev.MarketID, ev.YesWon)
	if !ok {
		t.logger.Warn("resolution for unknown position", "market_id", ev.MarketID, "event_id", ev.EventID)
		return
	}
	pnlFloat, _ := pnl.Float64()
	t.publishUpdate(ctx, ev.MarketID, "resolved", 0, &pnlFloat)

	if err := t.ledger.Save(t.cfg.DataDir); err != nil {
		t.logger.Error("save ledger failed", "error", err)
	}
}

// CheckExits runs the take-profit/stop-loss monitor against every open
// position's current mid price, closing (publishing a "closed" update
// for) any that crosses its threshold. Callers invoke this on a timer;
// it does not place exit orders itself (that's the execution engine's
// job via a synthesized signal), it only flags and reports.
func (t *Tracker) CheckExits(ctx context.Context, marketTypeOf func(types.MarketID) string) {
	for _, pos := range t.ledger.OpenPositions() {
		kCell, pCell, ok := t.table.ByID(pos.MarketID)
		if !ok {
			continue
		}
		mid := currentMid(kCell, pCell)
		if mid <= 0 {
			continue
		}

		key := ""
		if marketTypeOf != nil {
			key = marketTypeOf(pos.MarketID)
		}
		thresholds, ok := t.exitThresholds[key]
		if !ok {
			thresholds = t.defaultExit
		}

		avgCost, _ := pos.TotalCost().Div(decimal.NewFromInt(maxInt64(pos.TotalContracts().IntPart(), 1))).Float64()
		if avgCost <= 0 {
			continue
		}
		pctMove := (mid - avgCost) / avgCost

		if pctMove >= thresholds.TakeProfitPct {
			t.logger.Info("exit monitor: take-profit triggered", "market_id", pos.MarketID, "pct_move", pctMove)
			t.publishUpdate(ctx, pos.MarketID, "closed", 0, nil)
		} else if pctMove <= -thresholds.StopLossPct {
			t.logger.Info("exit monitor: stop-loss triggered", "market_id", pos.MarketID, "pct_move", pctMove)
			t.publishUpdate(ctx, pos.MarketID, "closed", 0, nil)
		}
	}
}

// SettleOnGameEnd force-settles marketID using the provider's completed
// state, per spec §4.12's "game endings force settlement" clause.
func (t *Tracker) SettleOnGameEnd(ctx context.Context, marketID types.MarketID, yesWon bool) {
	t.handleResolution(ctx, types.ResolutionEvent{MarketID: marketID, YesWon: yesWon, ResolvedAt: time.Now()})
}

func currentMid(kCell, pCell *core.Cell) float64 {
	kYesAsk, kNoAsk, _, _ := kCell.Load()
	pYesAsk, pNoAsk, _, _ := pCell.Load()

	var sum float64
	var n int
	if kYesAsk > 0 && kNoAsk > 0 {
		sum += (float64(kYesAsk) + (100 - float64(kNoAsk))) / 2 / 100
		n++
	}
	if pYesAsk > 0 && pNoAsk > 0 {
		sum += (float64(pYesAsk) + (100 - float64(pNoAsk))) / 2 / 100
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func (t *Tracker) publishUpdate(ctx context.Context, marketID types.MarketID, status string, guaranteedProfit decimal.Decimal, realizedPnL *float64) {
	gp, _ := guaranteedProfit.Float64()
	update := types.PositionUpdate{
		MarketID:         marketID,
		Status:           status,
		GuaranteedProfit: gp,
		RealizedPnL:      realizedPnL,
		UpdatedAt:        time.Now(),
	}
	if err := t.bus.Publish(ctx, bus.PositionTopic(uint16(marketID)), update); err != nil {
		t.logger.Error("publish position update failed", "market_id", marketID, "error", err)
	}
}
