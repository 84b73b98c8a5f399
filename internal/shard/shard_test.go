package shard

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"arbees/internal/bus"
	"arbees/internal/config"
	"arbees/internal/core"
	"arbees/internal/probability"
	"arbees/internal/providers"
	"arbees/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func testShardConfig() config.ShardConfig {
	return config.ShardConfig{
		PollInterval:      20 * time.Millisecond,
		MinPollInterval:   10 * time.Millisecond,
		MaxPollInterval:   time.Second,
		MaxGames:          2,
		HeartbeatInterval: 50 * time.Millisecond,
	}
}

func testSignalConfig() config.SignalConfig {
	return config.SignalConfig{
		MinEdgePct:        1,
		MinBuyProb:        0.05,
		MaxBuyProb:        0.95,
		StalenessCutoff:   time.Minute,
		SignalTTL:         time.Minute,
		ArbSignalTTL:      time.Minute,
		ArbThresholdCents: core.DefaultArbThreshold,
	}
}

// fakeProvider always reports the event live with a fixed sport state.
type fakeProvider struct{}

func (fakeProvider) LiveEvents(ctx context.Context) ([]types.EventInfo, error) { return nil, nil }
func (fakeProvider) ScheduledEvents(ctx context.Context, days int) ([]types.EventInfo, error) {
	return nil, nil
}
func (fakeProvider) EventState(ctx context.Context, eventID string) (types.EventState, error) {
	return types.EventState{
		EventInfo: types.EventInfo{EventID: eventID, Status: types.EventLive},
		Sport:     &types.SportState{ScoreA: 10, ScoreB: 3, Period: 2, ClockSecs: 300},
	}, nil
}
func (fakeProvider) Name() string { return "fake" }

// fakeModel returns a fixed probability regardless of state.
type fakeModel struct{ prob float64 }

func (m fakeModel) Calculate(state types.EventState, forEntityA bool) (float64, error) {
	return m.prob, nil
}
func (m fakeModel) Supports(mt types.MarketType) bool { return true }
func (m fakeModel) Name() string                      { return "fake" }

func newTestShard(t *testing.T, prob float64) (*Shard, *core.Table, bus.Bus) {
	t.Helper()
	b := bus.NewInProcBus("test")
	table := core.NewTable()

	provReg := providers.NewRegistry()
	provReg.Register(types.SportMarketType(types.SportNBA).Key(), fakeProvider{})

	modelReg := probability.NewRegistry()
	modelReg.Register(fakeModel{prob: prob})

	s := New("shard-1", testShardConfig(), testSignalConfig(), b, table, provReg, modelReg, testLogger())
	return s, table, b
}

func TestAddGameRegistersMarketAndRespectsCapacity(t *testing.T) {
	s, table, _ := newTestShard(t, 0.5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.ctx = ctx

	cmd := types.ShardCommand{Op: "add_game", EventID: "evt-1", MarketType: types.SportMarketType(types.SportNBA), EntityA: "Lakers", EntityB: "Celtics", KalshiTicker: "NBA-LAL-BOS"}
	if err := s.AddGame(cmd); err != nil {
		t.Fatalf("AddGame: %v", err)
	}
	if s.GameCount() != 1 {
		t.Fatalf("expected 1 tracked game, got %d", s.GameCount())
	}
	if table.MarketCount() != 1 {
		t.Fatalf("expected table to register 1 market, got %d", table.MarketCount())
	}

	// duplicate add is a no-op
	if err := s.AddGame(cmd); err != nil {
		t.Fatalf("duplicate AddGame should be a no-op, got error: %v", err)
	}
	if s.GameCount() != 1 {
		t.Fatalf("duplicate add should not increase game count, got %d", s.GameCount())
	}

	cmd2 := cmd
	cmd2.EventID = "evt-2"
	cmd2.KalshiTicker = "NBA-X-Y"
	if err := s.AddGame(cmd2); err != nil {
		t.Fatalf("AddGame evt-2: %v", err)
	}

	cmd3 := cmd
	cmd3.EventID = "evt-3"
	cmd3.KalshiTicker = "NBA-Z-W"
	if err := s.AddGame(cmd3); err == nil {
		t.Fatalf("expected capacity error adding a third game past MaxGames=2")
	}

	s.stopAll()
}

func TestRemoveGameCancelsTask(t *testing.T) {
	s, _, _ := newTestShard(t, 0.5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.ctx = ctx

	cmd := types.ShardCommand{Op: "add_game", EventID: "evt-1", MarketType: types.SportMarketType(types.SportNBA), EntityA: "Lakers", EntityB: "Celtics", KalshiTicker: "NBA-LAL-BOS"}
	if err := s.AddGame(cmd); err != nil {
		t.Fatalf("AddGame: %v", err)
	}
	s.RemoveGame("evt-1")
	if s.GameCount() != 0 {
		t.Fatalf("expected 0 tracked games after remove, got %d", s.GameCount())
	}
	// removing again is a no-op
	s.RemoveGame("evt-1")
}

func TestNetEdgeBuySideWhenModelAboveMarket(t *testing.T) {
	// market mid ~ 0.50 (yesAsk=52, noAsk=50 -> mid = (52 + 50)/2/100 = 0.51)
	edge, dir, liq := netEdge(0.70, 52, 50, 1000, 1000, true)
	if dir != types.DirectionBuy {
		t.Fatalf("expected buy direction, got %s", dir)
	}
	if edge <= 0 {
		t.Fatalf("expected positive edge, got %f", edge)
	}
	if liq != 10.0 {
		t.Fatalf("expected liquidity 10.0 (1000 cents -> $10), got %f", liq)
	}
}

func TestNetEdgeSellSideWhenModelBelowMarket(t *testing.T) {
	edge, dir, _ := netEdge(0.20, 52, 50, 1000, 1000, true)
	if dir != types.DirectionSell {
		t.Fatalf("expected sell direction, got %s", dir)
	}
	// Sell price is 1 - yes_bid = 50c; (0.20 - 0.50 - 0.02 - 0.02) * 100 = -34.
	if edge >= 0 {
		t.Fatalf("expected negative edge for a sell at 50c with model 0.20, got %f", edge)
	}
}

func TestNetEdgeEmptyQuoteIsZero(t *testing.T) {
	edge, dir, liq := netEdge(0.5, 0, 0, 0, 0, true)
	if edge != 0 || dir != types.DirectionHold || liq != 0 {
		t.Fatalf("expected zero edge/hold/zero liquidity for an empty quote, got %f %s %f", edge, dir, liq)
	}
}

func TestEmitArbSignalPublishesOnCrossVenueArb(t *testing.T) {
	s, table, b := newTestShard(t, 0.5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.ctx = ctx

	marketID, err := table.Register(types.MarketPair{KalshiTicker: "T1", PolyConditionID: "C1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	// Buy YES on K at 40c + NO on P at 40c = 80c cost (+K fee on the 40c leg) < 100c threshold.
	table.UpdateVenueK(marketID, 40, 40, 500, 500)
	table.UpdateVenueP(marketID, 45, 40, 500, 500)

	ch, cancelSub, err := b.Subscribe(ctx, bus.SignalPattern)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancelSub()
	chPattern, cancelPattern, err := b.SubscribePattern(ctx, bus.SignalPattern)
	if err != nil {
		t.Fatalf("subscribe pattern: %v", err)
	}
	defer cancelPattern()
	_ = ch

	ev := &trackedEvent{eventID: "evt-1", marketID: marketID, entityA: "A", entityB: "B"}
	s.emitArbSignal(ev)

	select {
	case env := <-chPattern:
		if env.Topic == "" {
			t.Fatalf("expected a topic on the published envelope")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected an arb signal to be published")
	}
}

// TestCycleEmitsSignalsForBothEntities verifies spec §4.9 step 3: a
// two-entity market (entityB set) gets an independent probability/edge
// signal path for entity_b, not just entity_a.
func TestCycleEmitsSignalsForBothEntities(t *testing.T) {
	s, table, b := newTestShard(t, 0.5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.ctx = ctx

	marketID, err := table.Register(types.MarketPair{KalshiTicker: "T1", PolyConditionID: "C1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	// Yes and No both ask 40c and the model gives each entity 0.50, so
	// both sides are buys at 40c with net edge
	// (0.50 - 0.40 - 0.02 - 0.02) * 100 = 6, above MinEdgePct.
	table.UpdateVenueK(marketID, 40, 40, 1000, 1000)

	ev := &trackedEvent{eventID: "evt-1", marketID: marketID, entityA: "A", entityB: "B"}
	ev.lastKUpdate = time.Now()

	ch, cancelSub, err := b.SubscribePattern(ctx, bus.SignalPattern)
	if err != nil {
		t.Fatalf("subscribe pattern: %v", err)
	}
	defer cancelSub()

	s.emitModelEdgeSignal(ev, 0.50, true)
	s.emitModelEdgeSignal(ev, 0.50, false)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case env := <-ch:
			var sig types.Signal
			if err := unmarshal(env.Payload, &sig); err != nil {
				t.Fatalf("unmarshal signal: %v", err)
			}
			seen[sig.Entity] = true
		case <-time.After(time.Second):
			t.Fatalf("expected two model-edge signals, got %d", i)
		}
	}

	if !seen["A"] || !seen["B"] {
		t.Fatalf("expected signals for both entity_a and entity_b, got %v", seen)
	}
}

func TestResolveMarketIDReusesExistingRegistration(t *testing.T) {
	s, table, _ := newTestShard(t, 0.5)
	id, err := table.Register(types.MarketPair{KalshiTicker: "EXIST"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	got, err := s.resolveMarketID(types.ShardCommand{EventID: "e", KalshiTicker: "EXIST"})
	if err != nil {
		t.Fatalf("resolveMarketID: %v", err)
	}
	if got != id {
		t.Fatalf("expected reuse of market id %d, got %d", id, got)
	}
}

func TestConfidenceFromEdgeClampsToUnitRange(t *testing.T) {
	if c := confidenceFromEdge(-5); c != 0 {
		t.Fatalf("expected 0 for negative edge, got %f", c)
	}
	if c := confidenceFromEdge(1000); c != 1 {
		t.Fatalf("expected 1 for a saturating edge, got %f", c)
	}
	if c := confidenceFromEdge(25); c != 0.5 {
		t.Fatalf("expected 0.5 at half the saturation point, got %f", c)
	}
}
