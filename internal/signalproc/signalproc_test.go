package signalproc

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"arbees/internal/bus"
	"arbees/internal/config"
	"arbees/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func testSignalConfig() config.SignalConfig {
	return config.SignalConfig{
		MinEdgePct:          10,
		ProcessorMinEdgePct: 10,
		MinBuyProb:          0.05,
		MaxBuyProb:          0.95,
		MinContracts:        1,
		DuplicateCooldown:   time.Minute,
		SignalTTL:           time.Minute,
	}
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxOrderSizeUSD:      100,
		MaxOrderContracts:    100,
		MaxPositionPerMarket: 200,
		BalanceBufferPct:     0.10,
	}
}

func baseSignal() types.Signal {
	now := time.Now()
	return types.Signal{
		SignalID:           "sig-1",
		SignalType:         types.SignalModelEdgeYes,
		EventID:            "evt-1",
		Entity:             "Lakers",
		Direction:          types.DirectionBuy,
		ModelProb:          0.65,
		EdgePct:            20,
		Confidence:         0.8,
		PlatformBuy:        types.VenueK,
		BuyPrice:           0.55,
		LiquidityAvailable: 50,
		CreatedAt:          now,
		ExpiresAt:          now.Add(time.Minute),
	}
}

func alwaysBalance(amount float64) BalanceLookup {
	return func(venue types.Venue) (float64, bool) { return amount, true }
}

func newTestProcessor(t *testing.T) (*Processor, bus.Bus) {
	t.Helper()
	b := bus.NewInProcBus("test")
	p := New(testSignalConfig(), testRiskConfig(), b, nil, alwaysBalance(1000), testLogger())
	return p, b
}

func TestProcessPublishesExecutionRequestOnFullPass(t *testing.T) {
	p, b := newTestProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, cancelSub, err := b.SubscribePattern(ctx, bus.ExecRequestPattern)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancelSub()

	p.Process(ctx, baseSignal())

	select {
	case env := <-ch:
		var req types.ExecutionRequest
		if err := unmarshal(env.Payload, &req); err != nil {
			t.Fatalf("unmarshal request: %v", err)
		}
		if req.SignalID != "sig-1" {
			t.Fatalf("expected signal_id sig-1, got %s", req.SignalID)
		}
		if req.Side != types.SideYes {
			t.Fatalf("expected side yes for a buy signal, got %s", req.Side)
		}
		if req.Size <= 0 {
			t.Fatalf("expected positive sized request, got %f", req.Size)
		}
		if req.IdempotencyKey == "" {
			t.Fatalf("expected a non-empty idempotency key")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected an execution request to be published")
	}
}

func TestProcessRejectsExpiredSignal(t *testing.T) {
	p, b := newTestProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, cancelSub, err := b.Subscribe(ctx, "audit.rule_decisions")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancelSub()

	sig := baseSignal()
	sig.ExpiresAt = time.Now().Add(-time.Second)
	p.Process(ctx, sig)

	select {
	case env := <-ch:
		var d types.RuleDecision
		if err := unmarshal(env.Payload, &d); err != nil {
			t.Fatalf("unmarshal decision: %v", err)
		}
		if d.Passed {
			t.Fatalf("expected expired signal to fail its gate")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a rule decision to be published")
	}
}

func TestProcessDuplicateGateRejectsWithinCooldown(t *testing.T) {
	p, b := newTestProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, cancelSub, err := b.SubscribePattern(ctx, bus.ExecRequestPattern)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancelSub()

	sig := baseSignal()
	p.Process(ctx, sig)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("expected first signal to pass")
	}

	sig2 := sig
	sig2.SignalID = "sig-2"
	p.Process(ctx, sig2)
	select {
	case <-ch:
		t.Fatalf("expected duplicate signal to be rejected, not published")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestProcessEdgeGateRejectsLowEdge(t *testing.T) {
	p, b := newTestProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, cancelSub, err := b.SubscribePattern(ctx, bus.ExecRequestPattern)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancelSub()

	sig := baseSignal()
	sig.EdgePct = 1
	p.Process(ctx, sig)

	select {
	case <-ch:
		t.Fatalf("expected low-edge signal to be rejected")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestProcessLiquidityGateRejectsThinBook(t *testing.T) {
	p, b := newTestProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, cancelSub, err := b.SubscribePattern(ctx, bus.ExecRequestPattern)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancelSub()

	sig := baseSignal()
	sig.LiquidityAvailable = 0
	p.Process(ctx, sig)

	select {
	case <-ch:
		t.Fatalf("expected zero-liquidity signal to be rejected")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestIdempotencyKeyDeterministicForSameSignal(t *testing.T) {
	k1 := idempotencyKey("sig-1", types.VenueK, types.SideYes)
	k2 := idempotencyKey("sig-1", types.VenueK, types.SideYes)
	k3 := idempotencyKey("sig-2", types.VenueK, types.SideYes)
	if k1 != k2 {
		t.Fatalf("expected identical inputs to hash identically: %s vs %s", k1, k2)
	}
	if k1 == k3 {
		t.Fatalf("expected different signal ids to hash differently")
	}
}

// TestProcessReprocessingSameSignalReusesIdempotencyKey guards against the
// idempotency key drifting across repeated processing attempts of the
// same signal (a bus redelivery, a caller retry): two independent
// Process() calls for an identical signal must shape identical
// ExecutionRequest.IdempotencyKey values, since a non-reproducible key
// would defeat the execution engine's duplicate-request collapsing.
func TestProcessReprocessingSameSignalReusesIdempotencyKey(t *testing.T) {
	p, b := newTestProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, cancelSub, err := b.SubscribePattern(ctx, bus.ExecRequestPattern)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancelSub()

	sig := baseSignal()
	sig.EventID = "evt-reprocess"

	recvKey := func() string {
		select {
		case env := <-ch:
			var req types.ExecutionRequest
			if err := unmarshal(env.Payload, &req); err != nil {
				t.Fatalf("unmarshal request: %v", err)
			}
			return req.IdempotencyKey
		case <-time.After(time.Second):
			t.Fatalf("expected an execution request to be published")
			return ""
		}
	}

	p.Process(ctx, sig)
	key1 := recvKey()

	// Clear the dedup cooldown so the second Process call reaches shape()
	// again instead of being rejected by the duplicate gate; this isolates
	// the idempotency-key determinism from the separate dedup mechanism.
	p.mu.Lock()
	p.lastFired = make(map[string]time.Time)
	p.mu.Unlock()

	p.Process(ctx, sig)
	key2 := recvKey()

	if key1 != key2 {
		t.Fatalf("expected reprocessing the same signal to reuse the idempotency key, got %s vs %s", key1, key2)
	}
}

func TestSizeClampsToMaxOrderSize(t *testing.T) {
	p := &Processor{
		cfg:     testSignalConfig(),
		riskCfg: testRiskConfig(),
		balance: alwaysBalance(1_000_000),
	}
	sig := baseSignal()
	sig.Confidence = 1.0
	size, ok := p.size(sig)
	if !ok {
		t.Fatalf("expected sizeable signal")
	}
	notional := size * executionPrice(sig)
	if notional > p.riskCfg.MaxOrderSizeUSD+0.01 {
		t.Fatalf("expected notional capped at max_order_size_usd=%.2f, got %.2f", p.riskCfg.MaxOrderSizeUSD, notional)
	}
}
