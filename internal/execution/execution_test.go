package execution

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"arbees/internal/bus"
	"arbees/internal/config"
	"arbees/internal/core"
	"arbees/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxOrderSizeUSD:       100,
		MaxOrderContracts:     100,
		MaxPositionPerMarket:  200,
		MaxOrdersPerMinute:    20,
		MaxOrdersPerHour:      100,
		MinSafePrice:          0.05,
		MaxSafePrice:          0.95,
		MaxDailyLossUSD:       500,
		IdempotencyTTL:        5 * time.Minute,
		IdempotencyMaxEntries: 10000,
		BalanceStaleAfter:     time.Minute,
		BalanceBufferPct:      0.10,
	}
}

func newTestEngine(t *testing.T, paperMode bool) (*Engine, bus.Bus) {
	t.Helper()
	b := bus.NewInProcBus("test")
	kill := NewKillSwitch("", testLogger())
	engine := New(testRiskConfig(), true, paperMode, b, kill, core.NewInFlightBitmap(), testLogger())
	engine.RegisterExecutor(types.VenuePaper, PaperExecutor{})
	engine.RegisterExecutor(types.VenueK, NotImplementedExecutor{})
	return engine, b
}

func baseRequest() types.ExecutionRequest {
	return types.ExecutionRequest{
		RequestID:      "req-1",
		IdempotencyKey: "idem-1",
		SignalID:       "sig-1",
		MarketID:       1,
		Venue:          types.VenuePaper,
		Side:           types.SideYes,
		LimitPrice:     0.55,
		Size:           10,
		CreatedAt:      time.Now(),
	}
}

func subscribeResults(t *testing.T, ctx context.Context, b bus.Bus) <-chan bus.Envelope {
	t.Helper()
	ch, _, err := b.SubscribePattern(ctx, bus.ExecResultPattern)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return ch
}

func TestProcessFillsOnPaperVenue(t *testing.T) {
	e, b := newTestEngine(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := subscribeResults(t, ctx, b)

	e.Process(ctx, baseRequest())

	select {
	case env := <-ch:
		var res types.ExecutionResult
		if err := unmarshal(env.Payload, &res); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if res.Status != types.ExecFilled {
			t.Fatalf("expected filled, got %s", res.Status)
		}
		if res.FilledQty != 10 {
			t.Fatalf("expected filled_qty 10, got %f", res.FilledQty)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a result to be published")
	}
}

func TestProcessRejectsWhenKillSwitchActive(t *testing.T) {
	e, b := newTestEngine(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := subscribeResults(t, ctx, b)

	e.kill.Trip("test")
	e.Process(ctx, baseRequest())

	select {
	case env := <-ch:
		var res types.ExecutionResult
		_ = unmarshal(env.Payload, &res)
		if res.Status != types.ExecRejected || res.RejectionReason != "KillSwitchActive" {
			t.Fatalf("expected KillSwitchActive rejection, got %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a rejection result")
	}
}

func TestProcessRejectsNotImplementedVenue(t *testing.T) {
	e, b := newTestEngine(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := subscribeResults(t, ctx, b)

	req := baseRequest()
	req.Venue = types.VenueK
	e.Process(ctx, req)

	select {
	case env := <-ch:
		var res types.ExecutionResult
		_ = unmarshal(env.Payload, &res)
		if res.Status != types.ExecRejected {
			t.Fatalf("expected rejected for venue K, got %s", res.Status)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a rejection result")
	}
}

func TestProcessDeduplicatesIdempotencyKey(t *testing.T) {
	e, b := newTestEngine(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := subscribeResults(t, ctx, b)

	req := baseRequest()
	e.Process(ctx, req)
	<-ch // first result

	req2 := req
	req2.RequestID = "req-2"
	e.Process(ctx, req2)

	select {
	case env := <-ch:
		var res types.ExecutionResult
		_ = unmarshal(env.Payload, &res)
		if res.Status != types.ExecDuplicate {
			t.Fatalf("expected duplicate status on reused idempotency key, got %s", res.Status)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a duplicate result")
	}
}

func TestProcessRejectsPriceOutsideSafetyBand(t *testing.T) {
	e, b := newTestEngine(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := subscribeResults(t, ctx, b)

	req := baseRequest()
	req.LimitPrice = 0.99
	e.Process(ctx, req)

	select {
	case env := <-ch:
		var res types.ExecutionResult
		_ = unmarshal(env.Payload, &res)
		if res.RejectionReason != "PriceUnsafe" {
			t.Fatalf("expected PriceUnsafe rejection, got %s", res.RejectionReason)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a rejection result")
	}
}

func TestProcessRejectsSizeExceedingCap(t *testing.T) {
	e, b := newTestEngine(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := subscribeResults(t, ctx, b)

	req := baseRequest()
	req.Size = 1000
	e.Process(ctx, req)

	select {
	case env := <-ch:
		var res types.ExecutionResult
		_ = unmarshal(env.Payload, &res)
		if res.RejectionReason != "SizeExceeded" {
			t.Fatalf("expected SizeExceeded rejection, got %s", res.RejectionReason)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a rejection result")
	}
}

func TestIdempotencyTrackerEvictsOldest10Percent(t *testing.T) {
	tr := NewIdempotencyTracker(time.Hour, 10)
	base := time.Now()
	for i := 0; i < 10; i++ {
		tr.mu.Lock()
		tr.entries[string(rune('a'+i))] = idempotencyEntry{recordAt: base.Add(time.Duration(i) * time.Second)}
		tr.mu.Unlock()
	}
	tr.Record("k", types.ExecutionResult{})
	if tr.Len() > 10 {
		t.Fatalf("expected tracker to stay at or under capacity after eviction, got %d", tr.Len())
	}
	if _, ok := tr.entries["a"]; ok {
		t.Fatalf("expected the oldest entry to be evicted")
	}
}

func TestSlidingWindowLimiterEnforcesPerMinuteCap(t *testing.T) {
	l := NewSlidingWindowLimiter(2, 100)
	now := time.Now()
	if ok, _ := l.Allow(now); !ok {
		t.Fatalf("expected first request to be allowed")
	}
	if ok, _ := l.Allow(now); !ok {
		t.Fatalf("expected second request to be allowed")
	}
	ok, retryAfter := l.Allow(now)
	if ok {
		t.Fatalf("expected third request within the same minute to be denied")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected a positive retry-after, got %f", retryAfter)
	}
}

func TestDailyPnLTrackerRollsOverOnNewUTCDay(t *testing.T) {
	d := NewDailyPnLTracker()
	today := utcDate(time.Now())
	d.Record(today.Add(time.Hour), -100)
	if d.Running(today.Add(2*time.Hour)) != -100 {
		t.Fatalf("expected running pnl of -100 within the same day")
	}
	tomorrow := today.AddDate(0, 0, 1).Add(time.Hour)
	if got := d.Running(tomorrow); got != 0 {
		t.Fatalf("expected pnl reset to 0 on a new UTC day, got %f", got)
	}
}

func TestBalanceCacheStaleAfterDebit(t *testing.T) {
	c := NewBalanceCache(time.Minute)
	c.Set(types.VenueK, 1000)
	c.Debit(types.VenueK, 100)
	amount, known, stale := c.Get(types.VenueK)
	if !known {
		t.Fatalf("expected balance to be known")
	}
	if amount != 900 {
		t.Fatalf("expected balance 900 after debit, got %f", amount)
	}
	if !stale {
		t.Fatalf("expected balance to be marked stale after a debit")
	}
}
