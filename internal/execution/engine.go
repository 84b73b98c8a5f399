package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"arbees/internal/bus"
	"arbees/internal/config"
	"arbees/internal/core"
	"arbees/pkg/types"
)

// Engine is the execution engine (C13): it runs every ExecutionRequest
// through the nine-gate chain of spec §4.11, places the order via the
// venue executor registered for its venue, and publishes the result.
type Engine struct {
	cfg    config.RiskConfig
	bus    bus.Bus
	logger *slog.Logger

	kill       *KillSwitch
	idem       *IdempotencyTracker
	limiter    *SlidingWindowLimiter
	dailyPnL   *DailyPnLTracker
	balances   *BalanceCache
	inflight   *core.InFlightBitmap

	liveTradingAuthorized bool
	paperMode             bool

	executors map[types.Venue]VenueExecutor
}

// New constructs an execution engine. executors maps each venue to the
// client that actually places orders there; callers typically register
// PaperExecutor for VenuePaper, NotImplementedExecutor for VenueK, and a
// real internal/venue/poly client for VenueP.
func New(cfg config.RiskConfig, liveTradingAuthorized, paperMode bool, b bus.Bus, kill *KillSwitch, inflight *core.InFlightBitmap, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:                   cfg,
		bus:                   b,
		logger:                logger.With("component", "execution_engine"),
		kill:                  kill,
		idem:                  NewIdempotencyTracker(cfg.IdempotencyTTL, cfg.IdempotencyMaxEntries),
		limiter:               NewSlidingWindowLimiter(cfg.MaxOrdersPerMinute, cfg.MaxOrdersPerHour),
		dailyPnL:              NewDailyPnLTracker(),
		balances:              NewBalanceCache(cfg.BalanceStaleAfter),
		inflight:              inflight,
		liveTradingAuthorized: liveTradingAuthorized,
		paperMode:             paperMode,
		executors:             make(map[types.Venue]VenueExecutor),
	}
}

// RegisterExecutor associates venue with the client used to place orders
// there.
func (e *Engine) RegisterExecutor(venue types.Venue, ex VenueExecutor) {
	e.executors[venue] = ex
}

// BalanceLookup exposes the engine's balance cache for signalproc sizing.
func (e *Engine) BalanceLookup(venue types.Venue) (float64, bool) {
	return e.balances.Lookup(venue)
}

// SetBalance seeds or refreshes venue's cached balance (e.g. from a
// periodic venue API poll).
func (e *Engine) SetBalance(venue types.Venue, amount float64) {
	e.balances.Set(venue, amount)
}

// Start subscribes to execution.requests.* and processes each request
// until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	ch, cancel, err := e.bus.SubscribePattern(ctx, bus.ExecRequestPattern)
	if err != nil {
		return fmt.Errorf("subscribe execution request pattern: %w", err)
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
			var req types.ExecutionRequest
			if err := unmarshal(env.Payload, &req); err != nil {
				e.logger.Warn("dropping malformed execution request", "error", err)
				continue
			}
			e.Process(ctx, req)
		}
	}
}

// Process runs the full gate chain for req, places the order if every
// gate passes, and publishes the ExecutionResult.
func (e *Engine) Process(ctx context.Context, req types.ExecutionRequest) {
	now := time.Now()

	// Gate 1: kill switch.
	if active, reason := e.kill.IsActive(); active {
		e.reject(ctx, req, now, "KillSwitchActive", reason)
		return
	}

	// Gate 2: live-trading authorization.
	if !e.paperMode && !e.liveTradingAuthorized {
		e.reject(ctx, req, now, "NotAuthorized", "live trading not authorized")
		return
	}

	// Gate 3: idempotency.
	if prior, dup := e.idem.Check(req.IdempotencyKey); dup {
		result := prior
		result.Status = types.ExecDuplicate
		e.publishResult(ctx, result)
		return
	}

	// Gate 4: rate limit.
	if ok, retryAfter := e.limiter.Allow(now); !ok {
		e.reject(ctx, req, now, "RateLimited", fmt.Sprintf("retry after %.1fs", retryAfter))
		return
	}

	// Gate 5: price-safety band.
	if req.LimitPrice < e.cfg.MinSafePrice || req.LimitPrice > e.cfg.MaxSafePrice {
		e.reject(ctx, req, now, "PriceUnsafe", fmt.Sprintf("limit_price %.4f outside [%.2f, %.2f]", req.LimitPrice, e.cfg.MinSafePrice, e.cfg.MaxSafePrice))
		return
	}

	// Gate 6: size band.
	notional := req.Size * req.LimitPrice
	if notional > e.cfg.MaxOrderSizeUSD {
		e.reject(ctx, req, now, "SizeExceeded", fmt.Sprintf("notional %.2f exceeds max_order_size_usd %.2f", notional, e.cfg.MaxOrderSizeUSD))
		return
	}
	if req.Size > e.cfg.MaxOrderContracts {
		e.reject(ctx, req, now, "SizeExceeded", fmt.Sprintf("size %.2f exceeds max_order_contracts %.2f", req.Size, e.cfg.MaxOrderContracts))
		return
	}
	if notional > e.cfg.MaxPositionPerMarket {
		e.reject(ctx, req, now, "PositionLimitExceeded", fmt.Sprintf("notional %.2f exceeds max_position_per_market %.2f", notional, e.cfg.MaxPositionPerMarket))
		return
	}

	// Gate 7: balance sufficiency.
	if req.Venue != types.VenuePaper {
		required := notional * (1 + e.cfg.BalanceBufferPct)
		bal, known, stale := e.balances.Get(req.Venue)
		if known {
			if stale {
				e.logger.Warn("balance cache stale, proceeding anyway", "venue", req.Venue)
			} else if bal < required {
				e.reject(ctx, req, now, "InsufficientBalance", fmt.Sprintf("cached balance %.2f below required %.2f", bal, required))
				return
			}
		}
	}

	// Gate 8: daily loss limit.
	if e.dailyPnL.ExceedsLimit(now, e.cfg.MaxDailyLossUSD) {
		e.kill.Trip("DailyLossExceeded")
		e.reject(ctx, req, now, "DailyLossExceeded", "daily loss limit breached")
		return
	}

	// Gate 9: in-flight dedupe.
	if !e.inflight.TryAcquire(int(req.MarketID)) {
		e.reject(ctx, req, now, "InFlight", "market already has an execution in flight")
		return
	}
	defer e.inflight.Release(int(req.MarketID))

	result := e.place(ctx, req, now)
	e.idem.Record(req.IdempotencyKey, result)
	if req.Venue != types.VenuePaper && result.FilledQty > 0 {
		e.balances.Debit(req.Venue, result.FilledQty*result.AvgPrice+result.Fees)
	}
	e.dailyPnL.Record(now, -result.Fees)
	e.publishResult(ctx, result)
}

// place routes by venue per spec §4.11's placement switch and computes
// status/latency/fees on the returned Fill.
func (e *Engine) place(ctx context.Context, req types.ExecutionRequest, requestedAt time.Time) types.ExecutionResult {
	ex, ok := e.executors[req.Venue]
	if !ok {
		ex = NotImplementedExecutor{}
	}

	fill, err := ex.Place(ctx, req)
	executedAt := time.Now()
	result := types.ExecutionResult{
		RequestID:      req.RequestID,
		IdempotencyKey: req.IdempotencyKey,
		MarketID:       req.MarketID,
		Venue:          req.Venue,
		Side:           req.Side,
		EventID:        req.EventID,
		Entity:         req.Entity,
		SignalID:       req.SignalID,
		RequestedAt:    requestedAt,
		ExecutedAt:     executedAt,
		LatencyMs:      latencyMs(requestedAt, executedAt),
	}

	if err != nil {
		result.Status = types.ExecRejected
		result.RejectionReason = err.Error()
		return result
	}
	if fill.Rejected {
		result.Status = types.ExecRejected
		result.RejectionReason = fill.Reason
		return result
	}

	result.OrderID = fill.OrderID
	result.FilledQty = fill.FilledQty
	result.AvgPrice = fill.AvgPrice
	result.Fees = fill.Fees

	switch {
	case fill.FilledQty <= 0:
		result.Status = types.ExecRejected
		result.RejectionReason = "zero fill"
	case fill.FilledQty >= req.Size:
		result.Status = types.ExecFilled
	default:
		result.Status = types.ExecPartial
	}
	return result
}

func (e *Engine) reject(ctx context.Context, req types.ExecutionRequest, now time.Time, reason, detail string) {
	result := types.ExecutionResult{
		RequestID:       req.RequestID,
		IdempotencyKey:  req.IdempotencyKey,
		Status:          types.ExecRejected,
		RejectionReason: reason,
		MarketID:        req.MarketID,
		Venue:           req.Venue,
		Side:            req.Side,
		EventID:         req.EventID,
		Entity:          req.Entity,
		SignalID:        req.SignalID,
		RequestedAt:     now,
		ExecutedAt:      now,
	}
	e.logger.Warn("execution request rejected", "request_id", req.RequestID, "reason", reason, "detail", detail)
	e.publishResult(ctx, result)
}

func (e *Engine) publishResult(ctx context.Context, result types.ExecutionResult) {
	if err := e.bus.Publish(ctx, bus.ExecResultTopic(result.RequestID), result); err != nil {
		e.logger.Error("publish execution result failed", "request_id", result.RequestID, "error", err)
	}
}
