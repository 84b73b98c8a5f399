// Package signalproc implements the signal processor (C12): the
// post-filter and sizing stage between the game/event shard's raw
// signals and the execution engine's order requests. Grounded on spec
// §4.10's seven-step gate chain, with the gate-chain-returns-a-typed-
// RuleDecision pattern (rather than a bare error) taken from the
// teacher's internal/risk/manager.go, which reports structured outcomes
// instead of erroring out of expected-rejection paths.
package signalproc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"arbees/internal/bus"
	"arbees/internal/config"
	"arbees/internal/matching"
	"arbees/pkg/types"
)

// BalanceLookup returns the execution engine's cached balance for venue,
// and whether a balance is known at all. The signal processor never
// talks to a venue directly; it reads through whatever cache the caller
// wires in (in-process pointer, or a thin bus-backed cache).
type BalanceLookup func(venue types.Venue) (balance float64, ok bool)

// Processor consumes signals.trade.* and emits execution.requests.*.
type Processor struct {
	cfg      config.SignalConfig
	riskCfg  config.RiskConfig
	bus      bus.Bus
	matchers *matching.Registry
	balance  BalanceLookup
	logger   *slog.Logger

	mu        sync.Mutex
	lastFired map[string]time.Time // dedup key -> last fire time
}

// dedupKey mirrors spec §4.10 point 1: identical (event_id, entity,
// direction, platform_buy) within the cooldown window is a duplicate.
func dedupKey(sig types.Signal) string {
	return fmt.Sprintf("%s|%s|%s|%s", sig.EventID, sig.Entity, sig.Direction, sig.PlatformBuy)
}

// New constructs a signal processor.
func New(cfg config.SignalConfig, riskCfg config.RiskConfig, b bus.Bus, matchers *matching.Registry, balance BalanceLookup, logger *slog.Logger) *Processor {
	return &Processor{
		cfg:      cfg,
		riskCfg:  riskCfg,
		bus:      b,
		matchers: matchers,
		balance:  balance,
		logger:   logger.With("component", "signal_processor"),
		lastFired: make(map[string]time.Time),
	}
}

// Start subscribes to every signal topic and processes each until ctx is
// cancelled.
func (p *Processor) Start(ctx context.Context) error {
	ch, cancel, err := p.bus.SubscribePattern(ctx, bus.SignalPattern)
	if err != nil {
		return fmt.Errorf("subscribe signal pattern: %w", err)
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
			var sig types.Signal
			if err := unmarshal(env.Payload, &sig); err != nil {
				p.logger.Warn("dropping malformed signal envelope", "error", err)
				continue
			}
			p.Process(ctx, sig)
		}
	}
}

// Process runs the full gate chain for one signal, publishing either an
// ExecutionRequest (on success) or a RuleDecision audit event per gate
// outcome.
func (p *Processor) Process(ctx context.Context, sig types.Signal) {
	now := time.Now()

	if sig.Expired(now) {
		p.audit(ctx, sig.SignalID, "expiry", false, "signal expired before processing")
		return
	}

	if decision := p.checkDuplicate(sig, now); !decision.Passed {
		p.publishDecision(ctx, decision)
		return
	}

	minEdge := p.cfg.ProcessorMinEdgePct
	if minEdge == 0 {
		minEdge = p.cfg.MinEdgePct
	}
	if sig.EdgePct < minEdge {
		p.reject(ctx, sig.SignalID, "edge_gate", fmt.Sprintf("edge_pct %.2f below minimum %.2f", sig.EdgePct, minEdge))
		return
	}

	if sig.ModelProb < p.cfg.MinBuyProb || sig.ModelProb > p.cfg.MaxBuyProb {
		p.reject(ctx, sig.SignalID, "probability_band", fmt.Sprintf("model_prob %.4f outside [%.2f, %.2f]", sig.ModelProb, p.cfg.MinBuyProb, p.cfg.MaxBuyProb))
		return
	}

	if sig.LiquidityAvailable < p.cfg.MinContracts {
		p.reject(ctx, sig.SignalID, "liquidity_gate", fmt.Sprintf("liquidity_available %.2f below min_contracts %.2f", sig.LiquidityAvailable, p.cfg.MinContracts))
		return
	}

	if !p.resolveEntity(sig) {
		p.reject(ctx, sig.SignalID, "entity_resolution", "EntityUnresolved")
		return
	}

	size, ok := p.size(sig)
	if !ok || size <= 0 {
		p.reject(ctx, sig.SignalID, "sizing", "no tradeable size after risk caps")
		return
	}

	req := p.shape(sig, size, now)
	p.audit(ctx, sig.SignalID, "shaped", true, "")
	if err := p.bus.Publish(ctx, bus.ExecRequestTopic(req.RequestID), req); err != nil {
		p.logger.Error("publish execution request failed", "request_id", req.RequestID, "error", err)
	}
}

// checkDuplicate implements spec §4.10 point 1. Firing updates the
// cooldown clock so the very next identical signal within the window is
// rejected, not just exact-timestamp collisions.
func (p *Processor) checkDuplicate(sig types.Signal, now time.Time) types.RuleDecision {
	key := dedupKey(sig)

	p.mu.Lock()
	last, seen := p.lastFired[key]
	passed := !seen || now.Sub(last) >= p.cfg.DuplicateCooldown
	if passed {
		p.lastFired[key] = now
	}
	p.mu.Unlock()

	reason := ""
	if !passed {
		reason = "duplicate signal within cooldown window"
	}
	return types.RuleDecision{SubjectID: sig.SignalID, Gate: "duplicate_gate", Passed: passed, Reason: reason, DecidedAt: now}
}

// resolveEntity is the entity-resolution step of spec §4.10 point 5. A
// Signal carries no venue contract name, so the entity is matched against
// itself through the matcher registered for its market type; no venue
// contract list is consulted.
func (p *Processor) resolveEntity(sig types.Signal) bool {
	if p.matchers == nil {
		return true
	}
	result, err := p.matchers.Match(sig.Entity, sig.Entity, matching.Context{MarketType: sig.MarketType})
	if err != nil {
		// No matcher registered for this market type: nothing to verify
		// against, so the signal passes through unresolved-but-unblocked.
		return true
	}
	return result.IsMatch()
}

// size implements spec §4.10 point 6: deterministic sizing capped by
// MAX_ORDER_SIZE, MAX_POSITION_PER_MARKET, and available liquidity.
func (p *Processor) size(sig types.Signal) (float64, bool) {
	venue := sig.PlatformBuy
	bal, ok := p.balance(venue)
	if !ok {
		bal = p.riskCfg.MaxOrderSizeUSD // no balance cache yet: fall back to the hard cap
	}

	// Base notional scales with edge and confidence, capped at what the
	// balance (minus buffer) can actually support.
	conf := sig.Confidence
	if conf <= 0 {
		conf = 0.5
	}
	notional := bal * (1 - p.riskCfg.BalanceBufferPct) * conf
	if notional > p.riskCfg.MaxOrderSizeUSD {
		notional = p.riskCfg.MaxOrderSizeUSD
	}
	if notional > p.riskCfg.MaxPositionPerMarket {
		notional = p.riskCfg.MaxPositionPerMarket
	}

	price := executionPrice(sig)
	if price <= 0 {
		return 0, false
	}
	contracts := notional / price
	if contracts > p.riskCfg.MaxOrderContracts {
		contracts = p.riskCfg.MaxOrderContracts
	}
	if contracts > sig.LiquidityAvailable {
		contracts = sig.LiquidityAvailable
	}
	return contracts, contracts > 0
}

// executionPrice picks the price the sizing/shaping step trades at: the
// signal's BuyPrice if the shard set one, else a neutral midpoint derived
// from model_prob so sizing never divides by zero.
func executionPrice(sig types.Signal) float64 {
	if sig.BuyPrice > 0 {
		return sig.BuyPrice
	}
	if sig.ModelProb > 0 {
		return sig.ModelProb
	}
	return 0.5
}

// shape implements spec §4.10 point 7.
func (p *Processor) shape(sig types.Signal, size float64, now time.Time) types.ExecutionRequest {
	side := types.SideYes
	if sig.Direction == types.DirectionSell {
		side = types.SideNo
	}

	key := idempotencyKey(sig.SignalID, sig.PlatformBuy, side)

	return types.ExecutionRequest{
		RequestID:      uuid.NewString(),
		IdempotencyKey: key,
		SignalID:       sig.SignalID,
		Venue:          sig.PlatformBuy,
		Side:           side,
		LimitPrice:     executionPrice(sig),
		Size:           size,
		SignalType:     sig.SignalType,
		EdgePct:        sig.EdgePct,
		EventID:        sig.EventID,
		Entity:         sig.Entity,
		CreatedAt:      now,
	}
}

// idempotencyKey hashes signal_id|venue|side with xxhash for a short,
// deterministic, collision-resistant key, per spec §4.10 point 7. Keying
// purely off the signal's own identity (rather than a per-call counter)
// is what makes reprocessing the same signal — a retry, a redelivered
// bus message — collapse onto the same ExecutionRequest idempotency key
// every time, which is the entire point of the field.
func idempotencyKey(signalID string, venue types.Venue, side types.OrderSide) string {
	digest := xxhash.Sum64String(fmt.Sprintf("%s|%s|%s", signalID, venue, side))
	return fmt.Sprintf("%016x", digest)
}

func (p *Processor) reject(ctx context.Context, signalID, gate, reason string) {
	p.audit(ctx, signalID, gate, false, reason)
}

func (p *Processor) audit(ctx context.Context, signalID, gate string, passed bool, reason string) {
	d := types.RuleDecision{SubjectID: signalID, Gate: gate, Passed: passed, Reason: reason, DecidedAt: time.Now()}
	p.publishDecision(ctx, d)
}

func (p *Processor) publishDecision(ctx context.Context, d types.RuleDecision) {
	if err := p.bus.Publish(ctx, "audit.rule_decisions", d); err != nil {
		p.logger.Warn("publish rule decision failed", "subject_id", d.SubjectID, "gate", d.Gate, "error", err)
	}
}
