// Package shard implements the game/event shard (C11): for each assigned
// event, polls its provider at a clamped cadence, maintains local quote
// state fed by the bus's per-market price topics, computes a model
// probability and net trading edge, and emits trade/arbitrage signals.
// Grounded on spec §4.9's per-cycle algorithm directly, with the
// goroutine-per-unit lifecycle (one task per tracked event, context
// cancellation to stop) taken from the teacher's
// internal/engine/engine.go startMarketLocked/stopMarketLocked pattern.
package shard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"arbees/internal/bus"
	"arbees/internal/config"
	"arbees/internal/core"
	"arbees/internal/probability"
	"arbees/internal/providers"
	"arbees/pkg/types"
)

// trackedEvent is the per-event state one shard goroutine owns.
type trackedEvent struct {
	eventID    string
	marketType types.MarketType
	entityA    string
	entityB    string
	marketID   types.MarketID

	cancel context.CancelFunc

	mu          sync.Mutex
	lastKUpdate time.Time
	lastPUpdate time.Time
}

// Shard is one game/event shard instance (C11).
type Shard struct {
	id     string
	cfg    config.ShardConfig
	sigCfg config.SignalConfig
	bus    bus.Bus
	table  *core.Table
	providers *providers.Registry
	models    *probability.Registry
	logger    *slog.Logger

	mu     sync.RWMutex
	events map[string]*trackedEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a shard identified by id.
func New(id string, cfg config.ShardConfig, sigCfg config.SignalConfig, b bus.Bus, table *core.Table, provReg *providers.Registry, modelReg *probability.Registry, logger *slog.Logger) *Shard {
	return &Shard{
		id:        id,
		cfg:       cfg,
		sigCfg:    sigCfg,
		bus:       b,
		table:     table,
		providers: provReg,
		models:    modelReg,
		logger:    logger.With("component", "shard", "shard_id", id),
		events:    make(map[string]*trackedEvent),
	}
}

// Start begins listening for orchestrator commands and emitting
// heartbeats; it returns once ctx is cancelled, after draining every
// per-event task.
func (s *Shard) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	cmdCh, cmdCancel, err := s.bus.Subscribe(s.ctx, bus.ShardCommandTopic(s.id))
	if err != nil {
		return fmt.Errorf("subscribe shard command topic: %w", err)
	}
	defer cmdCancel()

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	s.logger.Info("shard started", "max_games", s.cfg.MaxGames)

	for {
		select {
		case <-s.ctx.Done():
			s.stopAll()
			s.wg.Wait()
			return nil
		case env := <-cmdCh:
			s.handleCommand(env)
		case <-heartbeat.C:
			s.publishHeartbeat()
		}
	}
}

// Stop cancels every per-event task and the command loop.
func (s *Shard) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Shard) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ev := range s.events {
		ev.cancel()
		delete(s.events, id)
	}
}

func (s *Shard) handleCommand(env bus.Envelope) {
	var cmd types.ShardCommand
	if err := unmarshal(env.Payload, &cmd); err != nil {
		s.logger.Error("dropping malformed shard command", "error", err)
		return
	}
	switch cmd.Op {
	case "add_game":
		if err := s.AddGame(cmd); err != nil {
			s.logger.Error("add_game failed", "event_id", cmd.EventID, "error", err)
		}
	case "remove_game":
		s.RemoveGame(cmd.EventID)
	default:
		s.logger.Warn("unknown shard command op", "op", cmd.Op)
	}
}

// AddGame registers (or reuses) a market_id for cmd and starts its
// per-event polling task. Capacity is enforced against MaxGames.
func (s *Shard) AddGame(cmd types.ShardCommand) error {
	s.mu.Lock()
	if _, exists := s.events[cmd.EventID]; exists {
		s.mu.Unlock()
		return nil
	}
	if len(s.events) >= s.cfg.MaxGames {
		s.mu.Unlock()
		return fmt.Errorf("shard %s at capacity (%d games)", s.id, s.cfg.MaxGames)
	}
	s.mu.Unlock()

	marketID, err := s.resolveMarketID(cmd)
	if err != nil {
		return err
	}

	evCtx, cancel := context.WithCancel(s.ctx)
	ev := &trackedEvent{
		eventID:    cmd.EventID,
		marketType: cmd.MarketType,
		entityA:    cmd.EntityA,
		entityB:    cmd.EntityB,
		marketID:   marketID,
		cancel:     cancel,
	}

	s.mu.Lock()
	s.events[cmd.EventID] = ev
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runEvent(evCtx, ev)
	}()
	s.wg.Add(2)
	go func() { defer s.wg.Done(); s.consumePrices(evCtx, ev, types.VenueK) }()
	go func() { defer s.wg.Done(); s.consumePrices(evCtx, ev, types.VenueP) }()

	s.logger.Info("game added", "event_id", cmd.EventID, "market_id", marketID)
	return nil
}

// resolveMarketID registers the market if cmd carries fresh venue
// identifiers, or looks it up if discovery already registered it earlier
// for a different shard generation.
func (s *Shard) resolveMarketID(cmd types.ShardCommand) (types.MarketID, error) {
	if cmd.KalshiTicker != "" {
		if id, err := s.table.ByVenueK(cmd.KalshiTicker); err == nil {
			return id, nil
		}
	}
	if cmd.PolyConditionID != "" {
		if id, err := s.table.ByVenueP(cmd.PolyConditionID); err == nil {
			return id, nil
		}
	}
	return s.table.Register(types.MarketPair{
		KalshiTicker:    cmd.KalshiTicker,
		PolyConditionID: cmd.PolyConditionID,
		Description:     fmt.Sprintf("%s vs %s", cmd.EntityA, cmd.EntityB),
		League:          cmd.MarketType.Key(),
	})
}

// RemoveGame cancels and drops the task for eventID. Per spec §4.9,
// cancellation drops any pending signals for the event without error.
func (s *Shard) RemoveGame(eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return
	}
	ev.cancel()
	delete(s.events, eventID)
	s.logger.Info("game removed", "event_id", eventID)
}

// GameCount returns the number of currently tracked events.
func (s *Shard) GameCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// consumePrices subscribes to one venue's price topic for ev's market and
// writes every snapshot into the Table cell, tracking freshness for the
// staleness cutoff.
func (s *Shard) consumePrices(ctx context.Context, ev *trackedEvent, venue types.Venue) {
	topic := bus.PriceTopic(string(venue), uint16(ev.marketID))
	ch, cancel, err := s.bus.Subscribe(ctx, topic)
	if err != nil {
		s.logger.Error("subscribe price topic failed", "topic", topic, "error", err)
		return
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			var snap types.PriceSnapshot
			if err := unmarshal(env.Payload, &snap); err != nil {
				continue
			}
			switch venue {
			case types.VenueK:
				s.table.UpdateVenueK(ev.marketID, snap.YesAsk, snap.NoAsk, snap.YesSize, snap.NoSize)
				ev.mu.Lock()
				ev.lastKUpdate = time.Now()
				ev.mu.Unlock()
			case types.VenueP:
				s.table.UpdateVenueP(ev.marketID, snap.YesAsk, snap.NoAsk, snap.YesSize, snap.NoSize)
				ev.mu.Lock()
				ev.lastPUpdate = time.Now()
				ev.mu.Unlock()
			}
		}
	}
}

// runEvent drives the per-cycle algorithm of spec §4.9 at the configured
// (clamped) cadence until ctx is cancelled or the event's provider
// reports it has ended.
func (s *Shard) runEvent(ctx context.Context, ev *trackedEvent) {
	interval := s.cfg.ClampPollInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := s.cycle(ctx, ev); done {
				s.RemoveGame(ev.eventID)
				return
			}
		}
	}
}

// cycle runs one iteration of the shard's per-event loop. It returns true
// if the event has ended and polling should stop.
func (s *Shard) cycle(ctx context.Context, ev *trackedEvent) bool {
	state, err := s.providers.EventState(ctx, ev.marketType, ev.eventID)
	if err != nil {
		s.logger.Warn("event state fetch failed", "event_id", ev.eventID, "error", err)
		return false
	}
	if state.Status == types.EventCompleted || state.Status == types.EventCancelled {
		return true
	}

	modelProbA, err := s.models.Calculate(state, true)
	if err != nil {
		s.logger.Warn("probability model failed", "event_id", ev.eventID, "error", err)
		return false
	}
	s.emitModelEdgeSignal(ev, modelProbA, true)

	// Per spec §4.9 step 3, two-entity markets (every sports event) also
	// get an independent entity_b probability/edge/signal path; crypto
	// and other single-entity markets leave entityB empty and skip it.
	if ev.entityB != "" {
		modelProbB, err := s.models.Calculate(state, false)
		if err != nil {
			s.logger.Warn("probability model failed for entity_b", "event_id", ev.eventID, "error", err)
		} else {
			s.emitModelEdgeSignal(ev, modelProbB, false)
		}
	}

	s.emitArbSignal(ev)
	return false
}

// emitModelEdgeSignal computes the net edge on each venue for one entity
// (entity_a if forEntityA, else entity_b) and publishes the best gated
// signal, per spec §4.9 steps 3-6. entity_b trades the complementary side
// of the same market cell: what's ask/size for entity_a's Yes token is
// entity_b's No token and vice versa.
func (s *Shard) emitModelEdgeSignal(ev *trackedEvent, modelProb float64, forEntityA bool) {
	kYesAsk, kNoAsk, kYesSize, kNoSize, ok := s.freshQuote(ev, types.VenueK)
	bestEdge, bestVenue, bestDir, bestLiquidity := 0.0, types.Venue(""), types.DirectionHold, 0.0
	if ok {
		edge, dir, liq := edgeForEntity(modelProb, kYesAsk, kNoAsk, kYesSize, kNoSize, true, forEntityA)
		if edge > bestEdge {
			bestEdge, bestVenue, bestDir, bestLiquidity = edge, types.VenueK, dir, liq
		}
	}
	pYesAsk, pNoAsk, pYesSize, pNoSize, ok := s.freshQuote(ev, types.VenueP)
	if ok {
		edge, dir, liq := edgeForEntity(modelProb, pYesAsk, pNoAsk, pYesSize, pNoSize, false, forEntityA)
		if edge > bestEdge {
			bestEdge, bestVenue, bestDir, bestLiquidity = edge, types.VenueP, dir, liq
		}
	}

	if bestVenue == "" {
		return
	}
	if bestEdge < s.sigCfg.MinEdgePct {
		return
	}
	if modelProb < s.sigCfg.MinBuyProb || modelProb > s.sigCfg.MaxBuyProb {
		return
	}
	if bestLiquidity <= 0 {
		return
	}

	entity := ev.entityA
	if !forEntityA {
		entity = ev.entityB
	}

	sigType := types.SignalModelEdgeYes
	if bestDir == types.DirectionSell {
		sigType = types.SignalModelEdgeNo
	}

	now := time.Now()
	sig := types.Signal{
		SignalID:           uuid.NewString(),
		SignalType:         sigType,
		EventID:            ev.eventID,
		MarketType:         ev.marketType,
		Entity:             entity,
		Direction:          bestDir,
		ModelProb:          modelProb,
		EdgePct:            bestEdge,
		Confidence:         confidenceFromEdge(bestEdge),
		PlatformBuy:        bestVenue,
		LiquidityAvailable: bestLiquidity,
		Reason:             fmt.Sprintf("model edge %.1f%% on %s", bestEdge, bestVenue),
		CreatedAt:          now,
		ExpiresAt:          now.Add(s.sigCfg.SignalTTL),
	}
	s.publish(sig)
}

// edgeForEntity calls netEdge with the quote legs oriented for the
// requested entity: entity_a's Yes/No map straight onto the cell's
// Yes/No; entity_b's map onto the swapped No/Yes, since a two-outcome
// market's No side is exactly "entity_b occurs".
func edgeForEntity(modelProb float64, yesAsk, noAsk, yesSize, noSize uint16, isVenueK, forEntityA bool) (edgePct float64, direction types.Direction, liquidityUSD float64) {
	if forEntityA {
		return netEdge(modelProb, yesAsk, noAsk, yesSize, noSize, isVenueK)
	}
	return netEdge(modelProb, noAsk, yesAsk, noSize, yesSize, isVenueK)
}

// emitArbSignal runs the C4 scanner against ev's market cells and
// publishes a CrossMarketArb signal for cross-venue variants that fire.
func (s *Shard) emitArbSignal(ev *trackedEvent) {
	kCell, pCell, ok := s.table.ByID(ev.marketID)
	if !ok {
		return
	}
	kYesAsk, kNoAsk, _, _ := kCell.Load()
	pYesAsk, pNoAsk, pYesSize, pNoSize := pCell.Load()
	if kYesAsk == 0 || pYesAsk == 0 {
		return
	}

	quote := core.MarketQuote{KYes: int(kYesAsk), KNo: int(kNoAsk), PYes: int(pYesAsk), PNo: int(pNoAsk)}
	threshold := s.sigCfg.ArbThresholdCents
	if threshold == 0 {
		threshold = core.DefaultArbThreshold
	}
	mask := core.CheckArbs(quote, threshold)
	if mask&(core.ArbBuyYesPNoK|core.ArbBuyYesKNoP) == 0 {
		return // only cross-venue variants are reported here
	}
	variant, profit, ok := core.BestVariant(quote, mask&(core.ArbBuyYesPNoK|core.ArbBuyYesKNoP))
	if !ok || profit <= 0 {
		return
	}

	buyVenue, sellVenue := types.VenueP, types.VenueK
	if variant == core.ArbBuyYesKNoP {
		buyVenue, sellVenue = types.VenueK, types.VenueP
	}

	now := time.Now()
	sig := types.Signal{
		SignalID:           uuid.NewString(),
		SignalType:         types.SignalCrossMarketArb,
		EventID:            ev.eventID,
		MarketType:         ev.marketType,
		Entity:             ev.entityA,
		Direction:          types.DirectionBuy,
		EdgePct:            float64(profit),
		Confidence:         1.0,
		PlatformBuy:        buyVenue,
		PlatformSell:       sellVenue,
		LiquidityAvailable: float64(min16(pYesSize, pNoSize)) / 100.0,
		Reason:             fmt.Sprintf("cross-venue arb profit %d cents", profit),
		CreatedAt:          now,
		ExpiresAt:          now.Add(s.sigCfg.ArbSignalTTL),
	}
	s.publish(sig)
}

func (s *Shard) publish(sig types.Signal) {
	if err := s.bus.Publish(s.ctx, bus.SignalTopic(sig.SignalID), sig); err != nil {
		s.logger.Error("publish signal failed", "signal_id", sig.SignalID, "error", err)
	}
}

// freshQuote returns venue's yes_ask/no_ask/yes_size/no_size for ev's
// market, and false if the cell is empty or the venue hasn't updated
// within the configured staleness cutoff.
func (s *Shard) freshQuote(ev *trackedEvent, venue types.Venue) (yesAsk, noAsk, yesSize, noSize uint16, ok bool) {
	kCell, pCell, found := s.table.ByID(ev.marketID)
	if !found {
		return 0, 0, 0, 0, false
	}

	ev.mu.Lock()
	var last time.Time
	if venue == types.VenueK {
		last = ev.lastKUpdate
	} else {
		last = ev.lastPUpdate
	}
	ev.mu.Unlock()

	if last.IsZero() || time.Since(last) > s.sigCfg.StalenessCutoff {
		return 0, 0, 0, 0, false
	}

	var cell *core.Cell
	if venue == types.VenueK {
		cell = kCell
	} else {
		cell = pCell
	}
	yesAsk, noAsk, yesSize, noSize = cell.Load()
	if yesAsk == 0 && noAsk == 0 {
		return 0, 0, 0, 0, false
	}
	return yesAsk, noAsk, yesSize, noSize, true
}

func (s *Shard) publishHeartbeat() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	rec := types.ServiceRecord{
		ServiceID:       s.id,
		ServiceType:     types.ServiceShard,
		LastHeartbeat:   time.Now(),
		Status:          types.HealthHealthy,
		GameCount:       len(ids),
		MaxGames:        s.cfg.MaxGames,
		TrackedEventIDs: ids,
	}
	if err := s.bus.Publish(s.ctx, bus.ShardHeartbeatTopic(s.id), rec); err != nil {
		s.logger.Error("publish heartbeat failed", "error", err)
	}
}

// netEdge computes spec §4.9 step 4's net-edge formula for one venue.
// isVenueK selects the fee model: fee(p) on K, 2%*p on P. yes_bid is not
// stored directly (Cell only carries ask prices); it is derived as
// 1 - no_ask, the standard complementary-book relationship, so
// "1 - yes_bid" for the Sell price reduces to no_ask itself.
func netEdge(modelProb float64, yesAsk, noAsk, yesSize, noSize uint16, isVenueK bool) (edgePct float64, direction types.Direction, liquidityUSD float64) {
	if yesAsk == 0 || noAsk == 0 {
		return 0, types.DirectionHold, 0
	}
	yesBid := 100 - float64(noAsk)
	marketMid := ((float64(yesAsk) + yesBid) / 2) / 100

	direction = types.DirectionBuy
	executablePriceCents := float64(yesAsk)
	liquidityUSD = float64(yesSize) / 100
	if modelProb < marketMid {
		direction = types.DirectionSell
		executablePriceCents = 100 - yesBid
		liquidityUSD = float64(noSize) / 100
	}

	entryFee := feeForVenue(int(executablePriceCents), isVenueK)
	exitFeePriceCents := modelProb * 100
	exitFee := feeForVenue(int(exitFeePriceCents), isVenueK)

	edge := (modelProb - executablePriceCents/100 - entryFee/100 - exitFee/100) * 100
	return edge, direction, liquidityUSD
}

func feeForVenue(priceCents int, isVenueK bool) float64 {
	if isVenueK {
		return float64(core.FeeCents(priceCents))
	}
	return 0.02 * float64(priceCents)
}

// confidenceFromEdge maps edge magnitude to a [0,1] confidence score: a
// simple linear ramp that saturates at a 50%-edge signal, since the spec
// leaves the exact confidence curve unspecified.
func confidenceFromEdge(edgePct float64) float64 {
	c := edgePct / 50.0
	if c > 1 {
		return 1
	}
	if c < 0 {
		return 0
	}
	return c
}

func min16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}
