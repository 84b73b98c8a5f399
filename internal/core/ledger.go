package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"arbees/pkg/types"
)

// Leg is one side of one venue's position in a market: (contracts,
// cost_basis, avg_price). Grounded on rust_core/src/position_tracker.rs's
// PositionLeg, translated from f64 to shopspring/decimal (already a
// teacher dependency) to avoid cent-level drift across thousands of fills.
type Leg struct {
	Contracts decimal.Decimal `json:"contracts"`
	CostBasis decimal.Decimal `json:"cost_basis"`
	AvgPrice  decimal.Decimal `json:"avg_price"`
}

// Add folds a fill into the leg and recomputes avg_price = cost_basis /
// contracts.
func (l *Leg) Add(contracts, price decimal.Decimal) {
	cost := contracts.Mul(price)
	l.CostBasis = l.CostBasis.Add(cost)
	l.Contracts = l.Contracts.Add(contracts)
	if l.Contracts.IsPositive() {
		l.AvgPrice = l.CostBasis.Div(l.Contracts)
	}
}

// PositionStatus is the lifecycle state of an ArbPosition.
type PositionStatus string

const (
	PositionOpen     PositionStatus = "open"
	PositionClosed   PositionStatus = "closed"
	PositionResolved PositionStatus = "resolved"
)

// ArbPosition is the four-leg arbitrage position for one market_id:
// venue K / venue P, each with a Yes and No leg, plus accumulated fees
// and resolution state. Grounded on rust_core/src/position_tracker.rs's
// ArbPosition.
type ArbPosition struct {
	MarketID     types.MarketID  `json:"market_id"`
	Description  string          `json:"description"`
	KYes         Leg             `json:"k_yes"`
	KNo          Leg             `json:"k_no"`
	PYes         Leg             `json:"p_yes"`
	PNo          Leg             `json:"p_no"`
	TotalFees    decimal.Decimal `json:"total_fees"`
	Status       PositionStatus  `json:"status"`
	RealizedPnL  *decimal.Decimal `json:"realized_pnl,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewArbPosition creates an open position with zeroed legs.
func NewArbPosition(marketID types.MarketID, description string) *ArbPosition {
	return &ArbPosition{
		MarketID:    marketID,
		Description: description,
		Status:      PositionOpen,
		CreatedAt:   time.Now(),
	}
}

// TotalContracts sums contracts across all four legs.
func (p *ArbPosition) TotalContracts() decimal.Decimal {
	return p.KYes.Contracts.Add(p.KNo.Contracts).Add(p.PYes.Contracts).Add(p.PNo.Contracts)
}

// TotalCost sums cost basis across all four legs plus accumulated fees.
func (p *ArbPosition) TotalCost() decimal.Decimal {
	return p.KYes.CostBasis.Add(p.KNo.CostBasis).Add(p.PYes.CostBasis).Add(p.PNo.CostBasis).Add(p.TotalFees)
}

// MatchedContracts returns min(yes_total, no_total) across venues.
func (p *ArbPosition) MatchedContracts() decimal.Decimal {
	yesTotal := p.KYes.Contracts.Add(p.PYes.Contracts)
	noTotal := p.KNo.Contracts.Add(p.PNo.Contracts)
	if yesTotal.LessThan(noTotal) {
		return yesTotal
	}
	return noTotal
}

// GuaranteedProfit = matched_contracts - total_cost ($1 payout/contract).
func (p *ArbPosition) GuaranteedProfit() decimal.Decimal {
	return p.MatchedContracts().Sub(p.TotalCost())
}

// UnmatchedExposure = |yes_total - no_total|.
func (p *ArbPosition) UnmatchedExposure() decimal.Decimal {
	yesTotal := p.KYes.Contracts.Add(p.PYes.Contracts)
	noTotal := p.KNo.Contracts.Add(p.PNo.Contracts)
	return yesTotal.Sub(noTotal).Abs()
}

// Resolve settles the position given the outcome, computes realized PnL
// as payout - total_cost, and transitions status to resolved.
func (p *ArbPosition) Resolve(yesWon bool) decimal.Decimal {
	var payout decimal.Decimal
	if yesWon {
		payout = p.KYes.Contracts.Add(p.PYes.Contracts)
	} else {
		payout = p.KNo.Contracts.Add(p.PNo.Contracts)
	}

	pnl := payout.Sub(p.TotalCost())
	p.RealizedPnL = &pnl
	p.Status = PositionResolved
	return pnl
}

// Ledger owns every ArbPosition, keyed by market_id, plus daily/all-time
// realized PnL aggregates. Grounded on rust_core/src/position_tracker.rs's
// PositionTracker. Per spec §5's shared-resource policy, the ledger is
// owned by a single task (the position tracker service); this type itself
// has no internal locking because it is never shared across goroutines —
// callers serialize access the way the teacher's Inventory is only ever
// touched from its owning market's strategy goroutine.
type Ledger struct {
	positions        map[types.MarketID]*ArbPosition
	dailyRealizedPnL decimal.Decimal
	allTimePnL       decimal.Decimal
	tradingDate      string
}

// ledgerFile is the on-disk JSON shape, matching spec §6's persisted
// state keys exactly: positions, daily_realized_pnl, all_time_pnl,
// trading_date.
type ledgerFile struct {
	Positions        map[types.MarketID]*ArbPosition `json:"positions"`
	DailyRealizedPnL decimal.Decimal                 `json:"daily_realized_pnl"`
	AllTimePnL       decimal.Decimal                 `json:"all_time_pnl"`
	TradingDate      string                           `json:"trading_date"`
}

// NewLedger returns an empty ledger stamped with today's UTC trading date.
func NewLedger() *Ledger {
	return &Ledger{
		positions:   make(map[types.MarketID]*ArbPosition),
		tradingDate: time.Now().UTC().Format("2006-01-02"),
	}
}

// RecordFill folds a fill into the correct leg of the position for
// marketID, creating the position if it doesn't exist yet. Grounded on
// PositionTracker::record_fill's (platform, side) match arms.
func (l *Ledger) RecordFill(marketID types.MarketID, description string, venue types.Venue, side types.OrderSide, contracts, price, fees decimal.Decimal) {
	pos, ok := l.positions[marketID]
	if !ok {
		pos = NewArbPosition(marketID, description)
		l.positions[marketID] = pos
	}

	pos.TotalFees = pos.TotalFees.Add(fees)

	switch {
	case venue == types.VenueK && side == types.SideYes:
		pos.KYes.Add(contracts, price)
	case venue == types.VenueK && side == types.SideNo:
		pos.KNo.Add(contracts, price)
	case venue == types.VenueP && side == types.SideYes:
		pos.PYes.Add(contracts, price)
	case venue == types.VenueP && side == types.SideNo:
		pos.PNo.Add(contracts, price)
	}
}

// Position returns the position for marketID, if any.
func (l *Ledger) Position(marketID types.MarketID) (*ArbPosition, bool) {
	pos, ok := l.positions[marketID]
	return pos, ok
}

// ResolvePosition settles marketID's position and folds the realized PnL
// into both the daily and all-time aggregates.
func (l *Ledger) ResolvePosition(marketID types.MarketID, yesWon bool) (decimal.Decimal, bool) {
	pos, ok := l.positions[marketID]
	if !ok {
		return decimal.Zero, false
	}
	pnl := pos.Resolve(yesWon)
	l.dailyRealizedPnL = l.dailyRealizedPnL.Add(pnl)
	l.allTimePnL = l.allTimePnL.Add(pnl)
	return pnl, true
}

// OpenPositions returns every position with Status == PositionOpen.
func (l *Ledger) OpenPositions() []*ArbPosition {
	var out []*ArbPosition
	for _, pos := range l.positions {
		if pos.Status == PositionOpen {
			out = append(out, pos)
		}
	}
	return out
}

// Summary aggregates totals across open positions plus the running PnL
// figures, matching PositionTracker::summary.
type Summary struct {
	OpenCount              int
	TotalExposure          decimal.Decimal
	TotalGuaranteedProfit  decimal.Decimal
	TotalUnmatchedExposure decimal.Decimal
	DailyRealizedPnL       decimal.Decimal
	AllTimePnL             decimal.Decimal
}

// Summary returns the current aggregate summary.
func (l *Ledger) Summary() Summary {
	s := Summary{
		DailyRealizedPnL: l.dailyRealizedPnL,
		AllTimePnL:       l.allTimePnL,
	}
	for _, pos := range l.positions {
		if pos.Status != PositionOpen {
			continue
		}
		s.OpenCount++
		s.TotalExposure = s.TotalExposure.Add(pos.TotalCost())
		s.TotalGuaranteedProfit = s.TotalGuaranteedProfit.Add(pos.GuaranteedProfit())
		s.TotalUnmatchedExposure = s.TotalUnmatchedExposure.Add(pos.UnmatchedExposure())
	}
	return s
}

// ResetDailyPnL zeroes the daily aggregate and re-stamps the trading date,
// intended to be called once per UTC day.
func (l *Ledger) ResetDailyPnL() {
	l.dailyRealizedPnL = decimal.Zero
	l.tradingDate = time.Now().UTC().Format("2006-01-02")
}

// DailyPnL returns the running daily realized PnL.
func (l *Ledger) DailyPnL() decimal.Decimal {
	return l.dailyRealizedPnL
}

// AllTimePnL returns the running all-time realized PnL.
func (l *Ledger) AllTimePnL() decimal.Decimal {
	return l.allTimePnL
}

// Save atomically persists the full ledger state to <dir>/ledger.json.
// Grounded on internal/store/store.go's SavePosition: write to a .tmp
// file, then rename, so a crash mid-write never leaves a truncated file
// on disk. Unlike the teacher's per-market file, the ledger is small
// enough (<=1024 positions) to snapshot as a single file, matching
// rust_core/src/position_tracker.rs's save_to_disk.
func (l *Ledger) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	data, err := json.Marshal(ledgerFile{
		Positions:        l.positions,
		DailyRealizedPnL: l.dailyRealizedPnL,
		AllTimePnL:       l.allTimePnL,
		TradingDate:      l.tradingDate,
	})
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	path := filepath.Join(dir, "ledger.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadLedger restores a ledger previously written by Save. If no snapshot
// file exists yet, it returns a fresh empty ledger rather than an error,
// matching the teacher's LoadPosition "nil, nil on fresh market" idiom.
func LoadLedger(dir string) (*Ledger, error) {
	path := filepath.Join(dir, "ledger.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewLedger(), nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	var lf ledgerFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("unmarshal ledger: %w", err)
	}

	if lf.Positions == nil {
		lf.Positions = make(map[types.MarketID]*ArbPosition)
	}
	return &Ledger{
		positions:        lf.Positions,
		dailyRealizedPnL: lf.DailyRealizedPnL,
		allTimePnL:       lf.AllTimePnL,
		tradingDate:      lf.TradingDate,
	}, nil
}
