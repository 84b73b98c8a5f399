package execution

import (
	"sync"
	"time"
)

// DailyPnLTracker holds a running realized-P&L total for the current UTC
// trading day, reset whenever the day rolls over. Grounded on
// original_source's position_tracker.rs reset_daily_pnl, which snaps
// TradingDate to the current UTC day rather than a rolling 24h window.
type DailyPnLTracker struct {
	mu           sync.Mutex
	tradingDate  time.Time
	runningPnL   float64
}

// NewDailyPnLTracker starts a tracker for today (UTC).
func NewDailyPnLTracker() *DailyPnLTracker {
	return &DailyPnLTracker{tradingDate: utcDate(time.Now())}
}

func utcDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Record adds delta to the running total, rolling the day over first if
// the clock has crossed into a new UTC date.
func (d *DailyPnLTracker) Record(now time.Time, delta float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollIfNeededLocked(now)
	d.runningPnL += delta
}

// Running returns the running P&L for the current UTC day, rolling over
// first if needed.
func (d *DailyPnLTracker) Running(now time.Time) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollIfNeededLocked(now)
	return d.runningPnL
}

func (d *DailyPnLTracker) rollIfNeededLocked(now time.Time) {
	today := utcDate(now)
	if today.After(d.tradingDate) {
		d.tradingDate = today
		d.runningPnL = 0
	}
}

// ExceedsLimit reports whether the running P&L has breached
// -maxDailyLoss.
func (d *DailyPnLTracker) ExceedsLimit(now time.Time, maxDailyLoss float64) bool {
	return d.Running(now) <= -maxDailyLoss
}
