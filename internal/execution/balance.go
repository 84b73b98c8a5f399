package execution

import (
	"sync"
	"time"

	"arbees/pkg/types"
)

// balanceEntry is one venue's cached balance plus its last refresh time.
type balanceEntry struct {
	amount    float64
	updatedAt time.Time
}

// BalanceCache holds a per-venue cached balance guarded by a
// readers-writer lock, since reads (one per execution request) vastly
// outnumber writes (one per balance refresh or post-trade debit).
type BalanceCache struct {
	staleAfter time.Duration

	mu    sync.RWMutex
	cache map[types.Venue]balanceEntry
}

// NewBalanceCache constructs a cache that considers an entry stale after
// staleAfter has elapsed since its last update.
func NewBalanceCache(staleAfter time.Duration) *BalanceCache {
	return &BalanceCache{staleAfter: staleAfter, cache: make(map[types.Venue]balanceEntry)}
}

// Set records a fresh balance for venue.
func (c *BalanceCache) Set(venue types.Venue, amount float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[venue] = balanceEntry{amount: amount, updatedAt: time.Now()}
}

// Debit reduces venue's cached balance by amount and marks the entry
// stale by backdating it, per spec §4.11's post-trade "mark balance
// cache stale" step — the next read will warn but still proceed.
func (c *BalanceCache) Debit(venue types.Venue, amount float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache[venue]
	if !ok {
		return
	}
	e.amount -= amount
	e.updatedAt = time.Now().Add(-c.staleAfter)
	c.cache[venue] = e
}

// Get returns venue's cached balance, whether it's known at all, and
// whether it's stale (known but old).
func (c *BalanceCache) Get(venue types.Venue) (amount float64, known, stale bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.cache[venue]
	if !ok {
		return 0, false, false
	}
	return e.amount, true, time.Since(e.updatedAt) > c.staleAfter
}

// Lookup adapts Get to the signalproc.BalanceLookup shape.
func (c *BalanceCache) Lookup(venue types.Venue) (float64, bool) {
	amount, known, _ := c.Get(venue)
	return amount, known
}
