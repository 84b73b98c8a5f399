package core

import (
	"errors"
	"sync"

	"arbees/pkg/types"
)

// TableCapacity is the fixed number of market slots. Registration beyond
// this returns ErrCapacityExceeded.
const TableCapacity = 1024

// ErrCapacityExceeded is returned by Register once all 1024 slots are used.
var ErrCapacityExceeded = errors.New("core: market table capacity exceeded")

// ErrNotFound is returned by lookups for an unknown ticker/condition id or
// an out-of-range market id.
var ErrNotFound = errors.New("core: market not found")

// Table is the Global Market Table (C2): a fixed-capacity slab of atomic
// cell pairs (one per venue) plus metadata and two reverse lookups. The
// cell array is shared read-only after construction; only the metadata
// and lookup maps mutate, and they do so rarely (one registration per
// market), so a single RWMutex guards all three — mirroring the teacher's
// RWMutex-guarded metadata pattern in internal/risk/manager.go and
// internal/market/book.go.
type Table struct {
	mu sync.RWMutex

	kCells   [TableCapacity]Cell
	pCells   [TableCapacity]Cell
	metadata [TableCapacity]*types.MarketPair

	kalshiLookup map[string]types.MarketID
	polyLookup   map[string]types.MarketID
	nextID       types.MarketID
}

// NewTable constructs an empty Global Market Table.
func NewTable() *Table {
	return &Table{
		kalshiLookup: make(map[string]types.MarketID),
		polyLookup:   make(map[string]types.MarketID),
	}
}

// Register assigns the next sequential market_id (0..1023) to pair,
// inserts both reverse lookups, and stores the metadata. Returns
// ErrCapacityExceeded once 1024 markets are registered.
func (t *Table) Register(pair types.MarketPair) (types.MarketID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int(t.nextID) >= TableCapacity {
		return 0, ErrCapacityExceeded
	}

	id := t.nextID
	t.nextID++

	cp := pair
	t.metadata[id] = &cp
	if pair.KalshiTicker != "" {
		t.kalshiLookup[pair.KalshiTicker] = id
	}
	if pair.PolyConditionID != "" {
		t.polyLookup[pair.PolyConditionID] = id
	}

	return id, nil
}

// ByID returns the cell pair for a registered market_id. The two cells
// are returned directly (not copied) so callers can read/write them
// lock-free; ok is false for an unregistered or out-of-range id.
func (t *Table) ByID(id types.MarketID) (kCell, pCell *Cell, ok bool) {
	if int(id) >= TableCapacity {
		return nil, nil, false
	}
	t.mu.RLock()
	registered := t.metadata[id] != nil
	t.mu.RUnlock()
	if !registered {
		return nil, nil, false
	}
	return &t.kCells[id], &t.pCells[id], true
}

// ByVenueK resolves a venue-K ticker to its market_id.
func (t *Table) ByVenueK(ticker string) (types.MarketID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.kalshiLookup[ticker]
	if !ok {
		return 0, ErrNotFound
	}
	return id, nil
}

// ByVenueP resolves a venue-P condition id to its market_id.
func (t *Table) ByVenueP(conditionID string) (types.MarketID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.polyLookup[conditionID]
	if !ok {
		return 0, ErrNotFound
	}
	return id, nil
}

// UpdateVenueK stores a fresh venue-K quote for id with a single atomic
// store of the whole cell; no lock is taken since the cell array is
// fixed-size and shared read-only.
func (t *Table) UpdateVenueK(id types.MarketID, yesAsk, noAsk, yesSize, noSize uint16) error {
	if int(id) >= TableCapacity {
		return ErrNotFound
	}
	t.kCells[id].Store(yesAsk, noAsk, yesSize, noSize)
	return nil
}

// UpdateVenueP stores a fresh venue-P quote for id.
func (t *Table) UpdateVenueP(id types.MarketID, yesAsk, noAsk, yesSize, noSize uint16) error {
	if int(id) >= TableCapacity {
		return ErrNotFound
	}
	t.pCells[id].Store(yesAsk, noAsk, yesSize, noSize)
	return nil
}

// SnapshotBoth performs two independent atomic loads of the venue-K and
// venue-P cells for id. Each cell is internally consistent; the pair as a
// whole is only eventually consistent (the two loads are not a single
// atomic operation).
func (t *Table) SnapshotBoth(id types.MarketID) (kYesAsk, kNoAsk, kYesSize, kNoSize, pYesAsk, pNoAsk, pYesSize, pNoSize uint16, ok bool) {
	kCell, pCell, ok := t.ByID(id)
	if !ok {
		return
	}
	kYesAsk, kNoAsk, kYesSize, kNoSize = kCell.Load()
	pYesAsk, pNoAsk, pYesSize, pNoSize = pCell.Load()
	return kYesAsk, kNoAsk, kYesSize, kNoSize, pYesAsk, pNoAsk, pYesSize, pNoSize, true
}

// Metadata returns a copy of the stored MarketPair for id.
func (t *Table) Metadata(id types.MarketID) (types.MarketPair, bool) {
	if int(id) >= TableCapacity {
		return types.MarketPair{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	mp := t.metadata[id]
	if mp == nil {
		return types.MarketPair{}, false
	}
	return *mp, true
}

// MarketCount returns the number of registered markets.
func (t *Table) MarketCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return int(t.nextID)
}
