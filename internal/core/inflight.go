package core

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// InFlightCapacity is the number of distinct market_ids the dedup bitmap
// can track; ids >= this are rejected.
const InFlightCapacity = 512

// InFlightBitmap is a 512-bit set used by the execution engine to collapse
// duplicate concurrent executions per market_id. Grounded on
// rust_core/src/execution.rs's ExecutionTracker, which backs the same
// semantics with a raw [AtomicU64; 8] and fetch_or/fetch_and. bitset.BitSet
// is not itself goroutine-safe, so a single mutex serializes the
// test-and-set / clear pair to give the fetch_or/fetch_and atomicity the
// spec requires: between a successful TryAcquire and its matching
// Release, no other caller observes a second acquisition.
type InFlightBitmap struct {
	mu  sync.Mutex
	set *bitset.BitSet
}

// NewInFlightBitmap returns an empty bitmap.
func NewInFlightBitmap() *InFlightBitmap {
	return &InFlightBitmap{set: bitset.New(InFlightCapacity)}
}

// TryAcquire sets the bit for marketID and returns true iff it was
// previously clear. IDs >= 512 are rejected (return false).
func (b *InFlightBitmap) TryAcquire(marketID int) bool {
	if marketID < 0 || marketID >= InFlightCapacity {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.set.Test(uint(marketID)) {
		return false
	}
	b.set.Set(uint(marketID))
	return true
}

// Release clears the bit for marketID.
func (b *InFlightBitmap) Release(marketID int) {
	if marketID < 0 || marketID >= InFlightCapacity {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set.Clear(uint(marketID))
}

// IsInFlight tests the bit for marketID without mutating it.
func (b *InFlightBitmap) IsInFlight(marketID int) bool {
	if marketID < 0 || marketID >= InFlightCapacity {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.set.Test(uint(marketID))
}

// Count returns the number of currently in-flight market ids.
func (b *InFlightBitmap) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.set.Count())
}
