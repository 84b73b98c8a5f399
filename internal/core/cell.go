// Package core implements the hot-path market-state and arbitrage
// detection engine: the atomic order-book cell, the global market table,
// the venue-K fee table, the SIMD-style arbitrage scanner, the in-flight
// dedup bitmap, and the position ledger.
//
// Everything in this file is lock-free (the table, in-flight bitmap and
// ledger beside it use mutexes for their metadata): a single
// atomic 64-bit word per cell, compare-and-swap retry loops for partial
// updates, and no suspension points. This mirrors the one-word-per-market
// design in the original atomic_orderbook.rs, translated from
// AtomicU64/Ordering::SeqCst to Go's sync/atomic.Uint64, which already
// gives sequentially-consistent semantics on Load/Store/CompareAndSwap.
package core

import "sync/atomic"

// Cell is the packed 64-bit atomic snapshot of one market's top-of-book
// quotes on one venue: yes_ask, no_ask, yes_size, no_size, each an
// unsigned 16-bit value, packed most-significant-first as
// [yes_ask:16 | no_ask:16 | yes_size:16 | no_size:16]. Prices are integer
// cents in [0,100]; sizes are integer cents of notional. A zero word means
// "no data".
type Cell struct {
	word atomic.Uint64
}

// Pack combines four uint16 fields into the 64-bit layout the spec
// defines. Exposed so tests and callers can construct expected values
// directly (e.g. Pack(9500, 9600, 250, 300) == 0x251C_2580_00FA_012C).
func Pack(yesAsk, noAsk, yesSize, noSize uint16) uint64 {
	return uint64(yesAsk)<<48 | uint64(noAsk)<<32 | uint64(yesSize)<<16 | uint64(noSize)
}

// Unpack splits a packed word back into its four fields.
func Unpack(word uint64) (yesAsk, noAsk, yesSize, noSize uint16) {
	yesAsk = uint16(word >> 48)
	noAsk = uint16(word >> 32)
	yesSize = uint16(word >> 16)
	noSize = uint16(word)
	return
}

// Load performs a single sequentially-consistent read and returns the
// unpacked quadruple.
func (c *Cell) Load() (yesAsk, noAsk, yesSize, noSize uint16) {
	return Unpack(c.word.Load())
}

// Store performs a single sequentially-consistent write of all four
// fields at once.
func (c *Cell) Store(yesAsk, noAsk, yesSize, noSize uint16) {
	c.word.Store(Pack(yesAsk, noAsk, yesSize, noSize))
}

// Raw returns the packed word as-is, mainly for tests and diagnostics.
func (c *Cell) Raw() uint64 {
	return c.word.Load()
}

// UpdateYes overwrites yes_ask/yes_size while preserving whatever no_ask/
// no_size currently hold, via a compare-and-swap retry loop. At most two
// writers contend per cell by construction (one venue-K monitor, one
// venue-P monitor), so the loop terminates in expectation without
// bounding the retry count explicitly.
func (c *Cell) UpdateYes(yesAsk, yesSize uint16) {
	for {
		old := c.word.Load()
		_, noAsk, _, noSize := Unpack(old)
		next := Pack(yesAsk, noAsk, yesSize, noSize)
		if c.word.CompareAndSwap(old, next) {
			return
		}
	}
}

// UpdateNo overwrites no_ask/no_size while preserving yes_ask/yes_size.
func (c *Cell) UpdateNo(noAsk, noSize uint16) {
	for {
		old := c.word.Load()
		yesAsk, _, yesSize, _ := Unpack(old)
		next := Pack(yesAsk, noAsk, yesSize, noSize)
		if c.word.CompareAndSwap(old, next) {
			return
		}
	}
}

// IsEmpty reports whether the cell holds no data (the zero word).
func (c *Cell) IsEmpty() bool {
	return c.word.Load() == 0
}
