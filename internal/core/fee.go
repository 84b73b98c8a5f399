package core

// feeTable is the compile-time-equivalent 101-entry fee schedule for
// venue K: feeTable[p] = ceil(7*p*(100-p)/10000), for p in [0,100]. Built
// once in init() rather than as a Go const array literal, since Go has no
// const-eval loop the way Rust's atomic_orderbook.rs builds KALSHI_FEE_TABLE
// with a `while` loop at compile time — the result is identical, just
// computed at package init instead of compile time.
var feeTable [101]uint16

func init() {
	for p := 0; p <= 100; p++ {
		raw := 7 * p * (100 - p)
		feeTable[p] = uint16((raw + 9999) / 10000)
	}
}

// FeeCents returns the pre-computed venue-K fee for a price of p cents.
// p > 100 returns 0 defensively (undefined input, not a panic).
func FeeCents(p int) uint16 {
	if p < 0 || p > 100 {
		return 0
	}
	return feeTable[p]
}
