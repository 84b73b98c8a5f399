package probability

import (
	"fmt"
	"math"
	"time"

	"arbees/pkg/types"
)

// CryptoModel prices "will asset be above target by target_date"
// markets with the standard lognormal price-target formula: under
// geometric Brownian motion, P(S_T > K) = Φ(d2) with
// d2 = (ln(S/K) - 0.5*σ²*T) / (σ*√T), same structure spec §4.7 names
// ("lognormal price-target formula; input: current price, target,
// target date, annualised volatility").
type CryptoModel struct {
	now func() time.Time
}

// NewCryptoModel returns a model using wall-clock time for T.
func NewCryptoModel() *CryptoModel {
	return &CryptoModel{now: time.Now}
}

func (m *CryptoModel) Supports(mt types.MarketType) bool {
	return mt.Kind == types.MarketTypeCrypto
}

func (m *CryptoModel) Name() string {
	return "crypto_lognormal"
}

// Calculate returns P(current asset price ends above target by
// target_date). forEntityA selects "above" (true) vs "below" (false),
// matching the spec's entity_a/entity_b convention for directional
// crypto markets ("price above X by date Y" vs its complement).
func (m *CryptoModel) Calculate(state types.EventState, forEntityA bool) (float64, error) {
	if state.Crypto == nil {
		return 0, fmt.Errorf("crypto model: event %q has no crypto state", state.EventID)
	}
	c := state.Crypto

	if c.CurrentPrice <= 0 || c.TargetPrice <= 0 {
		return 0, fmt.Errorf("crypto model: non-positive price (current=%v target=%v)", c.CurrentPrice, c.TargetPrice)
	}

	years := c.TargetDate.Sub(m.now()).Hours() / (24 * 365.25)
	if years <= 0 {
		// Resolution is now or in the past: probability collapses to
		// whether the current price already clears the target.
		if c.CurrentPrice > c.TargetPrice {
			return boolProb(forEntityA, 1), nil
		}
		return boolProb(forEntityA, 0), nil
	}

	sigma := c.AnnualizedVolPct / 100
	if sigma <= 0 {
		return 0, fmt.Errorf("crypto model: non-positive volatility %v", c.AnnualizedVolPct)
	}

	d2 := (math.Log(c.CurrentPrice/c.TargetPrice) - 0.5*sigma*sigma*years) / (sigma * math.Sqrt(years))
	probAbove := normalCDF(d2)

	return clamp01(boolProb(forEntityA, probAbove)), nil
}

// boolProb returns p when forEntityA, or its complement otherwise.
func boolProb(forEntityA bool, p float64) float64 {
	if forEntityA {
		return p
	}
	return 1 - p
}

// normalCDF is the standard normal cumulative distribution function,
// Φ(x) = 0.5*(1 + erf(x/√2)).
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}
