package probability

import (
	"fmt"
	"math"

	"arbees/pkg/types"
)

// SportModel estimates in-game win probability from score margin and time
// remaining. Grounded on original_source/rust_core/src/probability/sport.rs's
// SportWinProbabilityModel, which wraps a separate win_prob::calculate_win_probability
// helper not present in the retrieval pack; this model implements the same
// contract (rich game state in, clamped probability out) with a standard
// margin/time-decay logistic in its place, scaled so a larger lead matters
// more as the clock runs down.
type SportModel struct {
	homeCourtEdge float64 // constant edge added to entity_a's (home) logit
}

// NewSportModel returns a model with a modest home-court/home-field edge.
func NewSportModel() *SportModel {
	return &SportModel{homeCourtEdge: 0.03}
}

func (m *SportModel) Supports(mt types.MarketType) bool {
	return mt.Kind == types.MarketTypeSport
}

func (m *SportModel) Name() string {
	return "sport_win_probability"
}

// Calculate converts the score margin into a probability via a logistic
// curve whose steepness increases as time_remaining falls toward zero:
// the same lead is worth more with two minutes left than at tip-off.
func (m *SportModel) Calculate(state types.EventState, forEntityA bool) (float64, error) {
	if state.Sport == nil {
		return 0, fmt.Errorf("sport model: event %q has no sport state", state.EventID)
	}
	s := state.Sport

	margin := float64(s.ScoreA - s.ScoreB)
	if !forEntityA {
		margin = -margin
	}

	elapsedFrac := gameProgress(s.Period, s.ClockSecs)
	urgency := 0.5 + 3.5*elapsedFrac // logistic steepness grows as the game winds down
	logit := urgency*margin/10 + signedEdge(m.homeCourtEdge, forEntityA)

	prob := 1 / (1 + math.Exp(-logit))
	return clamp01(prob), nil
}

// gameProgress estimates how far through a 4-period, 12-minutes-per-period
// game the clock is, in [0,1]. Sports with different period structures
// still produce a monotonically increasing estimate, which is all the
// logistic steepness term needs.
func gameProgress(period, clockSecs int) float64 {
	const periodsTotal = 4
	const secsPerPeriod = 720
	if period <= 0 {
		return 0
	}
	elapsedPeriods := float64(period - 1)
	elapsedSecsThisPeriod := float64(secsPerPeriod - clockSecs)
	if elapsedSecsThisPeriod < 0 {
		elapsedSecsThisPeriod = 0
	}
	frac := (elapsedPeriods + elapsedSecsThisPeriod/secsPerPeriod) / periodsTotal
	return clamp01(frac)
}

func signedEdge(edge float64, forEntityA bool) float64 {
	if forEntityA {
		return edge
	}
	return -edge
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
