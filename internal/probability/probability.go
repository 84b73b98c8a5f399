// Package probability implements the pluggable probability-model
// registry: one model per market type family, each turning an
// EventState into a calibrated P(entity_a wins/occurs) ∈ [0,1].
// Grounded on original_source/rust_core/src/probability/mod.rs's
// ProbabilityModel trait and ProbabilityModelRegistry (first-match
// dispatch by supports(market_type)).
package probability

import (
	"fmt"
	"math"

	"arbees/pkg/types"
)

// Model is the interface every probability model implements.
type Model interface {
	Calculate(state types.EventState, forEntityA bool) (float64, error)
	Supports(mt types.MarketType) bool
	Name() string
}

// Registry holds an ordered list of models and dispatches to the first
// one whose Supports reports true, matching ProbabilityModelRegistry's
// first-match-wins semantics.
type Registry struct {
	models []Model
}

// NewRegistry returns an empty registry; callers register models
// explicitly rather than relying on a compiled-in default list.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends m to the dispatch list. Order matters: the first
// model whose Supports matches wins, so more specific models should be
// registered before general fallbacks.
func (r *Registry) Register(m Model) {
	r.models = append(r.models, m)
}

// Calculate finds the first model supporting state.MarketType and
// invokes it, validating the result is a finite value in [0,1].
func (r *Registry) Calculate(state types.EventState, forEntityA bool) (float64, error) {
	for _, m := range r.models {
		if !m.Supports(state.MarketType) {
			continue
		}
		prob, err := m.Calculate(state, forEntityA)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(prob) || prob < 0 || prob > 1 {
			return 0, fmt.Errorf("model %s returned invalid probability %v", m.Name(), prob)
		}
		return prob, nil
	}
	return 0, fmt.Errorf("no probability model registered for market type %q", state.MarketType.Key())
}
