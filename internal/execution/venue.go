package execution

import (
	"context"
	"time"

	"arbees/pkg/types"
)

// Fill is what a VenueExecutor reports back for one placement attempt,
// before the engine stamps timing/latency onto the final ExecutionResult.
type Fill struct {
	OrderID   string
	FilledQty float64
	AvgPrice  float64
	Fees      float64
	Rejected  bool
	Reason    string
}

// VenueExecutor places one order. Implementations: PaperExecutor (always
// fills at limit), the venue-K stub (always rejects: not implemented),
// and internal/venue/poly's real FAK client.
type VenueExecutor interface {
	Place(ctx context.Context, req types.ExecutionRequest) (Fill, error)
}

// PaperExecutor simulates a fill at the requested limit price with no
// fees, for the paper venue spec §4.11's placement switch always routes
// to a guaranteed fill.
type PaperExecutor struct{}

func (PaperExecutor) Place(ctx context.Context, req types.ExecutionRequest) (Fill, error) {
	return Fill{
		OrderID:   "paper-" + req.RequestID,
		FilledQty: req.Size,
		AvgPrice:  req.LimitPrice,
		Fees:      0,
	}, nil
}

// NotImplementedExecutor always rejects, for venue K per spec §9's open
// question: live placement there is out of scope until a real client is
// wired in.
type NotImplementedExecutor struct{}

func (NotImplementedExecutor) Place(ctx context.Context, req types.ExecutionRequest) (Fill, error) {
	return Fill{Rejected: true, Reason: "not implemented"}, nil
}

// latencyMs computes the requested-to-executed latency the original
// implementation always includes in ExecutionResult.
func latencyMs(requestedAt, executedAt time.Time) float64 {
	return float64(executedAt.Sub(requestedAt).Microseconds()) / 1000.0
}
