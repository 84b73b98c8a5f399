package orchestrator

import "context"

// VenueMarket is one entry in a venue's market catalogue: an opaque
// venue-specific identifier (ticker or condition id) plus a free-text
// description the entity matcher cross-matches against event entities.
type VenueMarket struct {
	ID          string
	Description string
}

// VenueCatalogue is implemented by internal/venue/kalshi and
// internal/venue/poly to expose their tradeable-market list for
// cross-matching during discovery.
type VenueCatalogue interface {
	Markets(ctx context.Context) ([]VenueMarket, error)
	Name() string
}
