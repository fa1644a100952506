package store

import (
	"context"
	"errors"

	"calroute/internal/model"
)

// Store persists finalized itineraries as schedule + route records. The
// optimizer itself owns no persistent state; each itinerary handed off here
// is a complete replacement of the user's current plan.
type Store interface {
	// Itineraries
	SaveItinerary(ctx context.Context, it model.Itinerary) error
	GetItinerary(ctx context.Context, userID string) (model.Itinerary, error)
	ListItineraries(ctx context.Context, userID string, limit int) ([]model.Itinerary, error)

	// Plan metrics per user/day
	SavePlanMetrics(ctx context.Context, userID, planDate string, metrics map[string]any) error
	ListPlanMetrics(ctx context.Context, userID, planDate string) ([]map[string]any, error)
}

var ErrNotFound = errors.New("not found")
