// Package geo adapts external travel-time/distance providers behind a
// single Oracle interface.
package geo

import (
	"context"
	"errors"
	"math"

	"calroute/internal/model"
)

// Cost is one travel-cost answer.
type Cost struct {
	DurationSec int
	DistanceM   int
}

// ErrUnknown reports that the provider could not price the pair. Callers
// degrade the edge rather than failing the run.
var ErrUnknown = errors.New("travel cost unknown")

// Oracle answers pairwise travel-cost queries. Pure query, no state.
type Oracle interface {
	TravelCost(ctx context.Context, from, to model.Location, mode model.TravelMode) (Cost, error)
}

// modeSpeedKph are the great-circle estimator speeds per mode.
var modeSpeedKph = map[model.TravelMode]float64{
	model.ModeDriving:   40,
	model.ModeBicycling: 15,
	model.ModeWalking:   4.5,
	model.ModeTransit:   25,
}

// HaversineOracle estimates travel cost from great-circle distance at a
// per-mode speed. Used when no routing provider is configured, and in tests.
// Requires geocoded points on both ends.
type HaversineOracle struct{}

func (HaversineOracle) TravelCost(_ context.Context, from, to model.Location, mode model.TravelMode) (Cost, error) {
	if from.Point == nil || to.Point == nil {
		return Cost{}, ErrUnknown
	}
	d := haversineMeters(from.Point.Lat, from.Point.Lng, to.Point.Lat, to.Point.Lng)
	speed := modeSpeedKph[mode]
	if speed <= 0 {
		speed = modeSpeedKph[model.ModeDriving]
	}
	return Cost{
		DurationSec: int(math.Round(d / (speed / 3.6))),
		DistanceM:   int(math.Round(d)),
	}, nil
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
