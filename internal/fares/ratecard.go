// Package fares is the default stand-in for the external fare/promo
// subsystem: a flat rate card. Deployments point the dispatch core at
// the real pricing service instead.
package fares

import (
	"context"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// RateCard estimates fares from straight-line distance. Amounts are in
// minor currency units.
type RateCard struct {
	BaseFare int64
	PerKm    int64
}

func NewRateCard(base, perKm int64) *RateCard {
	return &RateCard{BaseFare: base, PerKm: perKm}
}

func (r *RateCard) Estimate(ctx context.Context, pickup, dropoff models.Coord, vehicleClass string) (int64, error) {
	km := geo.HaversineKm(pickup.Lat, pickup.Lon, dropoff.Lat, dropoff.Lon)
	return r.BaseFare + int64(km*float64(r.PerKm)), nil
}

// Finalize prices the trip on GPS-measured distance, which can exceed
// the straight-line estimate.
func (r *RateCard) Finalize(ctx context.Context, ride *models.Ride, distanceKm float64, durationSec int64) (int64, error) {
	return r.BaseFare + int64(distanceKm*float64(r.PerKm)), nil
}
