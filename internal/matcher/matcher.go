package matcher

import (
	"context"
	"sort"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// DriverLister is the slice of the driver store the matcher needs.
type DriverLister interface {
	ListDriversByStatus(ctx context.Context, statuses ...models.DriverStatus) ([]*models.Driver, error)
}

// Candidate pairs a matchable driver with their last known position and
// distance to the pickup at match time.
type Candidate struct {
	Driver     *models.Driver
	Loc        models.Coord
	DistanceKm float64
}

// Service selects nearby, compatible drivers for on-demand rides.
// Filtering and distance math are pure, so concurrent calls need no
// coordination.
type Service struct {
	Drivers   DriverLister
	Locations geo.LocationStore

	RadiusKm  float64       // candidates farther than this are discarded
	Freshness time.Duration // location records older than this are ignored

	now func() time.Time // test hook
}

func New(drivers DriverLister, locations geo.LocationStore, radiusKm float64, freshness time.Duration) *Service {
	return &Service{
		Drivers:   drivers,
		Locations: locations,
		RadiusKm:  radiusKm,
		Freshness: freshness,
		now:       time.Now,
	}
}

// FindCandidates returns eligible drivers ordered by ascending distance.
// Only requested, on-demand rides go through here; scheduled bookings
// are assigned by operators and never enter the matcher.
func (s *Service) FindCandidates(ctx context.Context, ride *models.Ride) ([]Candidate, error) {
	if ride.Category != models.CategoryOnDemand || ride.Status != models.RideRequested {
		return nil, nil
	}

	drivers, err := s.Drivers.ListDriversByStatus(ctx, models.DriverOnline, models.DriverBusy)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-s.Freshness)
	out := make([]Candidate, 0, len(drivers))
	for _, d := range drivers {
		if !d.Verified {
			continue
		}
		if !models.ClassMatches(ride.VehicleClass, d.VehicleClass) {
			continue
		}
		rec, ok, err := s.Locations.Latest(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		// stale positions are treated the same as absent ones
		if !ok || rec.UpdatedAt.Before(cutoff) {
			continue
		}
		dist := geo.HaversineKm(rec.Loc.Lat, rec.Loc.Lon, ride.Pickup.Lat, ride.Pickup.Lon)
		if dist > s.RadiusKm {
			continue
		}
		out = append(out, Candidate{Driver: d, Loc: rec.Loc, DistanceKm: dist})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	observability.CandidatesFound.Observe(float64(len(out)))
	return out, nil
}
