package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDriverHasActiveRide is the storage-level uniqueness backstop:
	// at most one ride in an active status may reference a driver.
	ErrDriverHasActiveRide = errors.New("driver already has an active ride")
)

// RideStore persists rides. All state transitions are single conditional
// updates: they report false when the ride was no longer in the expected
// state, so concurrent callers race safely without application locks.
type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)

	// AssignDriver atomically moves an unassigned, requested ride to
	// accepted with the given driver. Exactly one concurrent caller can
	// succeed. Returns ErrDriverHasActiveRide when the driver already
	// holds an active ride at commit time.
	AssignDriver(ctx context.Context, rideID, driverID string) (bool, error)

	// TransitionRide is a compare-and-swap on the status column.
	TransitionRide(ctx context.Context, rideID string, from, to models.RideStatus) (bool, error)

	// CompleteRide finishes an in-progress ride, recording final metrics.
	// estimatedFare is stored alongside finalFare so a charge above the
	// original estimate raises the estimate instead of violating it.
	CompleteRide(ctx context.Context, rideID string, finalFare, estimatedFare int64, distanceKm float64, durationSec int64) (bool, error)

	// CancelRide cancels from any non-terminal state.
	CancelRide(ctx context.Context, rideID, by, reason string) (bool, error)

	// ActiveRideForDriver returns the ride currently committing the
	// driver, if any.
	ActiveRideForDriver(ctx context.Context, driverID string) (*models.Ride, bool, error)
}

// OfferStore persists ride offers.
type OfferStore interface {
	CreateOffer(ctx context.Context, o *models.Offer) error
	GetOffer(ctx context.Context, id string) (*models.Offer, error)
	OffersByRide(ctx context.Context, rideID string) ([]*models.Offer, error)

	// CloseOffers terminates every pending offer for the ride: the
	// winner's becomes accepted, all others withdrawn. A ride with no
	// winner (cancelled before acceptance) passes winnerDriverID "".
	CloseOffers(ctx context.Context, rideID, winnerDriverID string) error

	// ExpireSweep marks pending offers past their expiry as expired and
	// returns how many it touched. Safe to run at any time.
	ExpireSweep(ctx context.Context, now time.Time) (int, error)
}

// DriverStore persists drivers and their availability state.
type DriverStore interface {
	CreateDriver(ctx context.Context, d *models.Driver) error
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	ListDriversByStatus(ctx context.Context, statuses ...models.DriverStatus) ([]*models.Driver, error)
	// SetDriverStatus is idempotent: setting the current status is a no-op.
	SetDriverStatus(ctx context.Context, id string, status models.DriverStatus) error
}

// BookingStore persists operator-assigned scheduled bookings.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	TransitionBooking(ctx context.Context, id string, from, to models.BookingStatus) (bool, error)
	// CommittedBookingExists reports whether the driver has a booking at
	// the arrived stage, which counts toward their busy state.
	CommittedBookingExists(ctx context.Context, driverID string) (bool, error)
}

// Store aggregates all dispatch persistence behind one value.
type Store interface {
	RideStore
	OfferStore
	DriverStore
	BookingStore
}
