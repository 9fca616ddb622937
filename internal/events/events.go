package events

import (
	"context"

	"github.com/example/ride-dispatch/internal/models"
)

// Publisher emits the event streams consumed by downstream
// collaborators: ride status changes, driver availability changes and
// final trip metrics. All methods are best effort; the caller logs
// failures and never blocks a state transition on delivery.
type Publisher interface {
	RideStatusChanged(ctx context.Context, ride *models.Ride, from models.RideStatus) error
	DriverAvailabilityChanged(ctx context.Context, driverID string, from, to models.DriverStatus) error
	TripCompleted(ctx context.Context, ride *models.Ride) error
}

// Nop discards all events. Used in tests and when no broker is wired.
type Nop struct{}

func (Nop) RideStatusChanged(ctx context.Context, ride *models.Ride, from models.RideStatus) error {
	return nil
}

func (Nop) DriverAvailabilityChanged(ctx context.Context, driverID string, from, to models.DriverStatus) error {
	return nil
}

func (Nop) TripCompleted(ctx context.Context, ride *models.Ride) error { return nil }
