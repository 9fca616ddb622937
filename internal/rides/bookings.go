package rides

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

type BookingCommand struct {
	RiderID      string       `json:"rider_id"`
	DriverID     string       `json:"driver_id"`
	VehicleClass string       `json:"vehicle_class"`
	Pickup       models.Coord `json:"pickup"`
	PickupAddr   string       `json:"pickup_addr"`
	Dropoff      models.Coord `json:"dropoff"`
	DropoffAddr  string       `json:"dropoff_addr"`
	PickupAt     time.Time    `json:"pickup_at"`
}

// CreateBooking places a future, operator-assigned booking. Assignment
// does not occupy the driver: they stay online and matchable for
// on-demand work until they arrive at the scheduled pickup.
func (s *Service) CreateBooking(ctx context.Context, cmd BookingCommand) (*models.Booking, error) {
	if cmd.RiderID == "" || cmd.DriverID == "" {
		return nil, fmt.Errorf("%w: rider_id and driver_id are required", ErrValidation)
	}
	if cmd.PickupAt.Before(time.Now()) {
		return nil, fmt.Errorf("%w: pickup_at is in the past", ErrValidation)
	}
	if _, err := s.Store.GetDriver(ctx, cmd.DriverID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: driver %s", ErrNotFound, cmd.DriverID)
		}
		return nil, err
	}
	now := time.Now()
	b := &models.Booking{
		ID:           uuid.NewString(),
		RiderID:      cmd.RiderID,
		DriverID:     cmd.DriverID,
		VehicleClass: cmd.VehicleClass,
		Pickup:       cmd.Pickup,
		PickupAddr:   cmd.PickupAddr,
		Dropoff:      cmd.Dropoff,
		DropoffAddr:  cmd.DropoffAddr,
		PickupAt:     cmd.PickupAt,
		Status:       models.BookingAssigned,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.CreateBooking(ctx, b); err != nil {
		return nil, err
	}
	s.Logger.Info("booking created", "booking_id", b.ID, "driver_id", b.DriverID, "pickup_at", b.PickupAt)
	return b, nil
}

// BookingArrive marks the driver at the scheduled pickup. This is the
// point a booking starts occupying its driver.
func (s *Service) BookingArrive(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	b, err := s.bookingForDriver(ctx, bookingID, driverID)
	if err != nil {
		return nil, err
	}
	ok, err := s.Store.TransitionBooking(ctx, bookingID, models.BookingAssigned, models.BookingArrived)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: cannot arrive from %s", ErrInvalidTransition, b.Status)
	}
	b.Status = models.BookingArrived
	if err := s.Avail.MarkBusy(ctx, driverID); err != nil {
		s.Logger.Error("mark busy failed", "driver_id", driverID, "error", err)
	}
	return b, nil
}

// BookingComplete finishes an arrived booking and frees the driver.
func (s *Service) BookingComplete(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	b, err := s.bookingForDriver(ctx, bookingID, driverID)
	if err != nil {
		return nil, err
	}
	ok, err := s.Store.TransitionBooking(ctx, bookingID, models.BookingArrived, models.BookingCompleted)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: cannot complete from %s", ErrInvalidTransition, b.Status)
	}
	b.Status = models.BookingCompleted
	if err := s.Avail.Reconcile(ctx, driverID); err != nil {
		s.Logger.Error("reconcile after booking failed", "driver_id", driverID, "error", err)
	}
	return b, nil
}

// BookingCancel cancels a booking that has not completed.
func (s *Service) BookingCancel(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	b, err := s.bookingForDriver(ctx, bookingID, driverID)
	if err != nil {
		return nil, err
	}
	if b.Status == models.BookingCompleted || b.Status == models.BookingCancelled {
		return nil, fmt.Errorf("%w: cannot cancel from %s", ErrInvalidTransition, b.Status)
	}
	ok, err := s.Store.TransitionBooking(ctx, bookingID, b.Status, models.BookingCancelled)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: cannot cancel from %s", ErrInvalidTransition, b.Status)
	}
	b.Status = models.BookingCancelled
	if err := s.Avail.Reconcile(ctx, driverID); err != nil {
		s.Logger.Error("reconcile after booking cancel failed", "driver_id", driverID, "error", err)
	}
	return b, nil
}

func (s *Service) bookingForDriver(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	b, err := s.Store.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
		}
		return nil, err
	}
	if b.DriverID != driverID {
		return nil, fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
	}
	return b, nil
}
