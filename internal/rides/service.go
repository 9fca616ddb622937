package rides

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/driverstate"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// FareService is the external fare/promo subsystem boundary. It supplies
// the estimate at request time and the final amount at completion; the
// dispatch core treats both as opaque.
type FareService interface {
	Estimate(ctx context.Context, pickup, dropoff models.Coord, vehicleClass string) (int64, error)
	Finalize(ctx context.Context, ride *models.Ride, distanceKm float64, durationSec int64) (int64, error)
}

// Charger settles the final fare with the rider. Best effort at the
// completion boundary; failures are retried by the payments collaborator,
// never by this service.
type Charger interface {
	Charge(ctx context.Context, riderID string, amount int64) error
}

// Service owns the trip lifecycle: request, offer fan-out, the
// acceptance race, OTP-gated progress and terminal reconciliation.
type Service struct {
	Store     storage.Store
	Matcher   *matcher.Service
	Broadcast *dispatch.Broadcaster
	Avail     *driverstate.Machine
	Events    events.Publisher
	Fares     FareService
	Charges   Charger // optional
	Logger    *slog.Logger

	// DropOTPFor lists trip categories whose completion requires the
	// second one-time code.
	DropOTPFor map[models.Category]bool
}

type RequestCommand struct {
	RiderID      string       `json:"rider_id"`
	RiderName    string       `json:"rider_name"`
	RiderPhone   string       `json:"rider_phone"`
	VehicleClass string       `json:"vehicle_class"`
	Pickup       models.Coord `json:"pickup"`
	PickupAddr   string       `json:"pickup_addr"`
	Dropoff      models.Coord `json:"dropoff"`
	DropoffAddr  string       `json:"dropoff_addr"`
}

// Request creates a ride and, for on-demand trips, runs the matcher and
// broadcaster. A ride that finds no drivers comes back in the
// no_drivers_available status; that is an outcome, not an error.
func (s *Service) Request(ctx context.Context, cmd RequestCommand) (*models.Ride, error) {
	if cmd.RiderID == "" || cmd.VehicleClass == "" {
		return nil, fmt.Errorf("%w: rider_id and vehicle_class are required", ErrValidation)
	}
	observability.RidesRequested.Inc()

	now := time.Now()
	ride := &models.Ride{
		ID:           uuid.NewString(),
		RiderID:      cmd.RiderID,
		RiderName:    cmd.RiderName,
		RiderPhone:   cmd.RiderPhone,
		Category:     models.CategoryOnDemand,
		VehicleClass: cmd.VehicleClass,
		Pickup:       cmd.Pickup,
		PickupAddr:   cmd.PickupAddr,
		Dropoff:      cmd.Dropoff,
		DropoffAddr:  cmd.DropoffAddr,
		Status:       models.RideRequested,
		PickupOTP:    newOTP(),
		DropOTP:      newOTP(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if s.Fares != nil {
		if est, err := s.Fares.Estimate(ctx, cmd.Pickup, cmd.Dropoff, cmd.VehicleClass); err == nil {
			ride.EstimatedFare = est
		} else {
			s.Logger.Warn("fare estimate unavailable", "ride_id", ride.ID, "error", err)
		}
	}
	if err := s.Store.CreateRide(ctx, ride); err != nil {
		return nil, err
	}
	s.emitStatus(ctx, ride, "")

	cands, err := s.Matcher.FindCandidates(ctx, ride)
	if err != nil {
		return nil, err
	}
	created := 0
	if len(cands) > 0 {
		created, err = s.Broadcast.Broadcast(ctx, ride, cands)
		if err != nil {
			return nil, err
		}
	}
	if created == 0 {
		return s.markUnserved(ctx, ride)
	}
	s.Logger.Info("ride offered", "ride_id", ride.ID, "candidates", len(cands), "offers", created)
	return ride, nil
}

func (s *Service) markUnserved(ctx context.Context, ride *models.Ride) (*models.Ride, error) {
	ok, err := s.Store.TransitionRide(ctx, ride.ID, models.RideRequested, models.RideNoDriversAvailable)
	if err != nil {
		return nil, err
	}
	if ok {
		from := ride.Status
		ride.Status = models.RideNoDriversAvailable
		observability.RidesUnserved.Inc()
		s.emitStatus(ctx, ride, from)
		s.Logger.Info("no drivers available", "ride_id", ride.ID)
	}
	return ride, nil
}

// Accept is the assignment arbiter. Exactly one concurrent caller wins
// the ride; every other outcome is an explicit Conflict or NotFound.
func (s *Service) Accept(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	driver, err := s.Store.GetDriver(ctx, driverID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: driver %s", ErrNotFound, driverID)
		}
		return nil, err
	}

	// cheap pre-check; the storage constraint remains the backstop
	if _, busy, err := s.Store.ActiveRideForDriver(ctx, driver.ID); err != nil {
		return nil, err
	} else if busy {
		observability.AcceptsConflict.Inc()
		return nil, ErrDriverBusy
	}

	won, err := s.Store.AssignDriver(ctx, rideID, driver.ID)
	if err != nil {
		if errors.Is(err, storage.ErrDriverHasActiveRide) {
			observability.AcceptsConflict.Inc()
			return nil, ErrDriverBusy
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: ride %s", ErrNotFound, rideID)
		}
		return nil, err
	}
	if !won {
		if _, err := s.Store.GetRide(ctx, rideID); errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: ride %s", ErrNotFound, rideID)
		}
		observability.AcceptsConflict.Inc()
		return nil, ErrRideTaken
	}

	observability.AcceptsWon.Inc()
	if err := s.Avail.MarkBusy(ctx, driver.ID); err != nil {
		s.Logger.Error("mark busy failed", "driver_id", driver.ID, "error", err)
	}
	// remaining offers for this ride must stop being actionable
	if err := s.Store.CloseOffers(ctx, rideID, driver.ID); err != nil {
		s.Logger.Error("close offers failed", "ride_id", rideID, "error", err)
	}

	ride, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	s.emitStatus(ctx, ride, models.RideRequested)
	s.Logger.Info("ride accepted", "ride_id", rideID, "driver_id", driver.ID)
	return ride, nil
}

// Arrive records the driver reaching the pickup point.
func (s *Service) Arrive(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	ride, err := s.rideForDriver(ctx, rideID, driverID)
	if err != nil {
		return nil, err
	}
	ok, err := s.Store.TransitionRide(ctx, rideID, models.RideAccepted, models.RideDriverArrived)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: cannot arrive from %s", ErrInvalidTransition, ride.Status)
	}
	from := ride.Status
	ride.Status = models.RideDriverArrived
	s.emitStatus(ctx, ride, from)
	return ride, nil
}

// Start begins the trip, gated by the pickup one-time code the rider
// hands to the driver.
func (s *Service) Start(ctx context.Context, rideID, driverID, otp string) (*models.Ride, error) {
	ride, err := s.rideForDriver(ctx, rideID, driverID)
	if err != nil {
		return nil, err
	}
	if ride.Status != models.RideAccepted && ride.Status != models.RideDriverArrived {
		return nil, fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, ride.Status)
	}
	if otp != ride.PickupOTP {
		return nil, ErrBadOTP
	}
	ok, err := s.Store.TransitionRide(ctx, rideID, ride.Status, models.RideInProgress)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, ride.Status)
	}
	from := ride.Status
	ride.Status = models.RideInProgress
	s.emitStatus(ctx, ride, from)
	return ride, nil
}

// Complete finishes an in-progress trip, recording the measured
// distance and duration. Where the trip category requires it, the drop
// one-time code is verified first. The final charge may exceed the
// original estimate; the stored estimate is raised to match rather than
// rejecting completion.
func (s *Service) Complete(ctx context.Context, rideID, driverID, otp string, distanceKm float64, durationSec int64) (*models.Ride, error) {
	ride, err := s.rideForDriver(ctx, rideID, driverID)
	if err != nil {
		return nil, err
	}
	if ride.Status != models.RideInProgress {
		return nil, fmt.Errorf("%w: cannot complete from %s", ErrInvalidTransition, ride.Status)
	}
	if s.DropOTPFor[ride.Category] && otp != ride.DropOTP {
		return nil, ErrBadOTP
	}

	finalFare := ride.EstimatedFare
	if s.Fares != nil {
		if v, err := s.Fares.Finalize(ctx, ride, distanceKm, durationSec); err == nil {
			finalFare = v
		} else {
			s.Logger.Warn("fare finalize unavailable, charging estimate", "ride_id", rideID, "error", err)
		}
	}
	estimate := ride.EstimatedFare
	if finalFare > estimate {
		estimate = finalFare
	}

	ok, err := s.Store.CompleteRide(ctx, rideID, finalFare, estimate, distanceKm, durationSec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: cannot complete from %s", ErrInvalidTransition, ride.Status)
	}
	from := ride.Status
	ride.Status = models.RideCompleted
	ride.FinalFare = finalFare
	ride.EstimatedFare = estimate
	ride.FinalDistanceKm = distanceKm
	ride.FinalDurationSec = durationSec
	s.emitStatus(ctx, ride, from)
	if err := s.Events.TripCompleted(ctx, ride); err != nil {
		s.Logger.Warn("trip metrics publish failed", "ride_id", rideID, "error", err)
	}
	if s.Charges != nil {
		if err := s.Charges.Charge(ctx, ride.RiderID, finalFare); err != nil {
			s.Logger.Error("fare charge failed", "ride_id", rideID, "error", err)
		}
	}
	if err := s.Avail.Reconcile(ctx, driverID); err != nil {
		s.Logger.Error("reconcile after completion failed", "driver_id", driverID, "error", err)
	}
	s.Logger.Info("ride completed", "ride_id", rideID, "driver_id", driverID, "final_fare", finalFare)
	return ride, nil
}

// Cancel ends a ride from any non-terminal state, recording who
// cancelled and why. Completed rides cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, rideID, actor, reason string) (*models.Ride, error) {
	ride, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: ride %s", ErrNotFound, rideID)
		}
		return nil, err
	}
	ok, err := s.Store.CancelRide(ctx, rideID, actor, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: cannot cancel from %s", ErrInvalidTransition, ride.Status)
	}
	if err := s.Store.CloseOffers(ctx, rideID, ""); err != nil {
		s.Logger.Error("close offers failed", "ride_id", rideID, "error", err)
	}
	from := ride.Status
	ride.Status = models.RideCancelled
	ride.CancelledBy = actor
	ride.CancelReason = reason
	s.emitStatus(ctx, ride, from)
	if ride.DriverID != "" {
		if err := s.Avail.Reconcile(ctx, ride.DriverID); err != nil {
			s.Logger.Error("reconcile after cancel failed", "driver_id", ride.DriverID, "error", err)
		}
	}
	s.Logger.Info("ride cancelled", "ride_id", rideID, "by", actor)
	return ride, nil
}

func (s *Service) Get(ctx context.Context, rideID string) (*models.Ride, error) {
	ride, err := s.Store.GetRide(ctx, rideID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: ride %s", ErrNotFound, rideID)
	}
	return ride, err
}

type AdminAssignCommand struct {
	RiderID      string       `json:"rider_id"`
	RiderName    string       `json:"rider_name"`
	RiderPhone   string       `json:"rider_phone"`
	DriverID     string       `json:"driver_id"`
	VehicleClass string       `json:"vehicle_class"`
	Pickup       models.Coord `json:"pickup"`
	PickupAddr   string       `json:"pickup_addr"`
	Dropoff      models.Coord `json:"dropoff"`
	DropoffAddr  string       `json:"dropoff_addr"`
}

// AdminAssign places a scheduled-category ride directly into the
// accepted state, bypassing matcher, broadcaster and arbiter. It still
// obeys the availability machine and the active-ride uniqueness
// constraint.
func (s *Service) AdminAssign(ctx context.Context, cmd AdminAssignCommand) (*models.Ride, error) {
	if _, err := s.Store.GetDriver(ctx, cmd.DriverID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: driver %s", ErrNotFound, cmd.DriverID)
		}
		return nil, err
	}
	if _, busy, err := s.Store.ActiveRideForDriver(ctx, cmd.DriverID); err != nil {
		return nil, err
	} else if busy {
		return nil, ErrDriverBusy
	}
	now := time.Now()
	ride := &models.Ride{
		ID:           uuid.NewString(),
		RiderID:      cmd.RiderID,
		RiderName:    cmd.RiderName,
		RiderPhone:   cmd.RiderPhone,
		DriverID:     cmd.DriverID,
		Category:     models.CategoryScheduled,
		VehicleClass: cmd.VehicleClass,
		Pickup:       cmd.Pickup,
		PickupAddr:   cmd.PickupAddr,
		Dropoff:      cmd.Dropoff,
		DropoffAddr:  cmd.DropoffAddr,
		Status:       models.RideAccepted,
		PickupOTP:    newOTP(),
		DropOTP:      newOTP(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if s.Fares != nil {
		if est, err := s.Fares.Estimate(ctx, cmd.Pickup, cmd.Dropoff, cmd.VehicleClass); err == nil {
			ride.EstimatedFare = est
		}
	}
	if err := s.Store.CreateRide(ctx, ride); err != nil {
		if errors.Is(err, storage.ErrDriverHasActiveRide) {
			return nil, ErrDriverBusy
		}
		return nil, err
	}
	if err := s.Avail.MarkBusy(ctx, cmd.DriverID); err != nil {
		s.Logger.Error("mark busy failed", "driver_id", cmd.DriverID, "error", err)
	}
	s.emitStatus(ctx, ride, "")
	s.Logger.Info("ride admin-assigned", "ride_id", ride.ID, "driver_id", cmd.DriverID)
	return ride, nil
}

func (s *Service) emitStatus(ctx context.Context, ride *models.Ride, from models.RideStatus) {
	if err := s.Events.RideStatusChanged(ctx, ride, from); err != nil {
		s.Logger.Warn("ride status publish failed", "ride_id", ride.ID, "error", err)
	}
}

// rideForDriver loads a ride and checks it belongs to the calling
// driver. A ride held by someone else is reported as NotFound, not as a
// hint about who does hold it.
func (s *Service) rideForDriver(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	ride, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: ride %s", ErrNotFound, rideID)
		}
		return nil, err
	}
	if ride.DriverID != driverID {
		return nil, fmt.Errorf("%w: ride %s", ErrNotFound, rideID)
	}
	return ride, nil
}
