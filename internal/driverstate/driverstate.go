package driverstate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// ErrActiveWork rejects going offline while a trip is underway.
var ErrActiveWork = errors.New("driver has an active ride")

// ActiveWork is the ground truth the machine recomputes state from.
type ActiveWork interface {
	ActiveRideForDriver(ctx context.Context, driverID string) (*models.Ride, bool, error)
	CommittedBookingExists(ctx context.Context, driverID string) (bool, error)
}

// Machine is the single authority over driver availability. Every
// transition is idempotent: applying the same correction twice is a
// no-op and emits no duplicate events.
type Machine struct {
	Drivers storage.DriverStore
	Work    ActiveWork
	Events  events.Publisher
	Logger  *slog.Logger
}

func New(drivers storage.DriverStore, work ActiveWork, pub events.Publisher, logger *slog.Logger) *Machine {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Machine{Drivers: drivers, Work: work, Events: pub, Logger: logger}
}

// SetOnline marks a driver available for dispatch.
func (m *Machine) SetOnline(ctx context.Context, driverID string) error {
	return m.set(ctx, driverID, models.DriverOnline)
}

// SetOffline takes a driver off shift. Refused while an active ride is
// underway; the reconciliation sweep never resurrects an offline driver.
func (m *Machine) SetOffline(ctx context.Context, driverID string) error {
	if _, busy, err := m.Work.ActiveRideForDriver(ctx, driverID); err != nil {
		return err
	} else if busy {
		return ErrActiveWork
	}
	return m.set(ctx, driverID, models.DriverOffline)
}

// MarkBusy commits a driver to a trip. Called by the arbiter on
// acceptance, and on arrival for scheduled bookings.
func (m *Machine) MarkBusy(ctx context.Context, driverID string) error {
	return m.set(ctx, driverID, models.DriverBusy)
}

func (m *Machine) set(ctx context.Context, driverID string, to models.DriverStatus) error {
	d, err := m.Drivers.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if d.Status == to {
		return nil
	}
	if err := m.Drivers.SetDriverStatus(ctx, driverID, to); err != nil {
		return err
	}
	if err := m.Events.DriverAvailabilityChanged(ctx, driverID, d.Status, to); err != nil {
		m.Logger.Warn("availability event publish failed", "driver_id", driverID, "error", err)
	}
	return nil
}

// Reconcile recomputes the driver's availability from their current
// active ride and committed bookings, flipping busy back to online when
// nothing supports it. It runs as a reaction to terminal transitions
// and as a repair pass, and is safe to run concurrently with itself.
func (m *Machine) Reconcile(ctx context.Context, driverID string) error {
	observability.Reconciliations.Inc()
	d, err := m.Drivers.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if d.Status != models.DriverBusy {
		return nil
	}
	_, hasRide, err := m.Work.ActiveRideForDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if hasRide {
		return nil
	}
	committed, err := m.Work.CommittedBookingExists(ctx, driverID)
	if err != nil {
		return err
	}
	if committed {
		return nil
	}
	m.Logger.Info("reconcile: driver freed", "driver_id", driverID)
	return m.set(ctx, driverID, models.DriverOnline)
}

// Sweep repairs drivers stuck busy with no supporting ride or booking.
// It recovers from crashed clients, lost messages and plain bugs, and
// can run at startup or on a schedule.
func (m *Machine) Sweep(ctx context.Context) (int, error) {
	busy, err := m.Drivers.ListDriversByStatus(ctx, models.DriverBusy)
	if err != nil {
		return 0, err
	}
	fixed := 0
	for _, d := range busy {
		before := d.Status
		if err := m.Reconcile(ctx, d.ID); err != nil {
			m.Logger.Error("sweep reconcile failed", "driver_id", d.ID, "error", err)
			continue
		}
		after, err := m.Drivers.GetDriver(ctx, d.ID)
		if err != nil {
			continue
		}
		if after.Status != before {
			fixed++
			observability.SweepCorrections.Inc()
		}
	}
	return fixed, nil
}

// Run executes the repair sweep on a fixed interval until ctx ends.
func (m *Machine) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := m.Sweep(ctx); err != nil {
				m.Logger.Error("availability sweep failed", "error", err)
			} else if n > 0 {
				m.Logger.Info("availability sweep corrected drivers", "count", n)
			}
		}
	}
}
