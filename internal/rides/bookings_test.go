package rides

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func createBooking(t *testing.T, f *fixture) *models.Booking {
	t.Helper()
	b, err := f.svc.CreateBooking(context.Background(), BookingCommand{
		RiderID:      "rider1",
		DriverID:     "d1",
		VehicleClass: "sedan",
		Pickup:       models.Coord{Lat: 12.90, Lon: 77.60},
		Dropoff:      models.Coord{Lat: 13.19, Lon: 77.71},
		PickupAt:     time.Now().Add(4 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// Assignment alone must not occupy the driver; only arrival does.
func TestBookingOccupiesDriverAtArrival(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDriver(t, "d1", "sedan", models.DriverOnline, 12.91, 77.60, time.Minute)

	b := createBooking(t, f)
	if b.Status != models.BookingAssigned {
		t.Fatalf("expected assigned, got %s", b.Status)
	}
	if s := f.driverStatus(t, "d1"); s != models.DriverOnline {
		t.Fatalf("assigned booking must leave driver online, got %s", s)
	}

	if _, err := f.svc.BookingArrive(ctx, b.ID, "d1"); err != nil {
		t.Fatal(err)
	}
	if s := f.driverStatus(t, "d1"); s != models.DriverBusy {
		t.Fatalf("arrived booking must occupy driver, got %s", s)
	}

	if _, err := f.svc.BookingComplete(ctx, b.ID, "d1"); err != nil {
		t.Fatal(err)
	}
	if s := f.driverStatus(t, "d1"); s != models.DriverOnline {
		t.Fatalf("completed booking must free driver, got %s", s)
	}
}

// An arrived booking keeps its driver busy through a reconcile sweep.
func TestCommittedBookingSurvivesReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDriver(t, "d1", "sedan", models.DriverOnline, 12.91, 77.60, time.Minute)

	b := createBooking(t, f)
	if _, err := f.svc.BookingArrive(ctx, b.ID, "d1"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Avail.Reconcile(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	if s := f.driverStatus(t, "d1"); s != models.DriverBusy {
		t.Fatalf("committed booking must keep driver busy, got %s", s)
	}
}

func TestBookingCancelRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDriver(t, "d1", "sedan", models.DriverOnline, 12.91, 77.60, time.Minute)

	b := createBooking(t, f)
	if _, err := f.svc.BookingArrive(ctx, b.ID, "d1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.BookingCancel(ctx, b.ID, "d1"); err != nil {
		t.Fatal(err)
	}
	if s := f.driverStatus(t, "d1"); s != models.DriverOnline {
		t.Fatalf("cancelled booking must free driver, got %s", s)
	}

	done := createBooking(t, f)
	if _, err := f.svc.BookingArrive(ctx, done.ID, "d1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.BookingComplete(ctx, done.ID, "d1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.BookingCancel(ctx, done.ID, "d1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("cancelling a completed booking must fail validation, got %v", err)
	}
}

func TestBookingValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDriver(t, "d1", "sedan", models.DriverOnline, 12.91, 77.60, time.Minute)

	_, err := f.svc.CreateBooking(ctx, BookingCommand{RiderID: "rider1", DriverID: "d1", PickupAt: time.Now().Add(-time.Hour)})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("past pickup must fail validation, got %v", err)
	}
	_, err = f.svc.CreateBooking(ctx, BookingCommand{RiderID: "rider1", DriverID: "ghost", PickupAt: time.Now().Add(time.Hour)})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown driver must be not found, got %v", err)
	}
	_, err = f.svc.BookingArrive(ctx, "ghost", "d1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown booking must be not found, got %v", err)
	}
}
