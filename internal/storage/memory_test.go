package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func seedRide(t *testing.T, s *MemoryStore, id string) {
	t.Helper()
	r := &models.Ride{ID: id, RiderID: "r1", VehicleClass: "sedan", Category: models.CategoryOnDemand, Status: models.RideRequested}
	if err := s.CreateRide(context.Background(), r); err != nil {
		t.Fatal(err)
	}
}

func TestAssignDriverCAS(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedRide(t, s, "ride1")

	won, err := s.AssignDriver(ctx, "ride1", "d1")
	if err != nil || !won {
		t.Fatalf("first assign should win, won=%v err=%v", won, err)
	}
	won, err = s.AssignDriver(ctx, "ride1", "d2")
	if err != nil {
		t.Fatal(err)
	}
	if won {
		t.Fatal("second assign must lose")
	}
	r, err := s.GetRide(ctx, "ride1")
	if err != nil {
		t.Fatal(err)
	}
	if r.DriverID != "d1" || r.Status != models.RideAccepted {
		t.Fatalf("ride should be accepted by d1, got driver=%s status=%s", r.DriverID, r.Status)
	}
}

func TestAssignDriverUniquenessBackstop(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedRide(t, s, "ride1")
	seedRide(t, s, "ride2")

	if _, err := s.AssignDriver(ctx, "ride1", "d1"); err != nil {
		t.Fatal(err)
	}
	_, err := s.AssignDriver(ctx, "ride2", "d1")
	if !errors.Is(err, ErrDriverHasActiveRide) {
		t.Fatalf("expected ErrDriverHasActiveRide, got %v", err)
	}
}

func TestAssignDriverUnknownRide(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.AssignDriver(context.Background(), "nope", "d1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateRideActiveBackstop(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedRide(t, s, "ride1")
	if _, err := s.AssignDriver(ctx, "ride1", "d1"); err != nil {
		t.Fatal(err)
	}
	// an admin path injecting a second active ride for d1 must fail at the store
	r := &models.Ride{ID: "ride2", DriverID: "d1", Status: models.RideAccepted}
	if err := s.CreateRide(ctx, r); !errors.Is(err, ErrDriverHasActiveRide) {
		t.Fatalf("expected ErrDriverHasActiveRide, got %v", err)
	}
}

func TestCancelRideTerminalRejected(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedRide(t, s, "ride1")
	if _, err := s.AssignDriver(ctx, "ride1", "d1"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.TransitionRide(ctx, "ride1", models.RideAccepted, models.RideInProgress); !ok {
		t.Fatal("transition to in_progress failed")
	}
	if ok, _ := s.CompleteRide(ctx, "ride1", 100, 100, 3.2, 600); !ok {
		t.Fatal("complete failed")
	}
	ok, err := s.CancelRide(ctx, "ride1", "rider", "changed mind")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("completed ride must not be cancellable")
	}
}

func TestOfferLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	mk := func(id, driverID string, exp time.Time) {
		o := &models.Offer{ID: id, RideID: "ride1", DriverID: driverID, State: models.OfferPending, CreatedAt: now, ExpiresAt: exp}
		if err := s.CreateOffer(ctx, o); err != nil {
			t.Fatal(err)
		}
	}
	mk("o1", "d1", now.Add(5*time.Minute))
	mk("o2", "d2", now.Add(5*time.Minute))
	mk("o3", "d3", now.Add(-time.Minute))

	n, err := s.ExpireSweep(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}

	if err := s.CloseOffers(ctx, "ride1", "d1"); err != nil {
		t.Fatal(err)
	}
	offers, err := s.OffersByRide(ctx, "ride1")
	if err != nil {
		t.Fatal(err)
	}
	states := map[string]models.OfferState{}
	for _, o := range offers {
		states[o.ID] = o.State
	}
	if states["o1"] != models.OfferAccepted {
		t.Fatalf("winner offer should be accepted, got %s", states["o1"])
	}
	if states["o2"] != models.OfferWithdrawn {
		t.Fatalf("loser offer should be withdrawn, got %s", states["o2"])
	}
	if states["o3"] != models.OfferExpired {
		t.Fatalf("expired offer should stay expired, got %s", states["o3"])
	}
}
