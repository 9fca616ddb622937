package rides

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/driverstate"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

type nopNotifier struct{}

func (nopNotifier) Notify(driverID string, offer models.OfferSummary) error { return nil }

type fakeFares struct {
	est   int64
	final int64
}

func (f *fakeFares) Estimate(ctx context.Context, pickup, dropoff models.Coord, vehicleClass string) (int64, error) {
	return f.est, nil
}

func (f *fakeFares) Finalize(ctx context.Context, ride *models.Ride, distanceKm float64, durationSec int64) (int64, error) {
	return f.final, nil
}

type fixture struct {
	store *storage.MemoryStore
	locs  *geo.MemoryStore
	fares *fakeFares
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	locs := geo.NewMemoryStore()
	logger := logging.NewLogger("error")
	fares := &fakeFares{est: 10000, final: 10000}
	avail := driverstate.New(store, store, nil, logger)
	svc := &Service{
		Store:      store,
		Matcher:    matcher.New(store, locs, 15, 30*time.Minute),
		Broadcast:  dispatch.NewBroadcaster(store, nopNotifier{}, logger, 5*time.Minute),
		Avail:      avail,
		Events:     events.Nop{},
		Fares:      fares,
		Logger:     logger,
		DropOTPFor: map[models.Category]bool{models.CategoryScheduled: true},
	}
	return &fixture{store: store, locs: locs, fares: fares, svc: svc}
}

func (f *fixture) addDriver(t *testing.T, id, class string, status models.DriverStatus, lat, lon float64, age time.Duration) {
	t.Helper()
	ctx := context.Background()
	d := &models.Driver{ID: id, AccountID: "acct-" + id, VehicleClass: class, Verified: true, Status: status}
	if err := f.store.CreateDriver(ctx, d); err != nil {
		t.Fatal(err)
	}
	rec := models.LocationRecord{DriverID: id, Loc: models.Coord{Lat: lat, Lon: lon}, UpdatedAt: time.Now().Add(-age)}
	if err := f.locs.Upsert(ctx, rec); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) driverStatus(t *testing.T, id string) models.DriverStatus {
	t.Helper()
	d, err := f.store.GetDriver(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return d.Status
}

func requestCmd(class string) RequestCommand {
	return RequestCommand{
		RiderID:      "rider1",
		RiderName:    "Asha",
		RiderPhone:   "+910000000000",
		VehicleClass: class,
		Pickup:       models.Coord{Lat: 12.90, Lon: 77.60},
		Dropoff:      models.Coord{Lat: 12.95, Lon: 77.64},
	}
}

// Scenario A: an AC-variant driver 2km away with a 10-minute-old
// location is offered the ride, accepts, and goes busy.
func TestRequestOfferAcceptFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDriver(t, "d1", "hatchback_ac", models.DriverOnline, 12.918, 77.60, 10*time.Minute)

	ride, err := f.svc.Request(ctx, requestCmd("hatchback"))
	if err != nil {
		t.Fatal(err)
	}
	if ride.Status != models.RideRequested {
		t.Fatalf("expected requested, got %s", ride.Status)
	}
	offers, err := f.store.OffersByRide(ctx, ride.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(offers) != 1 || offers[0].DriverID != "d1" {
		t.Fatalf("expected one offer for d1, got %v", offers)
	}

	got, err := f.svc.Accept(ctx, ride.ID, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.RideAccepted || got.DriverID != "d1" {
		t.Fatalf("expected accepted by d1, got status=%s driver=%s", got.Status, got.DriverID)
	}
	if s := f.driverStatus(t, "d1"); s != models.DriverBusy {
		t.Fatalf("accepting driver must be busy, got %s", s)
	}
	offers, _ = f.store.OffersByRide(ctx, ride.ID)
	if offers[0].State != models.OfferAccepted {
		t.Fatalf("winner offer should be consumed, got %s", offers[0].State)
	}
}

// Scenario B / race correctness: N concurrent accepts, one winner.
func TestAcceptRaceSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const n = 8
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		ids = append(ids, id)
		f.addDriver(t, id, "sedan", models.DriverOnline, 12.91, 77.60, time.Minute)
	}
	ride, err := f.svc.Request(ctx, requestCmd("sedan"))
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	results := make([]error, n)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, results[i] = f.svc.Accept(ctx, ride.ID, id)
		}(i, id)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != n-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d/%d", n-1, wins, conflicts)
	}

	got, err := f.svc.Get(ctx, ride.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DriverID == "" || got.Status != models.RideAccepted {
		t.Fatalf("ride must be accepted with a driver, got driver=%q status=%s", got.DriverID, got.Status)
	}
	// exactly one driver busy, all offers closed
	busy := 0
	for _, id := range ids {
		if f.driverStatus(t, id) == models.DriverBusy {
			busy++
		}
	}
	if busy != 1 {
		t.Fatalf("expected exactly one busy driver, got %d", busy)
	}
	offers, _ := f.store.OffersByRide(ctx, ride.ID)
	for _, o := range offers {
		if o.State == models.OfferPending {
			t.Fatal("no offer may stay actionable after the ride is won")
		}
	}
}

// Scenario C: an AC request with only a plain-class driver nearby finds
// no candidates and ends in no_drivers_available.
func TestRequestNoCandidates(t *testing.T) {
	f := newFixture(t)
	f.addDriver(t, "d1", "sedan", models.DriverOnline, 12.91, 77.60, time.Minute)

	ride, err := f.svc.Request(context.Background(), requestCmd("sedan_ac"))
	if err != nil {
		t.Fatal(err)
	}
	if ride.Status != models.RideNoDriversAvailable {
		t.Fatalf("expected no_drivers_available, got %s", ride.Status)
	}
}

// Scenario D: completing the only active ride frees the driver.
func TestCompleteFreesDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDriver(t, "d1", "sedan", models.DriverOnline, 12.91, 77.60, time.Minute)

	ride, err := f.svc.Request(ctx, requestCmd("sedan"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Accept(ctx, ride.ID, "d1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Arrive(ctx, ride.ID, "d1"); err != nil {
		t.Fatal(err)
	}
	stored, _ := f.store.GetRide(ctx, ride.ID)
	if _, err := f.svc.Start(ctx, ride.ID, "d1", stored.PickupOTP); err != nil {
		t.Fatal(err)
	}
	got, err := f.svc.Complete(ctx, ride.ID, "d1", "", 4.2, 900)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.RideCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.FinalDistanceKm != 4.2 || got.FinalDurationSec != 900 {
		t.Fatalf("final metrics not recorded: %v %v", got.FinalDistanceKm, got.FinalDurationSec)
	}
	if s := f.driverStatus(t, "d1"); s != models.DriverOnline {
		t.Fatalf("driver must be online after completion, got %s", s)
	}
}

func TestStartRejectsWrongOTP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDriver(t, "d1", "sedan", models.DriverOnline, 12.91, 77.60, time.Minute)
	ride, err := f.svc.Request(ctx, requestCmd("sedan"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Accept(ctx, ride.ID, "d1"); err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.Start(ctx, ride.ID, "d1", "wrong")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	got, _ := f.svc.Get(ctx, ride.ID)
	if got.Status != models.RideAccepted {
		t.Fatalf("failed OTP must not change state, got %s", got.Status)
	}
}

func TestAcceptSecondRideConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDriver(t, "d1", "sedan", models.DriverOnline, 12.91, 77.60, time.Minute)
	first, err := f.svc.Request(ctx, requestCmd("sedan"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Accept(ctx, first.ID, "d1"); err != nil {
		t.Fatal(err)
	}

	// d1 is busy but still matchable; the second accept must conflict
	second, err := f.svc.Request(ctx, requestCmd("sedan"))
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != models.RideRequested {
		t.Fatalf("busy drivers still receive offers, got %s", second.Status)
	}
	_, err = f.svc.Accept(ctx, second.ID, "d1")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestAcceptUnknownDriverAndRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Accept(ctx, "ride1", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown driver, got %v", err)
	}
	f.addDriver(t, "d1", "sedan", models.DriverOnline, 12.91, 77.60, time.Minute)
	if _, err := f.svc.Accept(ctx, "ghost-ride", "d1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown ride, got %v", err)
	}
}

func TestCancelRecordsActorAndFreesDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDriver(t, "d1", "sedan", models.DriverOnline, 12.91, 77.60, time.Minute)
	ride, err := f.svc.Request(ctx, requestCmd("sedan"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Accept(ctx, ride.ID, "d1"); err != nil {
		t.Fatal(err)
	}

	got, err := f.svc.Cancel(ctx, ride.ID, "rider", "waited too long")
	if err != nil {
		t.Fatal(err)
	}
	if got.CancelledBy != "rider" || got.CancelReason == "" {
		t.Fatalf("cancel must record actor and reason, got %q/%q", got.CancelledBy, got.CancelReason)
	}
	if s := f.driverStatus(t, "d1"); s != models.DriverOnline {
		t.Fatalf("driver must be freed after cancel, got %s", s)
	}

	if _, err := f.svc.Cancel(ctx, ride.ID, "rider", "again"); !errors.Is(err, ErrValidation) {
		t.Fatalf("cancelling a terminal ride must fail validation, got %v", err)
	}
}

func TestCompleteRaisesEstimateToFinalCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fares.est = 10000
	f.fares.final = 14000 // GPS distance exceeded the estimate
	f.addDriver(t, "d1", "sedan", models.DriverOnline, 12.91, 77.60, time.Minute)

	ride, err := f.svc.Request(ctx, requestCmd("sedan"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Accept(ctx, ride.ID, "d1"); err != nil {
		t.Fatal(err)
	}
	stored, _ := f.store.GetRide(ctx, ride.ID)
	if _, err := f.svc.Start(ctx, ride.ID, "d1", stored.PickupOTP); err != nil {
		t.Fatal(err)
	}
	got, err := f.svc.Complete(ctx, ride.ID, "d1", "", 9.9, 1800)
	if err != nil {
		t.Fatal(err)
	}
	if got.FinalFare != 14000 {
		t.Fatalf("expected final fare 14000, got %d", got.FinalFare)
	}
	if got.EstimatedFare != 14000 {
		t.Fatalf("estimate must be raised to the final charge, got %d", got.EstimatedFare)
	}
}

func TestAdminAssignBypassesMatcher(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// no location record at all: the matcher would never find this driver
	d := &models.Driver{ID: "d1", VehicleClass: "sedan", Verified: true, Status: models.DriverOnline}
	if err := f.store.CreateDriver(ctx, d); err != nil {
		t.Fatal(err)
	}

	ride, err := f.svc.AdminAssign(ctx, AdminAssignCommand{
		RiderID:      "rider1",
		DriverID:     "d1",
		VehicleClass: "sedan",
		Pickup:       models.Coord{Lat: 12.90, Lon: 77.60},
		Dropoff:      models.Coord{Lat: 12.95, Lon: 77.64},
	})
	if err != nil {
		t.Fatal(err)
	}
	if ride.Status != models.RideAccepted || ride.Category != models.CategoryScheduled {
		t.Fatalf("expected accepted scheduled ride, got %s/%s", ride.Status, ride.Category)
	}
	if s := f.driverStatus(t, "d1"); s != models.DriverBusy {
		t.Fatalf("admin-assigned driver must be busy, got %s", s)
	}

	// the uniqueness rules still apply on this path
	_, err = f.svc.AdminAssign(ctx, AdminAssignCommand{RiderID: "rider2", DriverID: "d1", VehicleClass: "sedan"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for second active assignment, got %v", err)
	}
}

func TestScheduledRideRequiresDropOTP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := &models.Driver{ID: "d1", VehicleClass: "sedan", Verified: true, Status: models.DriverOnline}
	if err := f.store.CreateDriver(ctx, d); err != nil {
		t.Fatal(err)
	}
	ride, err := f.svc.AdminAssign(ctx, AdminAssignCommand{RiderID: "rider1", DriverID: "d1", VehicleClass: "sedan"})
	if err != nil {
		t.Fatal(err)
	}
	stored, _ := f.store.GetRide(ctx, ride.ID)
	if _, err := f.svc.Start(ctx, ride.ID, "d1", stored.PickupOTP); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Complete(ctx, ride.ID, "d1", "wrong", 3, 600); !errors.Is(err, ErrValidation) {
		t.Fatalf("scheduled completion with wrong drop code must fail, got %v", err)
	}
	if _, err := f.svc.Complete(ctx, ride.ID, "d1", stored.DropOTP, 3, 600); err != nil {
		t.Fatalf("completion with correct drop code failed: %v", err)
	}
}
