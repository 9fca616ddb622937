package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryStore is the in-process Store used in tests and for local runs
// without Postgres. It upholds the same guarantees as the SQL store:
// conditional transitions under one mutex, and the one-active-ride-per-
// driver constraint enforced at write time.
type MemoryStore struct {
	mu       sync.RWMutex
	rides    map[string]*models.Ride
	offers   map[string]*models.Offer
	drivers  map[string]*models.Driver
	bookings map[string]*models.Booking
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[string]*models.Ride),
		offers:   make(map[string]*models.Offer),
		drivers:  make(map[string]*models.Driver),
		bookings: make(map[string]*models.Booking),
	}
}

func (m *MemoryStore) CreateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Status.Active() && r.DriverID != "" && m.activeRideLocked(r.DriverID, r.ID) != nil {
		return ErrDriverHasActiveRide
	}
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) AssignDriver(ctx context.Context, rideID, driverID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != models.RideRequested || r.DriverID != "" {
		return false, nil
	}
	// last line of defense, mirrors the partial unique index
	if m.activeRideLocked(driverID, rideID) != nil {
		return false, ErrDriverHasActiveRide
	}
	r.Status = models.RideAccepted
	r.DriverID = driverID
	r.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) TransitionRide(ctx context.Context, rideID string, from, to models.RideStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) CompleteRide(ctx context.Context, rideID string, finalFare, estimatedFare int64, distanceKm float64, durationSec int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != models.RideInProgress {
		return false, nil
	}
	r.Status = models.RideCompleted
	r.FinalFare = finalFare
	r.EstimatedFare = estimatedFare
	r.FinalDistanceKm = distanceKm
	r.FinalDurationSec = durationSec
	r.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) CancelRide(ctx context.Context, rideID, by, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status.Terminal() {
		return false, nil
	}
	r.Status = models.RideCancelled
	r.CancelledBy = by
	r.CancelReason = reason
	r.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) ActiveRideForDriver(ctx context.Context, driverID string) (*models.Ride, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r := m.activeRideLocked(driverID, ""); r != nil {
		cp := *r
		return &cp, true, nil
	}
	return nil, false, nil
}

func (m *MemoryStore) activeRideLocked(driverID, excludeRideID string) *models.Ride {
	for _, r := range m.rides {
		if r.DriverID == driverID && r.Status.Active() && r.ID != excludeRideID {
			return r
		}
	}
	return nil
}

func (m *MemoryStore) CreateOffer(ctx context.Context, o *models.Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.offers[o.ID] = &cp
	return nil
}

func (m *MemoryStore) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) OffersByRide(ctx context.Context, rideID string) ([]*models.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Offer
	for _, o := range m.offers {
		if o.RideID == rideID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) CloseOffers(ctx context.Context, rideID, winnerDriverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.offers {
		if o.RideID != rideID || o.State != models.OfferPending {
			continue
		}
		if winnerDriverID != "" && o.DriverID == winnerDriverID {
			o.State = models.OfferAccepted
		} else {
			o.State = models.OfferWithdrawn
		}
	}
	return nil
}

func (m *MemoryStore) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.offers {
		if o.State == models.OfferPending && !now.Before(o.ExpiresAt) {
			o.State = models.OfferExpired
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateDriver(ctx context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.drivers[d.ID] = &cp
	return nil
}

func (m *MemoryStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) ListDriversByStatus(ctx context.Context, statuses ...models.DriverStatus) ([]*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Driver
	for _, d := range m.drivers {
		for _, s := range statuses {
			if d.Status == s {
				cp := *d
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) SetDriverStatus(ctx context.Context, id string, status models.DriverStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	return nil
}

func (m *MemoryStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) TransitionBooking(ctx context.Context, id string, from, to models.BookingStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.Status != from {
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) CommittedBookingExists(ctx context.Context, driverID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bookings {
		if b.DriverID == driverID && b.Committed() {
			return true, nil
		}
	}
	return false, nil
}
