package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// Broadcaster turns a candidate set into individually addressed,
// time-bounded offers and triggers notification delivery.
type Broadcaster struct {
	Offers storage.OfferStore
	Notify Notifier
	Logger *slog.Logger

	TTL             time.Duration
	ETAClient       eta.Client // optional routing engine
	ETACache        *eta.Cache
	DefaultSpeedMps float64

	now func() time.Time
}

func NewBroadcaster(offers storage.OfferStore, notify Notifier, logger *slog.Logger, ttl time.Duration) *Broadcaster {
	return &Broadcaster{Offers: offers, Notify: notify, Logger: logger, TTL: ttl, now: time.Now}
}

// Broadcast creates one offer per candidate and returns how many were
// persisted. Notification failures are logged and counted, never
// propagated: a driver who missed the push can still see the offer.
func (b *Broadcaster) Broadcast(ctx context.Context, ride *models.Ride, cands []matcher.Candidate) (int, error) {
	created := 0
	now := b.now()
	for _, c := range cands {
		o := &models.Offer{
			ID:         uuid.NewString(),
			RideID:     ride.ID,
			DriverID:   c.Driver.ID,
			DistanceKm: c.DistanceKm,
			ETASec:     b.pickupETA(c.Loc, ride.Pickup),
			State:      models.OfferPending,
			CreatedAt:  now,
			ExpiresAt:  now.Add(b.TTL),
		}
		if err := b.Offers.CreateOffer(ctx, o); err != nil {
			b.Logger.Error("offer create failed", "ride_id", ride.ID, "driver_id", c.Driver.ID, "error", err)
			continue
		}
		created++
		observability.OffersCreated.Inc()

		summary := models.OfferSummary{
			RideID:        ride.ID,
			Pickup:        ride.Pickup,
			PickupAddr:    ride.PickupAddr,
			Dropoff:       ride.Dropoff,
			DropoffAddr:   ride.DropoffAddr,
			RiderName:     ride.RiderName,
			RiderPhone:    ride.RiderPhone,
			EstimatedFare: ride.EstimatedFare,
			DistanceKm:    c.DistanceKm,
			ETASec:        o.ETASec,
			ExpiresAt:     o.ExpiresAt.Unix(),
		}
		if b.Notify != nil {
			if err := b.Notify.Notify(c.Driver.ID, summary); err != nil {
				observability.NotifyFailures.Inc()
				b.Logger.Warn("offer notify failed", "ride_id", ride.ID, "driver_id", c.Driver.ID, "error", err)
			}
		}
	}
	return created, nil
}

func (b *Broadcaster) pickupETA(from, to models.Coord) float64 {
	if b.ETACache != nil {
		if v, ok := b.ETACache.Get(from, to); ok {
			return v
		}
	}
	if b.ETAClient != nil {
		if v, err := b.ETAClient.EstimateSeconds(from, to); err == nil {
			if b.ETACache != nil {
				b.ETACache.Set(from, to, v)
			}
			return v
		}
	}
	return eta.EstimateSeconds(from, to, b.DefaultSpeedMps)
}

// RunExpirySweep periodically marks overdue pending offers as expired.
// Expiry is otherwise evaluated lazily at decision time, so the sweep
// only keeps the books tidy.
func (b *Broadcaster) RunExpirySweep(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := b.Offers.ExpireSweep(ctx, b.now())
			if err != nil {
				b.Logger.Error("offer expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				observability.OffersExpired.Add(float64(n))
				b.Logger.Info("offers expired", "count", n)
			}
		}
	}
}
