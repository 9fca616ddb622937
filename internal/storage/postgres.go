package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

// PostgresStore implements Store on database/sql. Every transition is a
// single conditional UPDATE; the partial unique index on
// rides(driver_id) for active statuses backs up the application checks.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

// OpenSQL opens a raw connection for one-off work such as migrations.
func OpenSQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rides(
			id, rider_id, rider_name, rider_phone, driver_id, category, vehicle_class,
			pickup_lat, pickup_lon, pickup_addr, dropoff_lat, dropoff_lon, dropoff_addr,
			status, pickup_otp, drop_otp, estimated_fare, created_at, updated_at
		) VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		r.ID, r.RiderID, r.RiderName, r.RiderPhone, r.DriverID, r.Category, r.VehicleClass,
		r.Pickup.Lat, r.Pickup.Lon, r.PickupAddr, r.Dropoff.Lat, r.Dropoff.Lon, r.DropoffAddr,
		r.Status, r.PickupOTP, r.DropOTP, r.EstimatedFare, r.CreatedAt, r.UpdatedAt)
	return mapUniqueViolation(err)
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, rider_id, rider_name, rider_phone, COALESCE(driver_id,''), category, vehicle_class,
		       pickup_lat, pickup_lon, pickup_addr, dropoff_lat, dropoff_lon, dropoff_addr,
		       status, pickup_otp, drop_otp, estimated_fare, COALESCE(final_fare,0),
		       COALESCE(final_distance_km,0), COALESCE(final_duration_sec,0),
		       COALESCE(cancelled_by,''), COALESCE(cancel_reason,''), created_at, updated_at
		FROM rides WHERE id=$1`, id)
	var r models.Ride
	err := row.Scan(&r.ID, &r.RiderID, &r.RiderName, &r.RiderPhone, &r.DriverID, &r.Category, &r.VehicleClass,
		&r.Pickup.Lat, &r.Pickup.Lon, &r.PickupAddr, &r.Dropoff.Lat, &r.Dropoff.Lon, &r.DropoffAddr,
		&r.Status, &r.PickupOTP, &r.DropOTP, &r.EstimatedFare, &r.FinalFare,
		&r.FinalDistanceKm, &r.FinalDurationSec, &r.CancelledBy, &r.CancelReason, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresStore) AssignDriver(ctx context.Context, rideID, driverID string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rides SET driver_id=$1, status=$2, updated_at=now()
		WHERE id=$3 AND status=$4 AND driver_id IS NULL`,
		driverID, models.RideAccepted, rideID, models.RideRequested)
	if err != nil {
		return false, mapUniqueViolation(err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (p *PostgresStore) TransitionRide(ctx context.Context, rideID string, from, to models.RideStatus) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rides SET status=$1, updated_at=now() WHERE id=$2 AND status=$3`,
		to, rideID, from)
	if err != nil {
		return false, mapUniqueViolation(err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (p *PostgresStore) CompleteRide(ctx context.Context, rideID string, finalFare, estimatedFare int64, distanceKm float64, durationSec int64) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rides SET status=$1, final_fare=$2, estimated_fare=$3,
		       final_distance_km=$4, final_duration_sec=$5, updated_at=now()
		WHERE id=$6 AND status=$7`,
		models.RideCompleted, finalFare, estimatedFare, distanceKm, durationSec,
		rideID, models.RideInProgress)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (p *PostgresStore) CancelRide(ctx context.Context, rideID, by, reason string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rides SET status=$1, cancelled_by=$2, cancel_reason=$3, updated_at=now()
		WHERE id=$4 AND status IN ($5,$6,$7,$8)`,
		models.RideCancelled, by, reason, rideID,
		models.RideRequested, models.RideAccepted, models.RideDriverArrived, models.RideInProgress)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (p *PostgresStore) ActiveRideForDriver(ctx context.Context, driverID string) (*models.Ride, bool, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id FROM rides
		WHERE driver_id=$1 AND status IN ($2,$3,$4) LIMIT 1`,
		driverID, models.RideAccepted, models.RideDriverArrived, models.RideInProgress)
	var id string
	err := row.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	r, err := p.GetRide(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

func (p *PostgresStore) CreateOffer(ctx context.Context, o *models.Offer) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ride_offers(id, ride_id, driver_id, distance_km, eta_sec, state, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.ID, o.RideID, o.DriverID, o.DistanceKm, o.ETASec, o.State, o.CreatedAt, o.ExpiresAt)
	return err
}

func (p *PostgresStore) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, ride_id, driver_id, distance_km, eta_sec, state, created_at, expires_at
		FROM ride_offers WHERE id=$1`, id)
	var o models.Offer
	err := row.Scan(&o.ID, &o.RideID, &o.DriverID, &o.DistanceKm, &o.ETASec, &o.State, &o.CreatedAt, &o.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (p *PostgresStore) OffersByRide(ctx context.Context, rideID string) ([]*models.Offer, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, ride_id, driver_id, distance_km, eta_sec, state, created_at, expires_at
		FROM ride_offers WHERE ride_id=$1`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Offer
	for rows.Next() {
		var o models.Offer
		if err := rows.Scan(&o.ID, &o.RideID, &o.DriverID, &o.DistanceKm, &o.ETASec, &o.State, &o.CreatedAt, &o.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CloseOffers(ctx context.Context, rideID, winnerDriverID string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE ride_offers
		SET state = CASE WHEN driver_id = $1 THEN $2::text ELSE $3::text END
		WHERE ride_id=$4 AND state=$5`,
		winnerDriverID, models.OfferAccepted, models.OfferWithdrawn, rideID, models.OfferPending)
	return err
}

func (p *PostgresStore) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE ride_offers SET state=$1 WHERE state=$2 AND expires_at <= $3`,
		models.OfferExpired, models.OfferPending, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (p *PostgresStore) CreateDriver(ctx context.Context, d *models.Driver) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO drivers(id, account_id, name, vehicle_class, rating, verified, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		d.ID, d.AccountID, d.Name, d.VehicleClass, d.Rating, d.Verified, d.Status)
	return err
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, account_id, name, vehicle_class, rating, verified, status
		FROM drivers WHERE id=$1`, id)
	var d models.Driver
	err := row.Scan(&d.ID, &d.AccountID, &d.Name, &d.VehicleClass, &d.Rating, &d.Verified, &d.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (p *PostgresStore) ListDriversByStatus(ctx context.Context, statuses ...models.DriverStatus) ([]*models.Driver, error) {
	ss := make([]string, len(statuses))
	for i, s := range statuses {
		ss[i] = string(s)
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, account_id, name, vehicle_class, rating, verified, status
		FROM drivers WHERE status = ANY($1)`, pq.Array(ss))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Driver
	for rows.Next() {
		var d models.Driver
		if err := rows.Scan(&d.ID, &d.AccountID, &d.Name, &d.VehicleClass, &d.Rating, &d.Verified, &d.Status); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetDriverStatus(ctx context.Context, id string, status models.DriverStatus) error {
	res, err := p.db.ExecContext(ctx, `UPDATE drivers SET status=$1 WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bookings(
			id, rider_id, driver_id, vehicle_class,
			pickup_lat, pickup_lon, pickup_addr, dropoff_lat, dropoff_lon, dropoff_addr,
			pickup_at, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		b.ID, b.RiderID, b.DriverID, b.VehicleClass,
		b.Pickup.Lat, b.Pickup.Lon, b.PickupAddr, b.Dropoff.Lat, b.Dropoff.Lon, b.DropoffAddr,
		b.PickupAt, b.Status, b.CreatedAt, b.UpdatedAt)
	return err
}

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, rider_id, driver_id, vehicle_class,
		       pickup_lat, pickup_lon, pickup_addr, dropoff_lat, dropoff_lon, dropoff_addr,
		       pickup_at, status, created_at, updated_at
		FROM bookings WHERE id=$1`, id)
	var b models.Booking
	err := row.Scan(&b.ID, &b.RiderID, &b.DriverID, &b.VehicleClass,
		&b.Pickup.Lat, &b.Pickup.Lon, &b.PickupAddr, &b.Dropoff.Lat, &b.Dropoff.Lon, &b.DropoffAddr,
		&b.PickupAt, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (p *PostgresStore) TransitionBooking(ctx context.Context, id string, from, to models.BookingStatus) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE bookings SET status=$1, updated_at=now() WHERE id=$2 AND status=$3`,
		to, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (p *PostgresStore) CommittedBookingExists(ctx context.Context, driverID string) (bool, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM bookings WHERE driver_id=$1 AND status=$2)`,
		driverID, models.BookingArrived)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

// mapUniqueViolation turns a violation of the one-active-ride-per-driver
// partial index into the sentinel the service layer understands.
func mapUniqueViolation(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "rides_one_active_per_driver" {
		return ErrDriverHasActiveRide
	}
	return err
}
