package models

import (
	"strings"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RideStatus is the trip lifecycle state.
type RideStatus string

const (
	RideRequested          RideStatus = "requested"
	RideAccepted           RideStatus = "accepted"
	RideDriverArrived      RideStatus = "driver_arrived"
	RideInProgress         RideStatus = "in_progress"
	RideCompleted          RideStatus = "completed"
	RideCancelled          RideStatus = "cancelled"
	RideNoDriversAvailable RideStatus = "no_drivers_available"
)

// Active reports whether a ride in this status commits its driver.
func (s RideStatus) Active() bool {
	return s == RideAccepted || s == RideDriverArrived || s == RideInProgress
}

// Terminal reports whether the status admits no further transitions.
func (s RideStatus) Terminal() bool {
	return s == RideCompleted || s == RideCancelled || s == RideNoDriversAvailable
}

// Category distinguishes rides that go through the matcher from
// scheduled ones placed by an operator.
type Category string

const (
	CategoryOnDemand  Category = "on_demand"
	CategoryScheduled Category = "scheduled"
)

// ACSuffix marks the air-conditioned variant of a vehicle class,
// e.g. "sedan_ac" is the AC variant of "sedan".
const ACSuffix = "_ac"

// ClassMatches reports whether a driver's vehicle class can serve the
// requested class: either an exact match, or the AC variant of the
// requested class. A request that already names an AC class only
// matches that class; it never matches a double-suffixed one.
func ClassMatches(requested, driverClass string) bool {
	if driverClass == requested {
		return true
	}
	if strings.HasSuffix(requested, ACSuffix) {
		return false
	}
	return driverClass == requested+ACSuffix
}

type Ride struct {
	ID           string     `json:"id"`
	RiderID      string     `json:"rider_id"`
	RiderName    string     `json:"rider_name"`
	RiderPhone   string     `json:"rider_phone"`
	DriverID     string     `json:"driver_id,omitempty"` // empty until accepted
	Category     Category   `json:"category"`
	VehicleClass string     `json:"vehicle_class"`
	Pickup       Coord      `json:"pickup"`
	PickupAddr   string     `json:"pickup_addr"`
	Dropoff      Coord      `json:"dropoff"`
	DropoffAddr  string     `json:"dropoff_addr"`
	Status       RideStatus `json:"status"`
	PickupOTP    string     `json:"-"`
	DropOTP      string     `json:"-"`

	EstimatedFare int64 `json:"estimated_fare"` // minor currency units
	FinalFare     int64 `json:"final_fare,omitempty"`

	FinalDistanceKm  float64 `json:"final_distance_km,omitempty"`
	FinalDurationSec int64   `json:"final_duration_sec,omitempty"`

	CancelledBy  string `json:"cancelled_by,omitempty"`
	CancelReason string `json:"cancel_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DriverStatus is the coarse availability state.
type DriverStatus string

const (
	DriverOffline DriverStatus = "offline"
	DriverOnline  DriverStatus = "online"
	DriverBusy    DriverStatus = "busy"
)

type Driver struct {
	ID           string       `json:"id"`
	AccountID    string       `json:"account_id"`
	Name         string       `json:"name"`
	VehicleClass string       `json:"vehicle_class"`
	Rating       float64      `json:"rating"` // 0..5
	Verified     bool         `json:"verified"`
	Status       DriverStatus `json:"status"`
}

// LocationRecord is the single current position kept per driver.
// It is written only by the driver's own reporting pipeline; everyone
// else reads it. Last write wins.
type LocationRecord struct {
	DriverID   string    `json:"driver_id"`
	Loc        Coord     `json:"loc"`
	HeadingDeg float64   `json:"heading_deg"`
	SpeedMps   float64   `json:"speed_mps"`
	AccuracyM  float64   `json:"accuracy_m"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// OfferState tracks what happened to an offer after creation.
type OfferState string

const (
	OfferPending   OfferState = "pending"
	OfferAccepted  OfferState = "accepted"
	OfferExpired   OfferState = "expired"
	OfferWithdrawn OfferState = "withdrawn" // ride won by another driver
)

// Offer is a time-bounded proposal of one ride to one driver.
// Immutable after creation except for State.
type Offer struct {
	ID         string     `json:"id"`
	RideID     string     `json:"ride_id"`
	DriverID   string     `json:"driver_id"`
	DistanceKm float64    `json:"distance_km"` // snapshot at offer time
	ETASec     float64    `json:"eta_sec,omitempty"`
	State      OfferState `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// Actionable reports whether the offer can still be acted on at t.
// Expiry is evaluated lazily against the wall clock.
func (o *Offer) Actionable(t time.Time) bool {
	return o.State == OfferPending && t.Before(o.ExpiresAt)
}

// OfferSummary is the payload delivered to a driver client.
type OfferSummary struct {
	RideID        string  `json:"ride_id"`
	Pickup        Coord   `json:"pickup"`
	PickupAddr    string  `json:"pickup_addr"`
	Dropoff       Coord   `json:"dropoff"`
	DropoffAddr   string  `json:"dropoff_addr"`
	RiderName     string  `json:"rider_name"`
	RiderPhone    string  `json:"rider_phone"`
	EstimatedFare int64   `json:"estimated_fare"`
	DistanceKm    float64 `json:"distance_km"`
	ETASec        float64 `json:"eta_sec,omitempty"`
	ExpiresAt     int64   `json:"expires_at"` // unix seconds
}

// BookingStatus is the lifecycle of a scheduled, operator-assigned booking.
type BookingStatus string

const (
	BookingAssigned  BookingStatus = "assigned"
	BookingArrived   BookingStatus = "arrived"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

// Booking is a pre-arranged trip placed directly by an operator.
// The driver stays online (and matchable) until they arrive at the
// scheduled pickup; only then do they count as busy.
type Booking struct {
	ID           string        `json:"id"`
	RiderID      string        `json:"rider_id"`
	DriverID     string        `json:"driver_id"`
	VehicleClass string        `json:"vehicle_class"`
	Pickup       Coord         `json:"pickup"`
	PickupAddr   string        `json:"pickup_addr"`
	Dropoff      Coord         `json:"dropoff"`
	DropoffAddr  string        `json:"dropoff_addr"`
	PickupAt     time.Time     `json:"pickup_at"`
	Status       BookingStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Committed reports whether the booking occupies its driver right now.
func (b *Booking) Committed() bool {
	return b.Status == BookingArrived
}
