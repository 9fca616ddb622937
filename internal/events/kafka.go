package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

// Kafka publishes dispatch events to a single topic keyed by entity id,
// so per-ride and per-driver ordering is preserved within a partition.
type Kafka struct {
	writer *kafka.Writer
}

func NewKafka(brokers []string, topic string) *Kafka {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &Kafka{writer: w}
}

type rideStatusEvent struct {
	Type     string            `json:"type"`
	RideID   string            `json:"ride_id"`
	DriverID string            `json:"driver_id,omitempty"`
	From     models.RideStatus `json:"from"`
	To       models.RideStatus `json:"to"`
	At       time.Time         `json:"at"`
}

type availabilityEvent struct {
	Type     string              `json:"type"`
	DriverID string              `json:"driver_id"`
	From     models.DriverStatus `json:"from"`
	To       models.DriverStatus `json:"to"`
	At       time.Time           `json:"at"`
}

type tripMetricsEvent struct {
	Type        string    `json:"type"`
	RideID      string    `json:"ride_id"`
	DriverID    string    `json:"driver_id"`
	DistanceKm  float64   `json:"distance_km"`
	DurationSec int64     `json:"duration_sec"`
	FinalFare   int64     `json:"final_fare"`
	At          time.Time `json:"at"`
}

func (k *Kafka) RideStatusChanged(ctx context.Context, ride *models.Ride, from models.RideStatus) error {
	return k.publish(ctx, ride.ID, rideStatusEvent{
		Type:     "ride_status_changed",
		RideID:   ride.ID,
		DriverID: ride.DriverID,
		From:     from,
		To:       ride.Status,
		At:       time.Now(),
	})
}

func (k *Kafka) DriverAvailabilityChanged(ctx context.Context, driverID string, from, to models.DriverStatus) error {
	return k.publish(ctx, driverID, availabilityEvent{
		Type:     "driver_availability_changed",
		DriverID: driverID,
		From:     from,
		To:       to,
		At:       time.Now(),
	})
}

func (k *Kafka) TripCompleted(ctx context.Context, ride *models.Ride) error {
	return k.publish(ctx, ride.ID, tripMetricsEvent{
		Type:        "trip_completed",
		RideID:      ride.ID,
		DriverID:    ride.DriverID,
		DistanceKm:  ride.FinalDistanceKm,
		DurationSec: ride.FinalDurationSec,
		FinalFare:   ride.FinalFare,
		At:          time.Now(),
	})
}

func (k *Kafka) publish(ctx context.Context, key string, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(v)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (k *Kafka) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
