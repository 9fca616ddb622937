package geo

import (
	"context"
	"math"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// LocationStore holds the single current position per driver.
// Upsert is last-write-wins; Latest returns false when no record exists.
type LocationStore interface {
	Upsert(ctx context.Context, rec models.LocationRecord) error
	Latest(ctx context.Context, driverID string) (models.LocationRecord, bool, error)
}

type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]models.LocationRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]models.LocationRecord)}
}

func (m *MemoryStore) Upsert(ctx context.Context, rec models.LocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.DriverID] = rec
	return nil
}

func (m *MemoryStore) Latest(ctx context.Context, driverID string) (models.LocationRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[driverID]
	return rec, ok, nil
}

// HaversineKm is the great-circle distance in kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
