package geo

import (
	"context"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := HaversineKm(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// one degree of latitude is ~111 km
	d := HaversineKm(12.0, 77.0, 13.0, 77.0)
	if d < 110 || d > 112 {
		t.Fatalf("expected ~111km, got %f", d)
	}
}

func TestMemoryStoreLastWriteWins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	first := models.LocationRecord{DriverID: "d1", Loc: models.Coord{Lat: 1, Lon: 1}, UpdatedAt: time.Now().Add(-time.Minute)}
	second := models.LocationRecord{DriverID: "d1", Loc: models.Coord{Lat: 2, Lon: 2}, UpdatedAt: time.Now()}
	if err := s.Upsert(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, second); err != nil {
		t.Fatal(err)
	}
	rec, ok, err := s.Latest(ctx, "d1")
	if err != nil || !ok {
		t.Fatalf("expected record, ok=%v err=%v", ok, err)
	}
	if rec.Loc.Lat != 2 {
		t.Fatalf("expected last write to win, got lat=%f", rec.Loc.Lat)
	}
	if _, ok, _ := s.Latest(ctx, "unknown"); ok {
		t.Fatal("expected absent record for unknown driver")
	}
}
