package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisStore implements LocationStore on Redis: GEOADD for the position,
// a per-driver hash for motion attributes and the update timestamp.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(addr, password, key string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{client: c, key: key}
}

func NewRedisStoreWithClient(c *redis.Client, key string) *RedisStore {
	return &RedisStore{client: c, key: key}
}

func (r *RedisStore) Upsert(ctx context.Context, rec models.LocationRecord) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: rec.Loc.Lon,
		Latitude:  rec.Loc.Lat,
		Name:      rec.DriverID,
	}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, locKey(rec.DriverID), map[string]interface{}{
		"lat":      strconv.FormatFloat(rec.Loc.Lat, 'f', -1, 64),
		"lon":      strconv.FormatFloat(rec.Loc.Lon, 'f', -1, 64),
		"heading":  strconv.FormatFloat(rec.HeadingDeg, 'f', -1, 64),
		"speed":    strconv.FormatFloat(rec.SpeedMps, 'f', -1, 64),
		"accuracy": strconv.FormatFloat(rec.AccuracyM, 'f', -1, 64),
		"updated":  rec.UpdatedAt.UTC().Format(time.RFC3339),
	}).Err()
}

func (r *RedisStore) Latest(ctx context.Context, driverID string) (models.LocationRecord, bool, error) {
	m, err := r.client.HGetAll(ctx, locKey(driverID)).Result()
	if err != nil {
		return models.LocationRecord{}, false, err
	}
	if len(m) == 0 {
		return models.LocationRecord{}, false, nil
	}
	rec := models.LocationRecord{DriverID: driverID}
	rec.Loc.Lat = parseFloat(m["lat"])
	rec.Loc.Lon = parseFloat(m["lon"])
	rec.HeadingDeg = parseFloat(m["heading"])
	rec.SpeedMps = parseFloat(m["speed"])
	rec.AccuracyM = parseFloat(m["accuracy"])
	if t, err := time.Parse(time.RFC3339, m["updated"]); err == nil {
		rec.UpdatedAt = t
	}
	return rec, true, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func locKey(id string) string { return "driver:loc:" + id }
