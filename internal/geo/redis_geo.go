package geo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisGeo implements Index using Redis GEO commands. Members of the geo set
// are driver ids; heading and freshness live in a per-driver hash.
type RedisGeo struct {
	client redis.UniversalClient
	key    string
}

func NewRedisGeo(client redis.UniversalClient, key string) *RedisGeo {
	if key == "" {
		key = "locations"
	}
	return &RedisGeo{client: client, key: key}
}

func LocationKey(driverID string) string { return "driver:" + driverID + ":location" }

func (r *RedisGeo) Upsert(ctx context.Context, loc models.DriverLocation) error {
	if loc.Updated.IsZero() {
		loc.Updated = time.Now()
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: loc.Lng, Latitude: loc.Lat, Name: loc.DriverID})
		p.HSet(ctx, LocationKey(loc.DriverID), map[string]interface{}{
			"lat":     strconv.FormatFloat(loc.Lat, 'f', -1, 64),
			"lng":     strconv.FormatFloat(loc.Lng, 'f', -1, 64),
			"heading": strconv.FormatFloat(loc.Heading, 'f', -1, 64),
			"updated": loc.Updated.UTC().Format(time.RFC3339Nano),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("geo upsert %s: %w", loc.DriverID, err)
	}
	return nil
}

func (r *RedisGeo) Nearby(ctx context.Context, center models.Coord, radiusKm float64) ([]Position, error) {
	res, err := r.client.GeoRadius(ctx, r.key, center.Lng, center.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo radius: %w", err)
	}
	out := make([]Position, 0, len(res))
	for _, g := range res {
		p := Position{
			DriverLocation: models.DriverLocation{DriverID: g.Name, Lat: g.Latitude, Lng: g.Longitude},
			DistanceKm:     g.Dist,
		}
		// heading is best effort; the coordinate from the geo set is authoritative
		if m, err := r.client.HGetAll(ctx, LocationKey(g.Name)).Result(); err == nil {
			applyMeta(&p.DriverLocation, m)
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *RedisGeo) Position(ctx context.Context, driverID string) (models.DriverLocation, bool, error) {
	m, err := r.client.HGetAll(ctx, LocationKey(driverID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return models.DriverLocation{}, false, err
	}
	if len(m) == 0 {
		return models.DriverLocation{}, false, nil
	}
	loc := models.DriverLocation{DriverID: driverID}
	if v, err := strconv.ParseFloat(m["lat"], 64); err == nil {
		loc.Lat = v
	}
	if v, err := strconv.ParseFloat(m["lng"], 64); err == nil {
		loc.Lng = v
	}
	applyMeta(&loc, m)
	return loc, true, nil
}

func (r *RedisGeo) Remove(ctx context.Context, driverID string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, r.key, driverID)
		p.Del(ctx, LocationKey(driverID))
		return nil
	})
	return err
}

func applyMeta(loc *models.DriverLocation, m map[string]string) {
	if v, ok := m["heading"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			loc.Heading = f
		}
	}
	if v, ok := m["updated"]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			loc.Updated = ts
		}
	}
}
