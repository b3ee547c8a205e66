package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Danylo93/uber-like-freelas-sub001/internal/models"
)

// RedisIndex mirrors provider positions into Redis GEO structures so
// other processes (see cmd/consumer) can answer nearby queries without
// holding the simulator registry.
type RedisIndex struct {
	client *redis.Client
	key    string
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key}
}

func (r *RedisIndex) Upsert(ctx context.Context, p models.Provider) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: p.Coordinate.Longitude,
		Latitude:  p.Coordinate.Latitude,
		Name:      p.ID,
	}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(p.ID), map[string]interface{}{
		"name":     p.Name,
		"category": string(p.Category),
		"rating":   strconv.FormatFloat(p.Rating, 'f', 2, 64),
		"price":    strconv.FormatFloat(p.Price, 'f', 2, 64),
		"online":   strconv.FormatBool(p.Online),
		"updated":  time.Now().UTC().Format(time.RFC3339),
	}).Err()
}

// Nearby returns providers within radiusKM of the origin, closest first.
func (r *RedisIndex) Nearby(ctx context.Context, origin models.Coordinate, radiusKM float64, limit int) ([]models.Provider, error) {
	res, err := r.client.GeoRadius(ctx, r.key, origin.Longitude, origin.Latitude, &redis.GeoRadiusQuery{
		Radius: radiusKM, Unit: "km", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.Provider, 0, len(res))
	for _, g := range res {
		p := models.Provider{
			ID:         g.Name,
			Coordinate: models.Coordinate{Latitude: g.Latitude, Longitude: g.Longitude},
			DistanceKM: g.Dist,
		}
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			p.Name = m["name"]
			p.Category = models.ServiceCategory(m["category"])
			if v, err := strconv.ParseFloat(m["rating"], 64); err == nil {
				p.Rating = v
			}
			if v, err := strconv.ParseFloat(m["price"], 64); err == nil {
				p.Price = v
			}
			p.Online = m["online"] == "true"
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *RedisIndex) Close() error { return r.client.Close() }

func metaKey(id string) string { return "provider:meta:" + id }
