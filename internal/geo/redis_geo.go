package geo

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-tracking/internal/models"
)

// RedisGeo implements Geo using Redis GEO commands plus a metadata hash per member.
type RedisGeo struct {
	client  *redis.Client
	key     string
	timeout time.Duration
	logger  *slog.Logger
}

func NewRedisGeo(addr, password, key string, logger *slog.Logger) *RedisGeo {
	if logger == nil {
		logger = slog.Default()
	}
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, timeout: time.Second, logger: logger}
}

func (r *RedisGeo) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisGeo) Close() error { return r.client.Close() }

func (r *RedisGeo) Upsert(u models.PositionUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	member := Member(u)
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: u.Loc.Lng, Latitude: u.Loc.Lat, Name: member}).Err(); err != nil {
		r.logger.Warn("redis geoadd failed", "member", member, "driver_id", u.DriverID, "error", err)
		return
	}
	if err := r.client.HSet(ctx, MetaKey(member), MetaFields(u)).Err(); err != nil {
		r.logger.Warn("redis hset failed", "member", member, "driver_id", u.DriverID, "error", err)
	}
}

func (r *RedisGeo) Remove(member string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	_ = r.client.ZRem(ctx, r.key, member).Err()
	_ = r.client.Del(ctx, MetaKey(member)).Err()
}

func (r *RedisGeo) Nearby(c models.Coord, radiusKm float64, limit int) []models.PositionUpdate {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if radiusKm <= 0 {
		radiusKm = 5
	}
	res, err := r.client.GeoRadius(ctx, r.key, c.Lng, c.Lat, &redis.GeoRadiusQuery{Radius: radiusKm, Unit: "km", WithCoord: true, Count: limit, Sort: "ASC"}).Result()
	if err != nil {
		r.logger.Warn("redis georadius failed", "error", err)
		return nil
	}
	out := make([]models.PositionUpdate, 0, len(res))
	for _, g := range res {
		u := models.PositionUpdate{DriverID: g.Name, Loc: models.Coord{Lat: g.Latitude, Lng: g.Longitude}}
		if m, err := r.client.HGetAll(ctx, MetaKey(g.Name)).Result(); err == nil {
			applyMeta(&u, m)
		}
		out = append(out, u)
	}
	return out
}

func MetaKey(member string) string { return "position:meta:" + member }

// MetaFields is the hash stored next to each GEO member.
func MetaFields(u models.PositionUpdate) map[string]interface{} {
	updated := u.Updated
	if updated.IsZero() {
		updated = time.Now()
	}
	return map[string]interface{}{
		"trip_id":   u.TripID,
		"driver_id": u.DriverID,
		"status":    u.Status,
		"heading":   strconv.FormatFloat(u.HeadingDeg, 'f', 2, 64),
		"rating":    strconv.FormatFloat(u.Rating, 'f', 2, 64),
		"updated":   updated.Format(time.RFC3339),
	}
}

func applyMeta(u *models.PositionUpdate, m map[string]string) {
	u.TripID = m["trip_id"]
	if id := m["driver_id"]; id != "" {
		u.DriverID = id
	}
	u.Status = m["status"]
	if f, err := strconv.ParseFloat(m["heading"], 64); err == nil {
		u.HeadingDeg = f
	}
	if f, err := strconv.ParseFloat(m["rating"], 64); err == nil {
		u.Rating = f
	}
	if t, err := time.Parse(time.RFC3339, m["updated"]); err == nil {
		u.Updated = t
	}
}
