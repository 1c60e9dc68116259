package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"

	_ "github.com/lib/pq"

	"github.com/example/ride-tracking/internal/models"
)

//go:embed migrations/001_create_trips.sql
var createTripsSQL string

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, createTripsSQL)
	return err
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) SaveTrip(ctx context.Context, r *models.TripRecord) error {
	destLat, destLng := nullDest(r.Destination)
	_, err := p.db.ExecContext(ctx, `INSERT INTO trips(id, driver_id, pickup_lat, pickup_lng, dest_lat, dest_lng, status, ticks, created_at, updated_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		r.ID, r.DriverID, r.Pickup.Lat, r.Pickup.Lng, destLat, destLng, r.Status, r.Ticks, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) UpdateTrip(ctx context.Context, r *models.TripRecord) error {
	destLat, destLng := nullDest(r.Destination)
	res, err := p.db.ExecContext(ctx, `UPDATE trips SET status=$1, dest_lat=$2, dest_lng=$3, ticks=$4, updated_at=$5 WHERE id=$6`,
		r.Status, destLat, destLng, r.Ticks, r.UpdatedAt, r.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) GetTrip(ctx context.Context, id string) (*models.TripRecord, error) {
	var (
		r                models.TripRecord
		destLat, destLng sql.NullFloat64
	)
	err := p.db.QueryRowContext(ctx, `SELECT id, driver_id, pickup_lat, pickup_lng, dest_lat, dest_lng, status, ticks, created_at, updated_at FROM trips WHERE id=$1`, id).
		Scan(&r.ID, &r.DriverID, &r.Pickup.Lat, &r.Pickup.Lng, &destLat, &destLng, &r.Status, &r.Ticks, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if destLat.Valid && destLng.Valid {
		r.Destination = &models.Coord{Lat: destLat.Float64, Lng: destLng.Float64}
	}
	return &r, nil
}

func nullDest(c *models.Coord) (sql.NullFloat64, sql.NullFloat64) {
	if c == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: c.Lat, Valid: true}, sql.NullFloat64{Float64: c.Lng, Valid: true}
}
