package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/example/ride-tracking/internal/models"
)

func record() *models.TripRecord {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return &models.TripRecord{
		ID:        "trip-1",
		DriverID:  "drv-1",
		Pickup:    models.Coord{Lat: 51.5074, Lng: -0.1278},
		Status:    "driver_assigned",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r := record()
	if err := m.UpdateTrip(ctx, r); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before save, got %v", err)
	}
	if err := m.SaveTrip(ctx, r); err != nil {
		t.Fatal(err)
	}
	r.Status = "completed"
	if got, _ := m.GetTrip(ctx, "trip-1"); got.Status != "driver_assigned" {
		t.Fatalf("store must keep its own copy, got %s", got.Status)
	}
	if err := m.UpdateTrip(ctx, r); err != nil {
		t.Fatal(err)
	}
	got, err := m.GetTrip(ctx, "trip-1")
	if err != nil || got.Status != "completed" {
		t.Fatalf("unexpected %+v %v", got, err)
	}
	if _, err := m.GetTrip(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresSaveTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	r := record()
	mock.ExpectExec("INSERT INTO trips").
		WithArgs(r.ID, r.DriverID, r.Pickup.Lat, r.Pickup.Lng, nil, nil, r.Status, 0, r.CreatedAt, r.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := NewPostgresStoreFromDB(db).SaveTrip(context.Background(), r); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresUpdateTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	r := record()
	r.Status = "completed"
	r.Ticks = 42
	r.Destination = &models.Coord{Lat: 51.52, Lng: -0.09}
	mock.ExpectExec("UPDATE trips SET").
		WithArgs("completed", 51.52, -0.09, 42, r.UpdatedAt, "trip-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE trips SET").
		WithArgs("completed", 51.52, -0.09, 42, r.UpdatedAt, "trip-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPostgresStoreFromDB(db)
	if err := store.UpdateTrip(context.Background(), r); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.UpdateTrip(context.Background(), r); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound when no row matched, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresGetTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	r := record()
	cols := []string{"id", "driver_id", "pickup_lat", "pickup_lng", "dest_lat", "dest_lng", "status", "ticks", "created_at", "updated_at"}
	mock.ExpectQuery("SELECT (.+) FROM trips WHERE id").WithArgs("trip-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(r.ID, r.DriverID, r.Pickup.Lat, r.Pickup.Lng, 51.52, -0.09, "completed", 40, r.CreatedAt, r.UpdatedAt))
	mock.ExpectQuery("SELECT (.+) FROM trips WHERE id").WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	store := NewPostgresStoreFromDB(db)
	got, err := store.GetTrip(context.Background(), "trip-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "completed" || got.Ticks != 40 || got.Destination == nil || got.Destination.Lat != 51.52 {
		t.Fatalf("unexpected record %+v", got)
	}
	if _, err := store.GetTrip(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS trips").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := NewPostgresStoreFromDB(db).Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
