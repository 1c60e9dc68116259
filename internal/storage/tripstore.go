package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/example/ride-tracking/internal/models"
)

var ErrNotFound = errors.New("trip not found")

// TripStore defines persistence operations for trip history.
type TripStore interface {
	SaveTrip(ctx context.Context, r *models.TripRecord) error
	UpdateTrip(ctx context.Context, r *models.TripRecord) error
	GetTrip(ctx context.Context, id string) (*models.TripRecord, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	trips map[string]models.TripRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trips: make(map[string]models.TripRecord)}
}

func (m *MemoryStore) SaveTrip(_ context.Context, r *models.TripRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[r.ID] = *r
	return nil
}

func (m *MemoryStore) UpdateTrip(_ context.Context, r *models.TripRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[r.ID]; !ok {
		return ErrNotFound
	}
	m.trips[r.ID] = *r
	return nil
}

func (m *MemoryStore) GetTrip(_ context.Context, id string) (*models.TripRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}
