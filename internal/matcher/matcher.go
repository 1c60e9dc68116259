package matcher

import (
	"errors"
	"sync"

	"github.com/example/ride-tracking/internal/models"
)

var ErrNoDrivers = errors.New("no drivers available")

// Rand is satisfied by *rand.Rand from math/rand/v2.
type Rand interface {
	IntN(n int) int
}

// Pool picks drivers uniformly at random from a fixed candidate list.
// There is no live matching against driver availability.
type Pool struct {
	mu         sync.Mutex
	candidates []models.DriverRecord
	rng        Rand
}

func NewPool(rng Rand, candidates []models.DriverRecord) *Pool {
	cp := make([]models.DriverRecord, len(candidates))
	copy(cp, candidates)
	return &Pool{candidates: cp, rng: rng}
}

// Pick returns a copy of one candidate.
func (p *Pool) Pick() (models.DriverRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.candidates) == 0 {
		return models.DriverRecord{}, ErrNoDrivers
	}
	return p.candidates[p.rng.IntN(len(p.candidates))], nil
}

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.candidates)
}

// DefaultCandidates is the built-in roster used when no roster is configured.
func DefaultCandidates() []models.DriverRecord {
	return []models.DriverRecord{
		{ID: "drv-001", Name: "Marcus Reid", Rating: 4.9, CompletedTrips: 1284, Vehicle: "Black Mercedes S-Class", License: "LX21 KMR", BaseETAMinutes: 4},
		{ID: "drv-002", Name: "Elena Petrova", Rating: 4.8, CompletedTrips: 962, Vehicle: "Grey Range Rover Vogue", License: "LR70 EPV", BaseETAMinutes: 6},
		{ID: "drv-003", Name: "David Okafor", Rating: 4.95, CompletedTrips: 2107, Vehicle: "Black BMW 7 Series", License: "BK19 DOK", BaseETAMinutes: 5},
		{ID: "drv-004", Name: "Sofia Alvarez", Rating: 4.7, CompletedTrips: 538, Vehicle: "Silver Audi A8", License: "AV68 SAZ", BaseETAMinutes: 7},
		{ID: "drv-005", Name: "James Whitfield", Rating: 4.85, CompletedTrips: 1511, Vehicle: "Black Cadillac Escalade", License: "CE22 JWF", BaseETAMinutes: 3},
	}
}
