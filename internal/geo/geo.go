package geo

import (
	"sync"
	"time"

	"github.com/example/ride-tracking/internal/models"
)

// Geo stores the last known driver position of every tracked trip, keyed
// by Member.
type Geo interface {
	Upsert(u models.PositionUpdate)
	Remove(member string)
	Nearby(c models.Coord, radiusKm float64, limit int) []models.PositionUpdate
}

// Member names an index entry. A driver serving two trips has one entry per
// trip; updates without a trip fall back to the driver ID.
func Member(u models.PositionUpdate) string {
	if u.TripID != "" {
		return u.TripID
	}
	return u.DriverID
}

type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.PositionUpdate
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.PositionUpdate)}
}

func (g *Index) Upsert(u models.PositionUpdate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if u.Updated.IsZero() {
		u.Updated = time.Now()
	}
	g.drivers[Member(u)] = u
}

func (g *Index) Remove(member string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.drivers, member)
}

// naive scan; the redis index is the one to use with many drivers
func (g *Index) Nearby(c models.Coord, radiusKm float64, limit int) []models.PositionUpdate {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		u    models.PositionUpdate
		dist float64
	}
	arr := make([]pair, 0, len(g.drivers))
	for _, u := range g.drivers {
		dist := DistanceKm(c, u.Loc)
		if radiusKm > 0 && dist > radiusKm {
			continue
		}
		arr = append(arr, pair{u, dist})
	}
	// partial selection sort for top-N
	n := limit
	if n <= 0 || n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.PositionUpdate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].u)
	}
	return out
}
