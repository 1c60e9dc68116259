package tracker

import (
	"math/rand/v2"
	"sync"
	"time"
)

// LockedRand is a seedable PCG source shared by concurrent ticks.
type LockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewLockedRand seeds a PCG source. A zero seed uses the current time.
func NewLockedRand(seed uint64) *LockedRand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &LockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (l *LockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *LockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}
