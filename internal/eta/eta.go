package eta

import "math"

const (
	DefaultMinutesPerKm = 2.5
	DefaultMaxJitter    = 2.0
)

// Rand is satisfied by *rand.Rand from math/rand/v2.
type Rand interface {
	Float64() float64
}

// Estimator turns a remaining distance into a whole-minute ETA.
type Estimator struct {
	MinutesPerKm float64
	MaxJitter    float64 // minutes, uniform in [0, MaxJitter)
}

func NewEstimator(minutesPerKm, maxJitter float64) Estimator {
	if minutesPerKm <= 0 {
		minutesPerKm = DefaultMinutesPerKm
	}
	if maxJitter < 0 {
		maxJitter = 0
	}
	return Estimator{MinutesPerKm: minutesPerKm, MaxJitter: maxJitter}
}

// Minutes is max(1, round(km*MinutesPerKm + jitter)). A nil rng disables jitter.
func (e Estimator) Minutes(distanceKm float64, rng Rand) int {
	per := e.MinutesPerKm
	if per <= 0 {
		per = DefaultMinutesPerKm
	}
	jitter := 0.0
	if rng != nil && e.MaxJitter > 0 {
		jitter = rng.Float64() * e.MaxJitter
	}
	m := int(math.Round(distanceKm*per + jitter))
	if m < 1 {
		m = 1
	}
	return m
}

// SecondsAtSpeed is distance over speed, used for route telemetry.
func SecondsAtSpeed(distanceKm, speedMph float64) float64 {
	if speedMph <= 0 {
		speedMph = 30
	}
	return distanceKm / (speedMph * 1.609344) * 3600
}
