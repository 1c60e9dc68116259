// Package route produces presentation-grade simulated routes between two
// points. It does not snap to a road network.
package route

import (
	"math"

	"github.com/example/ride-tracking/internal/eta"
	"github.com/example/ride-tracking/internal/geo"
	"github.com/example/ride-tracking/internal/models"
)

const (
	DefaultSteps = 25
	// MaxSteps bounds a single route; larger requests are clamped.
	MaxSteps = 1000

	curveAmplitude = 0.0008 // degrees
	jitterDeg      = 0.0002
	minSpeedMph    = 25.0
	maxSpeedMph    = 40.0
	trafficChance  = 0.2
)

// Rand is the subset of math/rand/v2 used by the simulator.
type Rand interface {
	Float64() float64
}

// Generate interpolates steps+1 points from start to end, bending the line
// with a sinusoid and adding small random jitter. Offsets are derived from the
// length of each leg at the point's synthetic speed, so they strictly increase.
func Generate(rng Rand, start, end models.Coord, steps int) []models.RoutePoint {
	if steps <= 0 {
		steps = DefaultSteps
	}
	if steps > MaxSteps {
		steps = MaxSteps
	}
	points := make([]models.RoutePoint, 0, steps+1)
	var offsetMs int64
	var prev models.Coord
	for i := 0; i <= steps; i++ {
		ratio := float64(i) / float64(steps)
		lat := start.Lat + (end.Lat-start.Lat)*ratio
		lng := start.Lng + (end.Lng-start.Lng)*ratio

		// endpoints stay exact so the trip starts and ends where it should
		if i == steps {
			lat, lng = end.Lat, end.Lng
		} else if i > 0 {
			curve := math.Sin(ratio*math.Pi*3) * curveAmplitude
			lat += curve + (rng.Float64()-0.5)*2*jitterDeg
			lng += curve + (rng.Float64()-0.5)*2*jitterDeg
		}

		speed := minSpeedMph + rng.Float64()*(maxSpeedMph-minSpeedMph)
		traffic := rng.Float64() < trafficChance
		cur := models.Coord{Lat: lat, Lng: lng}
		if i > 0 {
			offsetMs += legMs(prev, cur, speed)
		}
		points = append(points, models.RoutePoint{
			Lat:               lat,
			Lng:               lng,
			TimestampOffsetMs: offsetMs,
			SpeedMph:          math.Round(speed*10) / 10,
			IsTrafficArea:     traffic,
		})
		prev = cur
	}
	return points
}

// legMs is the travel time for one leg, at least one millisecond.
func legMs(a, b models.Coord, speedMph float64) int64 {
	ms := int64(eta.SecondsAtSpeed(geo.DistanceKm(a, b), speedMph) * 1000)
	if ms < 1 {
		ms = 1
	}
	return ms
}
