package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/ride-tracking/internal/models"
)

// EarthRadiusKm is the mean Earth radius used by every distance helper here.
const EarthRadiusKm = 6371.0

// kmPerDegLat is the length of one degree of latitude.
const kmPerDegLat = 111.32

var ErrInvalidCoord = errors.New("invalid coordinate")

// ValidateCoord rejects NaN/Inf and out-of-range values.
func ValidateCoord(c models.Coord) error {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude %v must be between -90 and 90", ErrInvalidCoord, c.Lat)
	}
	if math.IsNaN(c.Lng) || math.IsInf(c.Lng, 0) || c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("%w: longitude %v must be between -180 and 180", ErrInvalidCoord, c.Lng)
	}
	return nil
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// DistanceKm is the haversine great-circle distance in kilometres.
// Inputs must be valid coordinates; see ValidateCoord.
func DistanceKm(a, b models.Coord) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// DistanceKmRounded is DistanceKm rounded to two decimals for display.
// Tracking code must use the unrounded value.
func DistanceKmRounded(a, b models.Coord) float64 {
	return math.Round(DistanceKm(a, b)*100) / 100
}

// BearingDegrees returns the initial bearing from a to b in [0, 360).
func BearingDegrees(a, b models.Coord) float64 {
	phi1, phi2 := toRad(a.Lat), toRad(b.Lat)
	dLng := toRad(b.Lng - a.Lng)
	y := math.Sin(dLng) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLng)
	deg := math.Mod(toDeg(math.Atan2(y, x))+360, 360)
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// PlanarDistance is the Euclidean distance in degree space. It is only a
// proximity heuristic for the movement step and is not a metric distance.
func PlanarDistance(a, b models.Coord) float64 {
	dLat := b.Lat - a.Lat
	dLng := b.Lng - a.Lng
	return math.Sqrt(dLat*dLat + dLng*dLng)
}

// OffsetKm moves c by distKm along bearingDeg using a flat-earth
// approximation, which is accurate enough for a few kilometres.
func OffsetKm(c models.Coord, distKm, bearingDeg float64) models.Coord {
	theta := toRad(bearingDeg)
	dLat := distKm * math.Cos(theta) / kmPerDegLat
	cosLat := math.Cos(toRad(c.Lat))
	if cosLat < 1e-6 {
		cosLat = 1e-6
	}
	dLng := distKm * math.Sin(theta) / (kmPerDegLat * cosLat)
	return models.Coord{Lat: clamp(c.Lat+dLat, -90, 90), Lng: wrapLng(c.Lng + dLng)}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func wrapLng(v float64) float64 {
	for v > 180 {
		v -= 360
	}
	for v < -180 {
		v += 360
	}
	return v
}
