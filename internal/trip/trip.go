// Package trip holds the lifecycle state machine for a single tracked trip.
//
// A Trip is a plain value with no timers and no side effects: the caller
// drives it with Tick and reacts to the returned Event. It is not safe for
// concurrent use.
package trip

import (
	"math"
	"time"

	"github.com/example/ride-tracking/internal/eta"
	"github.com/example/ride-tracking/internal/geo"
	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/route"
)

// Kind names what happened on a state change.
type Kind string

const (
	KindNone        Kind = ""
	KindAssigned    Kind = "assigned"
	KindApproaching Kind = "approaching"
	KindArrival     Kind = "arrival"
	KindStarted     Kind = "started"
	KindDestination Kind = "destination_reached"
	KindCompleted   Kind = "completed"
	KindCancelled   Kind = "cancelled"
	KindStalled     Kind = "stalled"
)

type Event struct {
	Kind Kind              `json:"kind"`
	From models.TripStatus `json:"from"`
	To   models.TripStatus `json:"to"`
	At   time.Time         `json:"at"`
}

// Fired reports whether the event carries a change.
func (e Event) Fired() bool { return e.Kind != KindNone }

// Rand is satisfied by *rand.Rand from math/rand/v2.
type Rand interface {
	Float64() float64
}

// Params are the tunable constants of the simulation. Distances are km
// measured with haversine; StepDeg is in degree space.
type Params struct {
	StepDeg       float64
	ArrivalKm     float64
	ApproachKm    float64
	SpawnRadiusKm float64
	RouteSteps    int
	// MaxTicks stalls a trip that keeps ticking without halting; 0 disables.
	MaxTicks int
	ETA      eta.Estimator
}

func DefaultParams() Params {
	return Params{
		StepDeg:       0.0003,
		ArrivalKm:     0.05,
		ApproachKm:    0.5,
		SpawnRadiusKm: 2.5,
		RouteSteps:    route.DefaultSteps,
		MaxTicks:      720,
		ETA:           eta.NewEstimator(eta.DefaultMinutesPerKm, eta.DefaultMaxJitter),
	}
}

type Trip struct {
	ID                string
	Status            models.TripStatus
	Driver            *models.DriverRecord
	DriverPosition    *models.Coord
	Target            *models.Coord
	Destination       *models.Coord
	Route             []models.RoutePoint
	RouteIndex        int
	DistanceRemaining float64
	ETAMinutes        int
	HeadingDeg        float64
	SpeedMph          float64
	InTraffic         bool
	Ticks             int
	LastUpdate        time.Time

	params        Params
	attempts      int
	approachFired bool
}

func New(id string, p Params) *Trip {
	return &Trip{ID: id, Status: models.StatusSearching, params: p}
}

func (t *Trip) Params() Params { return t.params }

// Assign selects the driver and places them at a random point within
// SpawnRadiusKm of pickup.
func (t *Trip) Assign(driver models.DriverRecord, pickup models.Coord, rng Rand, now time.Time) (Event, error) {
	if t.Status != models.StatusSearching {
		return Event{}, &TransitionError{Op: "assign a driver to", From: t.Status}
	}
	if err := geo.ValidateCoord(pickup); err != nil {
		return Event{}, err
	}
	// sqrt keeps the spawn point uniform over the disc
	dist := t.params.SpawnRadiusKm * math.Sqrt(rng.Float64())
	pos := geo.OffsetKm(pickup, dist, rng.Float64()*360)

	t.Driver = &driver
	t.Target = &pickup
	t.DriverPosition = &pos
	t.HeadingDeg = geo.BearingDegrees(pos, pickup)
	t.DistanceRemaining = geo.DistanceKm(pos, pickup)
	t.ETAMinutes = t.params.ETA.Minutes(t.DistanceRemaining, rng)
	t.LastUpdate = now
	return t.move(KindAssigned, models.StatusDriverAssigned, now), nil
}

// Tick advances the simulation by one step. Trips that are not moving, or
// that lack a position or target, are left untouched.
func (t *Trip) Tick(rng Rand, now time.Time) Event {
	if !t.Status.Moving() {
		return Event{}
	}
	t.attempts++
	if t.params.MaxTicks > 0 && t.attempts > t.params.MaxTicks {
		return t.move(KindStalled, models.StatusStalled, now)
	}
	if t.DriverPosition == nil || t.Target == nil {
		return Event{}
	}
	if t.Status == models.StatusInProgress {
		return t.routeTick(rng, now)
	}
	return t.pickupTick(rng, now)
}

// pickupTick steps a constant planar distance toward the pickup. Thresholds
// are checked against the haversine distance.
func (t *Trip) pickupTick(rng Rand, now time.Time) Event {
	pos, target := *t.DriverPosition, *t.Target

	if geo.DistanceKm(pos, target) >= t.params.ArrivalKm {
		next := stepToward(pos, target, t.params.StepDeg)
		if next != pos {
			t.HeadingDeg = geo.BearingDegrees(pos, next)
		}
		pos = next
		t.DriverPosition = &pos
	}

	dist := geo.DistanceKm(pos, target)
	t.DistanceRemaining = dist
	t.ETAMinutes = t.params.ETA.Minutes(dist, rng)
	t.Ticks++
	t.LastUpdate = now

	switch {
	case t.Status == models.StatusDriverAssigned && !t.approachFired && dist < t.params.ApproachKm:
		t.approachFired = true
		return t.move(KindApproaching, models.StatusDriverArriving, now)
	case dist < t.params.ArrivalKm:
		t.DistanceRemaining = 0
		t.ETAMinutes = 0
		return t.move(KindArrival, models.StatusArrived, now)
	}
	return Event{}
}

// routeTick moves to the next route point.
func (t *Trip) routeTick(rng Rand, now time.Time) Event {
	if t.AtRouteEnd() {
		return Event{}
	}
	prev := *t.DriverPosition
	t.RouteIndex++
	p := t.Route[t.RouteIndex]
	pos := p.Coord()
	t.DriverPosition = &pos
	t.HeadingDeg = geo.BearingDegrees(prev, pos)
	t.SpeedMph = p.SpeedMph
	t.InTraffic = p.IsTrafficArea
	t.Ticks++
	t.LastUpdate = now

	if t.AtRouteEnd() {
		t.DistanceRemaining = 0
		t.ETAMinutes = 0
		return Event{Kind: KindDestination, From: t.Status, To: t.Status, At: now}
	}
	t.DistanceRemaining = geo.DistanceKm(pos, *t.Destination)
	t.ETAMinutes = t.params.ETA.Minutes(t.DistanceRemaining, rng)
	return Event{}
}

// AtRouteEnd reports whether a ride has reached the last route point.
func (t *Trip) AtRouteEnd() bool {
	return t.Status == models.StatusInProgress && t.RouteIndex >= len(t.Route)-1
}

// StartRide picks the passenger up and plans a simulated route to destination.
func (t *Trip) StartRide(destination models.Coord, rng Rand, now time.Time) (Event, error) {
	if t.Status != models.StatusArrived {
		return Event{}, &TransitionError{Op: "start", From: t.Status}
	}
	if err := geo.ValidateCoord(destination); err != nil {
		return Event{}, err
	}
	t.Destination = &destination
	t.Route = route.Generate(rng, *t.Target, destination, t.params.RouteSteps)
	t.RouteIndex = 0
	pos := t.Route[0].Coord()
	t.DriverPosition = &pos
	t.HeadingDeg = geo.BearingDegrees(pos, destination)
	t.DistanceRemaining = geo.DistanceKm(pos, destination)
	t.ETAMinutes = t.params.ETA.Minutes(t.DistanceRemaining, rng)
	t.attempts = 0
	t.LastUpdate = now
	return t.move(KindStarted, models.StatusInProgress, now), nil
}

// Complete ends the trip. Only arrived and in-progress trips may complete.
func (t *Trip) Complete(now time.Time) (Event, error) {
	if t.Status != models.StatusArrived && t.Status != models.StatusInProgress {
		return Event{}, &TransitionError{Op: "complete", From: t.Status}
	}
	t.DistanceRemaining = 0
	t.ETAMinutes = 0
	t.SpeedMph = 0
	t.LastUpdate = now
	return t.move(KindCompleted, models.StatusCompleted, now), nil
}

func (t *Trip) Cancel(now time.Time) (Event, error) {
	if t.Terminal() {
		return Event{}, &TransitionError{Op: "cancel", From: t.Status}
	}
	t.LastUpdate = now
	return t.move(KindCancelled, models.StatusCancelled, now), nil
}

// Terminal reports whether no further change is possible.
func (t *Trip) Terminal() bool {
	return t.Status == models.StatusCompleted || t.Status == models.StatusCancelled
}

func (t *Trip) Snapshot() models.Snapshot {
	s := models.Snapshot{
		TripID:            t.ID,
		Status:            t.Status,
		DistanceRemaining: t.DistanceRemaining,
		ETAMinutes:        t.ETAMinutes,
		HeadingDeg:        t.HeadingDeg,
		SpeedMph:          t.SpeedMph,
		InTraffic:         t.InTraffic,
		Ticks:             t.Ticks,
		LastUpdate:        t.LastUpdate,
	}
	if t.Driver != nil {
		d := *t.Driver
		s.Driver = &d
	}
	if t.DriverPosition != nil {
		p := *t.DriverPosition
		s.DriverPosition = &p
	}
	if t.Target != nil {
		p := *t.Target
		s.TargetPosition = &p
	}
	return s
}

func (t *Trip) move(kind Kind, to models.TripStatus, now time.Time) Event {
	ev := Event{Kind: kind, From: t.Status, To: to, At: now}
	t.Status = to
	return ev
}

// stepToward advances pos by step degrees along the unit vector to target,
// snapping onto target when it is within one step.
func stepToward(pos, target models.Coord, step float64) models.Coord {
	d := geo.PlanarDistance(pos, target)
	if d <= step || d == 0 {
		return target
	}
	return models.Coord{
		Lat: pos.Lat + step*(target.Lat-pos.Lat)/d,
		Lng: pos.Lng + step*(target.Lng-pos.Lng)/d,
	}
}
