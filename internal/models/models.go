package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DriverRecord is reference data for a candidate driver. It does not change
// for the lifetime of a trip.
type DriverRecord struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Rating         float64 `json:"rating"` // 0..5
	CompletedTrips int     `json:"completed_trips"`
	Vehicle        string  `json:"vehicle"`
	License        string  `json:"license"`
	BaseETAMinutes int     `json:"base_eta_minutes"`
}

type TripStatus string

const (
	StatusSearching      TripStatus = "searching"
	StatusDriverAssigned TripStatus = "driver_assigned"
	StatusDriverArriving TripStatus = "driver_arriving"
	StatusArrived        TripStatus = "arrived"
	StatusInProgress     TripStatus = "in_progress"
	StatusCompleted      TripStatus = "completed"
	StatusStalled        TripStatus = "stalled"
	StatusCancelled      TripStatus = "cancelled"
)

// Moving reports whether the clock should be driving the trip in this status.
func (s TripStatus) Moving() bool {
	switch s {
	case StatusDriverAssigned, StatusDriverArriving, StatusInProgress:
		return true
	}
	return false
}

// RoutePoint is one step of a simulated route.
type RoutePoint struct {
	Lat               float64 `json:"lat"`
	Lng               float64 `json:"lng"`
	TimestampOffsetMs int64   `json:"timestamp_offset_ms"`
	SpeedMph          float64 `json:"speed_mph"`
	IsTrafficArea     bool    `json:"is_traffic_area"`
}

func (p RoutePoint) Coord() Coord { return Coord{Lat: p.Lat, Lng: p.Lng} }

// Snapshot is the read-only view of a tracked trip handed to the UI layer.
type Snapshot struct {
	TripID            string        `json:"trip_id"`
	Status            TripStatus    `json:"status"`
	Driver            *DriverRecord `json:"driver,omitempty"`
	DriverPosition    *Coord        `json:"driver_position,omitempty"`
	TargetPosition    *Coord        `json:"target_position,omitempty"`
	DistanceRemaining float64       `json:"distance_remaining_km"`
	ETAMinutes        int           `json:"eta_minutes"`
	HeadingDeg        float64       `json:"heading_deg"`
	SpeedMph          float64       `json:"speed_mph,omitempty"`
	InTraffic         bool          `json:"in_traffic,omitempty"`
	Ticks             int           `json:"ticks"`
	LastUpdate        time.Time     `json:"last_update"`
}

// PositionUpdate is published once per tick for live map consumers.
type PositionUpdate struct {
	TripID     string    `json:"trip_id"`
	DriverID   string    `json:"driver_id"`
	Loc        Coord     `json:"loc"`
	Status     string    `json:"status"`
	HeadingDeg float64   `json:"heading_deg"`
	Rating     float64   `json:"rating"`
	Updated    time.Time `json:"updated"`
}

// TripRecord is the persisted history row for a trip.
type TripRecord struct {
	ID          string    `json:"id"`
	DriverID    string    `json:"driver_id"`
	Pickup      Coord     `json:"pickup"`
	Destination *Coord    `json:"destination,omitempty"`
	Status      string    `json:"status"` // driver_assigned, completed, cancelled, stalled
	Ticks       int       `json:"ticks"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
