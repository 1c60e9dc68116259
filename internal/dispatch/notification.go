package dispatch

import (
	"fmt"
	"time"

	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/trip"
)

// Tone is one note of a sound cue. Synthesis is up to the platform layer.
type Tone struct {
	FrequencyHz float64 `json:"frequency_hz"`
	DurationMs  int     `json:"duration_ms"`
}

type SoundProfile struct {
	Name  string `json:"name"`
	Tones []Tone `json:"tones"`
}

// Request asks the platform layer to alert the passenger. Nothing in this
// package plays audio, vibrates or shows anything.
type Request struct {
	Kind             trip.Kind    `json:"kind"`
	TripID           string       `json:"trip_id"`
	DriverID         string       `json:"driver_id,omitempty"`
	Title            string       `json:"title"`
	Body             string       `json:"body"`
	SoundProfile     SoundProfile `json:"sound_profile"`
	VibrationPattern []int        `json:"vibration_pattern"`
	CreatedAt        time.Time    `json:"created_at"`
}

const (
	noteC5 = 523.25
	noteE5 = 659.25
	noteG5 = 783.99
	noteA5 = 880.00
)

var (
	soundAssigned    = SoundProfile{Name: "assigned", Tones: []Tone{{noteC5, 150}, {noteE5, 150}}}
	soundApproaching = SoundProfile{Name: "approaching", Tones: []Tone{{noteA5, 120}, {noteE5, 120}}}
	soundArrival     = SoundProfile{Name: "arrival", Tones: []Tone{{noteC5, 180}, {noteE5, 180}, {noteG5, 240}}}

	vibrateAssigned    = []int{200, 100, 200}
	vibrateApproaching = []int{300, 150, 300}
	vibrateArrival     = []int{500, 200, 500, 200, 500}
)

// For maps an event to the notification it should raise. Only the
// assigned, approaching and arrival events produce one.
func For(ev trip.Event, snap models.Snapshot) (Request, bool) {
	req := Request{Kind: ev.Kind, TripID: snap.TripID, CreatedAt: ev.At}
	name, vehicle, license := "Your driver", "your vehicle", ""
	if d := snap.Driver; d != nil {
		req.DriverID = d.ID
		name, vehicle, license = d.Name, d.Vehicle, d.License
	}
	plate := ""
	if license != "" {
		plate = " (" + license + ")"
	}

	switch ev.Kind {
	case trip.KindAssigned:
		req.Title = "Driver assigned"
		req.Body = fmt.Sprintf("%s is on the way in a %s%s. ETA %d min.", name, vehicle, plate, snap.ETAMinutes)
		req.SoundProfile = soundAssigned
		req.VibrationPattern = append([]int(nil), vibrateAssigned...)
	case trip.KindApproaching:
		req.Title = "Driver approaching"
		req.Body = fmt.Sprintf("%s is %.1f km away, about %d min.", name, snap.DistanceRemaining, snap.ETAMinutes)
		req.SoundProfile = soundApproaching
		req.VibrationPattern = append([]int(nil), vibrateApproaching...)
	case trip.KindArrival:
		req.Title = "Driver has arrived"
		req.Body = fmt.Sprintf("%s is waiting at the pickup point in a %s%s.", name, vehicle, plate)
		req.SoundProfile = soundArrival
		req.VibrationPattern = append([]int(nil), vibrateArrival...)
	default:
		return Request{}, false
	}
	return req, true
}
