package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-tracking/internal/dispatch"
	"github.com/example/ride-tracking/internal/geo"
	"github.com/example/ride-tracking/internal/matcher"
	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/route"
	"github.com/example/ride-tracking/internal/storage"
	"github.com/example/ride-tracking/internal/tracker"
	"github.com/example/ride-tracking/internal/trip"
)

// Deps wires the server. Geo, Store, WSReg and JWTSecret are optional.
type Deps struct {
	Engine     *tracker.Engine
	Geo        geo.Geo
	Store      storage.TripStore
	WSReg      *dispatch.WSRegistry
	Rand       route.Rand
	RouteSteps int
	JWTSecret  []byte
	// Ready reports backend health for /healthz; nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(d Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if d.WSReg == nil {
		d.WSReg = dispatch.NewWSRegistry()
	}
	if d.Rand == nil {
		d.Rand = tracker.NewLockedRand(0)
	}
	s := &Server{Deps: d, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	ws := s.mux.PathPrefix("/ws").Subrouter()
	if len(s.JWTSecret) > 0 {
		api.Use(s.authMiddleware)
		ws.Use(s.authMiddleware)
	}
	api.HandleFunc("/trips", s.handleAssign).Methods("POST")
	api.HandleFunc("/trips/{id}", s.handleGetTrip).Methods("GET")
	api.HandleFunc("/trips/{id}", s.handleCancel).Methods("DELETE")
	api.HandleFunc("/trips/{id}/start", s.handleStartRide).Methods("POST")
	api.HandleFunc("/trips/{id}/complete", s.handleComplete).Methods("POST")
	api.HandleFunc("/routes", s.handleRoute).Methods("POST")
	api.HandleFunc("/drivers/nearby", s.handleNearby).Methods("GET")
	ws.HandleFunc("/trips/{id}", s.handleTripWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type assignRequest struct {
	TripID string        `json:"trip_id"`
	Pickup *models.Coord `json:"pickup"`
}

type startRequest struct {
	Destination *models.Coord `json:"destination"`
}

type routeRequest struct {
	Start *models.Coord `json:"start"`
	End   *models.Coord `json:"end"`
	Steps int           `json:"steps"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Pickup == nil {
		http.Error(w, "pickup is required", http.StatusBadRequest)
		return
	}
	snap, err := s.Engine.AssignDriver(r.Context(), req.TripID, *req.Pickup)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("trip requested", "trip_id", snap.TripID, "subject", SubjectFromContext(r.Context()))
	writeJSON(w, http.StatusCreated, snap)
}

// handleGetTrip falls back to trip history once the live trip has been dropped.
func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, err := s.Engine.Snapshot(id)
	if errors.Is(err, tracker.ErrTripNotFound) && s.Store != nil {
		rec, serr := s.Store.GetTrip(r.Context(), id)
		if serr != nil {
			s.writeError(w, r, serr)
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.CancelTracking(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartRide(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Destination == nil {
		http.Error(w, "destination is required", http.StatusBadRequest)
		return
	}
	snap, err := s.Engine.StartRide(r.Context(), mux.Vars(r)["id"], *req.Destination)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Engine.CompleteTrip(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Start == nil || req.End == nil {
		http.Error(w, "start and end are required", http.StatusBadRequest)
		return
	}
	for _, c := range []models.Coord{*req.Start, *req.End} {
		if err := geo.ValidateCoord(c); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if req.Steps > route.MaxSteps {
		http.Error(w, fmt.Sprintf("steps must be at most %d", route.MaxSteps), http.StatusBadRequest)
		return
	}
	steps := req.Steps
	if steps <= 0 {
		steps = s.RouteSteps
	}
	points := route.Generate(s.Rand, *req.Start, *req.End, steps)
	writeJSON(w, http.StatusOK, map[string]any{
		"distance_km": geo.DistanceKmRounded(*req.Start, *req.End),
		"bearing_deg": geo.BearingDegrees(*req.Start, *req.End),
		"points":      points,
	})
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	if s.Geo == nil {
		writeJSON(w, http.StatusOK, []models.PositionUpdate{})
		return
	}
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
	if err1 != nil || err2 != nil {
		http.Error(w, "lat and lng are required", http.StatusBadRequest)
		return
	}
	c := models.Coord{Lat: lat, Lng: lng}
	if err := geo.ValidateCoord(c); err != nil {
		s.writeError(w, r, err)
		return
	}
	radius := 5.0
	if v := q.Get("radius_km"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			radius = f
		}
	}
	limit := 10
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	out := s.Geo.Nearby(c, radius, limit)
	if out == nil {
		out = []models.PositionUpdate{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{"status": "ok", "engine": s.Engine.Stats()}
	if s.Ready != nil {
		if err := s.Ready(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["error"] = err.Error()
		}
	}
	writeJSON(w, status, body)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, geo.ErrInvalidCoord):
		status = http.StatusBadRequest
	case errors.Is(err, tracker.ErrTripNotFound), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, trip.ErrInvalidTransition), errors.Is(err, tracker.ErrPickupMismatch):
		status = http.StatusConflict
	case errors.Is(err, matcher.ErrNoDrivers):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
