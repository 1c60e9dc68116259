// Package tracker runs tracked trips: it owns one clock handle per trip,
// feeds ticks into the trip state machine and pushes the results out to the
// position index, the position stream, notifications and trip history.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-tracking/internal/clock"
	"github.com/example/ride-tracking/internal/geo"
	"github.com/example/ride-tracking/internal/matcher"
	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/observability"
	"github.com/example/ride-tracking/internal/storage"
	"github.com/example/ride-tracking/internal/trip"
)

var (
	ErrTripNotFound   = errors.New("trip not found")
	ErrPickupMismatch = errors.New("trip already assigned to a different pickup")
)

// Rand covers what the pool and the state machine draw from.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// Notifier receives transition events. Implementations must not block.
type Notifier interface {
	Notify(ev trip.Event, snap models.Snapshot) bool
}

// PositionPublisher streams per-tick driver positions, e.g. to Kafka.
type PositionPublisher interface {
	PublishPosition(ctx context.Context, u models.PositionUpdate) error
}

type Options struct {
	Rand   Rand
	Pool   *matcher.Pool
	Params trip.Params

	TickInterval      time.Duration
	RouteTickInterval time.Duration
	// Retention keeps finished trips readable before they are dropped.
	Retention time.Duration

	Notifier  Notifier
	Positions geo.Geo
	Publisher PositionPublisher
	Store     storage.TripStore
	Logger    *slog.Logger
}

type Engine struct {
	mu    sync.RWMutex
	trips map[string]*tracked

	clock     *clock.Clock
	rng       Rand
	pool      *matcher.Pool
	params    trip.Params
	interval  time.Duration
	routeTick time.Duration
	retention time.Duration

	notifier  Notifier
	positions geo.Geo
	publisher PositionPublisher
	store     storage.TripStore
	logger    *slog.Logger

	restarts atomic.Int64
	now      func() time.Time
}

type tracked struct {
	mu      sync.Mutex
	trip    *trip.Trip
	handle  *clock.Handle
	gen     uint64
	pickup  models.Coord
	created time.Time
	subs    map[chan models.Snapshot]struct{}
	done    bool

	// released is set once the trip gave up its index entry and gauge slot.
	released bool
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Trips         int   `json:"trips"`
	ActiveTimers  int   `json:"active_timers"`
	TimerRestarts int64 `json:"timer_restarts"`
}

func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rng := opts.Rand
	if rng == nil {
		rng = NewLockedRand(0)
	}
	pool := opts.Pool
	if pool == nil {
		pool = matcher.NewPool(rng, matcher.DefaultCandidates())
	}
	params := opts.Params
	if params.StepDeg == 0 {
		params = trip.DefaultParams()
	}
	interval := opts.TickInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	routeTick := opts.RouteTickInterval
	if routeTick <= 0 {
		routeTick = 1500 * time.Millisecond
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = 10 * time.Minute
	}

	e := &Engine{
		trips:     make(map[string]*tracked),
		clock:     clock.New(logger),
		rng:       rng,
		pool:      pool,
		params:    params,
		interval:  interval,
		routeTick: routeTick,
		retention: retention,
		notifier:  opts.Notifier,
		positions: opts.Positions,
		publisher: opts.Publisher,
		store:     opts.Store,
		logger:    logger,
		now:       time.Now,
	}
	e.clock.OnRestart = func(string) {
		e.restarts.Add(1)
		observability.TimerRestarts.Inc()
	}
	e.clock.OnPanic = func(string) { observability.TickPanics.Inc() }
	return e
}

// AssignDriver picks a driver for pickup and starts tracking. An empty
// tripID gets a fresh handle. Calling it again for a trip that is still
// heading to the same pickup keeps the driver and restarts its timer; a
// different pickup fails with ErrPickupMismatch.
func (e *Engine) AssignDriver(ctx context.Context, tripID string, pickup models.Coord) (models.Snapshot, error) {
	if err := geo.ValidateCoord(pickup); err != nil {
		return models.Snapshot{}, err
	}
	if tripID == "" {
		tripID = uuid.NewString()
	}

	e.mu.Lock()
	tt, exists := e.trips[tripID]
	if !exists {
		tt = &tracked{trip: trip.New(tripID, e.params), subs: make(map[chan models.Snapshot]struct{})}
		e.trips[tripID] = tt
	}
	e.mu.Unlock()

	tt.mu.Lock()
	defer tt.mu.Unlock()

	switch tt.trip.Status {
	case models.StatusDriverAssigned, models.StatusDriverArriving:
		if d := geo.DistanceKm(tt.pickup, pickup); d > e.params.ArrivalKm {
			e.logger.Warn("repeat assign with a different pickup rejected", "trip_id", tripID,
				"pickup", tt.pickup, "requested_pickup", pickup, "offset_km", d)
			return models.Snapshot{}, ErrPickupMismatch
		}
		if tt.handle != nil {
			e.logger.Info("repeat assign; restarting tracking timer", "trip_id", tripID,
				"interval", tt.handle.Interval().String())
		}
		e.startTimer(tt, e.interval)
		return tt.trip.Snapshot(), nil
	case models.StatusSearching:
	default:
		return models.Snapshot{}, &trip.TransitionError{Op: "assign a driver to", From: tt.trip.Status}
	}

	driver, err := e.pool.Pick()
	if err != nil {
		e.forget(tripID, tt)
		return models.Snapshot{}, err
	}
	now := e.now()
	ev, err := tt.trip.Assign(driver, pickup, e.rng, now)
	if err != nil {
		e.forget(tripID, tt)
		return models.Snapshot{}, err
	}
	tt.pickup = pickup
	tt.created = now

	observability.AssignmentsTotal.Inc()
	observability.TripsActive.Inc()
	e.logger.Info("driver assigned", "trip_id", tripID, "driver_id", driver.ID,
		"distance_km", tt.trip.DistanceRemaining, "eta_minutes", tt.trip.ETAMinutes)

	e.emit(tt, ev)
	e.publish(tt, now)
	e.persist(ctx, tt, true)
	e.startTimer(tt, e.interval)
	return tt.trip.Snapshot(), nil
}

// StartRide picks the passenger up at an arrived trip and drives the
// simulated route to destination.
func (e *Engine) StartRide(ctx context.Context, tripID string, destination models.Coord) (models.Snapshot, error) {
	tt, err := e.lookup(tripID)
	if err != nil {
		return models.Snapshot{}, err
	}
	tt.mu.Lock()
	defer tt.mu.Unlock()

	now := e.now()
	ev, err := tt.trip.StartRide(destination, e.rng, now)
	if err != nil {
		return models.Snapshot{}, err
	}
	e.emit(tt, ev)
	e.publish(tt, now)
	e.persist(ctx, tt, false)
	e.startTimer(tt, e.routeTick)
	return tt.trip.Snapshot(), nil
}

// CompleteTrip ends an arrived or in-progress trip.
func (e *Engine) CompleteTrip(ctx context.Context, tripID string) (models.Snapshot, error) {
	tt, err := e.lookup(tripID)
	if err != nil {
		return models.Snapshot{}, err
	}
	tt.mu.Lock()
	defer tt.mu.Unlock()

	ev, err := tt.trip.Complete(e.now())
	if err != nil {
		return models.Snapshot{}, err
	}
	e.stopTimer(tt)
	e.emit(tt, ev)
	e.finish(ctx, tt)
	return tt.trip.Snapshot(), nil
}

// CancelTracking stops the trip's timer and marks it cancelled. Cancelling
// an already cancelled trip is a no-op.
func (e *Engine) CancelTracking(ctx context.Context, tripID string) error {
	tt, err := e.lookup(tripID)
	if err != nil {
		return err
	}
	tt.mu.Lock()
	defer tt.mu.Unlock()

	if tt.trip.Status == models.StatusCancelled {
		return nil
	}
	ev, err := tt.trip.Cancel(e.now())
	if err != nil {
		return err
	}
	e.stopTimer(tt)
	e.emit(tt, ev)
	e.finish(ctx, tt)
	return nil
}

// Snapshot returns a copy of the trip's current state.
func (e *Engine) Snapshot(tripID string) (models.Snapshot, error) {
	tt, err := e.lookup(tripID)
	if err != nil {
		return models.Snapshot{}, err
	}
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return tt.trip.Snapshot(), nil
}

// Subscribe streams snapshots after every change. The channel holds only the
// latest snapshot, so a slow reader skips intermediate ones and never stalls
// a tick. It is closed when the trip finishes or cancel is called.
func (e *Engine) Subscribe(tripID string) (<-chan models.Snapshot, func(), error) {
	tt, err := e.lookup(tripID)
	if err != nil {
		return nil, nil, err
	}
	tt.mu.Lock()
	defer tt.mu.Unlock()

	ch := make(chan models.Snapshot, 1)
	ch <- tt.trip.Snapshot()
	if tt.done {
		close(ch)
		return ch, func() {}, nil
	}
	tt.subs[ch] = struct{}{}
	cancel := func() {
		tt.mu.Lock()
		defer tt.mu.Unlock()
		if _, ok := tt.subs[ch]; ok {
			delete(tt.subs, ch)
			close(ch)
		}
	}
	return ch, cancel, nil
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	n := len(e.trips)
	e.mu.RUnlock()
	return Stats{Trips: n, ActiveTimers: e.clock.ActiveCount(), TimerRestarts: e.restarts.Load()}
}

// Close stops every timer. Trips stay readable.
func (e *Engine) Close() {
	e.clock.StopAll()
}

func (e *Engine) lookup(tripID string) (*tracked, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tt, ok := e.trips[tripID]
	if !ok {
		return nil, ErrTripNotFound
	}
	return tt, nil
}

func (e *Engine) forget(tripID string, tt *tracked) {
	e.mu.Lock()
	if e.trips[tripID] == tt {
		delete(e.trips, tripID)
	}
	e.mu.Unlock()
}

// startTimer must be called with tt.mu held. Each start bumps the
// generation, and a tick from an older generation never mutates the trip.
func (e *Engine) startTimer(tt *tracked, interval time.Duration) {
	tt.gen++
	gen := tt.gen
	tt.handle = e.clock.Start(tt.trip.ID, interval, func(now time.Time) { e.tick(tt, gen, now) })
}

func (e *Engine) stopTimer(tt *tracked) {
	e.clock.Stop(tt.handle)
	tt.handle = nil
	tt.gen++
}

func (e *Engine) tick(tt *tracked, gen uint64, now time.Time) {
	start := time.Now()
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if tt.gen != gen || tt.handle == nil || tt.done {
		return
	}
	defer func() { observability.TickDuration.Observe(time.Since(start).Seconds()) }()
	observability.TicksTotal.Inc()

	before := tt.trip.Ticks
	ev := tt.trip.Tick(e.rng, now)
	moved := tt.trip.Ticks != before
	if !moved && !ev.Fired() {
		observability.NoopTicksTotal.Inc()
		e.logger.Debug("noop tick", "trip_id", tt.trip.ID, "status", tt.trip.Status)
		return
	}
	if moved {
		e.publish(tt, now)
	}
	if !ev.Fired() {
		e.broadcast(tt)
		return
	}

	switch ev.Kind {
	case trip.KindArrival, trip.KindDestination:
		e.stopTimer(tt)
	case trip.KindStalled:
		e.stopTimer(tt)
		e.logger.Warn("trip stalled; tracking stopped", "trip_id", tt.trip.ID, "ticks", tt.trip.Ticks)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		e.persist(ctx, tt, false)
		cancel()
		e.release(tt)
	}
	e.emit(tt, ev)
}

// emit records and fans out a transition, then pushes the new snapshot.
func (e *Engine) emit(tt *tracked, ev trip.Event) {
	observability.TransitionsTotal.WithLabelValues(string(ev.Kind)).Inc()
	e.logger.Info("trip transition", "trip_id", tt.trip.ID, "kind", ev.Kind, "from", ev.From, "to", ev.To)
	snap := tt.trip.Snapshot()
	if e.notifier != nil {
		e.notifier.Notify(ev, snap)
	}
	e.broadcast(tt)
}

func (e *Engine) broadcast(tt *tracked) {
	if len(tt.subs) == 0 {
		return
	}
	snap := tt.trip.Snapshot()
	for ch := range tt.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (e *Engine) publish(tt *tracked, now time.Time) {
	t := tt.trip
	if t.Driver == nil || t.DriverPosition == nil {
		return
	}
	u := models.PositionUpdate{
		TripID:     t.ID,
		DriverID:   t.Driver.ID,
		Loc:        *t.DriverPosition,
		Status:     string(t.Status),
		HeadingDeg: t.HeadingDeg,
		Rating:     t.Driver.Rating,
		Updated:    now,
	}
	if e.positions != nil {
		e.positions.Upsert(u)
	}
	if e.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.publisher.PublishPosition(ctx, u); err != nil {
			observability.PositionPublishErrors.Inc()
			e.logger.Warn("position publish failed", "trip_id", t.ID, "error", err)
		}
	}
}

// finish runs once a trip reaches a terminal state.
func (e *Engine) finish(ctx context.Context, tt *tracked) {
	tt.done = true
	e.release(tt)
	e.persist(ctx, tt, false)
	e.closeSubs(tt)
}

// release drops the trip's index entry and active slot and schedules its
// removal after the retention window. A stalled trip stays cancellable
// until then. Must be called with tt.mu held; repeat calls are no-ops.
func (e *Engine) release(tt *tracked) {
	if tt.released {
		return
	}
	tt.released = true
	observability.TripsActive.Dec()
	if e.positions != nil {
		e.positions.Remove(tt.trip.ID)
	}
	id := tt.trip.ID
	time.AfterFunc(e.retention, func() { e.expire(id, tt) })
}

func (e *Engine) expire(id string, tt *tracked) {
	tt.mu.Lock()
	tt.done = true
	e.closeSubs(tt)
	tt.mu.Unlock()
	e.forget(id, tt)
}

func (e *Engine) closeSubs(tt *tracked) {
	for ch := range tt.subs {
		delete(tt.subs, ch)
		close(ch)
	}
}

func (e *Engine) persist(ctx context.Context, tt *tracked, create bool) {
	if e.store == nil {
		return
	}
	rec := tt.record()
	var err error
	if create {
		err = e.store.SaveTrip(ctx, rec)
	} else {
		err = e.store.UpdateTrip(ctx, rec)
	}
	if err != nil {
		e.logger.Warn("trip persist failed", "trip_id", rec.ID, "status", rec.Status, "error", err)
	}
}

func (tt *tracked) record() *models.TripRecord {
	t := tt.trip
	r := &models.TripRecord{
		ID:        t.ID,
		Pickup:    tt.pickup,
		Status:    string(t.Status),
		Ticks:     t.Ticks,
		CreatedAt: tt.created,
		UpdatedAt: t.LastUpdate,
	}
	if t.Driver != nil {
		r.DriverID = t.Driver.ID
	}
	if t.Destination != nil {
		d := *t.Destination
		r.Destination = &d
	}
	return r
}
