package trip

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/example/ride-tracking/internal/geo"
	"github.com/example/ride-tracking/internal/models"
)

var (
	london = models.Coord{Lat: 51.5074, Lng: -0.1278}
	driver = models.DriverRecord{ID: "drv-1", Name: "Test Driver", Rating: 4.9, Vehicle: "Black Sedan", License: "AB12 CDE", BaseETAMinutes: 5}
	t0     = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
)

func newRand(seed uint64) *rand.Rand { return rand.New(rand.NewPCG(seed, seed+1)) }

func assigned(t *testing.T, seed uint64) (*Trip, *rand.Rand) {
	t.Helper()
	rng := newRand(seed)
	tr := New("trip-1", DefaultParams())
	ev, err := tr.Assign(driver, london, rng, t0)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if ev.Kind != KindAssigned || ev.From != models.StatusSearching || ev.To != models.StatusDriverAssigned {
		t.Fatalf("unexpected assign event %+v", ev)
	}
	return tr, rng
}

// runToArrival ticks until the trip arrives and returns every fired event.
func runToArrival(t *testing.T, tr *Trip, rng Rand) []Event {
	t.Helper()
	var events []Event
	now := t0
	for i := 0; i < 2000 && tr.Status != models.StatusArrived; i++ {
		now = now.Add(5 * time.Second)
		if ev := tr.Tick(rng, now); ev.Fired() {
			events = append(events, ev)
		}
	}
	if tr.Status != models.StatusArrived {
		t.Fatalf("trip did not arrive, status=%s distance=%f", tr.Status, tr.DistanceRemaining)
	}
	return events
}

func TestAssignPlacesDriverWithinRadius(t *testing.T) {
	for seed := uint64(1); seed <= 50; seed++ {
		tr, _ := assigned(t, seed)
		d := geo.DistanceKm(*tr.DriverPosition, london)
		if d > 2.5+0.05 {
			t.Fatalf("seed %d: driver spawned %fkm away", seed, d)
		}
		if tr.Driver == nil || tr.Driver.ID != "drv-1" {
			t.Fatalf("expected driver to be set")
		}
		if tr.ETAMinutes < 1 {
			t.Fatalf("expected ETA >= 1, got %d", tr.ETAMinutes)
		}
	}
}

func TestAssignRejectsInvalidPickup(t *testing.T) {
	tr := New("trip-1", DefaultParams())
	_, err := tr.Assign(driver, models.Coord{Lat: 91, Lng: 0}, newRand(1), t0)
	if !errors.Is(err, geo.ErrInvalidCoord) {
		t.Fatalf("expected ErrInvalidCoord, got %v", err)
	}
	if tr.Status != models.StatusSearching || tr.DriverPosition != nil {
		t.Fatalf("trip must be unchanged after rejected input")
	}
}

func TestAssignTwiceIsInvalid(t *testing.T) {
	tr, rng := assigned(t, 3)
	if _, err := tr.Assign(driver, london, rng, t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestLondonScenarioReachesArrival(t *testing.T) {
	for seed := uint64(1); seed <= 20; seed++ {
		tr, rng := assigned(t, seed)
		events := runToArrival(t, tr, rng)

		if tr.DistanceRemaining != 0 || tr.ETAMinutes != 0 {
			t.Fatalf("seed %d: expected zero distance and eta on arrival, got %f / %d", seed, tr.DistanceRemaining, tr.ETAMinutes)
		}
		if len(events) != 2 || events[0].Kind != KindApproaching || events[1].Kind != KindArrival {
			t.Fatalf("seed %d: expected approaching then arrival, got %+v", seed, events)
		}
		if events[1].From != models.StatusDriverArriving {
			t.Fatalf("seed %d: arrival should come from driver_arriving, got %s", seed, events[1].From)
		}
	}
}

func TestDistanceIsNonIncreasing(t *testing.T) {
	tr, rng := assigned(t, 9)
	prev := geo.DistanceKm(*tr.DriverPosition, london)
	for i := 0; i < 2000 && tr.Status != models.StatusArrived; i++ {
		tr.Tick(rng, t0)
		cur := geo.DistanceKm(*tr.DriverPosition, london)
		if cur > prev+1e-9 {
			t.Fatalf("tick %d: distance grew from %f to %f", i, prev, cur)
		}
		prev = cur
	}
}

func TestTransitionsFireOnce(t *testing.T) {
	tr, rng := assigned(t, 5)
	runToArrival(t, tr, rng)

	snap := tr.Snapshot()
	for i := 0; i < 50; i++ {
		if ev := tr.Tick(rng, t0.Add(time.Hour)); ev.Fired() {
			t.Fatalf("unexpected event after arrival: %+v", ev)
		}
	}
	if after := tr.Snapshot(); after.LastUpdate != snap.LastUpdate || after.Ticks != snap.Ticks {
		t.Fatalf("arrived trip must not change on tick")
	}
}

func TestApproachFiresOnceWhenSpawnedClose(t *testing.T) {
	tr := New("trip-1", DefaultParams())
	rng := newRand(1)
	tr.Status = models.StatusDriverAssigned
	tr.Driver = &driver
	target := london
	pos := geo.OffsetKm(london, 0.01, 45)
	tr.Target, tr.DriverPosition = &target, &pos

	// within arrival distance: table order gives approaching first, then arrival
	if ev := tr.Tick(rng, t0); ev.Kind != KindApproaching {
		t.Fatalf("expected approaching, got %+v", ev)
	}
	if ev := tr.Tick(rng, t0); ev.Kind != KindArrival {
		t.Fatalf("expected arrival, got %+v", ev)
	}
}

func TestTickWithoutPositionIsNoop(t *testing.T) {
	tr := New("trip-1", DefaultParams())
	tr.Status = models.StatusDriverAssigned
	before := tr.Snapshot()
	if ev := tr.Tick(newRand(1), t0); ev.Fired() {
		t.Fatalf("expected no event, got %+v", ev)
	}
	after := tr.Snapshot()
	if after.Ticks != before.Ticks || after.LastUpdate != before.LastUpdate || after.Status != before.Status {
		t.Fatalf("tick without position must not change the trip")
	}
}

func TestCompleteBeforeArrivalIsRejected(t *testing.T) {
	tr := New("trip-1", DefaultParams())
	_, err := tr.Complete(t0)
	var te *TransitionError
	if !errors.As(err, &te) || !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if te.From != models.StatusSearching || tr.Status != models.StatusSearching {
		t.Fatalf("status must stay searching, got %s", tr.Status)
	}

	tr2, _ := assigned(t, 2)
	if _, err := tr2.Complete(t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from driver_assigned, got %v", err)
	}
}

func TestCompletedTripIsImmutable(t *testing.T) {
	tr, rng := assigned(t, 4)
	runToArrival(t, tr, rng)
	ev, err := tr.Complete(t0.Add(time.Hour))
	if err != nil || ev.Kind != KindCompleted {
		t.Fatalf("complete: %+v %v", ev, err)
	}
	snap := tr.Snapshot()
	for i := 0; i < 10; i++ {
		tr.Tick(rng, t0.Add(2*time.Hour))
	}
	after := tr.Snapshot()
	if after.Status != models.StatusCompleted || after.LastUpdate != snap.LastUpdate ||
		*after.DriverPosition != *snap.DriverPosition || after.Ticks != snap.Ticks {
		t.Fatalf("completed trip changed: %+v vs %+v", snap, after)
	}
	if _, err := tr.Complete(t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completing twice must fail, got %v", err)
	}
	if _, err := tr.Cancel(t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancelling a completed trip must fail, got %v", err)
	}
}

func TestRideFollowsRoute(t *testing.T) {
	tr, rng := assigned(t, 6)
	runToArrival(t, tr, rng)

	dest := models.Coord{Lat: 51.5155, Lng: -0.0922}
	ev, err := tr.StartRide(dest, rng, t0)
	if err != nil || ev.Kind != KindStarted || tr.Status != models.StatusInProgress {
		t.Fatalf("start ride: %+v %v", ev, err)
	}
	if len(tr.Route) != DefaultParams().RouteSteps+1 {
		t.Fatalf("expected %d route points, got %d", DefaultParams().RouteSteps+1, len(tr.Route))
	}

	var last Event
	for i := 0; i < 100 && !tr.AtRouteEnd(); i++ {
		last = tr.Tick(rng, t0)
		if tr.RouteIndex != i+1 {
			t.Fatalf("expected route index %d, got %d", i+1, tr.RouteIndex)
		}
	}
	if last.Kind != KindDestination {
		t.Fatalf("expected destination event at route end, got %+v", last)
	}
	if *tr.DriverPosition != dest || tr.DistanceRemaining != 0 || tr.ETAMinutes != 0 {
		t.Fatalf("expected driver at destination, got %+v", tr.Snapshot())
	}
	if ev := tr.Tick(rng, t0); ev.Fired() {
		t.Fatalf("no events expected past route end, got %+v", ev)
	}
	if ev, err := tr.Complete(t0); err != nil || ev.From != models.StatusInProgress {
		t.Fatalf("complete from in_progress: %+v %v", ev, err)
	}
}

func TestStartRideRequiresArrival(t *testing.T) {
	tr, rng := assigned(t, 7)
	if _, err := tr.StartRide(london, rng, t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestStallAfterMaxTicks(t *testing.T) {
	p := DefaultParams()
	p.MaxTicks = 3
	tr := New("trip-1", p)
	tr.Status = models.StatusDriverAssigned // no position: every tick is a no-op

	for i := 0; i < 3; i++ {
		if ev := tr.Tick(newRand(1), t0); ev.Fired() {
			t.Fatalf("tick %d: unexpected event %+v", i, ev)
		}
	}
	ev := tr.Tick(newRand(1), t0)
	if ev.Kind != KindStalled || tr.Status != models.StatusStalled {
		t.Fatalf("expected stall, got %+v status=%s", ev, tr.Status)
	}
	if ev, err := tr.Cancel(t0); err != nil || ev.From != models.StatusStalled {
		t.Fatalf("stalled trip must be cancellable: %+v %v", ev, err)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	tr, _ := assigned(t, 8)
	s := tr.Snapshot()
	s.DriverPosition.Lat = 0
	s.Driver.Name = "changed"
	if tr.DriverPosition.Lat == 0 || tr.Driver.Name == "changed" {
		t.Fatal("snapshot must not alias trip state")
	}
}
