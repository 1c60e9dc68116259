package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/trip"
)

var snap = models.Snapshot{
	TripID:            "trip-1",
	Status:            models.StatusDriverArriving,
	Driver:            &models.DriverRecord{ID: "drv-1", Name: "Marcus Reid", Vehicle: "Black Sedan", License: "LX21 KMR"},
	DistanceRemaining: 0.42,
	ETAMinutes:        2,
}

func TestForMapsMeaningfulEvents(t *testing.T) {
	cases := []struct {
		kind      trip.Kind
		title     string
		sound     string
		tones     int
		vibration []int
	}{
		{trip.KindAssigned, "Driver assigned", "assigned", 2, []int{200, 100, 200}},
		{trip.KindApproaching, "Driver approaching", "approaching", 2, []int{300, 150, 300}},
		{trip.KindArrival, "Driver has arrived", "arrival", 3, []int{500, 200, 500, 200, 500}},
	}
	for _, tc := range cases {
		req, ok := For(trip.Event{Kind: tc.kind}, snap)
		if !ok {
			t.Fatalf("%s: expected a request", tc.kind)
		}
		if req.Title != tc.title || req.SoundProfile.Name != tc.sound || len(req.SoundProfile.Tones) != tc.tones {
			t.Fatalf("%s: unexpected request %+v", tc.kind, req)
		}
		if len(req.VibrationPattern) != len(tc.vibration) {
			t.Fatalf("%s: unexpected vibration %v", tc.kind, req.VibrationPattern)
		}
		for i := range tc.vibration {
			if req.VibrationPattern[i] != tc.vibration[i] {
				t.Fatalf("%s: unexpected vibration %v", tc.kind, req.VibrationPattern)
			}
		}
		if req.TripID != "trip-1" || req.DriverID != "drv-1" || !strings.Contains(req.Body, "Marcus Reid") {
			t.Fatalf("%s: request missing trip or driver details: %+v", tc.kind, req)
		}
	}
}

func TestArrivalTonesAscend(t *testing.T) {
	req, _ := For(trip.Event{Kind: trip.KindArrival}, snap)
	tones := req.SoundProfile.Tones
	for i := 1; i < len(tones); i++ {
		if tones[i].FrequencyHz <= tones[i-1].FrequencyHz {
			t.Fatalf("arrival tones must ascend: %+v", tones)
		}
	}
}

func TestForIgnoresOtherEvents(t *testing.T) {
	for _, k := range []trip.Kind{trip.KindNone, trip.KindStarted, trip.KindCompleted, trip.KindCancelled, trip.KindStalled, trip.KindDestination} {
		if _, ok := For(trip.Event{Kind: k}, snap); ok {
			t.Fatalf("%q should not notify", k)
		}
	}
}

func TestVibrationPatternsAreNotShared(t *testing.T) {
	req, _ := For(trip.Event{Kind: trip.KindAssigned}, snap)
	req.VibrationPattern[0] = 0
	again, _ := For(trip.Event{Kind: trip.KindAssigned}, snap)
	if again.VibrationPattern[0] != 200 {
		t.Fatal("mutating a request must not change the shared pattern")
	}
}

type fakeSink struct {
	name string
	err  error
	got  []Request
}

func (f *fakeSink) Name() string { return f.name }
func (f *fakeSink) Deliver(_ context.Context, req Request) error {
	f.got = append(f.got, req)
	return f.err
}

func TestDispatchFansOut(t *testing.T) {
	ok := &fakeSink{name: "ok"}
	idle := &fakeSink{name: "idle", err: ErrNoSession}
	bad := &fakeSink{name: "bad", err: errors.New("down")}
	n := NewNotifier(nil, 4, ok, idle, bad)

	req, _ := For(trip.Event{Kind: trip.KindArrival}, snap)
	err := n.Dispatch(context.Background(), req)
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Fatalf("expected the failing sink error, got %v", err)
	}
	if len(ok.got) != 1 || len(idle.got) != 1 || len(bad.got) != 1 {
		t.Fatal("every sink should see the request")
	}
}

func TestNotifyQueuesAndRuns(t *testing.T) {
	sink := &fakeSink{name: "ok"}
	n := NewNotifier(nil, 1, sink)

	if n.Notify(trip.Event{Kind: trip.KindStalled}, snap) {
		t.Fatal("stalled events do not notify")
	}
	if !n.Notify(trip.Event{Kind: trip.KindAssigned}, snap) {
		t.Fatal("expected assigned to be queued")
	}
	if n.Notify(trip.Event{Kind: trip.KindApproaching}, snap) {
		t.Fatal("expected a full queue to drop")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { n.Run(ctx); close(done) }()
	deadline := time.Now().Add(time.Second)
	for len(n.queue) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
	if len(sink.got) != 1 || sink.got[0].Kind != trip.KindAssigned {
		t.Fatalf("expected the assigned request delivered, got %+v", sink.got)
	}
}

func TestWebhookSink(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	req, _ := For(trip.Event{Kind: trip.KindApproaching}, snap)
	if err := NewWebhookSink(srv.URL).Deliver(context.Background(), req); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got.Kind != trip.KindApproaching || got.SoundProfile.Name != "approaching" {
		t.Fatalf("unexpected body %+v", got)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	if err := NewWebhookSink(failing.URL).Deliver(context.Background(), req); err == nil {
		t.Fatal("expected error on 502")
	}
}

type fakePublisher struct {
	exchange, key string
	msg           amqp.Publishing
}

func (f *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func TestAMQPSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewAMQPSink(pub, "trip_notifications")
	req, _ := For(trip.Event{Kind: trip.KindArrival}, snap)
	if err := sink.Deliver(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if pub.exchange != "trip_notifications" || pub.key != "trip.notification.arrival" {
		t.Fatalf("unexpected publish target %s %s", pub.exchange, pub.key)
	}
	var body Request
	if err := json.Unmarshal(pub.msg.Body, &body); err != nil || body.TripID != "trip-1" {
		t.Fatalf("unexpected body %s (%v)", pub.msg.Body, err)
	}
	if pub.msg.ContentType != "application/json" {
		t.Fatalf("unexpected content type %s", pub.msg.ContentType)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close without connection: %v", err)
	}
}

func TestWSRegistryWithoutSessions(t *testing.T) {
	r := NewWSRegistry()
	req, _ := For(trip.Event{Kind: trip.KindAssigned}, snap)
	if err := r.Deliver(context.Background(), req); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if r.Count("trip-1") != 0 {
		t.Fatal("expected no sessions")
	}
}
