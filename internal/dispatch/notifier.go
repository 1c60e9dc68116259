package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/observability"
	"github.com/example/ride-tracking/internal/trip"
)

// Sink delivers notification requests to one platform channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, req Request) error
}

// Notifier turns trip events into requests and fans them out to sinks on
// its own goroutine, so the tick that produced the event never blocks on I/O.
type Notifier struct {
	sinks   []Sink
	queue   chan Request
	timeout time.Duration
	logger  *slog.Logger
}

func NewNotifier(logger *slog.Logger, buffer int, sinks ...Sink) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Notifier{sinks: sinks, queue: make(chan Request, buffer), timeout: 3 * time.Second, logger: logger}
}

// Notify queues the request for ev, if any. It never blocks; a full queue
// drops the request and reports false.
func (n *Notifier) Notify(ev trip.Event, snap models.Snapshot) bool {
	req, ok := For(ev, snap)
	if !ok {
		return false
	}
	select {
	case n.queue <- req:
		return true
	default:
		observability.NotificationsDropped.Inc()
		n.logger.Warn("notification queue full; dropping", "trip_id", req.TripID, "kind", req.Kind)
		return false
	}
}

// Run delivers queued requests until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-n.queue:
			_ = n.Dispatch(ctx, req)
		}
	}
}

// Dispatch sends req to every sink and joins their errors.
func (n *Notifier) Dispatch(ctx context.Context, req Request) error {
	var errs []error
	for _, s := range n.sinks {
		dctx, cancel := context.WithTimeout(ctx, n.timeout)
		err := s.Deliver(dctx, req)
		cancel()

		status := "ok"
		switch {
		case errors.Is(err, ErrNoSession):
			status = "no_session"
		case err != nil:
			status = "error"
			n.logger.Warn("notification delivery failed", "sink", s.Name(), "trip_id", req.TripID, "kind", req.Kind, "error", err)
			errs = append(errs, err)
		}
		observability.NotificationsTotal.WithLabelValues(string(req.Kind), s.Name(), status).Inc()
	}
	return errors.Join(errs...)
}
