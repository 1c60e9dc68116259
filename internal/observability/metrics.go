package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TripsActive      = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_tracking", Name: "trips_active", Help: "Trips currently tracked"})
	AssignmentsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_tracking", Name: "assignments_total", Help: "Drivers assigned to trips"})
	TicksTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_tracking", Name: "ticks_total", Help: "Tracking ticks executed"})
	NoopTicksTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_tracking", Name: "noop_ticks_total", Help: "Ticks that found nothing to move"})
	TickPanics       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_tracking", Name: "tick_panics_total", Help: "Recovered panics inside ticks"})
	TimerRestarts    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_tracking", Name: "timer_restarts_total", Help: "Tracking starts that replaced a live timer"})
	TickDuration     = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ride_tracking",
		Name:      "tick_duration_seconds",
		Help:      "Time spent in one tracking tick",
		Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01},
	})

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_tracking", Name: "transitions_total", Help: "Trip state transitions"},
		[]string{"kind"},
	)
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_tracking", Name: "notifications_total", Help: "Notification deliveries by sink"},
		[]string{"kind", "sink", "status"},
	)
	NotificationsDropped  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_tracking", Name: "notifications_dropped_total", Help: "Notifications dropped on a full queue"})
	PositionPublishErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_tracking", Name: "position_publish_errors_total", Help: "Failed position publishes"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_tracking", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_tracking",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
