package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ride-tracking/internal/config"
	"github.com/example/ride-tracking/internal/dispatch"
	"github.com/example/ride-tracking/internal/eta"
	"github.com/example/ride-tracking/internal/geo"
	httpapi "github.com/example/ride-tracking/internal/http"
	"github.com/example/ride-tracking/internal/ingest"
	"github.com/example/ride-tracking/internal/logging"
	"github.com/example/ride-tracking/internal/matcher"
	"github.com/example/ride-tracking/internal/observability"
	"github.com/example/ride-tracking/internal/storage"
	"github.com/example/ride-tracking/internal/tracker"
	"github.com/example/ride-tracking/internal/trip"
)

func main() {
	var issueFor string
	flag.StringVar(&issueFor, "issue-token", "", "print a signed API token for this subject and exit")
	flag.Parse()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if issueFor != "" {
		if cfg.JWTSecret == "" {
			logger.Error("JWT_SECRET is required to issue tokens")
			os.Exit(1)
		}
		token, err := httpapi.IssueToken([]byte(cfg.JWTSecret), issueFor, "passenger", 24*time.Hour)
		if err != nil {
			logger.Error("issue token failed", "error", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	var checks []func(context.Context) error

	var positions geo.Geo
	if cfg.RedisAddr != "" {
		rg := geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, logger)
		defer rg.Close()
		checks = append(checks, rg.Ping)
		positions = rg
		logger.Info("driver positions in redis", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
	} else {
		positions = geo.NewIndex()
	}

	var store storage.TripStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer ps.Close()
		if cfg.RunMigrations {
			if err := ps.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migration applied", "file", "001_create_trips.sql")
		}
		checks = append(checks, ps.Ping)
		store = ps
	} else {
		store = storage.NewMemoryStore()
	}

	var publisher tracker.PositionPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, logger, func(error) {
			observability.PositionPublishErrors.Inc()
		})
		defer kp.Close()
		publisher = kp
	}

	wsreg := dispatch.NewWSRegistry()
	sinks := []dispatch.Sink{wsreg}
	if cfg.AMQPURL != "" {
		as, err := dispatch.DialAMQPSink(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return fmt.Errorf("amqp: %w", err)
		}
		defer as.Close()
		sinks = append(sinks, as)
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, dispatch.NewWebhookSink(cfg.WebhookURL))
	}
	notifier := dispatch.NewNotifier(logger, cfg.NotifyBuffer, sinks...)

	rng := tracker.NewLockedRand(cfg.Seed)
	engine := tracker.NewEngine(tracker.Options{
		Rand: rng,
		Pool: matcher.NewPool(rng, matcher.DefaultCandidates()),
		Params: trip.Params{
			StepDeg:       cfg.StepDeg,
			ArrivalKm:     cfg.ArrivalKm,
			ApproachKm:    cfg.ApproachKm,
			SpawnRadiusKm: cfg.SpawnRadiusKm,
			RouteSteps:    cfg.RouteSteps,
			MaxTicks:      cfg.MaxTicks,
			ETA:           eta.NewEstimator(cfg.ETAMinutesPerKm, cfg.ETAMaxJitter),
		},
		TickInterval:      cfg.TickInterval,
		RouteTickInterval: cfg.RouteTickInterval,
		Notifier:          notifier,
		Positions:         positions,
		Publisher:         publisher,
		Store:             store,
		Logger:            logger,
	})
	defer engine.Close()

	notifyCtx, cancelNotify := context.WithCancel(context.Background())
	defer cancelNotify()
	go notifier.Run(notifyCtx)

	api := httpapi.NewServer(httpapi.Deps{
		Engine:     engine,
		Geo:        positions,
		Store:      store,
		WSReg:      wsreg,
		Rand:       rng,
		RouteSteps: cfg.RouteSteps,
		JWTSecret:  []byte(cfg.JWTSecret),
		Ready: func(ctx context.Context) error {
			var errs []error
			for _, check := range checks {
				errs = append(errs, check(ctx))
			}
			return errors.Join(errs...)
		},
	}, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-tracking listening", "addr", cfg.HTTPAddr, "tick_interval", cfg.TickInterval.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	engine.Close()
	return srv.Shutdown(shutdownCtx)
}
