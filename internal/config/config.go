package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig captures all tunable parameters for the API process.
// Defaults are overlaid by an optional YAML file (CONFIG_FILE) and then by
// environment variables, so the binary runs locally without any setup.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	TickInterval      time.Duration `yaml:"tick_interval"`
	RouteTickInterval time.Duration `yaml:"route_tick_interval"`
	ArrivalKm         float64       `yaml:"arrival_km"`
	ApproachKm        float64       `yaml:"approach_km"`
	StepDeg           float64       `yaml:"step_deg"`
	SpawnRadiusKm     float64       `yaml:"spawn_radius_km"`
	RouteSteps        int           `yaml:"route_steps"`
	MaxTicks          int           `yaml:"max_ticks"`
	ETAMinutesPerKm   float64       `yaml:"eta_minutes_per_km"`
	ETAMaxJitter      float64       `yaml:"eta_max_jitter_minutes"`
	Seed              uint64        `yaml:"seed"`
	NotifyBuffer      int           `yaml:"notify_buffer"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisGeoKey   string `yaml:"redis_geo_key"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	PGDSN string `yaml:"pg_dsn"`

	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`

	WebhookURL string `yaml:"notify_webhook_url"`
	JWTSecret  string `yaml:"jwt_secret"`

	LogLevel      string `yaml:"log_level"`
	RunMigrations bool   `yaml:"migrate"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:          ":8080",
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		TickInterval:      5 * time.Second,
		RouteTickInterval: 1500 * time.Millisecond,
		ArrivalKm:         0.05,
		ApproachKm:        0.5,
		StepDeg:           0.0003,
		SpawnRadiusKm:     2.5,
		RouteSteps:        25,
		MaxTicks:          720,
		ETAMinutesPerKm:   2.5,
		ETAMaxJitter:      2,
		NotifyBuffer:      256,
		RedisGeoKey:       "drivers_geo",
		KafkaTopic:        "driver-positions",
		AMQPExchange:      "trip_notifications",
		LogLevel:          "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(&cfg, path); err != nil {
			return cfg, err
		}
	}

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setDurationFromEnv(&cfg.TickInterval, "TRACK_TICK_INTERVAL", &errs)
	setDurationFromEnv(&cfg.RouteTickInterval, "TRACK_ROUTE_TICK_INTERVAL", &errs)
	setFloatFromEnv(&cfg.ArrivalKm, "TRACK_ARRIVAL_KM", &errs)
	setFloatFromEnv(&cfg.ApproachKm, "TRACK_APPROACH_KM", &errs)
	setFloatFromEnv(&cfg.StepDeg, "TRACK_STEP_DEG", &errs)
	setFloatFromEnv(&cfg.SpawnRadiusKm, "TRACK_SPAWN_RADIUS_KM", &errs)
	setIntFromEnv(&cfg.RouteSteps, "TRACK_ROUTE_STEPS", &errs)
	setIntFromEnv(&cfg.MaxTicks, "TRACK_MAX_TICKS", &errs)
	setFloatFromEnv(&cfg.ETAMinutesPerKm, "ETA_MIN_PER_KM", &errs)
	setFloatFromEnv(&cfg.ETAMaxJitter, "ETA_MAX_JITTER_MIN", &errs)
	setUintFromEnv(&cfg.Seed, "TRACK_SEED", &errs)
	setIntFromEnv(&cfg.NotifyBuffer, "NOTIFY_BUFFER", &errs)

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	setStringFromEnv(&cfg.PGDSN, "PG_DSN")
	setStringFromEnv(&cfg.AMQPURL, "AMQP_URL")
	setStringFromEnv(&cfg.AMQPExchange, "AMQP_EXCHANGE")
	setStringFromEnv(&cfg.WebhookURL, "NOTIFY_WEBHOOK_URL")
	setStringFromEnv(&cfg.JWTSecret, "JWT_SECRET")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("MIGRATE"); v != "" {
		cfg.RunMigrations = strings.EqualFold(v, "true")
	}

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func loadFile(cfg *ServerConfig, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c ServerConfig) validate() []error {
	var errs []error
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("TRACK_TICK_INTERVAL must be > 0"))
	}
	if c.RouteTickInterval <= 0 {
		errs = append(errs, fmt.Errorf("TRACK_ROUTE_TICK_INTERVAL must be > 0"))
	}
	if c.ArrivalKm <= 0 {
		errs = append(errs, fmt.Errorf("TRACK_ARRIVAL_KM must be > 0"))
	}
	if c.ApproachKm <= c.ArrivalKm {
		errs = append(errs, fmt.Errorf("TRACK_APPROACH_KM must be greater than TRACK_ARRIVAL_KM"))
	}
	if c.StepDeg <= 0 {
		errs = append(errs, fmt.Errorf("TRACK_STEP_DEG must be > 0"))
	}
	if c.SpawnRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("TRACK_SPAWN_RADIUS_KM must be > 0"))
	}
	if c.RouteSteps <= 0 {
		errs = append(errs, fmt.Errorf("TRACK_ROUTE_STEPS must be > 0"))
	}
	if c.MaxTicks < 0 {
		errs = append(errs, fmt.Errorf("TRACK_MAX_TICKS must be >= 0"))
	}
	if c.ETAMinutesPerKm <= 0 || c.ETAMaxJitter < 0 {
		errs = append(errs, fmt.Errorf("ETA_MIN_PER_KM must be > 0 and ETA_MAX_JITTER_MIN >= 0"))
	}
	return errs
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setUintFromEnv(target *uint64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		u, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = u
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
