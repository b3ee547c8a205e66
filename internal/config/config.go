package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// BoundingBox is the latitude/longitude rectangle that constrains
// simulated provider movement.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Contains reports whether the point lies inside the box (inclusive).
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// ServerConfig captures all tunable parameters for the API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	MapsAPIKey string

	StripeAPIKey string

	// Simulator
	Bounds       BoundingBox
	TickInterval time.Duration
	MinutesPerKM float64

	// Matching
	SearchRadiusKM     float64
	IncomingRequestTTL time.Duration
	StatusPollInterval time.Duration

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "providers_geo",
		KafkaTopic:      "provider-locations",
		// São Paulo metro region, matching the demo provider seed data.
		Bounds:             BoundingBox{MinLat: -23.65, MaxLat: -23.45, MinLon: -46.75, MaxLon: -46.55},
		TickInterval:       3 * time.Second,
		MinutesPerKM:       2,
		SearchRadiusKM:     10,
		IncomingRequestTTL: 30 * time.Second,
		StatusPollInterval: 30 * time.Second,
		LogLevel:           "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.MapsAPIKey = os.Getenv("MAPS_API_KEY")
	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")

	setFloatFromEnv(&cfg.Bounds.MinLat, "SIM_MIN_LAT", &errs)
	setFloatFromEnv(&cfg.Bounds.MaxLat, "SIM_MAX_LAT", &errs)
	setFloatFromEnv(&cfg.Bounds.MinLon, "SIM_MIN_LON", &errs)
	setFloatFromEnv(&cfg.Bounds.MaxLon, "SIM_MAX_LON", &errs)
	setDurationFromEnv(&cfg.TickInterval, "SIM_TICK_INTERVAL", &errs)
	setFloatFromEnv(&cfg.MinutesPerKM, "SIM_MINUTES_PER_KM", &errs)

	setFloatFromEnv(&cfg.SearchRadiusKM, "MATCH_SEARCH_RADIUS_KM", &errs)
	setDurationFromEnv(&cfg.IncomingRequestTTL, "MATCH_INCOMING_TTL", &errs)
	setDurationFromEnv(&cfg.StatusPollInterval, "MATCH_STATUS_POLL_INTERVAL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.Bounds.MinLat >= cfg.Bounds.MaxLat || cfg.Bounds.MinLon >= cfg.Bounds.MaxLon {
		errs = append(errs, fmt.Errorf("SIM bounding box must have min < max on both axes"))
	}
	if cfg.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("SIM_TICK_INTERVAL must be > 0"))
	}
	if cfg.SearchRadiusKM <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_SEARCH_RADIUS_KM must be > 0"))
	}

	return cfg, errors.Join(errs...)
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
