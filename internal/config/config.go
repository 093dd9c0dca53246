package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL    string
	CreateDatabase bool
	SeedFile       string
	HTTPAddr       string
	CORSOrigins    []string

	NATSURL         string
	LogNATSSubjects bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AMQPURL        string
	NotifyExchange string
	NotifyCooldown time.Duration

	JWTSecret string
	JWTTTL    time.Duration

	PollInterval   time.Duration
	MonitorRefresh time.Duration
	StaleAfter     time.Duration
	SOSCountdown   time.Duration
	OSRMURL        string
	RouteCacheTTL  time.Duration
	MetricsAddr    string
	Location       *time.Location

	Simulate           bool
	SimSpeedMultiplier float64
	SimPublishInterval time.Duration
	SimPreloadHorizon  time.Duration
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, so tests can feed a map
// instead of mutating the process environment.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	env := envReader{get: getenv}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	dsn := firstNonEmpty(getenv("DATABASE_URL"), getenv("PG_DSN"))
	if dsn == "" {
		host := env.str("PGHOST", "127.0.0.1")
		port := env.str("PGPORT", "5432")
		user := env.str("PGUSER", "postgres")
		pass := getenv("PGPASSWORD")
		db := getenv("PGDATABASE")
		if db == "" {
			return nil, errors.New("PGDATABASE or DATABASE_URL must be set")
		}
		sslmode := env.str("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	} else {
		cfg.DatabaseURL = dsn
	}

	cfg.CreateDatabase = env.boolean("PG_CREATE_DB")
	cfg.SeedFile = getenv("SEED_FILE")
	cfg.HTTPAddr = env.str("HTTP_ADDR", ":8080")
	for _, o := range strings.Split(getenv("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}
	cfg.NATSURL = env.str("NATS_URL", "nats://127.0.0.1:4222")
	cfg.LogNATSSubjects = env.boolean("LOG_NATS_SUBJECTS")

	cfg.RedisAddr = env.str("REDIS_ADDR", "127.0.0.1:6379")
	cfg.RedisPassword = getenv("REDIS_PASSWORD")
	cfg.AMQPURL = getenv("AMQP_URL")
	cfg.NotifyExchange = env.str("NOTIFY_EXCHANGE", "bus_notifications")
	cfg.OSRMURL = strings.TrimRight(env.str("OSRM_URL", "https://router.project-osrm.org"), "/")
	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = getenv("METRICS_ADDR")

	cfg.JWTSecret = getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET must be set")
	}

	var err error
	if cfg.RedisDB, err = env.intMin("REDIS_DB", 0, 0); err != nil {
		return nil, err
	}
	if cfg.NotifyCooldown, err = env.duration("NOTIFY_COOLDOWN_SEC", time.Second, 120, 0); err != nil {
		return nil, err
	}
	if cfg.JWTTTL, err = env.duration("JWT_TTL_MIN", time.Minute, 60, 1); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = env.duration("POLL_INTERVAL_MS", time.Millisecond, 5000, 1); err != nil {
		return nil, err
	}
	if cfg.MonitorRefresh, err = env.duration("MONITOR_REFRESH_SEC", time.Second, 60, 1); err != nil {
		return nil, err
	}
	if cfg.StaleAfter, err = env.duration("STALE_AFTER_SEC", time.Second, 120, 1); err != nil {
		return nil, err
	}
	if cfg.SOSCountdown, err = env.duration("SOS_COUNTDOWN_SEC", time.Second, 5, 0); err != nil {
		return nil, err
	}
	if cfg.RouteCacheTTL, err = env.duration("ROUTE_CACHE_MIN", time.Minute, 60, 1); err != nil {
		return nil, err
	}

	cfg.Simulate = env.boolean("SIMULATE")
	if v := getenv("SIM_SPEED_MULTIPLIER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid SIM_SPEED_MULTIPLIER: %q", v)
		}
		cfg.SimSpeedMultiplier = f
	} else {
		cfg.SimSpeedMultiplier = 1.0
	}
	if cfg.SimPublishInterval, err = env.duration("SIM_PUBLISH_INTERVAL_MS", time.Millisecond, 10000, 1); err != nil {
		return nil, err
	}
	if cfg.SimPreloadHorizon, err = env.duration("SIM_PRELOAD_MIN", time.Minute, 30, 0); err != nil {
		return nil, err
	}

	// Time zone
	tzName := getenv("TZ")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

type envReader struct {
	get func(string) string
}

func (e envReader) str(k, def string) string {
	if v := e.get(k); v != "" {
		return v
	}
	return def
}

func (e envReader) boolean(k string) bool {
	switch strings.ToLower(strings.TrimSpace(e.get(k))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func (e envReader) intMin(k string, def, min int) (int, error) {
	v := e.get(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

// duration reads an integer count of unit from k.
func (e envReader) duration(k string, unit time.Duration, def, min int) (time.Duration, error) {
	n, err := e.intMin(k, def, min)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * unit, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
