package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	FeedURL      string
	BusID        string
	RouteID      string
	RoutesFile   string
	PollInterval time.Duration
	FetchTimeout time.Duration

	NATSURL         string
	LogNATSSubjects bool
	MetricsAddr     string

	// feed simulator
	ListenAddr     string
	SpeedKmph      float64
	AllowedOrigins []string

	// Optional GTFS database to read route stops from instead of RoutesFile.
	DatabaseURL string
}

func InitLogging() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.BusID = getenvDefault("BUS_ID", "1")
	cfg.RouteID = getenvDefault("ROUTE_ID", "1")
	cfg.RoutesFile = getenvDefault("ROUTES_FILE", "routes.yml")
	cfg.ListenAddr = getenvDefault("LISTEN_ADDR", "127.0.0.1:5000")
	cfg.FeedURL = getenvDefault("FEED_URL", fmt.Sprintf("http://%s/api/bus/%s/location", cfg.ListenAddr, cfg.BusID))
	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")

	// Poll interval
	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid POLL_INTERVAL_MS: %q", v)
		}
		cfg.PollInterval = time.Duration(ms) * time.Millisecond
	} else {
		cfg.PollInterval = 200 * time.Millisecond
	}

	// Per-request timeout for the feed
	if v := os.Getenv("FETCH_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid FETCH_TIMEOUT_MS: %q", v)
		}
		cfg.FetchTimeout = time.Duration(ms) * time.Millisecond
	} else {
		cfg.FetchTimeout = time.Second
	}

	// Simulated bus speed
	if v := os.Getenv("BUS_SPEED_KMPH"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid BUS_SPEED_KMPH: %q", v)
		}
		cfg.SpeedKmph = f
	} else {
		cfg.SpeedKmph = 30
	}

	// Debug logging for NATS publish subjects
	if v := os.Getenv("LOG_NATS_SUBJECTS"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "t", "yes", "y", "on":
			cfg.LogNATSSubjects = true
		default:
			cfg.LogNATSSubjects = false
		}
	}

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	cfg.AllowedOrigins = splitList(getenvDefault("CORS_ORIGINS", "*"))

	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	if cfg.DatabaseURL == "" && os.Getenv("PGDATABASE") != "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, os.Getenv("PGDATABASE"), sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, os.Getenv("PGDATABASE"), sslmode)
		}
	}

	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
