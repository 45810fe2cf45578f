package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const DefaultBaseURL = "https://busvarna.com/onebusaway-api-webapp/siri/vehicle-monitoring"

type Config struct {
	BaseURL     string `validate:"required,url"`
	APIKey      string `validate:"required"`
	OperatorRef string `validate:"required"`
	Callback    string `validate:"required,alphanum"`

	LineMin   int `validate:"min=1"`
	LineMax   int `validate:"gtefield=LineMin"`
	LinesFile string

	DatabaseURL string
	City        string
	AgencyID    string

	Concurrency   int     `validate:"min=1,max=64"`
	RatePerSecond float64 `validate:"min=0"`
	FetchTimeout  time.Duration
	PassDeadline  time.Duration
	SnapshotTTL   time.Duration
	RefreshEvery  time.Duration
	DuplicateMode string `validate:"oneof=merge replace"`

	HTTPAddr    string `validate:"required"`
	CORSOrigins []string
	MetricsAddr string

	NATSURL           string
	NATSSubjectPrefix string `validate:"required"`

	LogLevel string `validate:"oneof=debug info warn error"`
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		BaseURL:     getenvDefault("SIRI_BASE_URL", DefaultBaseURL),
		APIKey:      getenvDefault("SIRI_API_KEY", "OBAKEY"),
		OperatorRef: getenvDefault("SIRI_OPERATOR_REF", "TASRUD"),
		Callback:    getenvDefault("SIRI_CALLBACK", "cb"),
		LinesFile:   strings.TrimSpace(os.Getenv("LINES_FILE")),
		City:        firstNonEmpty(os.Getenv("GTFS_CITY"), os.Getenv("CITY")),
		AgencyID:    strings.TrimSpace(os.Getenv("GTFS_AGENCY_ID")),

		DuplicateMode: strings.ToLower(getenvDefault("DUPLICATE_LINES", "merge")),
		HTTPAddr:      getenvDefault("HTTP_ADDR", ":8080"),
		CORSOrigins:   splitList(getenvDefault("CORS_ORIGINS", "*")),
		// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
		MetricsAddr:       os.Getenv("METRICS_ADDR"),
		NATSURL:           os.Getenv("NATS_URL"),
		NATSSubjectPrefix: getenvDefault("NATS_SUBJECT_PREFIX", "siri"),
		LogLevel:          strings.ToLower(getenvDefault("LOG_LEVEL", "info")),
	}

	var err error
	if cfg.LineMin, err = intEnv("LINE_MIN", 1); err != nil {
		return nil, err
	}
	if cfg.LineMax, err = intEnv("LINE_MAX", 100); err != nil {
		return nil, err
	}
	if cfg.Concurrency, err = intEnv("POLL_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if v := os.Getenv("POLL_RATE_PER_SEC"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("invalid POLL_RATE_PER_SEC: %q", v)
		}
		cfg.RatePerSecond = f
	} else {
		cfg.RatePerSecond = 10
	}
	if cfg.FetchTimeout, err = durationEnv("FETCH_TIMEOUT_MS", 10000, time.Millisecond, false); err != nil {
		return nil, err
	}
	if cfg.PassDeadline, err = durationEnv("PASS_DEADLINE_SEC", 60, time.Second, true); err != nil {
		return nil, err
	}
	if cfg.SnapshotTTL, err = durationEnv("SNAPSHOT_TTL_SEC", 15, time.Second, true); err != nil {
		return nil, err
	}
	if cfg.RefreshEvery, err = durationEnv("REFRESH_INTERVAL_SEC", 0, time.Second, true); err != nil {
		return nil, err
	}

	cfg.DatabaseURL = databaseURL(cfg.City != "")

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// databaseURL prefers DATABASE_URL / PG_DSN, else builds a DSN from PG* vars.
// Without any of them the Postgres line catalog is disabled.
func databaseURL(withCity bool) string {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		return dsn
	}
	db := os.Getenv("PGDATABASE")
	// With a city the cluster's 'postgres' database holds the import index.
	if db == "" && withCity {
		db = "postgres"
	}
	if db == "" {
		return ""
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
}

func intEnv(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

func durationEnv(k string, def int, unit time.Duration, allowZero bool) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return time.Duration(def) * unit, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 || (n == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return time.Duration(n) * unit, nil
}

func getenvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
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
