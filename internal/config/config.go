package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable. Collaborator URLs point at the table, identity
// and restaurant services; the reservation knobs drive the pending-expiry
// reaper and the default occupancy length.
type Config struct {
	Env                  string        // application environment (e.g. "dev", "prod")
	Port                 string        // HTTP port to listen on
	DBUser               string        // database username
	DBPass               string        // database password (optional)
	DBHost               string        // database host address
	DBPort               string        // database port number
	DBName               string        // database name
	JWTSecret            string        // secret used to verify access tokens
	PendingTTLMin        int           // minutes a PENDING reservation may wait before auto-cancel
	ReaperInterval       time.Duration // how often the expiry reaper sweeps
	DefaultDurationMins  int           // default reservation length in minutes
	TZOffset             string        // timezone offset for date queries, e.g. "+05:30"
	TableServiceURL      string        // base URL of the table service
	IdentityServiceURL   string        // base URL of the identity service
	RestaurantServiceURL string        // base URL of the restaurant service
}

// Load reads configuration from environment variables. Required variables
// are enforced by must() and missing values cause the program to exit with
// a fatal log message; everything else falls back to a sensible default.
func Load() Config {
	return Config{
		Env:                  must("APP_ENV"),
		Port:                 must("APP_PORT"),
		DBUser:               must("DB_USER"),
		DBPass:               os.Getenv("DB_PASS"), // empty allowed
		DBHost:               must("DB_HOST"),
		DBPort:               must("DB_PORT"),
		DBName:               must("DB_NAME"),
		JWTSecret:            must("JWT_SECRET"),
		PendingTTLMin:        intOr("PENDING_TTL_MIN", 15),
		ReaperInterval:       durOr("REAPER_INTERVAL", time.Minute),
		DefaultDurationMins:  intOr("DEFAULT_DURATION_MIN", 90),
		TZOffset:             strOr("APP_TZ_OFFSET", "+00:00"),
		TableServiceURL:      strOr("TABLE_SERVICE_URL", "http://localhost:3004"),
		IdentityServiceURL:   strOr("IDENTITY_SERVICE_URL", "http://localhost:3001"),
		RestaurantServiceURL: strOr("RESTAURANT_SERVICE_URL", "http://localhost:3003"),
	}
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func strOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, v)
	}
	return n
}

func durOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid duration for %s: %q", key, v)
	}
	return d
}
