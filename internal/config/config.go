package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrConfigMissing marks a required setting that is absent. It is fatal to the
// operation that needs the setting, not necessarily to the process.
var ErrConfigMissing = errors.New("required configuration missing")

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	Port        string
	JWTSecret   string
	DevMode     bool

	// DBTimeout bounds every store call made while handling a request
	DBTimeout time.Duration

	VerifyRateLimit  int
	VerifyRateWindow time.Duration
	LookupRateLimit  int
	LookupRateWindow time.Duration
	RateLimitSweep   time.Duration

	ProfanityListPath string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:             "8080", // default port
		DBTimeout:        5 * time.Second,
		VerifyRateLimit:  60,
		VerifyRateWindow: time.Minute,
		LookupRateLimit:  30,
		LookupRateWindow: time.Minute,
		RateLimitSweep:   60 * time.Second,
	}

	// Load DATABASE_URL and log connection details (password masked)
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("%w: DATABASE_URL", ErrConfigMissing)
	}
	cfg.DatabaseURL = databaseURL

	if u, err := url.Parse(databaseURL); err == nil {
		host := u.Hostname()
		if host == "" {
			host = "localhost"
		}
		port := u.Port()
		if port == "" {
			port = "5432"
		}
		dbName := strings.TrimPrefix(u.Path, "/")
		user := u.User.Username()
		if user == "" {
			user = "(none)"
		}
		log.Printf("DB connect: host=%s port=%s db=%s user=%s", host, port, dbName, user)
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	// JWT_SECRET is needed by staff routes only; without it they answer config_missing
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		log.Printf("Warning: JWT_SECRET not set; staff routes will reject every request")
	}

	cfg.DevMode = os.Getenv("DEV_MODE") == "true"
	cfg.ProfanityListPath = os.Getenv("PROFANITY_LIST_PATH")

	var err error
	if cfg.DBTimeout, err = durationEnv("DB_TIMEOUT", cfg.DBTimeout); err != nil {
		return nil, err
	}
	if cfg.VerifyRateLimit, err = intEnv("VERIFY_RATE_LIMIT", cfg.VerifyRateLimit); err != nil {
		return nil, err
	}
	if cfg.VerifyRateWindow, err = durationEnv("VERIFY_RATE_WINDOW", cfg.VerifyRateWindow); err != nil {
		return nil, err
	}
	if cfg.LookupRateLimit, err = intEnv("LOOKUP_RATE_LIMIT", cfg.LookupRateLimit); err != nil {
		return nil, err
	}
	if cfg.LookupRateWindow, err = durationEnv("LOOKUP_RATE_WINDOW", cfg.LookupRateWindow); err != nil {
		return nil, err
	}
	if cfg.RateLimitSweep, err = durationEnv("RATE_LIMIT_SWEEP", cfg.RateLimitSweep); err != nil {
		return nil, err
	}

	return cfg, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}
