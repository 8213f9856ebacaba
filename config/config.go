// Package config loads collector configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all collector configuration values, one field per row of
// the recognized environment options.
type Config struct {
	Env      string
	LogLevel string

	BrightDataToken string
	PaidEnabled     bool

	TotalBudget     float64
	CostPerRequest  float64
	AlertThreshold  float64

	CacheTTL        time.Duration
	DataDir         string

	UpdateInterval  time.Duration
	RequestTimeout  time.Duration

	MetricsAddr string
}

// ErrMissingToken is a ConfigError: the paid adapter is enabled but no
// credential was supplied.
var ErrMissingToken = fmt.Errorf("BRIGHT_DATA_TOKEN is required when the paid backend is enabled")

// Load reads configuration from environment variables and an optional
// .env file. It never aborts the process itself; callers decide how to
// react to a non-nil error (typically: log and exit 1).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:             getEnv("ENV", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "INFO"),
		BrightDataToken: getEnv("BRIGHT_DATA_TOKEN", ""),
		TotalBudget:     getEnvFloat("TOTAL_BUDGET", 5.50),
		CostPerRequest:  getEnvFloat("COST_PER_REQUEST", 0.0015),
		AlertThreshold:  getEnvFloat("ALERT_THRESHOLD", 0.80),
		CacheTTL:        time.Duration(getEnvInt("CACHE_TTL_SECONDS", 900)) * time.Second,
		DataDir:         getEnv("DATA_DIR", "data"),
		UpdateInterval:  time.Duration(getEnvInt("UPDATE_INTERVAL_SECONDS", 900)) * time.Second,
		RequestTimeout:  time.Duration(getEnvInt("REQUEST_TIMEOUT", 30)) * time.Second,
		MetricsAddr:     getEnv("METRICS_ADDR", "127.0.0.1:9090"),
	}
	cfg.PaidEnabled = cfg.BrightDataToken != ""

	if getEnvBool("BRIGHT_DATA_REQUIRED", false) && cfg.BrightDataToken == "" {
		return nil, ErrMissingToken
	}
	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
