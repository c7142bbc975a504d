// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	ClassifierURL       string
	ClassifierTimeout   time.Duration
	ConfidenceThreshold float64
	PersistTimeout      time.Duration

	ReconnectGrace time.Duration
	SessionIdleTTL time.Duration
	SweepInterval  time.Duration

	DedupWindow       time.Duration
	DedupSize         int
	OutboundQueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/leads.db"),

		ClassifierURL:       getEnv("CLASSIFIER_URL", ""),
		ClassifierTimeout:   getEnvDuration("CLASSIFIER_TIMEOUT", 5*time.Second),
		ConfidenceThreshold: getEnvFloat("CLASSIFIER_THRESHOLD", 0.55),
		PersistTimeout:      getEnvDuration("PERSIST_TIMEOUT", 10*time.Second),

		ReconnectGrace: getEnvDuration("RECONNECT_GRACE", 90*time.Second),
		SessionIdleTTL: getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", time.Minute),

		DedupWindow:       getEnvDuration("DEDUP_WINDOW", 2*time.Second),
		DedupSize:         getEnvInt("DEDUP_SIZE", 10),
		OutboundQueueSize: getEnvInt("OUTBOUND_QUEUE_SIZE", 64),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are sane.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CLASSIFIER_THRESHOLD must be in [0,1]")
	}
	if c.DedupSize <= 0 {
		return fmt.Errorf("DEDUP_SIZE must be > 0")
	}
	if c.OutboundQueueSize <= 0 {
		return fmt.Errorf("OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if c.ReconnectGrace <= 0 {
		return fmt.Errorf("RECONNECT_GRACE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
