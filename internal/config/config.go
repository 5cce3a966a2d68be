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
	AuthSecret  string
	AuthIssuer  string
	Match       MatchConfig
	QueueTTL    time.Duration // online entries not refreshed within this are swept offline
}

// MatchConfig controls the matchmaking retry loop.
type MatchConfig struct {
	Interval    time.Duration
	MaxAttempts int
	Deadline    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/peermock.db"),
		AuthSecret:  getEnv("AUTH_SECRET", ""),
		AuthIssuer:  getEnv("AUTH_ISSUER", ""),
		Match: MatchConfig{
			Interval:    getEnvDuration("MATCH_INTERVAL", 3*time.Second),
			MaxAttempts: getEnvInt("MATCH_MAX_ATTEMPTS", 10),
			Deadline:    getEnvDuration("MATCH_DEADLINE", 30*time.Second),
		},
		QueueTTL: getEnvDuration("QUEUE_TTL", 10*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Match.Interval <= 0 {
		return fmt.Errorf("MATCH_INTERVAL must be > 0")
	}
	if c.Match.MaxAttempts <= 0 {
		return fmt.Errorf("MATCH_MAX_ATTEMPTS must be > 0")
	}
	if c.Match.Deadline <= 0 {
		return fmt.Errorf("MATCH_DEADLINE must be > 0")
	}
	if c.QueueTTL <= 0 {
		return fmt.Errorf("QUEUE_TTL must be > 0")
	}
	if !c.IsDevelopment() && c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required outside development")
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
