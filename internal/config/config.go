// Package config contains everything related to configuration
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath   string
	ThresholdsPath string
	KeyPath        string
	APIBaseURL     string
	AuthDomain     string
	WebhookURL     string
	WebhookSecret  string
	PollInterval   time.Duration
	FastInterval   time.Duration
	HighWaterMark  float64
	AlertCooldown  time.Duration
}

// Default values
const (
	defaultPollInterval  = time.Minute
	defaultFastInterval  = 30 * time.Second
	defaultHighWaterMark = 80.0
	defaultAlertCooldown = 4 * time.Hour

	defaultAPIBaseURL = "https://claude.ai"
	defaultAuthDomain = "claude.ai"
)

// Load reads configuration from .env files and environment variables.
func Load() (*Config, error) {
	// Try loading .env from multiple locations
	for _, path := range getEnvPaths() {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			break
		}
	}

	cfg := &Config{
		DatabasePath:   getEnvString("CUW_DATABASE_PATH", defaultConfigPath("usage.db")),
		ThresholdsPath: getEnvString("CUW_THRESHOLDS_PATH", defaultConfigPath("thresholds.toml")),
		KeyPath:        getEnvString("CUW_KEY_PATH", defaultConfigPath("store.key")),
		APIBaseURL:     getEnvString("CUW_API_BASE_URL", defaultAPIBaseURL),
		AuthDomain:     getEnvString("CUW_AUTH_DOMAIN", defaultAuthDomain),
		WebhookURL:     getEnvString("CUW_WEBHOOK_URL", ""),
		WebhookSecret:  getEnvString("CUW_WEBHOOK_SECRET", ""),
		PollInterval:   getEnvDuration("CUW_POLL_INTERVAL", defaultPollInterval),
		FastInterval:   getEnvDuration("CUW_FAST_INTERVAL", defaultFastInterval),
		HighWaterMark:  getEnvFloat("CUW_HIGH_WATER_MARK", defaultHighWaterMark),
		AlertCooldown:  getEnvDuration("CUW_ALERT_COOLDOWN", defaultAlertCooldown),
	}

	// Ensure state directories exist
	for _, p := range []string{cfg.DatabasePath, cfg.ThresholdsPath, cfg.KeyPath} {
		if err := ensureDir(filepath.Dir(p)); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// getEnvPaths returns a list of paths to check for .env files.
func getEnvPaths() []string {
	var paths []string

	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "claude-usage-watch", ".env"),
		)
	}

	return paths
}

// defaultConfigPath returns a path under the application config directory.
func defaultConfigPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".config", "claude-usage-watch", name)
}

// getEnvString retrieves a string environment variable or returns the default.
func getEnvString(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns the default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

// getEnvFloat retrieves a float environment variable or returns the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o750)
}
