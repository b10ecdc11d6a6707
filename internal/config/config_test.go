package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("CUW_DATABASE_PATH", "")
	t.Setenv("CUW_POLL_INTERVAL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.PollInterval != time.Minute {
		t.Errorf("expected default poll interval 1m, got %v", cfg.PollInterval)
	}
	if cfg.FastInterval != 30*time.Second {
		t.Errorf("expected default fast interval 30s, got %v", cfg.FastInterval)
	}
	if cfg.HighWaterMark != 80.0 {
		t.Errorf("expected default high water mark 80, got %v", cfg.HighWaterMark)
	}
	if cfg.AlertCooldown != 4*time.Hour {
		t.Errorf("expected default cooldown 4h, got %v", cfg.AlertCooldown)
	}
	if cfg.APIBaseURL != "https://claude.ai" {
		t.Errorf("unexpected default API base URL %q", cfg.APIBaseURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("CUW_DATABASE_PATH", filepath.Join(tmp, "custom", "usage.db"))
	t.Setenv("CUW_POLL_INTERVAL", "2m")
	t.Setenv("CUW_HIGH_WATER_MARK", "90")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.PollInterval != 2*time.Minute {
		t.Errorf("expected poll interval 2m, got %v", cfg.PollInterval)
	}
	if cfg.HighWaterMark != 90.0 {
		t.Errorf("expected high water mark 90, got %v", cfg.HighWaterMark)
	}
	if cfg.DatabasePath != filepath.Join(tmp, "custom", "usage.db") {
		t.Errorf("unexpected database path %q", cfg.DatabasePath)
	}
}

func TestGetEnvDurationInvalid(t *testing.T) {
	t.Setenv("CUW_TEST_DUR", "not-a-duration")
	if got := getEnvDuration("CUW_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("expected fallback to default, got %v", got)
	}

	t.Setenv("CUW_TEST_DUR", "-5s")
	if got := getEnvDuration("CUW_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("expected negative duration rejected, got %v", got)
	}
}
