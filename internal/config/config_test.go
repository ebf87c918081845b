package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.MaxConcurrentDownloads != 3 {
		t.Errorf("MaxConcurrentDownloads = %d, want 3", cfg.MaxConcurrentDownloads)
	}
	if cfg.AutoDeleteAfter != 7*24*time.Hour {
		t.Errorf("AutoDeleteAfter = %s, want 168h", cfg.AutoDeleteAfter)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Errorf("CORSOrigins = %v, want [*]", cfg.CORSOrigins)
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_DOWNLOADS", "5")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "10")

	cfg, err := Load("/nonexistent/config.yaml", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxConcurrentDownloads != 5 {
		t.Errorf("MaxConcurrentDownloads = %d, want 5", cfg.MaxConcurrentDownloads)
	}
	if cfg.RateLimitPerMinute != 10 {
		t.Errorf("RateLimitPerMinute = %d, want 10", cfg.RateLimitPerMinute)
	}
}

func TestValidateRejectsOutOfRangeConcurrency(t *testing.T) {
	cfg := Defaults()
	cfg.MaxConcurrentDownloads = 20
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for out-of-range concurrency")
	}
}

func TestValidateRejectsShortRetention(t *testing.T) {
	cfg := Defaults()
	cfg.AutoDeleteAfter = 60 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for retention below 300s")
	}
}

func TestFeatureEnabledDefaultsTrue(t *testing.T) {
	cfg := Defaults()
	if !cfg.FeatureEnabled("subtitles") {
		t.Error("expected unknown feature to default to enabled")
	}
	cfg.EnabledFeatures["subtitles"] = false
	if cfg.FeatureEnabled("subtitles") {
		t.Error("expected explicitly disabled feature to report disabled")
	}
}
