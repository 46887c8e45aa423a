package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.IngestRateLimit != 60 || cfg.IngestRateWindow != time.Minute {
		t.Errorf("ingest limit = %d/%v, want 60/1m", cfg.IngestRateLimit, cfg.IngestRateWindow)
	}
	if cfg.NotifyRateLimit != 30 || cfg.NotifyRateWindow != time.Minute {
		t.Errorf("notify limit = %d/%v, want 30/1m", cfg.NotifyRateLimit, cfg.NotifyRateWindow)
	}
	if cfg.DefaultCurrency != "RWF" {
		t.Errorf("currency = %s, want RWF", cfg.DefaultCurrency)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NOTIFY_RATE_LIMIT", "5")
	t.Setenv("NOTIFY_RATE_WINDOW", "30s")
	t.Setenv("INGEST_RATE_LIMIT", "120")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.NotifyRateLimit != 5 {
		t.Errorf("NotifyRateLimit = %d, want 5", cfg.NotifyRateLimit)
	}
	if cfg.NotifyRateWindow != 30*time.Second {
		t.Errorf("NotifyRateWindow = %v, want 30s", cfg.NotifyRateWindow)
	}
	if cfg.IngestRateLimit != 120 {
		t.Errorf("IngestRateLimit = %d, want 120", cfg.IngestRateLimit)
	}
}
