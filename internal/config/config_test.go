package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, "PORT", "OSRM_URL", "OSRM_MAX_CONCURRENT", "BATCH_SIZE", "DATABASE_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != 6161 {
		t.Errorf("expected default port 6161, got %d", cfg.HTTPPort)
	}
	if cfg.OSRMMaxConcurrent != 50 {
		t.Errorf("expected default K-window of 50, got %d", cfg.OSRMMaxConcurrent)
	}
	if cfg.AuditEnabled() {
		t.Error("expected audit to be disabled when DATABASE_URL is unset")
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t, "PORT", "OSRM_URL", "BATCH_SIZE", "OSRM_REQUEST_DELAY", "DATABASE_URL")

	os.Setenv("PORT", "8080")
	os.Setenv("OSRM_URL", "http://osrm.internal:5000")
	os.Setenv("BATCH_SIZE", "250")
	os.Setenv("OSRM_REQUEST_DELAY", "50")
	os.Setenv("DATABASE_URL", "postgres://localhost/batchroute")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("expected overridden port 8080, got %d", cfg.HTTPPort)
	}
	if cfg.OSRMURL != "http://osrm.internal:5000" {
		t.Errorf("expected overridden OSRM URL, got %s", cfg.OSRMURL)
	}
	if cfg.BatchSize != 250 {
		t.Errorf("expected overridden batch size 250, got %d", cfg.BatchSize)
	}
	if cfg.OSRMRequestDelay != 50*time.Millisecond {
		t.Errorf("expected 50ms request delay, got %v", cfg.OSRMRequestDelay)
	}
	if !cfg.AuditEnabled() {
		t.Error("expected audit to be enabled when DATABASE_URL is set")
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	clearEnv(t, "PORT")
	os.Setenv("PORT", "not-a-number")

	if _, err := Load(); err == nil {
		t.Error("expected an error for a non-numeric PORT")
	}
}

func TestLoadRejectsInvalidJobTimeout(t *testing.T) {
	clearEnv(t, "JOB_TIMEOUT")
	os.Setenv("JOB_TIMEOUT", "not-a-duration")

	if _, err := Load(); err == nil {
		t.Error("expected an error for an invalid JOB_TIMEOUT")
	}
}
