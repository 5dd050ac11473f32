// Package config handles environment variable loading for the batch
// routing engine, generalizing the teacher's internal/config.Load.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable named in spec §6.
type Config struct {
	HTTPPort int

	OSRMURL             string
	OSRMMaxConcurrent   int   // K-window size
	OSRMRequestDelay    time.Duration
	BatchSize           int   // B-window size
	JobTimeout          time.Duration

	UploadDir   string
	ResultsDir  string
	LogDir      string

	MaxJobsKept           int
	MaxResultsKept        int
	FileCleanupInterval   time.Duration
	ImmediateCleanup      bool

	// Optional Postgres audit mirror (SPEC_FULL.md supplemented feature #1).
	DatabaseURL string

	OTELEndpoint string
}

// Load reads configuration from environment variables, applying the
// defaults documented in spec §4.1/§4.6/§4.7.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:            6161,
		OSRMURL:             "http://localhost:5000",
		OSRMMaxConcurrent:   50,
		OSRMRequestDelay:    0,
		BatchSize:           100,
		JobTimeout:          0,
		UploadDir:           "./data/uploads",
		ResultsDir:          "./data/results",
		LogDir:              "./data/logs",
		MaxJobsKept:         100,
		MaxResultsKept:      100,
		FileCleanupInterval: time.Hour,
		ImmediateCleanup:    false,
		OTELEndpoint:        "localhost:4317",
	}

	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.HTTPPort = p
	}

	if v := os.Getenv("OSRM_URL"); v != "" {
		cfg.OSRMURL = v
	}

	if v := os.Getenv("OSRM_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid OSRM_MAX_CONCURRENT: %w", err)
		}
		cfg.OSRMMaxConcurrent = n
	}

	if v := os.Getenv("OSRM_REQUEST_DELAY"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid OSRM_REQUEST_DELAY: %w", err)
		}
		cfg.OSRMRequestDelay = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv("BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BATCH_SIZE: %w", err)
		}
		cfg.BatchSize = n
	}

	if v := os.Getenv("JOB_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid JOB_TIMEOUT: %w", err)
		}
		cfg.JobTimeout = d
	}

	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		cfg.UploadDir = v
	}
	if v := os.Getenv("RESULTS_DIR"); v != "" {
		cfg.ResultsDir = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		cfg.LogDir = v
	}

	if v := os.Getenv("MAX_JOBS_KEPT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_JOBS_KEPT: %w", err)
		}
		cfg.MaxJobsKept = n
	}

	if v := os.Getenv("MAX_RESULTS_KEPT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_RESULTS_KEPT: %w", err)
		}
		cfg.MaxResultsKept = n
	}

	if v := os.Getenv("FILE_CLEANUP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid FILE_CLEANUP_INTERVAL: %w", err)
		}
		cfg.FileCleanupInterval = d
	}

	if v := os.Getenv("IMMEDIATE_CLEANUP"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid IMMEDIATE_CLEANUP: %w", err)
		}
		cfg.ImmediateCleanup = b
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTELEndpoint = v
	}

	return cfg, nil
}

// AuditEnabled reports whether the optional Postgres audit mirror should be
// started (spec SPEC_FULL.md, supplemented feature #1).
func (c *Config) AuditEnabled() bool {
	return c.DatabaseURL != ""
}
