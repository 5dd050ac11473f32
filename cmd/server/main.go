// go.mod declares go 1.21, which would otherwise select the pre-1.22
// ServeMux; the API routes use method and wildcard patterns.
//go:debug httpmuxgo121=0

// Package main is the entry point for the batchroute routing engine.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"batchroute/internal/broadcaster"
	"batchroute/internal/config"
	"batchroute/internal/dispatcher"
	"batchroute/internal/httpapi"
	"batchroute/internal/logger"
	"batchroute/internal/observability"
	"batchroute/internal/projcatalog"
	"batchroute/internal/registry"
	"batchroute/internal/registry/audit"
	"batchroute/internal/routing"
	"batchroute/internal/upload"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	for _, dir := range []string{cfg.UploadDir, cfg.ResultsDir, cfg.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("failed to create directory %s: %v", dir, err)
		}
	}

	ctx := context.Background()
	appLogger := logger.New()

	shutdownTracer, err := observability.InitTracer(ctx, "batchroute-server", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("failed to shutdown metrics: %v", err)
		}
	}()

	engineMetrics, err := observability.NewEngineMetrics()
	if err != nil {
		log.Fatalf("failed to register engine metrics: %v", err)
	}

	var auditStore *audit.Store
	if cfg.AuditEnabled() {
		auditStore, err = audit.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect audit store: %v", err)
		}
		defer auditStore.Close()
	}

	catalog := projcatalog.New()
	uploads := upload.New(cfg.UploadDir)
	routingClient := routing.New(cfg.OSRMURL,
		routing.WithTimeout(30*time.Second),
		routing.WithRequestDelay(cfg.OSRMRequestDelay),
	)
	broadcast := broadcaster.New()

	reg := registry.New(nil, cfg.MaxJobsKept)
	dispatch := dispatcher.New(uploads, catalog, routingClient, reg, broadcast, engineMetrics, appLogger, dispatcher.Config{
		BatchSize:     cfg.BatchSize,
		MaxConcurrent: cfg.OSRMMaxConcurrent,
		ResultsDir:    cfg.ResultsDir,
	})
	reg.SetRunner(dispatch)
	if auditStore != nil {
		reg.SetAuditSink(auditStore, appLogger)
	}
	reg.StartHousekeeping(cfg.FileCleanupInterval)

	meter := otel.Meter("batchroute-server")
	_, err = meter.Int64ObservableGauge("batchroute.results_dir.bytes",
		metric.WithDescription("Approximate bytes used by the results directory"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			size, err := dirSize(cfg.ResultsDir)
			if err != nil {
				return nil
			}
			obs.Observe(size)
			return nil
		}),
	)
	if err != nil {
		log.Printf("failed to register results_dir.bytes metric: %v", err)
	}

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := httpapi.New(addr, httpapi.Deps{
		Registry:       reg,
		Uploads:        uploads,
		Catalog:        catalog,
		Broadcaster:    broadcast,
		Logger:         appLogger,
		MetricsHandler: metricsHandler,
	})

	shutdownCtx, cancelShutdown := context.WithCancel(ctx)

	go func() {
		log.Printf("batchroute server starting on %s", addr)
		if err := srv.Run(shutdownCtx); err != nil {
			log.Printf("server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down batchroute server...")
	cancelShutdown()
	reg.Shutdown()

	time.Sleep(200 * time.Millisecond)
	log.Println("server exited properly")
}

func dirSize(dir string) (int64, error) {
	var size int64
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		size += info.Size()
	}
	return size, nil
}
