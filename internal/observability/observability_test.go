package observability

import (
	"context"
	"testing"
	"time"
)

func TestInitMetricsReturnsHandlerAndShutdown(t *testing.T) {
	handler, shutdown, err := InitMetrics()
	if err != nil {
		t.Fatalf("init metrics: %v", err)
	}
	if handler == nil {
		t.Fatal("expected a non-nil /metrics handler")
	}
	if shutdown == nil {
		t.Fatal("expected a non-nil shutdown func")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestNewEngineMetricsRegistersInstruments(t *testing.T) {
	if _, _, err := InitMetrics(); err != nil {
		t.Fatalf("init metrics: %v", err)
	}

	m, err := NewEngineMetrics()
	if err != nil {
		t.Fatalf("new engine metrics: %v", err)
	}
	if m.RowsProcessed == nil || m.RowsFailed == nil || m.RequestLatency == nil {
		t.Fatalf("expected all instruments to be non-nil, got %+v", m)
	}

	m.RowsProcessed.Add(context.Background(), 1)
	m.RowsFailed.Add(context.Background(), 1)
	m.RequestLatency.Record(context.Background(), 12.5)
}

func TestRegisterActiveJobsGauge(t *testing.T) {
	if _, _, err := InitMetrics(); err != nil {
		t.Fatalf("init metrics: %v", err)
	}

	err := RegisterActiveJobsGauge(func(context.Context) (int64, error) {
		return 3, nil
	})
	if err != nil {
		t.Fatalf("register active jobs gauge: %v", err)
	}
}

func TestInitTracerReturnsShutdown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	shutdown, err := InitTracer(ctx, "batchroute-test", "127.0.0.1:4317")
	if err != nil {
		t.Fatalf("init tracer: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected a non-nil shutdown func")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	_ = shutdown(shutdownCtx)
}
