// Package observability provides OpenTelemetry instrumentation for tracing
// and metrics, adapted from the teacher's internal/observability package.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a
// Prometheus exporter. It returns the HTTP handler for the /metrics
// endpoint and a shutdown function to be called on application exit.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// EngineMetrics holds the counters and histogram the dispatcher updates
// as jobs run.
type EngineMetrics struct {
	RowsProcessed  metric.Int64Counter
	RowsFailed     metric.Int64Counter
	RequestLatency metric.Float64Histogram
}

// NewEngineMetrics registers the engine's instruments on the global meter
// provider. Call after InitMetrics.
func NewEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter("batchroute")

	rowsProcessed, err := meter.Int64Counter("batchroute.rows.processed",
		metric.WithDescription("Rows processed across all jobs"))
	if err != nil {
		return nil, fmt.Errorf("register rows.processed counter: %w", err)
	}

	rowsFailed, err := meter.Int64Counter("batchroute.rows.failed",
		metric.WithDescription("Rows that failed to route across all jobs"))
	if err != nil {
		return nil, fmt.Errorf("register rows.failed counter: %w", err)
	}

	requestLatency, err := meter.Float64Histogram("batchroute.routing_request.latency_ms",
		metric.WithDescription("Wall time of each K-window of routing daemon requests divided by its request count"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("register routing_request.latency_ms histogram: %w", err)
	}

	return &EngineMetrics{
		RowsProcessed:  rowsProcessed,
		RowsFailed:     rowsFailed,
		RequestLatency: requestLatency,
	}, nil
}

// RegisterActiveJobsGauge registers an observable gauge reporting the
// number of live (non-terminal) jobs, mirroring the teacher's
// jobplane.queue.depth callback gauge.
func RegisterActiveJobsGauge(count func(context.Context) (int64, error)) error {
	meter := otel.Meter("batchroute")
	_, err := meter.Int64ObservableGauge("batchroute.jobs.active",
		metric.WithDescription("Current number of non-terminal jobs"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			n, err := count(ctx)
			if err != nil {
				return nil // don't fail a metrics scrape on a transient error
			}
			obs.Observe(n)
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("register jobs.active gauge: %w", err)
	}
	return nil
}
