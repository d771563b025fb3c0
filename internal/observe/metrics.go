// Package observe provides OpenTelemetry metrics for the Phantom State
// server.
//
// Metrics are recorded through the OTel Metrics API; [InitProvider] wires
// a Prometheus exporter bridge so they can be scraped from a standard
// /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all Phantom State metrics.
const meterName = "github.com/phantomstate/phantomstate"

// Metrics holds the metric instruments recorded around engine operations.
// All fields are safe for concurrent use — the underlying OTel types
// handle their own synchronisation.
type Metrics struct {
	// OperationDuration tracks engine operation latency. Attributes:
	//   attribute.String("operation", ...)
	OperationDuration metric.Float64Histogram

	// OperationCalls counts engine operations. Attributes:
	//   attribute.String("operation", ...), attribute.String("status", "ok"|"error")
	OperationCalls metric.Int64Counter

	// OperationErrors counts failed operations by error kind. Attributes:
	//   attribute.String("operation", ...), attribute.String("kind", ...)
	OperationErrors metric.Int64Counter
}

// latencyBuckets defines histogram bucket boundaries (in seconds). The
// upper buckets cover embedding-provider round-trips.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.OperationDuration, err = m.Float64Histogram("phantomstate.operation.duration",
		metric.WithDescription("Latency of engine operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.OperationCalls, err = m.Int64Counter("phantomstate.operation.calls",
		metric.WithDescription("Total engine operations by name and status."),
	); err != nil {
		return nil, err
	}
	if met.OperationErrors, err = m.Int64Counter("phantomstate.operation.errors",
		metric.WithDescription("Total failed engine operations by name and error kind."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordOperation records one engine operation: its duration, a call
// count with status, and on failure an error count keyed by kind.
func (m *Metrics) RecordOperation(ctx context.Context, operation string, start time.Time, errKind string) {
	if m == nil {
		return
	}
	opAttr := attribute.String("operation", operation)
	m.OperationDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(opAttr))

	status := "ok"
	if errKind != "" {
		status = "error"
		m.OperationErrors.Add(ctx, 1, metric.WithAttributes(opAttr, attribute.String("kind", errKind)))
	}
	m.OperationCalls.Add(ctx, 1, metric.WithAttributes(opAttr, attribute.String("status", status)))
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating
// it on first call from [otel.GetMeterProvider]. Panics if instrument
// creation fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
