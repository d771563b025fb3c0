package observe_test

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/phantomstate/phantomstate/internal/observe"
)

func TestRecordOperation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	start := time.Now().Add(-10 * time.Millisecond)
	m.RecordOperation(ctx, "query_state", start, "")
	m.RecordOperation(ctx, "query_state", start, "UnknownMoment")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	found := map[string]bool{}
	for _, scope := range rm.ScopeMetrics {
		for _, met := range scope.Metrics {
			found[met.Name] = true
		}
	}
	for _, want := range []string{
		"phantomstate.operation.duration",
		"phantomstate.operation.calls",
		"phantomstate.operation.errors",
	} {
		if !found[want] {
			t.Errorf("metric %q was not recorded; got %v", want, found)
		}
	}
}

func TestRecordOperationNilReceiver(t *testing.T) {
	t.Parallel()

	// Adapters run with metrics disabled in tests; recording must be a
	// safe no-op.
	var m *observe.Metrics
	m.RecordOperation(context.Background(), "query_state", time.Now(), "")
}
