package observability

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s is %T, not an int64 sum", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := NewMeterProvider(MeterConfig{ServiceName: "autoflow-test"}, reader)
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.RecordTaskRun(ctx, "workflow", "success", 1500*time.Millisecond)
	m.RecordTaskRun(ctx, "agent_items", "error", time.Second)
	m.RecordStep(ctx, "agent", "ok")
	m.RecordStep(ctx, "agent", "error")
	m.RecordStep(ctx, "skill", "ok")
	m.RecordItem(ctx, "updated")

	got := collect(t, reader)
	if n := sumOf(t, got["task.runs"]); n != 2 {
		t.Errorf("task.runs = %d, want 2", n)
	}
	if n := sumOf(t, got["workflow.steps"]); n != 3 {
		t.Errorf("workflow.steps = %d, want 3", n)
	}
	if n := sumOf(t, got["items.processed"]); n != 1 {
		t.Errorf("items.processed = %d, want 1", n)
	}
	hist, ok := got["task.duration"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("task.duration is %T", got["task.duration"].Data)
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("task.duration count = %d, want 2", count)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordTaskRun(ctx, "workflow", "success", time.Second)
	m.RecordStep(ctx, "agent", "ok")
	m.RecordItem(ctx, "failed")
}

func TestMeterConfigDefaults(t *testing.T) {
	var cfg MeterConfig
	cfg.ApplyDefaults()
	if cfg.Endpoint != "localhost:4318" || !cfg.Insecure {
		t.Errorf("unexpected endpoint defaults %+v", cfg)
	}
	if cfg.Interval != 15*time.Second {
		t.Errorf("unexpected interval %v", cfg.Interval)
	}
}
