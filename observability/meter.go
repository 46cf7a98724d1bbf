package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/kbukum/autoflow/logger"
)

// MeterConfig configures the OTLP/HTTP meter provider.
type MeterConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	ServiceName    string        `yaml:"service_name" mapstructure:"service_name"`
	ServiceVersion string        `yaml:"service_version" mapstructure:"service_version"`
	Environment    string        `yaml:"environment" mapstructure:"environment"`
	Endpoint       string        `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure       bool          `yaml:"insecure" mapstructure:"insecure"`
	Interval       time.Duration `yaml:"interval" mapstructure:"interval"`
}

// ApplyDefaults fills the endpoint and export interval.
func (c *MeterConfig) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4318"
		c.Insecure = true
	}
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
}

// InitMeter builds a periodic OTLP/HTTP meter provider and installs it as the
// global provider. Callers shut it down on exit.
func InitMeter(ctx context.Context, cfg MeterConfig, log *logger.Logger) (*sdkmetric.MeterProvider, error) {
	cfg.ApplyDefaults()
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	mp := NewMeterProvider(cfg, sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval)))
	otel.SetMeterProvider(mp)

	logger.OrNop(log).Info("meter initialized", logger.Fields(
		"service", cfg.ServiceName,
		"endpoint", cfg.Endpoint,
		"interval", cfg.Interval.String(),
	))
	return mp, nil
}

// NewMeterProvider builds a provider over any reader. Tests pass a
// sdkmetric.ManualReader.
func NewMeterProvider(cfg MeterConfig, reader sdkmetric.Reader) *sdkmetric.MeterProvider {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("environment", cfg.Environment),
	)
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics holds the orchestration instruments.
type Metrics struct {
	taskRuns       metric.Int64Counter
	taskDuration   metric.Float64Histogram
	workflowSteps  metric.Int64Counter
	itemsProcessed metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	taskRuns, err := meter.Int64Counter("task.runs",
		metric.WithDescription("Scheduled task runs by type and final status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating task.runs counter: %w", err)
	}

	taskDuration, err := meter.Float64Histogram("task.duration",
		metric.WithDescription("Duration of scheduled task runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating task.duration histogram: %w", err)
	}

	workflowSteps, err := meter.Int64Counter("workflow.steps",
		metric.WithDescription("Settled workflow steps by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating workflow.steps counter: %w", err)
	}

	itemsProcessed, err := meter.Int64Counter("items.processed",
		metric.WithDescription("Items handled by the item processor by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating items.processed counter: %w", err)
	}

	return &Metrics{
		taskRuns:       taskRuns,
		taskDuration:   taskDuration,
		workflowSteps:  workflowSteps,
		itemsProcessed: itemsProcessed,
	}, nil
}

// RecordTaskRun records one finished scheduled run.
func (m *Metrics) RecordTaskRun(ctx context.Context, taskType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.taskRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task_type", taskType),
		attribute.String("status", status),
	))
	m.taskDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("task_type", taskType),
	))
}

// RecordStep records a settled workflow step. status is "ok" or "error".
func (m *Metrics) RecordStep(ctx context.Context, kind, status string) {
	if m == nil {
		return
	}
	m.workflowSteps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("executor_kind", kind),
		attribute.String("status", status),
	))
}

// RecordItem records one processed item. outcome is "updated", "skipped"
// or "failed".
func (m *Metrics) RecordItem(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.itemsProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}
