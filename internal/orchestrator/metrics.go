package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/adaptd/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/adaptd/internal/orchestrator"

// Metrics holds orchestration metrics.
type Metrics struct {
	meter       metric.Meter
	logger      *logging.Logger
	runs        metric.Int64Counter
	duration    metric.Float64Histogram
	stageErrors metric.Int64Counter
	active      metric.Int64UpDownCounter
}

// NewMetrics creates orchestration metrics on the global meter provider.
func NewMetrics(logger *logging.Logger) *Metrics {
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	ctx := context.Background()
	var err error

	m.runs, err = m.meter.Int64Counter(
		"adaptd.orchestrator.runs_total",
		metric.WithDescription("Total number of orchestrations"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create runs counter", zap.Error(err))
	}

	m.duration, err = m.meter.Float64Histogram(
		"adaptd.orchestrator.duration_seconds",
		metric.WithDescription("Duration of orchestrations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create duration histogram", zap.Error(err))
	}

	m.stageErrors, err = m.meter.Int64Counter(
		"adaptd.orchestrator.stage_errors_total",
		metric.WithDescription("Total number of stage failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create stage errors counter", zap.Error(err))
	}

	m.active, err = m.meter.Int64UpDownCounter(
		"adaptd.orchestrator.active_runs",
		metric.WithDescription("Number of in-flight orchestrations"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create active runs gauge", zap.Error(err))
	}
}

// RecordRun records one completed orchestration.
func (m *Metrics) RecordRun(ctx context.Context, pipelineName string, state State, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("pipeline", pipelineName),
		attribute.String("state", string(state)),
	}
	if m.runs != nil {
		m.runs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String("pipeline", pipelineName),
		))
	}
}

// RecordStageError counts one stage failure.
func (m *Metrics) RecordStageError(ctx context.Context, pipelineName, stage string) {
	if m == nil || m.stageErrors == nil {
		return
	}
	m.stageErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", pipelineName),
		attribute.String("stage", stage),
	))
}

// RunStarted increments the in-flight gauge and returns a done callback.
func (m *Metrics) RunStarted(ctx context.Context) func() {
	if m == nil || m.active == nil {
		return func() {}
	}
	m.active.Add(ctx, 1)
	return func() { m.active.Add(ctx, -1) }
}
