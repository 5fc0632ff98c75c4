// Package observability records operation counts and latencies for the
// filter manager. It degrades to a no-op recorder if no OpenTelemetry
// meter provider is available, so the manager never fails to construct
// for lack of a metrics backend.
package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records manager activity.
type MetricsRecorder interface {
	RecordOperation(op string, dur time.Duration, err error)
	RecordBatchSize(op string, n int)
	RecordNumFilters(n int)
}

var (
	defaultOnce sync.Once
	defaultRec  MetricsRecorder
)

// Default returns the process-wide recorder, initializing it from the
// globally configured OpenTelemetry meter provider on first use.
func Default() MetricsRecorder {
	defaultOnce.Do(func() {
		rec, err := newOtelMetrics()
		if err != nil {
			defaultRec = NoopMetrics{}
			return
		}
		defaultRec = rec
	})
	return defaultRec
}

type otelMetrics struct {
	opCount     metric.Int64Counter
	opErrors    metric.Int64Counter
	opDuration  metric.Float64Histogram
	batchSize   metric.Int64Histogram
	numFilters  metric.Int64Gauge
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("github.com/bloomd/bloomd/internal/manager")

	opCount, err := meter.Int64Counter("bloomd.operations",
		metric.WithDescription("number of manager operations by kind"))
	if err != nil {
		return nil, err
	}
	opErrors, err := meter.Int64Counter("bloomd.operation_errors",
		metric.WithDescription("number of failed manager operations by kind"))
	if err != nil {
		return nil, err
	}
	opDuration, err := meter.Float64Histogram("bloomd.operation_duration_seconds",
		metric.WithDescription("manager operation latency by kind"))
	if err != nil {
		return nil, err
	}
	batchSize, err := meter.Int64Histogram("bloomd.batch_size",
		metric.WithDescription("keyed-operation batch size by kind"))
	if err != nil {
		return nil, err
	}
	numFilters, err := meter.Int64Gauge("bloomd.num_filters",
		metric.WithDescription("current registry size"))
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		opCount:    opCount,
		opErrors:   opErrors,
		opDuration: opDuration,
		batchSize:  batchSize,
		numFilters: numFilters,
	}, nil
}

func (m *otelMetrics) RecordOperation(op string, dur time.Duration, err error) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("op", op))
	m.opCount.Add(ctx, 1, attrs)
	m.opDuration.Record(ctx, dur.Seconds(), attrs)
	if err != nil {
		m.opErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordBatchSize(op string, n int) {
	m.batchSize.Record(context.Background(), int64(n), metric.WithAttributes(attribute.String("op", op)))
}

func (m *otelMetrics) RecordNumFilters(n int) {
	m.numFilters.Record(context.Background(), int64(n))
}

// NoopMetrics discards everything. Default falls back to it when the
// OpenTelemetry instruments cannot be created.
type NoopMetrics struct{}

func (NoopMetrics) RecordOperation(op string, dur time.Duration, err error) {}
func (NoopMetrics) RecordBatchSize(op string, n int)                       {}
func (NoopMetrics) RecordNumFilters(n int)                                 {}
