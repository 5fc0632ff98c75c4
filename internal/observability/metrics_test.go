package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest installs a manual-reader meter provider as the global
// provider for the duration of a test and returns it plus a restore func.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, func()) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	original := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	return reader, func() {
		otel.SetMeterProvider(original)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown meter provider: %v", err)
		}
	}
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNoopMetrics_ImplementsInterface(t *testing.T) {
	var _ MetricsRecorder = NoopMetrics{}
}

func TestNoopMetrics_DoesNotPanic(t *testing.T) {
	m := NoopMetrics{}

	t.Run("RecordOperation with nil error", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.RecordOperation("check", 5*time.Millisecond, nil)
		})
	})

	t.Run("RecordOperation with error", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.RecordOperation("create", 5*time.Millisecond, errors.New("boom"))
		})
	})

	t.Run("RecordBatchSize", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.RecordBatchSize("set", 0)
			m.RecordBatchSize("set", 128)
		})
	})

	t.Run("RecordNumFilters", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.RecordNumFilters(0)
			m.RecordNumFilters(42)
		})
	})
}

func TestDefault_NoPanicAndNonNil(t *testing.T) {
	assert.NotPanics(t, func() {
		rec := Default()
		require.NotNil(t, rec)
	})
}

func TestDefault_MemoizesAcrossCalls(t *testing.T) {
	first := Default()
	second := Default()
	require.Same(t, first, second)
}

func TestNewOtelMetrics_Creation(t *testing.T) {
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.NotNil(t, m.opCount)
	assert.NotNil(t, m.opErrors)
	assert.NotNil(t, m.opDuration)
	assert.NotNil(t, m.batchSize)
	assert.NotNil(t, m.numFilters)
}

func TestOtelMetrics_RecordOperation(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	t.Run("records count and duration on success", func(t *testing.T) {
		m.RecordOperation("check", 50*time.Millisecond, nil)

		rm := collectMetrics(t, reader)

		count := findMetric(rm, "bloomd.operations")
		require.NotNil(t, count)
		sum, ok := count.Data.(metricdata.Sum[int64])
		require.True(t, ok, "expected Sum type")
		require.NotEmpty(t, sum.DataPoints)

		dur := findMetric(rm, "bloomd.operation_duration_seconds")
		require.NotNil(t, dur)
		hist, ok := dur.Data.(metricdata.Histogram[float64])
		require.True(t, ok, "expected Histogram type")
		require.NotEmpty(t, hist.DataPoints)
	})

	t.Run("records an error on failure", func(t *testing.T) {
		m.RecordOperation("create", 10*time.Millisecond, errors.New("create failed"))

		rm := collectMetrics(t, reader)
		errs := findMetric(rm, "bloomd.operation_errors")
		require.NotNil(t, errs)

		sum, ok := errs.Data.(metricdata.Sum[int64])
		require.True(t, ok, "expected Sum type")

		found := false
		for _, dp := range sum.DataPoints {
			for _, attr := range dp.Attributes.ToSlice() {
				if attr.Key == "op" && attr.Value.AsString() == "create" {
					found = true
					assert.GreaterOrEqual(t, dp.Value, int64(1))
				}
			}
		}
		assert.True(t, found, "expected an error datapoint for op=create")
	})

	t.Run("does not record an error on success", func(t *testing.T) {
		m.RecordOperation("flush", 10*time.Millisecond, nil)

		rm := collectMetrics(t, reader)
		errs := findMetric(rm, "bloomd.operation_errors")
		if errs == nil {
			return
		}
		sum, ok := errs.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		for _, dp := range sum.DataPoints {
			for _, attr := range dp.Attributes.ToSlice() {
				if attr.Key == "op" && attr.Value.AsString() == "flush" {
					t.Fatalf("unexpected error datapoint for op=flush")
				}
			}
		}
	})
}

func TestOtelMetrics_RecordBatchSize(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	m.RecordBatchSize("set", 256)

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "bloomd.batch_size")
	require.NotNil(t, metric)

	hist, ok := metric.Data.(metricdata.Histogram[int64])
	require.True(t, ok, "expected Histogram[int64] type")
	require.NotEmpty(t, hist.DataPoints)
}

func TestOtelMetrics_RecordNumFilters(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	m.RecordNumFilters(7)

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "bloomd.num_filters")
	require.NotNil(t, metric)

	gauge, ok := metric.Data.(metricdata.Gauge[int64])
	require.True(t, ok, "expected Gauge[int64] type")
	require.NotEmpty(t, gauge.DataPoints)
	assert.Equal(t, int64(7), gauge.DataPoints[len(gauge.DataPoints)-1].Value)
}
