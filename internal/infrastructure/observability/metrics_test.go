package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

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
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := NewMetrics(provider)
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordRecalculation(ctx, "COMPLETED", 4, 12*time.Millisecond)
	metrics.RecordMutation(ctx, "memory")
	metrics.RecordMutation(ctx, "memory")
	metrics.RecordReset(ctx, "file")
	metrics.RecordExport(ctx, "csv", true)

	got := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(t, got["costing.recalculation.count"]))
	assert.Equal(t, int64(2), sumOf(t, got["costing.document.mutation.count"]))
	assert.Equal(t, int64(1), sumOf(t, got["costing.document.reset.count"]))
	assert.Equal(t, int64(1), sumOf(t, got["costing.export.count"]))
	assert.Contains(t, got, "costing.recalculation.duration")
}

func TestMetrics_RecalculationSeriesKeyedByStatusOnly(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := NewMetrics(provider)
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordRecalculation(ctx, "COMPLETED", 4, time.Millisecond)
	metrics.RecordRecalculation(ctx, "COMPLETED", 9, time.Millisecond)
	metrics.RecordRecalculation(ctx, "COMPLETED", 120, time.Millisecond)

	got := collect(t, reader)

	count, ok := got["costing.recalculation.count"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, count.DataPoints, 1)
	assert.Equal(t, int64(3), count.DataPoints[0].Value)
	assert.Equal(t, 1, count.DataPoints[0].Attributes.Len())

	rows, ok := got["costing.recalculation.rows"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, rows.DataPoints, 1)
	assert.Equal(t, uint64(3), rows.DataPoints[0].Count)
	assert.Equal(t, int64(133), rows.DataPoints[0].Sum)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var metrics *Metrics
	assert.NotPanics(t, func() {
		metrics.RecordRecalculation(context.Background(), "COMPLETED", 0, 0)
		metrics.RecordMutation(context.Background(), "memory")
		metrics.RecordReset(context.Background(), "memory")
		metrics.RecordExport(context.Background(), "csv", false)
	})
}
