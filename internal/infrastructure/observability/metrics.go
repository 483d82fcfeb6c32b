package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the costing instruments
type Metrics struct {
	RecalculationCount    metric.Int64Counter
	RecalculationDuration metric.Float64Histogram
	RecalculationRows     metric.Int64Histogram
	MutationCount         metric.Int64Counter
	ResetCount            metric.Int64Counter
	ExportCount           metric.Int64Counter
}

// InitMetrics creates the costing instruments on the global meter provider
func InitMetrics() (*Metrics, error) {
	return NewMetrics(otel.GetMeterProvider())
}

// NewMetrics creates the costing instruments on the given provider
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(instrumentationName)

	recalculationCount, err := meter.Int64Counter(
		"costing.recalculation.count",
		metric.WithDescription("Number of recalculation passes"),
	)
	if err != nil {
		return nil, err
	}

	recalculationDuration, err := meter.Float64Histogram(
		"costing.recalculation.duration",
		metric.WithDescription("Recalculation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	recalculationRows, err := meter.Int64Histogram(
		"costing.recalculation.rows",
		metric.WithDescription("Result rows produced per recalculation pass"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	mutationCount, err := meter.Int64Counter(
		"costing.document.mutation.count",
		metric.WithDescription("Number of committed document mutations"),
	)
	if err != nil {
		return nil, err
	}

	resetCount, err := meter.Int64Counter(
		"costing.document.reset.count",
		metric.WithDescription("Number of corrupted documents reset to defaults"),
	)
	if err != nil {
		return nil, err
	}

	exportCount, err := meter.Int64Counter(
		"costing.export.count",
		metric.WithDescription("Number of result exports"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RecalculationCount:    recalculationCount,
		RecalculationDuration: recalculationDuration,
		RecalculationRows:     recalculationRows,
		MutationCount:         mutationCount,
		ResetCount:            resetCount,
		ExportCount:           exportCount,
	}, nil
}

// The Record helpers accept a nil *Metrics so components can run without instrumentation.

// RecordRecalculation records one recalculation pass
func (m *Metrics) RecordRecalculation(ctx context.Context, status string, rows int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.RecalculationCount.Add(ctx, 1, attrs)
	m.RecalculationDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	m.RecalculationRows.Record(ctx, int64(rows), attrs)
}

// RecordMutation records a committed document mutation
func (m *Metrics) RecordMutation(ctx context.Context, backend string) {
	if m == nil {
		return
	}
	m.MutationCount.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

// RecordReset records a corrupted document being replaced with defaults
func (m *Metrics) RecordReset(ctx context.Context, backend string) {
	if m == nil {
		return
	}
	m.ResetCount.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

// RecordExport records a result export
func (m *Metrics) RecordExport(ctx context.Context, format string, archived bool) {
	if m == nil {
		return
	}
	m.ExportCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("format", format),
		attribute.Bool("archived", archived),
	))
}
