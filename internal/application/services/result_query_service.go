package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicledger/costing/internal/domain/entities"
	"github.com/clinicledger/costing/internal/domain/providers"
	"github.com/clinicledger/costing/internal/domain/repositories"
	"github.com/clinicledger/costing/internal/infrastructure/observability"
	apperrors "github.com/clinicledger/costing/pkg/errors"
)

// Export formats
const (
	ExportFormatCSV  = "csv"
	ExportFormatXLSX = "xlsx"
)

const csvContentType = "text/csv; charset=utf-8"

var exportHeader = []string{"Procedure", "Variant", "Cases", "Sale Price", "Total Cost", "Margin", "Margin Rate"}

// sortFields maps normalized field names to their numeric accessor.
// ok=false marks a missing value, which always sorts last.
var sortFields = map[string]func(entities.CostingResultRow) (float64, bool){
	"casecount":       func(r entities.CostingResultRow) (float64, bool) { return float64(r.CaseCount), true },
	"saleprice":       func(r entities.CostingResultRow) (float64, bool) { return r.SalePrice, true },
	"totalcost":       func(r entities.CostingResultRow) (float64, bool) { return r.TotalCost, true },
	"margin":          func(r entities.CostingResultRow) (float64, bool) { return r.Margin, true },
	"marginrate":      func(r entities.CostingResultRow) (float64, bool) { return r.MarginRate, true },
	"marginperminute": marginPerMinute,
}

func marginPerMinute(r entities.CostingResultRow) (float64, bool) {
	if r.MarginPerMinute == nil {
		return 0, false
	}
	return *r.MarginPerMinute, true
}

// ResultQueryService serves persisted results: filtering, sorting, insights and exports
type ResultQueryService struct {
	store   repositories.DocumentStore
	archive providers.ExportArchive
	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewResultQueryService creates a new result query service. archive and metrics may be nil.
func NewResultQueryService(
	store repositories.DocumentStore,
	archive providers.ExportArchive,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ResultQueryService {
	return &ResultQueryService{
		store:   store,
		archive: archive,
		metrics: metrics,
		logger:  logger.With().Str("service", "result_query").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GetResults returns the snapshot's result rows filtered by a case-insensitive search over
// procedure and variant names, then sorted by a numeric field. Unknown fields keep stored order.
func (s *ResultQueryService) GetResults(ctx context.Context, snapshotID string, query providers.ResultQuery) (_ []entities.CostingResultRow, err error) {
	ctx, span := observability.StartSpan(ctx, "ResultQueryService.GetResults",
		attribute.String("snapshot_id", snapshotID), attribute.String("sort", query.Sort))
	defer endSpan(span, &err)

	descending, err := parseOrder(query.Order)
	if err != nil {
		return nil, err
	}

	_, results, err := s.load(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	rows := filterRows(results.Rows, query.Search)
	if accessor, ok := sortFields[normalizeField(query.Sort)]; ok {
		sortRows(rows, accessor, descending)
	}
	return rows, nil
}

// GetInsights returns the insight summary of the latest recalculation, empty if there is none
func (s *ResultQueryService) GetInsights(ctx context.Context, snapshotID string) (_ *entities.InsightPayload, err error) {
	ctx, span := observability.StartSpan(ctx, "ResultQueryService.GetInsights", attribute.String("snapshot_id", snapshotID))
	defer endSpan(span, &err)

	_, results, err := s.load(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	insights := results.Insights.Clone()
	return &insights, nil
}

// ExportResults renders the result rows as a delimited table.
// xlsx is not supported yet and falls back to CSV with Fallback set.
func (s *ResultQueryService) ExportResults(ctx context.Context, snapshotID, format string) (_ *providers.ExportPayload, err error) {
	ctx, span := observability.StartSpan(ctx, "ResultQueryService.ExportResults",
		attribute.String("snapshot_id", snapshotID), attribute.String("format", format))
	defer endSpan(span, &err)

	payload, _, err := s.export(ctx, snapshotID, format)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordExport(ctx, payload.Format, false)
	return payload, nil
}

// ArchiveExport renders an export and stores it in the configured archive
// under snapshots/<month>/<snapshot id>/results-<timestamp>.<ext>
func (s *ResultQueryService) ArchiveExport(ctx context.Context, snapshotID, format string) (_ *providers.ArchivedObject, err error) {
	ctx, span := observability.StartSpan(ctx, "ResultQueryService.ArchiveExport",
		attribute.String("snapshot_id", snapshotID), attribute.String("format", format))
	defer endSpan(span, &err)

	if s.archive == nil {
		return nil, apperrors.NewValidationError("no export archive is configured")
	}

	payload, snap, err := s.export(ctx, snapshotID, format)
	if err != nil {
		return nil, err
	}

	ext := ExportFormatCSV
	key := fmt.Sprintf("snapshots/%s/%s/results-%s.%s", snap.Month, snap.ID, s.now().Format("20060102T150405Z"), ext)
	obj, err := s.archive.Put(ctx, key, payload.Data, payload.ContentType)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to archive export", err)
	}
	s.metrics.RecordExport(ctx, payload.Format, true)

	s.logger.Info().
		Str("snapshot_id", snapshotID).
		Str("driver", s.archive.Driver()).
		Str("key", obj.Key).
		Int64("size", obj.Size).
		Msg("export archived")
	return &obj, nil
}

func (s *ResultQueryService) export(ctx context.Context, snapshotID, format string) (*providers.ExportPayload, entities.Snapshot, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatXLSX {
		return nil, entities.Snapshot{}, apperrors.NewValidationError(fmt.Sprintf("unsupported export format %q", format))
	}

	snap, results, err := s.load(ctx, snapshotID)
	if err != nil {
		return nil, entities.Snapshot{}, err
	}

	data, err := renderCSV(results.Rows)
	if err != nil {
		return nil, entities.Snapshot{}, apperrors.NewInternalError("failed to render export", err)
	}

	return &providers.ExportPayload{
		Format:      format,
		ContentType: csvContentType,
		Filename:    fmt.Sprintf("costing-results-%s.csv", snap.Month),
		Data:        data,
		Fallback:    format == ExportFormatXLSX,
	}, snap, nil
}

func (s *ResultQueryService) load(ctx context.Context, snapshotID string) (entities.Snapshot, entities.ResultSet, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return entities.Snapshot{}, entities.ResultSet{}, err
	}
	snap, ok := doc.Snapshots[snapshotID]
	if !ok {
		return entities.Snapshot{}, entities.ResultSet{}, snapshotNotFound(snapshotID)
	}
	results := doc.Results[snapshotID]
	results.Rows = nonNil(results.Rows)
	return snap, results, nil
}

func filterRows(rows []entities.CostingResultRow, search string) []entities.CostingResultRow {
	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]entities.CostingResultRow, 0, len(rows))
	for _, row := range rows {
		if needle == "" ||
			strings.Contains(strings.ToLower(row.ProcedureName), needle) ||
			strings.Contains(strings.ToLower(row.VariantName), needle) {
			out = append(out, row.Clone())
		}
	}
	return out
}

func sortRows(rows []entities.CostingResultRow, accessor func(entities.CostingResultRow) (float64, bool), descending bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, aok := accessor(rows[i])
		b, bok := accessor(rows[j])
		if !aok || !bok {
			return aok && !bok
		}
		if descending {
			return a > b
		}
		return a < b
	})
}

// normalizeField accepts camelCase and snake_case field names
func normalizeField(field string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(field)), "_", "")
}

func parseOrder(order string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(order)) {
	case "", "asc":
		return false, nil
	case "desc":
		return true, nil
	}
	return false, apperrors.NewValidationError(fmt.Sprintf("order must be asc or desc, got %q", order))
}

func renderCSV(rows []entities.CostingResultRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := []string{
			row.ProcedureName,
			row.VariantName,
			strconv.Itoa(row.CaseCount),
			formatAmount(row.SalePrice),
			formatAmount(row.TotalCost),
			formatAmount(row.Margin),
			strconv.FormatFloat(row.MarginRate, 'f', 4, 64),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
