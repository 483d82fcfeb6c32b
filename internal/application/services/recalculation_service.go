package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicledger/costing/internal/costing"
	"github.com/clinicledger/costing/internal/domain/entities"
	"github.com/clinicledger/costing/internal/domain/repositories"
	"github.com/clinicledger/costing/internal/infrastructure/observability"
)

// jobHistoryPerSnapshot bounds how many job records are kept for each snapshot
const jobHistoryPerSnapshot = 20

// RecalculationService runs calculation passes and persists their results.
// A pass is synchronous and applied as one document mutation.
type RecalculationService struct {
	store    repositories.DocumentStore
	notifier *EventNotifier
	metrics  *observability.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// NewRecalculationService creates a new recalculation service. notifier and metrics may be nil.
func NewRecalculationService(
	store repositories.DocumentStore,
	notifier *EventNotifier,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *RecalculationService {
	return &RecalculationService{
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.With().Str("service", "recalculation").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Recalculate derives fresh result rows and insights for the snapshot.
// In one mutation it replaces the results, stamps lastCalculatedAt, moves DRAFT to READY
// and appends a completed job record.
func (s *RecalculationService) Recalculate(ctx context.Context, snapshotID string) (_ *entities.RecalculationJob, err error) {
	ctx, span := observability.StartSpan(ctx, "RecalculationService.Recalculate", attribute.String("snapshot_id", snapshotID))
	defer endSpan(span, &err)

	started := time.Now()

	type outcome struct {
		job      entities.RecalculationJob
		snapshot entities.Snapshot
		results  entities.ResultSet
	}

	res, err := repositories.MutateWith(ctx, s.store, func(doc *entities.Document) (outcome, error) {
		snap, ok := doc.Snapshots[snapshotID]
		if !ok {
			return outcome{}, snapshotNotFound(snapshotID)
		}

		out := costing.Calculate(costing.Input{
			Staff:       doc.Staff[snapshotID],
			Consumables: doc.Consumables[snapshotID],
			Procedures:  doc.Procedures[snapshotID],
		})

		now := s.now()
		results := entities.ResultSet{
			SnapshotID:   snapshotID,
			Rows:         out.Rows,
			Insights:     out.Insights,
			CalculatedAt: now,
		}
		if prevSnap, prevResults, found := doc.PreviousResults(snap.Month); found {
			results.Insights.MonthOverMonth = costing.CompareMonths(results, prevSnap, prevResults)
		}
		doc.Results[snapshotID] = results

		calculatedAt := now
		snap.LastCalculatedAt = &calculatedAt
		snap.UpdatedAt = now
		if snap.Status == entities.SnapshotStatusDraft {
			if _, err := snap.Transition(entities.SnapshotStatusReady, entities.TransitionOriginRecalculation, now, nil); err != nil {
				return outcome{}, transitionError(snap.Status, entities.SnapshotStatusReady, err)
			}
		}
		doc.Snapshots[snapshotID] = snap

		completedAt := now
		job := entities.RecalculationJob{
			JobID:       entities.NewID(),
			SnapshotID:  snapshotID,
			Status:      entities.JobStatusCompleted,
			RowCount:    len(results.Rows),
			QueuedAt:    now,
			CompletedAt: &completedAt,
		}
		doc.Jobs = trimJobHistory(append(doc.Jobs, job), snapshotID)

		return outcome{job: job, snapshot: snap.Clone(), results: results.Clone()}, nil
	})

	duration := time.Since(started)
	if err != nil {
		s.metrics.RecordRecalculation(ctx, string(entities.JobStatusFailed), 0, duration)
		return nil, err
	}
	s.metrics.RecordRecalculation(ctx, string(entities.JobStatusCompleted), res.job.RowCount, duration)

	s.logger.Info().
		Str("snapshot_id", snapshotID).
		Str("month", res.snapshot.Month).
		Str("job_id", res.job.JobID).
		Str("status", string(res.snapshot.Status)).
		Int("rows", res.job.RowCount).
		Dur("duration", duration).
		Msg("recalculation completed")

	payload := map[string]interface{}{
		"job_id": res.job.JobID,
		"rows":   res.job.RowCount,
		"margin": res.results.Totals().Margin,
	}
	s.notifier.Notify(ctx, entities.NewCostingEvent(res.snapshot, entities.CostingEventSnapshotRecalculated, payload))

	return &res.job, nil
}

// RecalculateAll recalculates every snapshot oldest month first, so month-over-month
// comparisons read freshly computed earlier months. Locked snapshots are skipped
// unless includeLocked is set. Per-snapshot failures are joined into the returned error.
func (s *RecalculationService) RecalculateAll(ctx context.Context, includeLocked bool) ([]*entities.RecalculationJob, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	sorted := doc.SortedSnapshots()
	var (
		jobs []*entities.RecalculationJob
		errs []error
	)
	for i := len(sorted) - 1; i >= 0; i-- {
		snap := sorted[i]
		if snap.Status == entities.SnapshotStatusLocked && !includeLocked {
			s.logger.Debug().Str("snapshot_id", snap.ID).Str("month", snap.Month).Msg("skipping locked snapshot")
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		job, err := s.Recalculate(ctx, snap.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("snapshot %s (%s): %w", snap.ID, snap.Month, err))
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, errors.Join(errs...)
}

// trimJobHistory keeps the newest job records for snapshotID and every record of other snapshots
func trimJobHistory(jobs []entities.RecalculationJob, snapshotID string) []entities.RecalculationJob {
	count := 0
	for _, j := range jobs {
		if j.SnapshotID == snapshotID {
			count++
		}
	}
	drop := count - jobHistoryPerSnapshot
	if drop <= 0 {
		return jobs
	}

	out := make([]entities.RecalculationJob, 0, len(jobs)-drop)
	for _, j := range jobs {
		if j.SnapshotID == snapshotID && drop > 0 {
			drop--
			continue
		}
		out = append(out, j)
	}
	return out
}
