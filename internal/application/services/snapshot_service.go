package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicledger/costing/internal/domain/entities"
	"github.com/clinicledger/costing/internal/domain/providers"
	"github.com/clinicledger/costing/internal/domain/repositories"
	"github.com/clinicledger/costing/internal/infrastructure/observability"
	apperrors "github.com/clinicledger/costing/pkg/errors"
)

// SnapshotService manages snapshot metadata and the status state machine
type SnapshotService struct {
	store    repositories.DocumentStore
	notifier *EventNotifier
	logger   zerolog.Logger
	now      func() time.Time
}

var _ providers.SnapshotLifecycle = (*SnapshotService)(nil)

// NewSnapshotService creates a new snapshot service. notifier may be nil.
func NewSnapshotService(store repositories.DocumentStore, notifier *EventNotifier, logger zerolog.Logger) *SnapshotService {
	return &SnapshotService{
		store:    store,
		notifier: notifier,
		logger:   logger.With().Str("service", "snapshot").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// List returns snapshot summaries, newest month first
func (s *SnapshotService) List(ctx context.Context) (_ []entities.SnapshotSummary, err error) {
	ctx, span := observability.StartSpan(ctx, "SnapshotService.List")
	defer endSpan(span, &err)

	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	snapshots := doc.SortedSnapshots()
	out := make([]entities.SnapshotSummary, 0, len(snapshots))
	for _, snap := range snapshots {
		out = append(out, snap.Summary())
	}
	return out, nil
}

// Get returns a snapshot with its registries and catalog
func (s *SnapshotService) Get(ctx context.Context, id string) (_ *entities.SnapshotDetail, err error) {
	ctx, span := observability.StartSpan(ctx, "SnapshotService.Get", attribute.String("snapshot_id", id))
	defer endSpan(span, &err)

	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	detail, ok := doc.Detail(id)
	if !ok {
		return nil, snapshotNotFound(id)
	}
	return &detail, nil
}

// Create registers a new DRAFT snapshot for a month, optionally copying data from a source snapshot
func (s *SnapshotService) Create(ctx context.Context, input entities.CreateSnapshotInput) (_ *entities.SnapshotDetail, err error) {
	ctx, span := observability.StartSpan(ctx, "SnapshotService.Create", attribute.String("month", input.Month))
	defer endSpan(span, &err)

	if !entities.IsValidMonth(input.Month) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("month %q must use the YYYY-MM format", input.Month))
	}

	detail, err := repositories.MutateWith(ctx, s.store, func(doc *entities.Document) (entities.SnapshotDetail, error) {
		if existing, ok := doc.FindSnapshotByMonth(input.Month); ok {
			return entities.SnapshotDetail{}, apperrors.NewConflictError(
				fmt.Sprintf("snapshot for %s already exists (%s)", input.Month, existing.ID))
		}

		now := s.now()
		snap := entities.Snapshot{
			ID:                  entities.NewID(),
			Month:               input.Month,
			Status:              entities.SnapshotStatusDraft,
			IncludeFixedCosts:   input.IncludeFixedCosts,
			AppliedFixedCostIDs: []string{},
			CreatedAt:           now,
			UpdatedAt:           now,
		}

		var (
			staff       []entities.StaffCapacity
			consumables []entities.ConsumablePricing
			procedures  []entities.ProcedureDefinition
			selections  []entities.FixedCostSelection
		)
		if input.SourceSnapshotID != nil {
			// an unknown source yields a blank snapshot
			if source, ok := doc.Snapshots[*input.SourceSnapshotID]; ok {
				staff = entities.CloneStaff(doc.Staff[source.ID])
				consumables = entities.CloneConsumables(doc.Consumables[source.ID])
				procedures = entities.CloneProcedures(doc.Procedures[source.ID])
				selections = entities.CloneSelections(doc.FixedCostSelections[source.ID])
				snap.AppliedFixedCostIDs = append([]string{}, source.AppliedFixedCostIDs...)
			}
		}

		doc.Snapshots[snap.ID] = snap
		doc.Staff[snap.ID] = nonNil(staff)
		doc.Consumables[snap.ID] = nonNil(consumables)
		doc.Procedures[snap.ID] = nonNil(procedures)
		doc.FixedCostSelections[snap.ID] = nonNil(selections)

		detail, _ := doc.Detail(snap.ID)
		return detail, nil
	})
	if err != nil {
		return nil, err
	}

	log := s.logger.Info().Str("snapshot_id", detail.ID).Str("month", detail.Month)
	if input.SourceSnapshotID != nil {
		log = log.Str("source_snapshot_id", *input.SourceSnapshotID)
	}
	log.Msg("snapshot created")

	s.notifier.Notify(ctx, entities.NewCostingEvent(detail.Snapshot, entities.CostingEventSnapshotCreated, map[string]interface{}{
		"procedures": len(detail.Procedures),
	}))
	return &detail, nil
}

// Update changes the fixed-cost flag and routes a requested status through the transition table
func (s *SnapshotService) Update(ctx context.Context, id string, input entities.UpdateSnapshotInput) (_ *entities.SnapshotDetail, err error) {
	ctx, span := observability.StartSpan(ctx, "SnapshotService.Update", attribute.String("snapshot_id", id))
	defer endSpan(span, &err)

	return s.apply(ctx, id, func(snap *entities.Snapshot, now time.Time) error {
		if input.Status != nil {
			from := snap.Status
			if _, err := snap.Transition(*input.Status, entities.TransitionOriginUser, now, ActorFrom(ctx)); err != nil {
				return transitionError(from, *input.Status, err)
			}
		}
		if input.IncludeFixedCosts != nil && *input.IncludeFixedCosts != snap.IncludeFixedCosts {
			snap.IncludeFixedCosts = *input.IncludeFixedCosts
			snap.UpdatedAt = now
		}
		return nil
	})
}

// Lock freezes the snapshot. Locking a locked snapshot keeps the original lock time.
func (s *SnapshotService) Lock(ctx context.Context, id string) (_ *entities.SnapshotDetail, err error) {
	ctx, span := observability.StartSpan(ctx, "SnapshotService.Lock", attribute.String("snapshot_id", id))
	defer endSpan(span, &err)

	return s.moveTo(ctx, id, entities.SnapshotStatusLocked)
}

// Unlock returns the snapshot to DRAFT and clears the lock stamps
func (s *SnapshotService) Unlock(ctx context.Context, id string) (_ *entities.SnapshotDetail, err error) {
	ctx, span := observability.StartSpan(ctx, "SnapshotService.Unlock", attribute.String("snapshot_id", id))
	defer endSpan(span, &err)

	return s.moveTo(ctx, id, entities.SnapshotStatusDraft)
}

func (s *SnapshotService) moveTo(ctx context.Context, id string, to entities.SnapshotStatus) (*entities.SnapshotDetail, error) {
	return s.apply(ctx, id, func(snap *entities.Snapshot, now time.Time) error {
		from := snap.Status
		if _, err := snap.Transition(to, entities.TransitionOriginUser, now, ActorFrom(ctx)); err != nil {
			return transitionError(from, to, err)
		}
		return nil
	})
}

// apply mutates one snapshot and emits lock/unlock events for status changes
func (s *SnapshotService) apply(ctx context.Context, id string, change func(snap *entities.Snapshot, now time.Time) error) (*entities.SnapshotDetail, error) {
	type outcome struct {
		detail entities.SnapshotDetail
		from   entities.SnapshotStatus
	}

	res, err := repositories.MutateWith(ctx, s.store, func(doc *entities.Document) (outcome, error) {
		snap, ok := doc.Snapshots[id]
		if !ok {
			return outcome{}, snapshotNotFound(id)
		}
		from := snap.Status
		if err := change(&snap, s.now()); err != nil {
			return outcome{}, err
		}
		doc.Snapshots[id] = snap

		detail, _ := doc.Detail(id)
		return outcome{detail: detail, from: from}, nil
	})
	if err != nil {
		return nil, err
	}

	to := res.detail.Status
	if to != res.from {
		s.logger.Info().
			Str("snapshot_id", id).
			Str("month", res.detail.Month).
			Str("from", string(res.from)).
			Str("to", string(to)).
			Msg("snapshot status changed")

		switch {
		case to == entities.SnapshotStatusLocked:
			s.notifier.Notify(ctx, entities.NewCostingEvent(res.detail.Snapshot, entities.CostingEventSnapshotLocked, nil))
		case res.from == entities.SnapshotStatusLocked:
			s.notifier.Notify(ctx, entities.NewCostingEvent(res.detail.Snapshot, entities.CostingEventSnapshotUnlocked, nil))
		}
	}
	return &res.detail, nil
}
