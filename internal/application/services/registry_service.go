package services

import (
	"context"
	"fmt"
	"math"
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

// RegistryService reads and replaces the per-snapshot staff, consumable and fixed-cost tables.
// Every upsert overwrites the whole list.
type RegistryService struct {
	store  repositories.DocumentStore
	logger zerolog.Logger
	now    func() time.Time
}

var (
	_ providers.CapacityRegistry = (*RegistryService)(nil)
	_ providers.PricingRegistry  = (*RegistryService)(nil)
)

// NewRegistryService creates a new registry service
func NewRegistryService(store repositories.DocumentStore, logger zerolog.Logger) *RegistryService {
	return &RegistryService{
		store:  store,
		logger: logger.With().Str("service", "registry").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetStaff returns the snapshot's staff capacity table
func (s *RegistryService) GetStaff(ctx context.Context, snapshotID string) (_ []entities.StaffCapacity, err error) {
	ctx, span := observability.StartSpan(ctx, "RegistryService.GetStaff", attribute.String("snapshot_id", snapshotID))
	defer endSpan(span, &err)

	doc, err := s.loadSnapshotDoc(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	return nonNil(entities.CloneStaff(doc.Staff[snapshotID])), nil
}

// UpsertStaff replaces the snapshot's staff capacity table
func (s *RegistryService) UpsertStaff(ctx context.Context, snapshotID string, rows []entities.StaffCapacity) (err error) {
	ctx, span := observability.StartSpan(ctx, "RegistryService.UpsertStaff",
		attribute.String("snapshot_id", snapshotID), attribute.Int("rows", len(rows)))
	defer endSpan(span, &err)

	for i, row := range rows {
		if err := validateStaff(i, row); err != nil {
			return err
		}
	}
	err = s.replace(ctx, snapshotID, func(doc *entities.Document) {
		doc.Staff[snapshotID] = nonNil(entities.CloneStaff(rows))
	})
	if err == nil {
		s.logger.Debug().Str("snapshot_id", snapshotID).Int("rows", len(rows)).Msg("staff capacity replaced")
	}
	return err
}

// GetConsumables returns the snapshot's consumable pricing table
func (s *RegistryService) GetConsumables(ctx context.Context, snapshotID string) (_ []entities.ConsumablePricing, err error) {
	ctx, span := observability.StartSpan(ctx, "RegistryService.GetConsumables", attribute.String("snapshot_id", snapshotID))
	defer endSpan(span, &err)

	doc, err := s.loadSnapshotDoc(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	return nonNil(entities.CloneConsumables(doc.Consumables[snapshotID])), nil
}

// UpsertConsumables replaces the snapshot's consumable pricing table
func (s *RegistryService) UpsertConsumables(ctx context.Context, snapshotID string, rows []entities.ConsumablePricing) (err error) {
	ctx, span := observability.StartSpan(ctx, "RegistryService.UpsertConsumables",
		attribute.String("snapshot_id", snapshotID), attribute.Int("rows", len(rows)))
	defer endSpan(span, &err)

	for i, row := range rows {
		if err := validateConsumable(i, row); err != nil {
			return err
		}
	}
	err = s.replace(ctx, snapshotID, func(doc *entities.Document) {
		doc.Consumables[snapshotID] = nonNil(entities.CloneConsumables(rows))
	})
	if err == nil {
		s.logger.Debug().Str("snapshot_id", snapshotID).Int("rows", len(rows)).Msg("consumable pricing replaced")
	}
	return err
}

// GetFixedCostSelections returns the fixed-cost templates selected for the snapshot
func (s *RegistryService) GetFixedCostSelections(ctx context.Context, snapshotID string) (_ []entities.FixedCostSelection, err error) {
	ctx, span := observability.StartSpan(ctx, "RegistryService.GetFixedCostSelections", attribute.String("snapshot_id", snapshotID))
	defer endSpan(span, &err)

	doc, err := s.loadSnapshotDoc(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	return nonNil(entities.CloneSelections(doc.FixedCostSelections[snapshotID])), nil
}

// UpsertFixedCostSelections replaces the selections and syncs the snapshot's applied template ids
func (s *RegistryService) UpsertFixedCostSelections(ctx context.Context, snapshotID string, rows []entities.FixedCostSelection) (err error) {
	ctx, span := observability.StartSpan(ctx, "RegistryService.UpsertFixedCostSelections",
		attribute.String("snapshot_id", snapshotID), attribute.Int("rows", len(rows)))
	defer endSpan(span, &err)

	seen := make(map[string]struct{}, len(rows))
	for i, row := range rows {
		id := strings.TrimSpace(row.TemplateID)
		if id == "" {
			return apperrors.NewValidationError(fmt.Sprintf("fixed cost selection %d: template_id is required", i))
		}
		if _, dup := seen[id]; dup {
			return apperrors.NewValidationError(fmt.Sprintf("fixed cost selection %d: template %s listed twice", i, id))
		}
		seen[id] = struct{}{}
	}

	return s.replace(ctx, snapshotID, func(doc *entities.Document) {
		selections := nonNil(entities.CloneSelections(rows))
		doc.FixedCostSelections[snapshotID] = selections

		snap := doc.Snapshots[snapshotID]
		snap.AppliedFixedCostIDs = entities.AppliedTemplateIDs(selections)
		snap.UpdatedAt = s.now()
		doc.Snapshots[snapshotID] = snap
	})
}

func (s *RegistryService) loadSnapshotDoc(ctx context.Context, snapshotID string) (*entities.Document, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := doc.Snapshots[snapshotID]; !ok {
		return nil, snapshotNotFound(snapshotID)
	}
	return doc, nil
}

func (s *RegistryService) replace(ctx context.Context, snapshotID string, fn func(doc *entities.Document)) error {
	return s.store.Mutate(ctx, func(doc *entities.Document) error {
		if _, ok := doc.Snapshots[snapshotID]; !ok {
			return snapshotNotFound(snapshotID)
		}
		fn(doc)
		return nil
	})
}

func validateStaff(i int, row entities.StaffCapacity) error {
	if strings.TrimSpace(row.RoleID) == "" && strings.TrimSpace(row.RoleName) == "" {
		return apperrors.NewValidationError(fmt.Sprintf("staff row %d: role_id or role_name is required", i))
	}
	if !nonNegative(row.MonthlyPayroll) || !nonNegative(row.AvailableMinutes) {
		return apperrors.NewValidationError(fmt.Sprintf("staff row %d: payroll and minutes must be non-negative numbers", i))
	}
	return nil
}

func validateConsumable(i int, row entities.ConsumablePricing) error {
	if strings.TrimSpace(row.ConsumableID) == "" && strings.TrimSpace(row.ConsumableName) == "" {
		return apperrors.NewValidationError(fmt.Sprintf("consumable row %d: consumable_id or consumable_name is required", i))
	}
	if !nonNegative(row.PurchaseCost) || !nonNegative(row.YieldQuantity) {
		return apperrors.NewValidationError(fmt.Sprintf("consumable row %d: cost and yield must be non-negative numbers", i))
	}
	return nil
}

func nonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
