package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicledger/costing/internal/costing"
	"github.com/clinicledger/costing/internal/domain/entities"
	"github.com/clinicledger/costing/internal/domain/providers"
	"github.com/clinicledger/costing/internal/domain/repositories"
	"github.com/clinicledger/costing/internal/infrastructure/observability"
	apperrors "github.com/clinicledger/costing/pkg/errors"
)

// ProcedureCatalogService manages a snapshot's procedures and their variants.
// Staff and consumable references are stored as given and resolved only at calculation time.
type ProcedureCatalogService struct {
	store  repositories.DocumentStore
	logger zerolog.Logger
	now    func() time.Time
}

var _ providers.ProcedureCatalog = (*ProcedureCatalogService)(nil)

// NewProcedureCatalogService creates a new procedure catalog service
func NewProcedureCatalogService(store repositories.DocumentStore, logger zerolog.Logger) *ProcedureCatalogService {
	return &ProcedureCatalogService{
		store:  store,
		logger: logger.With().Str("service", "procedure_catalog").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// List returns the snapshot's procedures in catalog order
func (s *ProcedureCatalogService) List(ctx context.Context, snapshotID string) (_ []entities.ProcedureDefinition, err error) {
	ctx, span := observability.StartSpan(ctx, "ProcedureCatalogService.List", attribute.String("snapshot_id", snapshotID))
	defer endSpan(span, &err)

	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := doc.Snapshots[snapshotID]; !ok {
		return nil, snapshotNotFound(snapshotID)
	}
	return nonNil(entities.CloneProcedures(doc.Procedures[snapshotID])), nil
}

// Create adds a procedure. Its id is the supplied id or a slug of its name.
func (s *ProcedureCatalogService) Create(ctx context.Context, snapshotID string, input entities.ProcedureDefinitionInput) (_ *entities.ProcedureDefinition, err error) {
	ctx, span := observability.StartSpan(ctx, "ProcedureCatalogService.Create", attribute.String("snapshot_id", snapshotID))
	defer endSpan(span, &err)

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewValidationError("procedure name is required")
	}
	procedureID := input.DerivedID()
	if procedureID == "" {
		return nil, apperrors.NewValidationError(fmt.Sprintf("cannot derive an id from procedure name %q", input.Name))
	}
	if len(input.Variants) == 0 {
		return nil, apperrors.NewValidationError("a procedure needs at least one variant")
	}
	for i, v := range input.Variants {
		if err := validateVariant(i, v); err != nil {
			return nil, err
		}
	}

	procedure, err := repositories.MutateWith(ctx, s.store, func(doc *entities.Document) (entities.ProcedureDefinition, error) {
		if _, ok := doc.Snapshots[snapshotID]; !ok {
			return entities.ProcedureDefinition{}, snapshotNotFound(snapshotID)
		}
		procedures := doc.Procedures[snapshotID]
		for _, p := range procedures {
			if p.ID == procedureID {
				return entities.ProcedureDefinition{}, apperrors.NewConflictError(
					fmt.Sprintf("procedure %s already exists in snapshot %s", procedureID, snapshotID))
			}
		}

		taken := variantIDs(procedures)
		now := s.now()
		procedure := entities.ProcedureDefinition{
			ID:        procedureID,
			Name:      name,
			Variants:  make([]entities.ProcedureVariant, 0, len(input.Variants)),
			CreatedAt: now,
			UpdatedAt: now,
		}
		for _, in := range input.Variants {
			variant, err := newVariant(in, taken)
			if err != nil {
				return entities.ProcedureDefinition{}, err
			}
			procedure.Variants = append(procedure.Variants, variant)
		}

		doc.Procedures[snapshotID] = append(procedures, procedure)
		return procedure.Clone(), nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("snapshot_id", snapshotID).
		Str("procedure_id", procedure.ID).
		Int("variants", len(procedure.Variants)).
		Msg("procedure created")
	return &procedure, nil
}

// AddVariant appends a variant to an existing procedure
func (s *ProcedureCatalogService) AddVariant(ctx context.Context, snapshotID, procedureID string, input entities.ProcedureVariantInput) (_ *entities.ProcedureDefinition, err error) {
	ctx, span := observability.StartSpan(ctx, "ProcedureCatalogService.AddVariant",
		attribute.String("snapshot_id", snapshotID), attribute.String("procedure_id", procedureID))
	defer endSpan(span, &err)

	if err := validateVariant(0, input); err != nil {
		return nil, err
	}

	procedure, err := repositories.MutateWith(ctx, s.store, func(doc *entities.Document) (entities.ProcedureDefinition, error) {
		if _, ok := doc.Snapshots[snapshotID]; !ok {
			return entities.ProcedureDefinition{}, snapshotNotFound(snapshotID)
		}
		procedures := doc.Procedures[snapshotID]
		for i := range procedures {
			if procedures[i].ID != procedureID {
				continue
			}
			variant, err := newVariant(input, variantIDs(procedures))
			if err != nil {
				return entities.ProcedureDefinition{}, err
			}
			procedures[i].Variants = append(procedures[i].Variants, variant)
			procedures[i].UpdatedAt = s.now()
			return procedures[i].Clone(), nil
		}
		return entities.ProcedureDefinition{}, apperrors.NewNotFoundError(
			fmt.Sprintf("procedure %s not found in snapshot %s", procedureID, snapshotID))
	})
	if err != nil {
		return nil, err
	}
	return &procedure, nil
}

// UpdateVariant replaces a variant's scalar fields and reference lists.
// The parent procedure is found by scanning every procedure for the variant id.
func (s *ProcedureCatalogService) UpdateVariant(ctx context.Context, snapshotID, variantID string, input entities.ProcedureVariantInput) (_ *entities.ProcedureDefinition, err error) {
	ctx, span := observability.StartSpan(ctx, "ProcedureCatalogService.UpdateVariant",
		attribute.String("snapshot_id", snapshotID), attribute.String("variant_id", variantID))
	defer endSpan(span, &err)

	if err := validateVariant(0, input); err != nil {
		return nil, err
	}

	procedure, err := repositories.MutateWith(ctx, s.store, func(doc *entities.Document) (entities.ProcedureDefinition, error) {
		if _, ok := doc.Snapshots[snapshotID]; !ok {
			return entities.ProcedureDefinition{}, snapshotNotFound(snapshotID)
		}
		procedures := doc.Procedures[snapshotID]
		for i := range procedures {
			idx := procedures[i].VariantIndex(variantID)
			if idx < 0 {
				continue
			}
			procedures[i].Variants[idx] = input.ToVariant(variantID)
			procedures[i].UpdatedAt = s.now()
			return procedures[i].Clone(), nil
		}
		return entities.ProcedureDefinition{}, variantNotFound(snapshotID, variantID)
	})
	if err != nil {
		return nil, err
	}
	return &procedure, nil
}

// DeleteVariant removes a variant, and its procedure when it was the last one.
// Result rows already computed for the variant are pruned.
func (s *ProcedureCatalogService) DeleteVariant(ctx context.Context, snapshotID, variantID string) (err error) {
	ctx, span := observability.StartSpan(ctx, "ProcedureCatalogService.DeleteVariant",
		attribute.String("snapshot_id", snapshotID), attribute.String("variant_id", variantID))
	defer endSpan(span, &err)

	return s.store.Mutate(ctx, func(doc *entities.Document) error {
		if _, ok := doc.Snapshots[snapshotID]; !ok {
			return snapshotNotFound(snapshotID)
		}
		procedures := doc.Procedures[snapshotID]
		for i := range procedures {
			idx := procedures[i].VariantIndex(variantID)
			if idx < 0 {
				continue
			}
			removed := procedures[i].Variants[idx]
			procedureName := procedures[i].Name

			procedures[i].Variants = append(procedures[i].Variants[:idx], procedures[i].Variants[idx+1:]...)
			procedures[i].UpdatedAt = s.now()
			if len(procedures[i].Variants) == 0 {
				procedures = append(procedures[:i], procedures[i+1:]...)
			}
			doc.Procedures[snapshotID] = procedures

			pruneResults(doc, snapshotID, procedureName, removed)
			s.logger.Info().
				Str("snapshot_id", snapshotID).
				Str("variant_id", variantID).
				Msg("variant deleted")
			return nil
		}
		return variantNotFound(snapshotID, variantID)
	})
}

// pruneResults drops rows computed for the removed variant and refreshes the highlights
func pruneResults(doc *entities.Document, snapshotID, procedureName string, removed entities.ProcedureVariant) {
	rs, ok := doc.Results[snapshotID]
	if !ok {
		return
	}
	kept := make([]entities.CostingResultRow, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		if row.VariantID == removed.ID || (row.ProcedureName == procedureName && row.VariantName == removed.Label) {
			continue
		}
		kept = append(kept, row)
	}
	if len(kept) == len(rs.Rows) {
		return
	}

	mom := rs.Insights.MonthOverMonth
	rs.Rows = kept
	rs.Insights = costing.BuildInsights(kept)
	rs.Insights.MonthOverMonth = mom
	doc.Results[snapshotID] = rs
}

func validateVariant(i int, in entities.ProcedureVariantInput) error {
	if strings.TrimSpace(in.Label) == "" {
		return apperrors.NewValidationError(fmt.Sprintf("variant %d: label is required", i))
	}
	if !nonNegative(in.SalePrice) || !nonNegative(in.TotalMinutes) || in.CaseCount < 0 {
		return apperrors.NewValidationError(fmt.Sprintf("variant %d: price, minutes and case count must be non-negative", i))
	}
	for j, entry := range in.StaffMix {
		if strings.TrimSpace(entry.RoleID) == "" && strings.TrimSpace(entry.RoleName) == "" {
			return apperrors.NewValidationError(fmt.Sprintf("variant %d staff entry %d: role reference is required", i, j))
		}
		if !nonNegative(entry.Minutes) {
			return apperrors.NewValidationError(fmt.Sprintf("variant %d staff entry %d: minutes must be a non-negative number", i, j))
		}
	}
	for j, usage := range in.Consumables {
		if strings.TrimSpace(usage.ConsumableID) == "" && strings.TrimSpace(usage.ConsumableName) == "" {
			return apperrors.NewValidationError(fmt.Sprintf("variant %d consumable %d: consumable reference is required", i, j))
		}
		if !nonNegative(usage.Quantity) {
			return apperrors.NewValidationError(fmt.Sprintf("variant %d consumable %d: quantity must be a non-negative number", i, j))
		}
	}
	return nil
}

// newVariant assigns the supplied or a generated id and records it as taken
func newVariant(in entities.ProcedureVariantInput, taken map[string]struct{}) (entities.ProcedureVariant, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = entities.NewID()
	}
	if _, dup := taken[id]; dup {
		return entities.ProcedureVariant{}, apperrors.NewConflictError(fmt.Sprintf("variant %s already exists", id))
	}
	taken[id] = struct{}{}
	return in.ToVariant(id), nil
}

func variantIDs(procedures []entities.ProcedureDefinition) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, p := range procedures {
		for _, v := range p.Variants {
			ids[v.ID] = struct{}{}
		}
	}
	return ids
}

func variantNotFound(snapshotID, variantID string) error {
	return apperrors.NewNotFoundError(fmt.Sprintf("variant %s not found in snapshot %s", variantID, snapshotID))
}
