package providers

import (
	"context"

	"github.com/clinicledger/costing/internal/domain/entities"
)

// SnapshotLifecycle manages snapshot metadata and status
type SnapshotLifecycle interface {
	List(ctx context.Context) ([]entities.SnapshotSummary, error)
	Get(ctx context.Context, id string) (*entities.SnapshotDetail, error)
	Create(ctx context.Context, input entities.CreateSnapshotInput) (*entities.SnapshotDetail, error)
	Update(ctx context.Context, id string, input entities.UpdateSnapshotInput) (*entities.SnapshotDetail, error)
	Lock(ctx context.Context, id string) (*entities.SnapshotDetail, error)
	Unlock(ctx context.Context, id string) (*entities.SnapshotDetail, error)
}

// CapacityRegistry reads and replaces a snapshot's staff capacity table
type CapacityRegistry interface {
	GetStaff(ctx context.Context, snapshotID string) ([]entities.StaffCapacity, error)
	UpsertStaff(ctx context.Context, snapshotID string, rows []entities.StaffCapacity) error
}

// PricingRegistry reads and replaces a snapshot's consumable pricing table
type PricingRegistry interface {
	GetConsumables(ctx context.Context, snapshotID string) ([]entities.ConsumablePricing, error)
	UpsertConsumables(ctx context.Context, snapshotID string, rows []entities.ConsumablePricing) error
}

// ProcedureCatalog manages a snapshot's procedures and variants
type ProcedureCatalog interface {
	List(ctx context.Context, snapshotID string) ([]entities.ProcedureDefinition, error)
	Create(ctx context.Context, snapshotID string, input entities.ProcedureDefinitionInput) (*entities.ProcedureDefinition, error)
	AddVariant(ctx context.Context, snapshotID, procedureID string, input entities.ProcedureVariantInput) (*entities.ProcedureDefinition, error)
	UpdateVariant(ctx context.Context, snapshotID, variantID string, input entities.ProcedureVariantInput) (*entities.ProcedureDefinition, error)
	DeleteVariant(ctx context.Context, snapshotID, variantID string) error
}

// ResultQuery filters persisted result rows
type ResultQuery struct {
	Search string
	Sort   string
	Order  string
}

// ExportPayload is a rendered result export
type ExportPayload struct {
	Format      string `json:"format"`
	ContentType string `json:"content_type"`
	Filename    string `json:"filename"`
	Data        []byte `json:"-"`
	// Fallback is true when the requested format was rendered as CSV
	Fallback bool `json:"fallback"`
}

// CalculationEngine recalculates snapshots and serves their results
type CalculationEngine interface {
	Recalculate(ctx context.Context, snapshotID string) (*entities.RecalculationJob, error)
	GetResults(ctx context.Context, snapshotID string, query ResultQuery) ([]entities.CostingResultRow, error)
	GetInsights(ctx context.Context, snapshotID string) (*entities.InsightPayload, error)
	ExportResults(ctx context.Context, snapshotID, format string) (*ExportPayload, error)
}
