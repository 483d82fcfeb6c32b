package services_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicledger/costing/internal/domain/entities"
	apperrors "github.com/clinicledger/costing/pkg/errors"
)

func TestRegistryService_StaffRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, err := f.snapshots.Create(ctx, entities.CreateSnapshotInput{Month: "2024-01"})
	require.NoError(t, err)

	staff, err := f.registry.GetStaff(ctx, snap.ID)
	require.NoError(t, err)
	assert.NotNil(t, staff)
	assert.Empty(t, staff)

	rows := []entities.StaffCapacity{
		{RoleID: "r-nurse", RoleName: "Nurse", MonthlyPayroll: 3_000_000, AvailableMinutes: 6_000},
		{RoleName: "Doctor", MonthlyPayroll: 9_000_000, AvailableMinutes: 9_000},
	}
	require.NoError(t, f.registry.UpsertStaff(ctx, snap.ID, rows))

	staff, err = f.registry.GetStaff(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, rows, staff)

	// upsert replaces the whole table
	require.NoError(t, f.registry.UpsertStaff(ctx, snap.ID, rows[:1]))
	staff, err = f.registry.GetStaff(ctx, snap.ID)
	require.NoError(t, err)
	assert.Len(t, staff, 1)
}

func TestRegistryService_StaffValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, err := f.snapshots.Create(ctx, entities.CreateSnapshotInput{Month: "2024-01"})
	require.NoError(t, err)

	tests := []struct {
		name string
		row  entities.StaffCapacity
	}{
		{name: "missing reference", row: entities.StaffCapacity{MonthlyPayroll: 1, AvailableMinutes: 1}},
		{name: "negative payroll", row: entities.StaffCapacity{RoleName: "Nurse", MonthlyPayroll: -1}},
		{name: "negative minutes", row: entities.StaffCapacity{RoleName: "Nurse", AvailableMinutes: -5}},
		{name: "nan payroll", row: entities.StaffCapacity{RoleName: "Nurse", MonthlyPayroll: math.NaN()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.registry.UpsertStaff(ctx, snap.ID, []entities.StaffCapacity{tt.row})
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestRegistryService_ConsumablesRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, err := f.snapshots.Create(ctx, entities.CreateSnapshotInput{Month: "2024-01"})
	require.NoError(t, err)

	rows := []entities.ConsumablePricing{
		{ConsumableID: "c-filler", ConsumableName: "Filler", PurchaseCost: 150_000, YieldQuantity: 3, Unit: "syringe"},
	}
	require.NoError(t, f.registry.UpsertConsumables(ctx, snap.ID, rows))

	got, err := f.registry.GetConsumables(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	err = f.registry.UpsertConsumables(ctx, snap.ID, []entities.ConsumablePricing{{PurchaseCost: 1, YieldQuantity: 1}})
	assert.True(t, apperrors.IsValidation(err))
}

func TestRegistryService_FixedCostSelectionsSyncAppliedIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, err := f.snapshots.Create(ctx, entities.CreateSnapshotInput{Month: "2024-01"})
	require.NoError(t, err)

	require.NoError(t, f.registry.UpsertFixedCostSelections(ctx, snap.ID, []entities.FixedCostSelection{
		{TemplateID: "rent", Label: "Rent", Included: true},
		{TemplateID: "laser", Label: "Laser lease", Included: false},
		{TemplateID: "utilities", Included: true},
	}))

	selections, err := f.registry.GetFixedCostSelections(ctx, snap.ID)
	require.NoError(t, err)
	assert.Len(t, selections, 3)

	detail, err := f.snapshots.Get(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"rent", "utilities"}, detail.AppliedFixedCostIDs)

	err = f.registry.UpsertFixedCostSelections(ctx, snap.ID, []entities.FixedCostSelection{
		{TemplateID: "rent", Included: true},
		{TemplateID: "rent", Included: false},
	})
	assert.True(t, apperrors.IsValidation(err))
}

func TestRegistryService_MissingSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.GetStaff(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))

	err = f.registry.UpsertConsumables(ctx, "missing", nil)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.registry.GetFixedCostSelections(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}
