package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/clinicledger/costing/internal/application/services"
	"github.com/clinicledger/costing/internal/domain/entities"
	apperrors "github.com/clinicledger/costing/pkg/errors"
)

func TestSnapshotService_CreateRejectsBadMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, month := range []string{"", "2024-13", "2024-1", "24-01", "2024/01"} {
		_, err := f.snapshots.Create(ctx, entities.CreateSnapshotInput{Month: month})
		assert.True(t, apperrors.IsValidation(err), "month %q", month)
	}
}

func TestSnapshotService_CreateDuplicateMonthConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.snapshots.Create(ctx, entities.CreateSnapshotInput{Month: "2024-03"})
	require.NoError(t, err)
	assert.Equal(t, entities.SnapshotStatusDraft, first.Status)
	assert.NotNil(t, first.Staff)
	assert.NotNil(t, first.Procedures)

	_, err = f.snapshots.Create(ctx, entities.CreateSnapshotInput{Month: "2024-03"})
	assert.True(t, apperrors.IsConflict(err))

	list, err := f.snapshots.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSnapshotService_CreateCopiesSourceWithoutAliasing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sourceID := f.seedFiller(t, ctx, "2024-01", 500_000)
	require.NoError(t, f.registry.UpsertFixedCostSelections(ctx, sourceID, []entities.FixedCostSelection{
		{TemplateID: "rent", Included: true},
		{TemplateID: "laser", Included: false},
	}))

	copied, err := f.snapshots.Create(ctx, entities.CreateSnapshotInput{Month: "2024-02", SourceSnapshotID: &sourceID})
	require.NoError(t, err)
	require.Len(t, copied.Staff, 1)
	require.Len(t, copied.Consumables, 1)
	require.Len(t, copied.Procedures, 1)
	assert.Equal(t, []string{"rent"}, copied.AppliedFixedCostIDs)
	assert.False(t, copied.HasResults)

	// editing the copy leaves the source untouched
	require.NoError(t, f.registry.UpsertStaff(ctx, copied.ID, []entities.StaffCapacity{
		{RoleName: "Nurse", MonthlyPayroll: 9_999_999, AvailableMinutes: 1},
	}))
	_, err = f.catalog.UpdateVariant(ctx, copied.ID, "v-1ml", fillerVariant(1))
	require.NoError(t, err)

	source, err := f.snapshots.Get(ctx, sourceID)
	require.NoError(t, err)
	assert.Equal(t, 3_000_000.0, source.Staff[0].MonthlyPayroll)
	assert.Equal(t, 500_000.0, source.Procedures[0].Variants[0].SalePrice)
}

func TestSnapshotService_CreateFromUnknownSourceIsBlank(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	missing := "does-not-exist"
	snap, err := f.snapshots.Create(ctx, entities.CreateSnapshotInput{Month: "2024-05", SourceSnapshotID: &missing})
	require.NoError(t, err)
	assert.Empty(t, snap.Staff)
	assert.Empty(t, snap.Procedures)
}

func TestSnapshotService_ListNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, month := range []string{"2024-02", "2024-11", "2023-12"} {
		_, err := f.snapshots.Create(ctx, entities.CreateSnapshotInput{Month: month})
		require.NoError(t, err)
	}

	list, err := f.snapshots.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "2024-11", list[0].Month)
	assert.Equal(t, "2024-02", list[1].Month)
	assert.Equal(t, "2023-12", list[2].Month)
}

func TestSnapshotService_GetMissing(t *testing.T) {
	f := newFixture(t)

	_, err := f.snapshots.Get(context.Background(), "nope")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSnapshotService_LockUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := services.WithActor(context.Background(), "controller@clinic")

	snap, err := f.snapshots.Create(ctx, entities.CreateSnapshotInput{Month: "2024-04"})
	require.NoError(t, err)

	locked, err := f.snapshots.Lock(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.SnapshotStatusLocked, locked.Status)
	require.NotNil(t, locked.LockedAt)
	require.NotNil(t, locked.LockedBy)
	assert.Equal(t, "controller@clinic", *locked.LockedBy)

	// a second lock keeps the original stamp
	again, err := f.snapshots.Lock(ctx, snap.ID)
	require.NoError(t, err)
	assert.True(t, locked.LockedAt.Equal(*again.LockedAt))

	unlocked, err := f.snapshots.Unlock(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.SnapshotStatusDraft, unlocked.Status)
	assert.Nil(t, unlocked.LockedAt)
	assert.Nil(t, unlocked.LockedBy)

	f.bus.AssertCalled(t, "Publish", mock.Anything, testEventChannel, mock.MatchedBy(func(e *entities.CostingEvent) bool {
		return e.EventType == entities.CostingEventSnapshotLocked && e.SnapshotID == snap.ID
	}))
	f.bus.AssertCalled(t, "Publish", mock.Anything, testEventChannel, mock.MatchedBy(func(e *entities.CostingEvent) bool {
		return e.EventType == entities.CostingEventSnapshotUnlocked && e.SnapshotID == snap.ID
	}))
}

func TestSnapshotService_LockWithoutActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, err := f.snapshots.Create(ctx, entities.CreateSnapshotInput{Month: "2024-04"})
	require.NoError(t, err)

	locked, err := f.snapshots.Lock(ctx, snap.ID)
	require.NoError(t, err)
	assert.NotNil(t, locked.LockedAt)
	assert.Nil(t, locked.LockedBy)
}

func TestSnapshotService_Update(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, err := f.snapshots.Create(ctx, entities.CreateSnapshotInput{Month: "2024-06"})
	require.NoError(t, err)
	assert.False(t, snap.IncludeFixedCosts)

	include := true
	updated, err := f.snapshots.Update(ctx, snap.ID, entities.UpdateSnapshotInput{IncludeFixedCosts: &include})
	require.NoError(t, err)
	assert.True(t, updated.IncludeFixedCosts)
	assert.Equal(t, entities.SnapshotStatusDraft, updated.Status)

	tests := []struct {
		name   string
		status entities.SnapshotStatus
	}{
		{name: "ready is reserved for recalculation", status: entities.SnapshotStatusReady},
		{name: "unknown status", status: entities.SnapshotStatus("ARCHIVED")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := tt.status
			_, err := f.snapshots.Update(ctx, snap.ID, entities.UpdateSnapshotInput{Status: &status})
			assert.True(t, apperrors.IsValidation(err))
		})
	}

	locked := entities.SnapshotStatusLocked
	updated, err = f.snapshots.Update(ctx, snap.ID, entities.UpdateSnapshotInput{Status: &locked})
	require.NoError(t, err)
	assert.Equal(t, entities.SnapshotStatusLocked, updated.Status)
	assert.NotNil(t, updated.LockedAt)
}

func TestSnapshotService_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.bus.ExpectedCalls = nil
	f.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError)

	snap, err := f.snapshots.Create(context.Background(), entities.CreateSnapshotInput{Month: "2024-07"})
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)
	f.bus.AssertNumberOfCalls(t, "Publish", 2)
}
