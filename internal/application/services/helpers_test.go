package services_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/clinicledger/costing/internal/adapters/document"
	"github.com/clinicledger/costing/internal/application/services"
	"github.com/clinicledger/costing/internal/domain/entities"
)

// Mocks

type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Publish(ctx context.Context, channel string, event *entities.CostingEvent) error {
	args := m.Called(ctx, channel, event)
	return args.Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.CostingEvent, error) {
	args := m.Called(ctx, channel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(<-chan *entities.CostingEvent), args.Error(1)
}

func (m *MockEventBus) Unsubscribe(ctx context.Context, channel string) error {
	return nil
}

func (m *MockEventBus) Close() error {
	return nil
}

const testEventChannel = "costing:events"

type fixture struct {
	store       *document.Store
	bus         *MockEventBus
	snapshots   *services.SnapshotService
	registry    *services.RegistryService
	catalog     *services.ProcedureCatalogService
	recalc      *services.RecalculationService
	results     *services.ResultQueryService
	calculation *services.CalculationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := zerolog.Nop()
	store := document.NewStore(document.NewMemoryBackend(), document.CorruptionPolicyReset, logger, nil)
	bus := &MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	notifier := services.NewEventNotifier(bus, testEventChannel, logger)

	f := &fixture{
		store:     store,
		bus:       bus,
		snapshots: services.NewSnapshotService(store, notifier, logger),
		registry:  services.NewRegistryService(store, logger),
		catalog:   services.NewProcedureCatalogService(store, logger),
		recalc:    services.NewRecalculationService(store, notifier, nil, logger),
		results:   services.NewResultQueryService(store, nil, nil, logger),
	}
	f.calculation = services.NewCalculationService(f.recalc, f.results)
	return f
}

func fillerVariant(salePrice float64) entities.ProcedureVariantInput {
	return entities.ProcedureVariantInput{
		ID:           "v-1ml",
		Label:        "1ml",
		SalePrice:    salePrice,
		TotalMinutes: 30,
		CaseCount:    12,
		StaffMix:     []entities.StaffMixEntry{{RoleName: "Nurse", Participants: 1, Minutes: 30}},
		Consumables:  []entities.ConsumableUsage{{ConsumableName: "Filler", Quantity: 1}},
	}
}

// seedFiller creates a snapshot for month holding one nurse, one filler syringe
// and the Filler Injection procedure priced at salePrice
func (f *fixture) seedFiller(t *testing.T, ctx context.Context, month string, salePrice float64) string {
	t.Helper()

	snap, err := f.snapshots.Create(ctx, entities.CreateSnapshotInput{Month: month})
	require.NoError(t, err)

	require.NoError(t, f.registry.UpsertStaff(ctx, snap.ID, []entities.StaffCapacity{
		{RoleName: "Nurse", MonthlyPayroll: 3_000_000, AvailableMinutes: 6_000},
	}))
	require.NoError(t, f.registry.UpsertConsumables(ctx, snap.ID, []entities.ConsumablePricing{
		{ConsumableName: "Filler", PurchaseCost: 150_000, YieldQuantity: 3, Unit: "syringe"},
	}))
	_, err = f.catalog.Create(ctx, snap.ID, entities.ProcedureDefinitionInput{
		Name:     "Filler Injection",
		Variants: []entities.ProcedureVariantInput{fillerVariant(salePrice)},
	})
	require.NoError(t, err)
	return snap.ID
}
