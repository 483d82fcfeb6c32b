package costing

import (
	"testing"

	"github.com/clinicledger/costing/internal/domain/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillerInput() Input {
	return Input{
		Staff: []entities.StaffCapacity{
			{RoleName: "Nurse", MonthlyPayroll: 3_000_000, AvailableMinutes: 6_000},
		},
		Consumables: []entities.ConsumablePricing{
			{ConsumableName: "Filler", PurchaseCost: 150_000, YieldQuantity: 3, Unit: "syringe"},
		},
		Procedures: []entities.ProcedureDefinition{
			{
				ID:   "filler-injection",
				Name: "Filler Injection",
				Variants: []entities.ProcedureVariant{
					{
						ID:           "v-1ml",
						Label:        "1ml",
						SalePrice:    500_000,
						TotalMinutes: 30,
						StaffMix:     []entities.StaffMixEntry{{RoleName: "Nurse", Participants: 1, Minutes: 30}},
						Consumables:  []entities.ConsumableUsage{{ConsumableName: "Filler", Quantity: 1}},
					},
				},
			},
		},
	}
}

func TestCalculate_FillerScenario(t *testing.T) {
	out := Calculate(fillerInput())
	require.Len(t, out.Rows, 1)

	row := out.Rows[0]
	assert.Equal(t, "filler-injection", row.ProcedureID)
	assert.Equal(t, "v-1ml", row.VariantID)
	assert.Equal(t, "Filler Injection", row.ProcedureName)
	assert.Equal(t, "1ml", row.VariantName)
	assert.InDelta(t, 15_000, row.CostBreakdown.Labor, 1e-9)
	assert.InDelta(t, 50_000, row.CostBreakdown.Consumables, 1e-9)
	assert.Zero(t, row.CostBreakdown.FacilityFixed)
	assert.Zero(t, row.CostBreakdown.EquipmentFixed)
	assert.InDelta(t, 65_000, row.TotalCost, 1e-9)
	assert.InDelta(t, 435_000, row.Margin, 1e-9)
	assert.InDelta(t, 0.87, row.MarginRate, 1e-12)
	require.NotNil(t, row.MarginPerMinute)
	assert.InDelta(t, 14_500, *row.MarginPerMinute, 1e-9)
	assert.Empty(t, row.UnresolvedReferences)
}

func TestCalculate_NameMatchingIsCaseInsensitive(t *testing.T) {
	in := fillerInput()
	in.Procedures[0].Variants[0].StaffMix[0].RoleName = "  nURSE "
	in.Procedures[0].Variants[0].Consumables[0].ConsumableName = "FILLER"

	row := Calculate(in).Rows[0]
	assert.InDelta(t, 65_000, row.TotalCost, 1e-9)
}

func TestCalculate_IDMatchWinsOverName(t *testing.T) {
	in := fillerInput()
	in.Staff = []entities.StaffCapacity{
		{RoleID: "r-senior", RoleName: "Nurse", MonthlyPayroll: 6_000_000, AvailableMinutes: 6_000},
		{RoleID: "r-junior", RoleName: "Junior Nurse", MonthlyPayroll: 1_200_000, AvailableMinutes: 6_000},
	}
	in.Procedures[0].Variants[0].StaffMix = []entities.StaffMixEntry{
		{RoleID: "r-junior", RoleName: "Nurse", Participants: 1, Minutes: 30},
	}

	row := Calculate(in).Rows[0]
	assert.InDelta(t, 6_000, row.CostBreakdown.Labor, 1e-9)
}

func TestCalculate_UnknownIDFallsBackToName(t *testing.T) {
	in := fillerInput()
	in.Procedures[0].Variants[0].StaffMix[0].RoleID = "r-missing"

	row := Calculate(in).Rows[0]
	assert.InDelta(t, 15_000, row.CostBreakdown.Labor, 1e-9)
	assert.Empty(t, row.UnresolvedReferences)
}

func TestCalculate_ParticipantsFloorAtOne(t *testing.T) {
	tests := []struct {
		name         string
		participants int
		wantLabor    float64
	}{
		{name: "zero participants", participants: 0, wantLabor: 15_000},
		{name: "negative participants", participants: -2, wantLabor: 15_000},
		{name: "three participants", participants: 3, wantLabor: 45_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := fillerInput()
			in.Procedures[0].Variants[0].StaffMix[0].Participants = tt.participants

			row := Calculate(in).Rows[0]
			assert.InDelta(t, tt.wantLabor, row.CostBreakdown.Labor, 1e-9)
		})
	}
}

func TestCalculate_DegradesToZeroCost(t *testing.T) {
	in := fillerInput()
	in.Staff[0].AvailableMinutes = 0
	in.Consumables[0].YieldQuantity = 0
	in.Procedures[0].Variants[0].StaffMix = append(in.Procedures[0].Variants[0].StaffMix,
		entities.StaffMixEntry{RoleName: "Surgeon", Participants: 1, Minutes: 10})
	in.Procedures[0].Variants[0].Consumables = append(in.Procedures[0].Variants[0].Consumables,
		entities.ConsumableUsage{ConsumableID: "c-gauze", Quantity: 4})

	row := Calculate(in).Rows[0]
	assert.Zero(t, row.CostBreakdown.Labor)
	assert.Zero(t, row.CostBreakdown.Consumables)
	assert.Zero(t, row.TotalCost)
	assert.InDelta(t, 500_000, row.Margin, 1e-9)
	assert.ElementsMatch(t, []entities.UnresolvedReference{
		{Kind: entities.UnresolvedStaffZeroMinutes, Reference: "Nurse"},
		{Kind: entities.UnresolvedStaffRole, Reference: "Surgeon"},
		{Kind: entities.UnresolvedConsumableZeroYield, Reference: "Filler"},
		{Kind: entities.UnresolvedConsumable, Reference: "c-gauze"},
	}, row.UnresolvedReferences)

	out := Calculate(in)
	require.Len(t, out.Insights.Notes, 1)
	assert.Contains(t, out.Insights.Notes[0], "1 of 1 variants")
}

func TestCalculate_ZeroSalePriceAndMinutes(t *testing.T) {
	in := fillerInput()
	in.Procedures[0].Variants[0].SalePrice = 0
	in.Procedures[0].Variants[0].TotalMinutes = 0

	row := Calculate(in).Rows[0]
	assert.Zero(t, row.MarginRate)
	assert.Nil(t, row.MarginPerMinute)
	assert.InDelta(t, -65_000, row.Margin, 1e-9)
}

func TestCalculate_CatalogOrderAndEmptyCatalog(t *testing.T) {
	empty := Calculate(Input{})
	assert.NotNil(t, empty.Rows)
	assert.Empty(t, empty.Rows)
	assert.Nil(t, empty.Insights.LowestMarginRate)

	in := fillerInput()
	in.Procedures = append(in.Procedures, entities.ProcedureDefinition{
		ID:   "botox",
		Name: "Botox",
		Variants: []entities.ProcedureVariant{
			{ID: "b-50", Label: "50u", SalePrice: 300_000},
			{ID: "b-100", Label: "100u", SalePrice: 550_000},
		},
	})

	out := Calculate(in)
	require.Len(t, out.Rows, 3)
	assert.Equal(t, []string{"v-1ml", "b-50", "b-100"}, []string{out.Rows[0].VariantID, out.Rows[1].VariantID, out.Rows[2].VariantID})
}

func TestCalculate_Idempotent(t *testing.T) {
	in := fillerInput()
	assert.Equal(t, Calculate(in), Calculate(in))
}
