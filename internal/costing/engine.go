// Package costing derives per-variant unit economics and snapshot insights
// from a snapshot's staff capacity, consumable pricing and procedure catalog.
// The package performs no I/O and reads no clock.
package costing

import (
	"strings"

	"github.com/clinicledger/costing/internal/domain/entities"
)

// Input is everything a calculation pass reads from one snapshot
type Input struct {
	Staff       []entities.StaffCapacity
	Consumables []entities.ConsumablePricing
	Procedures  []entities.ProcedureDefinition
}

// Output is the rows and insights produced by Calculate
type Output struct {
	Rows     []entities.CostingResultRow
	Insights entities.InsightPayload
}

// refIndex resolves a reference by id first, then by case-insensitive name
type refIndex[T any] struct {
	byID   map[string]T
	byName map[string]T
}

func newRefIndex[T any](items []T, key func(T) (id, name string)) refIndex[T] {
	idx := refIndex[T]{
		byID:   make(map[string]T, len(items)),
		byName: make(map[string]T, len(items)),
	}
	for _, item := range items {
		id, name := key(item)
		if id = strings.TrimSpace(id); id != "" {
			if _, dup := idx.byID[id]; !dup {
				idx.byID[id] = item
			}
		}
		if name = entities.NormalizeRefName(name); name != "" {
			if _, dup := idx.byName[name]; !dup {
				idx.byName[name] = item
			}
		}
	}
	return idx
}

func (idx refIndex[T]) resolve(id, name string) (T, bool) {
	if id = strings.TrimSpace(id); id != "" {
		if item, ok := idx.byID[id]; ok {
			return item, true
		}
	}
	if name = entities.NormalizeRefName(name); name != "" {
		if item, ok := idx.byName[name]; ok {
			return item, true
		}
	}
	var zero T
	return zero, false
}

func refLabel(id, name string) string {
	if s := strings.TrimSpace(id); s != "" {
		return s
	}
	return strings.TrimSpace(name)
}

// Calculate produces one result row per variant, in catalog order, and the insight summary.
// Unresolvable references and zero denominators contribute zero cost and are tagged on the row.
func Calculate(in Input) Output {
	staff := newRefIndex(in.Staff, func(s entities.StaffCapacity) (string, string) {
		return s.RoleID, s.RoleName
	})
	consumables := newRefIndex(in.Consumables, func(c entities.ConsumablePricing) (string, string) {
		return c.ConsumableID, c.ConsumableName
	})

	rows := make([]entities.CostingResultRow, 0)
	for _, procedure := range in.Procedures {
		for _, variant := range procedure.Variants {
			rows = append(rows, calculateVariant(procedure, variant, staff, consumables))
		}
	}

	return Output{
		Rows:     rows,
		Insights: BuildInsights(rows),
	}
}

func calculateVariant(
	procedure entities.ProcedureDefinition,
	variant entities.ProcedureVariant,
	staff refIndex[entities.StaffCapacity],
	consumables refIndex[entities.ConsumablePricing],
) entities.CostingResultRow {
	var unresolved []entities.UnresolvedReference

	labor := 0.0
	for _, entry := range variant.StaffMix {
		role, ok := staff.resolve(entry.RoleID, entry.RoleName)
		if !ok {
			unresolved = append(unresolved, entities.UnresolvedReference{
				Kind:      entities.UnresolvedStaffRole,
				Reference: refLabel(entry.RoleID, entry.RoleName),
			})
			continue
		}
		perMinute, ok := role.CostPerMinute()
		if !ok {
			unresolved = append(unresolved, entities.UnresolvedReference{
				Kind:      entities.UnresolvedStaffZeroMinutes,
				Reference: refLabel(role.RoleID, role.RoleName),
			})
			continue
		}
		labor += perMinute * entry.Minutes * float64(max(entry.Participants, 1))
	}

	consumableCost := 0.0
	for _, usage := range variant.Consumables {
		item, ok := consumables.resolve(usage.ConsumableID, usage.ConsumableName)
		if !ok {
			unresolved = append(unresolved, entities.UnresolvedReference{
				Kind:      entities.UnresolvedConsumable,
				Reference: refLabel(usage.ConsumableID, usage.ConsumableName),
			})
			continue
		}
		unitCost, ok := item.UnitCost()
		if !ok {
			unresolved = append(unresolved, entities.UnresolvedReference{
				Kind:      entities.UnresolvedConsumableZeroYield,
				Reference: refLabel(item.ConsumableID, item.ConsumableName),
			})
			continue
		}
		consumableCost += unitCost * usage.Quantity
	}

	// fixed-cost allocation is not applied yet; both fixed categories stay zero
	breakdown := entities.CostBreakdown{
		Labor:       labor,
		Consumables: consumableCost,
	}
	totalCost := breakdown.Total()
	margin := variant.SalePrice - totalCost

	marginRate := 0.0
	if variant.SalePrice > 0 {
		marginRate = margin / variant.SalePrice
	}

	var marginPerMinute *float64
	if variant.TotalMinutes > 0 {
		v := margin / variant.TotalMinutes
		marginPerMinute = &v
	}

	return entities.CostingResultRow{
		ProcedureID:          procedure.ID,
		VariantID:            variant.ID,
		ProcedureName:        procedure.Name,
		VariantName:          variant.Label,
		CaseCount:            variant.CaseCount,
		SalePrice:            variant.SalePrice,
		TotalCost:            totalCost,
		Margin:               margin,
		MarginRate:           marginRate,
		MarginPerMinute:      marginPerMinute,
		CostBreakdown:        breakdown,
		UnresolvedReferences: unresolved,
	}
}
