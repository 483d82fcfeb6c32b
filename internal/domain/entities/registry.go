package entities

import "strings"

// StaffCapacity is one role's monthly payroll and available working minutes
type StaffCapacity struct {
	RoleID           string  `json:"role_id,omitempty"`
	RoleName         string  `json:"role_name"`
	MonthlyPayroll   float64 `json:"monthly_payroll"`
	AvailableMinutes float64 `json:"available_minutes"` // 0 means cost is undefined for this role
}

// CostPerMinute returns payroll divided by available minutes.
// ok is false when the role has no available minutes.
func (s StaffCapacity) CostPerMinute() (float64, bool) {
	if s.AvailableMinutes == 0 {
		return 0, false
	}
	return s.MonthlyPayroll / s.AvailableMinutes, true
}

// ConsumablePricing is the purchase price and usable yield of one consumable
type ConsumablePricing struct {
	ConsumableID   string  `json:"consumable_id,omitempty"`
	ConsumableName string  `json:"consumable_name"`
	PurchaseCost   float64 `json:"purchase_cost"`  // price of one purchased unit
	YieldQuantity  float64 `json:"yield_quantity"` // usable output units per purchase
	Unit           string  `json:"unit"`
}

// UnitCost returns the cost of one usable unit.
// ok is false when the yield is zero.
func (c ConsumablePricing) UnitCost() (float64, bool) {
	if c.YieldQuantity == 0 {
		return 0, false
	}
	return c.PurchaseCost / c.YieldQuantity, true
}

// FixedCostSelection marks a fixed-cost template as applied to a snapshot
type FixedCostSelection struct {
	TemplateID string `json:"template_id"`
	Label      string `json:"label,omitempty"`
	Included   bool   `json:"included"`
}

// AppliedTemplateIDs returns the template ids of included selections, in order
func AppliedTemplateIDs(selections []FixedCostSelection) []string {
	ids := make([]string, 0, len(selections))
	for _, sel := range selections {
		if sel.Included {
			ids = append(ids, sel.TemplateID)
		}
	}
	return ids
}

// NormalizeRefName lowercases and trims a name used as a lookup key
func NormalizeRefName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// CloneStaff deep-copies a staff capacity list
func CloneStaff(in []StaffCapacity) []StaffCapacity {
	if in == nil {
		return nil
	}
	out := make([]StaffCapacity, len(in))
	copy(out, in)
	return out
}

// CloneConsumables deep-copies a consumable pricing list
func CloneConsumables(in []ConsumablePricing) []ConsumablePricing {
	if in == nil {
		return nil
	}
	out := make([]ConsumablePricing, len(in))
	copy(out, in)
	return out
}

// CloneSelections deep-copies a fixed-cost selection list
func CloneSelections(in []FixedCostSelection) []FixedCostSelection {
	if in == nil {
		return nil
	}
	out := make([]FixedCostSelection, len(in))
	copy(out, in)
	return out
}
