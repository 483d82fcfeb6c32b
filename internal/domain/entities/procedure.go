package entities

import (
	"strings"
	"time"
	"unicode"
)

// StaffMixEntry is the staff time a variant consumes for one role.
// The role is referenced by id first, then by case-insensitive name.
type StaffMixEntry struct {
	RoleID       string  `json:"role_id,omitempty"`
	RoleName     string  `json:"role_name,omitempty"`
	Participants int     `json:"participants"`
	Minutes      float64 `json:"minutes"`
}

// ConsumableUsage is the quantity of one consumable a variant uses
type ConsumableUsage struct {
	ConsumableID   string  `json:"consumable_id,omitempty"`
	ConsumableName string  `json:"consumable_name,omitempty"`
	Quantity       float64 `json:"quantity"`
	Unit           string  `json:"unit,omitempty"`
}

// EquipmentLink ties a variant to a fixed-cost equipment template
type EquipmentLink struct {
	FixedCostTemplateID string `json:"fixed_cost_template_id"`
	Notes               string `json:"notes,omitempty"`
}

// ProcedureVariant is one priced configuration of a procedure
type ProcedureVariant struct {
	ID                  string            `json:"id"`
	Label               string            `json:"label"`
	SalePrice           float64           `json:"sale_price"`
	TotalMinutes        float64           `json:"total_minutes"`
	EquipmentMinutes    *float64          `json:"equipment_minutes,omitempty"`
	FixedCostTemplateID *string           `json:"fixed_cost_template_id,omitempty"`
	CaseCount           int               `json:"case_count"` // monthly volume, 0 when not tracked
	StaffMix            []StaffMixEntry   `json:"staff_mix"`
	Consumables         []ConsumableUsage `json:"consumables"`
	EquipmentLinks      []EquipmentLink   `json:"equipment_links"`
}

// Clone returns a deep copy of the variant
func (v ProcedureVariant) Clone() ProcedureVariant {
	out := v
	out.EquipmentMinutes = cloneFloatPtr(v.EquipmentMinutes)
	out.FixedCostTemplateID = cloneStringPtr(v.FixedCostTemplateID)
	if v.StaffMix != nil {
		out.StaffMix = make([]StaffMixEntry, len(v.StaffMix))
		copy(out.StaffMix, v.StaffMix)
	}
	if v.Consumables != nil {
		out.Consumables = make([]ConsumableUsage, len(v.Consumables))
		copy(out.Consumables, v.Consumables)
	}
	if v.EquipmentLinks != nil {
		out.EquipmentLinks = make([]EquipmentLink, len(v.EquipmentLinks))
		copy(out.EquipmentLinks, v.EquipmentLinks)
	}
	return out
}

// ProcedureDefinition is a procedure with its ordered variants
type ProcedureDefinition struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Variants  []ProcedureVariant `json:"variants"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Clone returns a deep copy of the procedure and its variants
func (p ProcedureDefinition) Clone() ProcedureDefinition {
	out := p
	if p.Variants != nil {
		out.Variants = make([]ProcedureVariant, len(p.Variants))
		for i, v := range p.Variants {
			out.Variants[i] = v.Clone()
		}
	}
	return out
}

// VariantIndex returns the index of the variant with the given id, or -1
func (p *ProcedureDefinition) VariantIndex(variantID string) int {
	for i := range p.Variants {
		if p.Variants[i].ID == variantID {
			return i
		}
	}
	return -1
}

// CloneProcedures deep-copies a procedure list
func CloneProcedures(in []ProcedureDefinition) []ProcedureDefinition {
	if in == nil {
		return nil
	}
	out := make([]ProcedureDefinition, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}

// ProcedureVariantInput is the payload for creating or replacing a variant
type ProcedureVariantInput struct {
	ID                  string            `json:"id,omitempty"`
	Label               string            `json:"label"`
	SalePrice           float64           `json:"sale_price"`
	TotalMinutes        float64           `json:"total_minutes"`
	EquipmentMinutes    *float64          `json:"equipment_minutes,omitempty"`
	FixedCostTemplateID *string           `json:"fixed_cost_template_id,omitempty"`
	CaseCount           int               `json:"case_count"`
	StaffMix            []StaffMixEntry   `json:"staff_mix"`
	Consumables         []ConsumableUsage `json:"consumables"`
	EquipmentLinks      []EquipmentLink   `json:"equipment_links"`
}

// ToVariant builds a variant with the given id from the input
func (in ProcedureVariantInput) ToVariant(id string) ProcedureVariant {
	return ProcedureVariant{
		ID:                  id,
		Label:               in.Label,
		SalePrice:           in.SalePrice,
		TotalMinutes:        in.TotalMinutes,
		EquipmentMinutes:    in.EquipmentMinutes,
		FixedCostTemplateID: in.FixedCostTemplateID,
		CaseCount:           in.CaseCount,
		StaffMix:            in.StaffMix,
		Consumables:         in.Consumables,
		EquipmentLinks:      in.EquipmentLinks,
	}.Clone()
}

// ProcedureDefinitionInput is the payload for creating a procedure
type ProcedureDefinitionInput struct {
	ID       string                  `json:"id,omitempty"`
	Name     string                  `json:"name"`
	Variants []ProcedureVariantInput `json:"variants"`
}

// DerivedID returns the supplied id, or a slug of the procedure name
func (in ProcedureDefinitionInput) DerivedID() string {
	if id := strings.TrimSpace(in.ID); id != "" {
		return id
	}
	return Slugify(in.Name)
}

// Slugify lowercases a name and joins its alphanumeric runs with dashes
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}
