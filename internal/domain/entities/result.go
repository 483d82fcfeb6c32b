package entities

import (
	"sort"
	"time"
)

// Cost breakdown categories reported on every result row
const (
	CostCategoryLabor          = "labor"
	CostCategoryConsumables    = "consumables"
	CostCategoryFacilityFixed  = "facility_fixed"
	CostCategoryEquipmentFixed = "equipment_fixed"
)

// CostBreakdown splits a variant's total cost by category.
// FacilityFixed and EquipmentFixed stay zero until fixed-cost allocation is wired in.
type CostBreakdown struct {
	Labor          float64            `json:"labor"`
	Consumables    float64            `json:"consumables"`
	FacilityFixed  float64            `json:"facility_fixed"`
	EquipmentFixed float64            `json:"equipment_fixed"`
	Extra          map[string]float64 `json:"extra,omitempty"`
}

// Total sums every category, including extension categories in key order
func (b CostBreakdown) Total() float64 {
	total := b.Labor + b.Consumables + b.FacilityFixed + b.EquipmentFixed
	if len(b.Extra) == 0 {
		return total
	}
	keys := make([]string, 0, len(b.Extra))
	for k := range b.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		total += b.Extra[k]
	}
	return total
}

// Clone returns a deep copy of the breakdown
func (b CostBreakdown) Clone() CostBreakdown {
	out := b
	if b.Extra != nil {
		out.Extra = make(map[string]float64, len(b.Extra))
		for k, v := range b.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// UnresolvedReferenceKind classifies why a cost line contributed zero
type UnresolvedReferenceKind string

const (
	UnresolvedStaffRole           UnresolvedReferenceKind = "staff_role"
	UnresolvedConsumable          UnresolvedReferenceKind = "consumable"
	UnresolvedStaffZeroMinutes    UnresolvedReferenceKind = "staff_zero_minutes"
	UnresolvedConsumableZeroYield UnresolvedReferenceKind = "consumable_zero_yield"
)

// UnresolvedReference records a cost line that degraded to zero
type UnresolvedReference struct {
	Kind      UnresolvedReferenceKind `json:"kind"`
	Reference string                  `json:"reference"`
}

// CostingResultRow is the computed unit economics of one variant
type CostingResultRow struct {
	ProcedureID          string                `json:"procedure_id"`
	VariantID            string                `json:"variant_id"`
	ProcedureName        string                `json:"procedure_name"`
	VariantName          string                `json:"variant_name"`
	CaseCount            int                   `json:"case_count"`
	SalePrice            float64               `json:"sale_price"`
	TotalCost            float64               `json:"total_cost"`
	Margin               float64               `json:"margin"`
	MarginRate           float64               `json:"margin_rate"`
	MarginPerMinute      *float64              `json:"margin_per_minute"` // nil when total minutes is zero
	CostBreakdown        CostBreakdown         `json:"cost_breakdown"`
	UnresolvedReferences []UnresolvedReference `json:"unresolved_references,omitempty"`
}

// Clone returns a deep copy of the row
func (r CostingResultRow) Clone() CostingResultRow {
	out := r
	out.MarginPerMinute = cloneFloatPtr(r.MarginPerMinute)
	out.CostBreakdown = r.CostBreakdown.Clone()
	if r.UnresolvedReferences != nil {
		out.UnresolvedReferences = make([]UnresolvedReference, len(r.UnresolvedReferences))
		copy(out.UnresolvedReferences, r.UnresolvedReferences)
	}
	return out
}

// CloneRows deep-copies a list of result rows
func CloneRows(in []CostingResultRow) []CostingResultRow {
	if in == nil {
		return nil
	}
	out := make([]CostingResultRow, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// InsightHighlight points at the result row an insight was derived from
type InsightHighlight struct {
	ProcedureID   string  `json:"procedure_id"`
	VariantID     string  `json:"variant_id"`
	ProcedureName string  `json:"procedure_name"`
	VariantName   string  `json:"variant_name"`
	CaseCount     int     `json:"case_count"`
	Margin        float64 `json:"margin"`
	MarginRate    float64 `json:"margin_rate"`
}

// HighlightFromRow builds a highlight from a result row
func HighlightFromRow(r CostingResultRow) *InsightHighlight {
	return &InsightHighlight{
		ProcedureID:   r.ProcedureID,
		VariantID:     r.VariantID,
		ProcedureName: r.ProcedureName,
		VariantName:   r.VariantName,
		CaseCount:     r.CaseCount,
		Margin:        r.Margin,
		MarginRate:    r.MarginRate,
	}
}

// ResultTotals aggregates a result set
type ResultTotals struct {
	Revenue   float64 `json:"revenue"`
	TotalCost float64 `json:"total_cost"`
	Margin    float64 `json:"margin"`
	CaseCount int     `json:"case_count"`
}

// MonthOverMonth compares a snapshot's totals with an earlier month
type MonthOverMonth struct {
	PreviousSnapshotID string       `json:"previous_snapshot_id"`
	PreviousMonth      string       `json:"previous_month"`
	Current            ResultTotals `json:"current"`
	Previous           ResultTotals `json:"previous"`
	RevenueDelta       float64      `json:"revenue_delta"`
	TotalCostDelta     float64      `json:"total_cost_delta"`
	MarginDelta        float64      `json:"margin_delta"`
	MarginDeltaRatio   *float64     `json:"margin_delta_ratio"` // nil when the previous margin is zero
	CaseCountDelta     int          `json:"case_count_delta"`
}

// InsightPayload is the snapshot-level summary derived on each recalculation
type InsightPayload struct {
	TopByVolume      *InsightHighlight `json:"top_by_volume,omitempty"`
	TopByMargin      *InsightHighlight `json:"top_by_margin,omitempty"`
	LowestMarginRate *InsightHighlight `json:"lowest_margin_rate,omitempty"`
	MonthOverMonth   *MonthOverMonth   `json:"month_over_month,omitempty"`
	Notes            []string          `json:"notes,omitempty"`
}

// Clone returns a deep copy of the insights
func (p InsightPayload) Clone() InsightPayload {
	out := p
	if p.TopByVolume != nil {
		v := *p.TopByVolume
		out.TopByVolume = &v
	}
	if p.TopByMargin != nil {
		v := *p.TopByMargin
		out.TopByMargin = &v
	}
	if p.LowestMarginRate != nil {
		v := *p.LowestMarginRate
		out.LowestMarginRate = &v
	}
	if p.MonthOverMonth != nil {
		v := *p.MonthOverMonth
		v.MarginDeltaRatio = cloneFloatPtr(p.MonthOverMonth.MarginDeltaRatio)
		out.MonthOverMonth = &v
	}
	out.Notes = cloneStrings(p.Notes)
	return out
}

// ResultSet is the full persisted output of one recalculation
type ResultSet struct {
	SnapshotID   string             `json:"snapshot_id"`
	Rows         []CostingResultRow `json:"rows"`
	Insights     InsightPayload     `json:"insights"`
	CalculatedAt time.Time          `json:"calculated_at"`
}

// Clone returns a deep copy of the result set
func (r ResultSet) Clone() ResultSet {
	out := r
	out.Rows = CloneRows(r.Rows)
	out.Insights = r.Insights.Clone()
	return out
}

// Totals sums revenue, cost, margin and volume across the rows
func (r ResultSet) Totals() ResultTotals {
	var t ResultTotals
	for _, row := range r.Rows {
		t.Revenue += row.SalePrice
		t.TotalCost += row.TotalCost
		t.Margin += row.Margin
		t.CaseCount += row.CaseCount
	}
	return t
}

// JobStatus is the state of a recalculation job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// RecalculationJob records one recalculation pass
type RecalculationJob struct {
	JobID       string     `json:"job_id"`
	SnapshotID  string     `json:"snapshot_id"`
	Status      JobStatus  `json:"status"`
	RowCount    int        `json:"row_count"`
	QueuedAt    time.Time  `json:"queued_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a copy of the job
func (j RecalculationJob) Clone() RecalculationJob {
	out := j
	out.CompletedAt = cloneTimePtr(j.CompletedAt)
	return out
}
