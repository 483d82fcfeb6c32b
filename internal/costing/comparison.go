package costing

import (
	"github.com/clinicledger/costing/internal/domain/entities"
)

// CompareMonths computes the movement of aggregate revenue, cost, margin and volume
// from an earlier snapshot's results to the current rows.
// MarginDeltaRatio is nil when the previous margin is zero.
func CompareMonths(current entities.ResultSet, previousSnapshot entities.Snapshot, previous entities.ResultSet) *entities.MonthOverMonth {
	cur := current.Totals()
	prev := previous.Totals()

	mom := &entities.MonthOverMonth{
		PreviousSnapshotID: previousSnapshot.ID,
		PreviousMonth:      previousSnapshot.Month,
		Current:            cur,
		Previous:           prev,
		RevenueDelta:       cur.Revenue - prev.Revenue,
		TotalCostDelta:     cur.TotalCost - prev.TotalCost,
		MarginDelta:        cur.Margin - prev.Margin,
		CaseCountDelta:     cur.CaseCount - prev.CaseCount,
	}
	if prev.Margin != 0 {
		ratio := mom.MarginDelta / prev.Margin
		mom.MarginDeltaRatio = &ratio
	}
	return mom
}
