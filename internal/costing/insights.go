package costing

import (
	"fmt"

	"github.com/clinicledger/costing/internal/domain/entities"
)

// BuildInsights scans rows once and picks the highlights.
// Ties keep the earliest row. topByVolume and topByMargin need a positive maximum;
// lowestMarginRate is reported whenever there is at least one row.
func BuildInsights(rows []entities.CostingResultRow) entities.InsightPayload {
	var insights entities.InsightPayload
	if len(rows) == 0 {
		return insights
	}

	volumeIdx, marginIdx, lowestIdx := 0, 0, 0
	unresolvedRows := 0
	for i, row := range rows {
		if row.CaseCount > rows[volumeIdx].CaseCount {
			volumeIdx = i
		}
		if row.Margin > rows[marginIdx].Margin {
			marginIdx = i
		}
		if row.MarginRate < rows[lowestIdx].MarginRate {
			lowestIdx = i
		}
		if len(row.UnresolvedReferences) > 0 {
			unresolvedRows++
		}
	}

	if rows[volumeIdx].CaseCount > 0 {
		insights.TopByVolume = entities.HighlightFromRow(rows[volumeIdx])
	}
	if rows[marginIdx].Margin > 0 {
		insights.TopByMargin = entities.HighlightFromRow(rows[marginIdx])
	}
	insights.LowestMarginRate = entities.HighlightFromRow(rows[lowestIdx])

	if unresolvedRows > 0 {
		insights.Notes = append(insights.Notes, fmt.Sprintf(
			"%d of %d variants reference staff roles or consumables that contributed no cost",
			unresolvedRows, len(rows),
		))
	}
	return insights
}
