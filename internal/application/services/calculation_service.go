package services

import "github.com/clinicledger/costing/internal/domain/providers"

// CalculationService exposes recalculation and result queries as one CalculationEngine
type CalculationService struct {
	*RecalculationService
	*ResultQueryService
}

var _ providers.CalculationEngine = (*CalculationService)(nil)

// NewCalculationService combines the job runner and the result query layer
func NewCalculationService(runner *RecalculationService, query *ResultQueryService) *CalculationService {
	return &CalculationService{RecalculationService: runner, ResultQueryService: query}
}
