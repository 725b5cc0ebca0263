package analyzer

import (
	"math"

	"github.com/iago/risk-reanalysis/internal/domain"
)

// The fuel tax credit, superannuation cap and deduction analyzers are
// maintained outside this service. Only their record and result shapes and
// the mapping onto domain.Metrics live here; the host injects the functions.

type FuelPurchase struct {
	EntityID   string  `json:"entity_id"`
	Period     string  `json:"period"`
	FuelType   string  `json:"fuel_type"`
	Activity   string  `json:"activity"`
	Litres     float64 `json:"litres"`
	Amount     float64 `json:"amount"`
	HasInvoice bool    `json:"has_invoice"`
}

type FuelCreditResult struct {
	EntityID         string   `json:"entity_id"`
	Period           string   `json:"period"`
	EligibleLitres   float64  `json:"eligible_litres"`
	CreditAmount     float64  `json:"credit_amount"`
	DataQualityScore float64  `json:"data_quality_score"`
	Issues           []string `json:"issues,omitempty"`
}

type SuperContribution struct {
	EntityID     string  `json:"entity_id"`
	MemberID     string  `json:"member_id"`
	Period       string  `json:"period"`
	Amount       float64 `json:"amount"`
	Concessional bool    `json:"concessional"`
}

type SuperCapResult struct {
	MemberID              string  `json:"member_id"`
	Period                string  `json:"period"`
	ContributionCount     int     `json:"contribution_count"`
	ConcessionalTotal     float64 `json:"concessional_total"`
	Cap                   float64 `json:"cap"`
	Excess                float64 `json:"excess"`
	CarryForwardAvailable float64 `json:"carry_forward_available"`
}

type DeductionTransaction struct {
	EntityID           string  `json:"entity_id"`
	TransactionID      string  `json:"transaction_id"`
	Period             string  `json:"period"`
	Category           string  `json:"category"`
	Amount             float64 `json:"amount"`
	CategoryConfidence float64 `json:"category_confidence"`
}

type DeductionResult struct {
	EntityID              string  `json:"entity_id"`
	Period                string  `json:"period"`
	Candidates            int     `json:"candidates"`
	ClaimableAmount       float64 `json:"claimable_amount"`
	AverageConfidence     float64 `json:"average_confidence"`
	RequiresDocumentation int     `json:"requires_documentation"`
}

// contributionsForFullConfidence is the number of contributions after which
// the superannuation heuristic stops adding confidence.
const contributionsForFullConfidence = 12

// MeasureFuelCredits uses the analyzer's data-quality score as confidence.
func MeasureFuelCredits(results []FuelCreditResult) domain.Metrics {
	var metrics domain.Metrics
	if len(results) == 0 {
		return metrics
	}
	var quality float64
	for _, result := range results {
		quality += result.DataQualityScore
		metrics.Benefit += result.CreditAmount
		metrics.Findings += len(result.Issues)
	}
	metrics.Confidence = clampPercent(quality / float64(len(results)))
	return metrics
}

// MeasureSuperCaps derives confidence from how many contributions were seen.
func MeasureSuperCaps(results []SuperCapResult) domain.Metrics {
	var (
		metrics       domain.Metrics
		contributions int
	)
	for _, result := range results {
		contributions += result.ContributionCount
		metrics.Benefit += result.CarryForwardAvailable
		if result.Excess > 0 {
			metrics.Findings++
		}
	}
	metrics.Confidence = clampPercent(100 * float64(contributions) / contributionsForFullConfidence)
	return metrics
}

// MeasureDeductions weights each group's confidence by its candidate count.
func MeasureDeductions(results []DeductionResult) domain.Metrics {
	var (
		metrics  domain.Metrics
		weighted float64
	)
	for _, result := range results {
		weighted += result.AverageConfidence * float64(result.Candidates)
		metrics.Benefit += result.ClaimableAmount
		metrics.Findings += result.Candidates
	}
	if metrics.Findings > 0 {
		metrics.Confidence = clampPercent(weighted / float64(metrics.Findings))
	}
	return metrics
}

func FuelTaxCredits(source Source[FuelPurchase], analyze Func[FuelPurchase, FuelCreditResult]) Runner {
	return Bind(source, analyze, MeasureFuelCredits)
}

func SuperannuationCaps(source Source[SuperContribution], analyze Func[SuperContribution, SuperCapResult]) Runner {
	return Bind(source, analyze, MeasureSuperCaps)
}

func Deductions(source Source[DeductionTransaction], analyze Func[DeductionTransaction, DeductionResult]) Runner {
	return Bind(source, analyze, MeasureDeductions)
}

func clampPercent(value float64) float64 {
	if math.IsNaN(value) {
		return 0
	}
	return math.Max(0, math.Min(100, value))
}
