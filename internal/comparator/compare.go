// Package comparator derives the improvement summary between two analyzer runs.
package comparator

import "github.com/iago/risk-reanalysis/internal/domain"

// Compare diffs a fresh result against the previous one. A nil previous
// result means every finding and the full benefit are new. AdditionalBenefit
// is never clamped: a negative value reports a regression.
func Compare(previous *domain.Metrics, current domain.Metrics) domain.ImprovementSummary {
	var before, priorBenefit float64
	if previous != nil {
		before = previous.Confidence
		priorBenefit = previous.Benefit
	}

	return domain.ImprovementSummary{
		ConfidenceBefore:    before,
		ConfidenceAfter:     current.Confidence,
		NewFindingsCount:    current.Findings,
		AdditionalBenefit:   current.Benefit - priorBenefit,
		DataQualityImproved: current.Confidence > before,
	}
}
