package distributions

import (
	"fmt"
	"math"

	"github.com/iago/risk-reanalysis/internal/domain"
)

const exclusionNote = "Ordinary family dealing: related-party family member with no reimbursement arrangement"

// score applies the additive factors, then the exclusion reduction, then the
// [0,100] clamp. The reduction must see the full additive score.
func (a *Analyzer) score(party *counterparty) domain.CounterpartyRiskProfile {
	profile := party.profile
	profile.RiskFactors = append([]string(nil), party.profile.RiskFactors...)

	score := 0.0
	add := func(weight float64, factor string) {
		score += weight
		profile.RiskFactors = append(profile.RiskFactors, fmt.Sprintf("%s (+%g)", factor, weight))
	}

	if party.nonResident {
		add(a.rules.NonResidentWeight, "Non-resident beneficiary")
	}
	if party.minor {
		add(a.rules.MinorWeight, "Minor beneficiary")
	}
	if party.reimbursement {
		add(a.rules.ReimbursementWeight, "Reimbursement pattern detected")
	}
	if party.agedUnpaid > 0 {
		add(a.rules.AgedUnpaidWeight, fmt.Sprintf("Unpaid entitlement outstanding more than %g years", a.rules.AgedUnpaidYears))
	}
	if ratio := unpaidRatio(profile); ratio > a.rules.UnpaidRatioThreshold {
		add(a.rules.UnpaidRatioWeight, fmt.Sprintf("Unpaid balance is %.0f%% of distributions", ratio*100))
	}

	if party.excluded() {
		reduction := math.Min(a.rules.ExclusionReduction, score)
		score -= reduction
		profile.ExclusionNote = exclusionNote
		profile.RiskFactors = append(profile.RiskFactors, fmt.Sprintf("%s (-%g)", exclusionNote, reduction))
	}

	profile.RiskScore = math.Max(0, math.Min(100, score))
	return profile
}

func unpaidRatio(profile domain.CounterpartyRiskProfile) float64 {
	if profile.TotalDistributed <= 0 {
		return 0
	}
	return profile.UnpaidBalance / profile.TotalDistributed
}
