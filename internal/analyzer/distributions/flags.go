package distributions

import (
	"fmt"
	"sort"

	"github.com/iago/risk-reanalysis/internal/domain"
)

const (
	FlagReimbursementPattern    = "reimbursement_pattern"
	FlagNonResidentDistribution = "non_resident_distribution"
	FlagMinorBeneficiary        = "minor_beneficiary"
	FlagUnpaidEntitlement       = "unpaid_entitlement"
)

const downgradeNote = "Severity reduced: distribution made to a family member in the course of ordinary family dealing"

// flags emits the compliance flags for one counterparty. The exclusion can
// never soften the reimbursement flag because it requires no reimbursement.
func (a *Analyzer) flags(party *counterparty) []domain.ComplianceFlag {
	profile := party.profile
	name := displayName(profile)
	flags := make([]domain.ComplianceFlag, 0, 4)

	if party.reimbursement {
		flags = append(flags, domain.ComplianceFlag{
			FlagType:       FlagReimbursementPattern,
			Severity:       domain.SeverityCritical,
			CounterpartyID: profile.CounterpartyID,
			Amount:         profile.TotalDistributed,
			Description:    fmt.Sprintf("Distributions of %s to %s appear to flow back under a reimbursement arrangement", money(profile.TotalDistributed), name),
			Recommendation: "Review the arrangement for a reimbursement agreement and obtain evidence the beneficiary retained the benefit",
		})
	}

	if party.nonResident {
		flag := domain.ComplianceFlag{
			FlagType:       FlagNonResidentDistribution,
			Severity:       domain.SeverityHigh,
			CounterpartyID: profile.CounterpartyID,
			Amount:         profile.TotalDistributed,
			Description:    fmt.Sprintf("Distribution of %s to non-resident beneficiary %s", money(profile.TotalDistributed), name),
			Recommendation: "Confirm trustee withholding was remitted and the non-resident beneficiary assessment was lodged",
		}
		if party.excluded() {
			flag.Severity = domain.SeverityMedium
			flag.Note = downgradeNote
		}
		flags = append(flags, flag)
	}

	if party.minor {
		flag := domain.ComplianceFlag{
			FlagType:       FlagMinorBeneficiary,
			Severity:       domain.SeverityHigh,
			CounterpartyID: profile.CounterpartyID,
			Amount:         profile.TotalDistributed,
			Description:    fmt.Sprintf("Distribution of %s to minor beneficiary %s is taxed at penalty rates", money(profile.TotalDistributed), name),
			Recommendation: "Check whether the income is excepted trust income and that the minor's return applies the correct rates",
		}
		if party.excluded() {
			flag.Severity = domain.SeverityLow
			flag.Note = downgradeNote
		}
		flags = append(flags, flag)
	}

	switch {
	case party.agedUnpaid > 0:
		flags = append(flags, domain.ComplianceFlag{
			FlagType:       FlagUnpaidEntitlement,
			Severity:       domain.SeverityCritical,
			CounterpartyID: profile.CounterpartyID,
			Amount:         profile.UnpaidBalance,
			Description:    fmt.Sprintf("Unpaid entitlement of %s owed to %s has been outstanding for more than %g years", money(profile.UnpaidBalance), name, a.rules.AgedUnpaidYears),
			Recommendation: "Pay the entitlement, put a complying loan agreement in place, or document a sub-trust arrangement",
		})
	case profile.UnpaidBalance > a.rules.LargeUnpaidBalance:
		flags = append(flags, domain.ComplianceFlag{
			FlagType:       FlagUnpaidEntitlement,
			Severity:       domain.SeverityMedium,
			CounterpartyID: profile.CounterpartyID,
			Amount:         profile.UnpaidBalance,
			Description:    fmt.Sprintf("Unpaid entitlement of %s owed to %s exceeds %s", money(profile.UnpaidBalance), name, money(a.rules.LargeUnpaidBalance)),
			Recommendation: "Plan payment of the entitlement before it ages past the deemed loan threshold",
		})
	}

	return flags
}

func sortFlags(flags []domain.ComplianceFlag) {
	sort.SliceStable(flags, func(i, j int) bool {
		if flags[i].Severity.Rank() != flags[j].Severity.Rank() {
			return flags[i].Severity.Rank() < flags[j].Severity.Rank()
		}
		if flags[i].CounterpartyID != flags[j].CounterpartyID {
			return flags[i].CounterpartyID < flags[j].CounterpartyID
		}
		return flags[i].FlagType < flags[j].FlagType
	})
}

func displayName(profile domain.CounterpartyRiskProfile) string {
	if profile.CounterpartyName != "" {
		return profile.CounterpartyName
	}
	return profile.CounterpartyID
}

func money(amount float64) string {
	return fmt.Sprintf("$%.2f", amount)
}
