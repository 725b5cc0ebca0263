// Package distributions scores related-party trust distributions for
// compliance risk, one counterparty at a time, within each entity and
// reporting period.
package distributions

import (
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/iago/risk-reanalysis/internal/domain"
)

var ErrNilRecords = errors.New("distribution records must not be nil")

// Analyzer is stateless apart from its rules and safe for concurrent use.
type Analyzer struct {
	rules Rules
}

func NewAnalyzer(rules Rules) *Analyzer {
	return &Analyzer{rules: rules}
}

func (a *Analyzer) Rules() Rules {
	return a.rules
}

// Analyze groups records by entity and normalized period and returns one
// analysis per group that holds at least one usable record. Malformed
// records are skipped, never reported as errors.
func (a *Analyzer) Analyze(records []domain.DistributionRecord) ([]domain.DistributionAnalysis, error) {
	if records == nil {
		return nil, ErrNilRecords
	}

	results := make([]domain.DistributionAnalysis, 0)
	for _, group := range groupRecords(records) {
		analysis, ok := a.analyzeGroup(group)
		if !ok {
			continue
		}
		results = append(results, analysis)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].EntityID != results[j].EntityID {
			return results[i].EntityID < results[j].EntityID
		}
		return results[i].Period < results[j].Period
	})
	return results, nil
}

type recordGroup struct {
	entityID string
	period   string
	records  []domain.DistributionRecord
}

func groupRecords(records []domain.DistributionRecord) []*recordGroup {
	index := make(map[string]*recordGroup)
	ordered := make([]*recordGroup, 0)
	for _, record := range records {
		entityID := strings.TrimSpace(record.EntityID)
		period := domain.NormalizePeriod(record.Period)
		key := entityID + "|" + period

		group, ok := index[key]
		if !ok {
			group = &recordGroup{entityID: entityID, period: period}
			index[key] = group
			ordered = append(ordered, group)
		}
		group.records = append(group.records, record)
	}
	return ordered
}

// counterparty accumulates every record for one counterparty in a group.
type counterparty struct {
	profile domain.CounterpartyRiskProfile

	nonResident   bool
	minor         bool
	relatedParty  bool
	familyMember  bool
	reimbursement bool

	agedUnpaid float64
}

// excluded reports whether the ordinary family dealing carve-out applies.
func (c *counterparty) excluded() bool {
	return c.relatedParty && c.familyMember && !c.reimbursement
}

func (a *Analyzer) analyzeGroup(group *recordGroup) (domain.DistributionAnalysis, bool) {
	analysis := domain.DistributionAnalysis{
		EntityID:    group.entityID,
		Period:      group.period,
		RecordCount: len(group.records),
		Profiles:    []domain.CounterpartyRiskProfile{},
		Flags:       []domain.ComplianceFlag{},
	}

	byID := make(map[string]*counterparty)
	ordered := make([]*counterparty, 0)
	for _, record := range group.records {
		if !usable(record) {
			continue
		}
		if complete(record) {
			analysis.CompleteRecords++
		}
		if analysis.EntityName == "" {
			analysis.EntityName = strings.TrimSpace(record.EntityName)
		}

		id := strings.TrimSpace(record.CounterpartyID)
		party, ok := byID[id]
		if !ok {
			party = &counterparty{profile: domain.CounterpartyRiskProfile{
				CounterpartyID:   id,
				CounterpartyType: domain.CounterpartyUnknown,
				RiskFactors:      []string{},
			}}
			byID[id] = party
			ordered = append(ordered, party)
		}
		a.accumulate(party, record)
	}

	if len(ordered) == 0 {
		return domain.DistributionAnalysis{}, false
	}

	for _, party := range ordered {
		profile := a.score(party)
		analysis.Profiles = append(analysis.Profiles, profile)
		analysis.Flags = append(analysis.Flags, a.flags(party)...)

		analysis.TotalDistributed += profile.TotalDistributed
		analysis.Unpaid.TotalUnpaid += profile.UnpaidBalance
		analysis.Unpaid.AgedUnpaid += party.agedUnpaid
		if profile.UnpaidBalance > 0 {
			analysis.Unpaid.CounterpartiesWithUnpaid++
		}
	}

	sort.SliceStable(analysis.Profiles, func(i, j int) bool {
		left, right := analysis.Profiles[i], analysis.Profiles[j]
		if left.RiskScore != right.RiskScore {
			return left.RiskScore > right.RiskScore
		}
		return left.CounterpartyID < right.CounterpartyID
	})
	sortFlags(analysis.Flags)
	analysis.OverallRisk = a.overallRisk(analysis.Flags, analysis.Unpaid)

	return analysis, true
}

func (a *Analyzer) accumulate(party *counterparty, record domain.DistributionRecord) {
	profile := &party.profile
	if profile.CounterpartyName == "" {
		profile.CounterpartyName = strings.TrimSpace(record.CounterpartyName)
	}
	if profile.CounterpartyType == domain.CounterpartyUnknown && knownType(record.CounterpartyType) {
		profile.CounterpartyType = record.CounterpartyType
	}

	profile.TotalDistributed += record.Amount
	if record.PaymentForm == domain.PaymentCash {
		profile.PaidCash += record.Amount
	}

	unpaid := record.UnpaidBalance
	if unpaid == 0 && record.PaymentForm == domain.PaymentUnpaidEntitlement {
		unpaid = record.Amount
	}
	profile.UnpaidBalance += unpaid
	if unpaid > 0 && record.UnpaidBalanceAgeYears > a.rules.AgedUnpaidYears {
		party.agedUnpaid += unpaid
	}

	party.nonResident = party.nonResident || record.NonResident
	party.minor = party.minor || record.Minor
	party.relatedParty = party.relatedParty || record.RelatedParty
	party.familyMember = party.familyMember || record.FamilyMember
	party.reimbursement = party.reimbursement || record.ReimbursementPattern
}

func (a *Analyzer) overallRisk(flags []domain.ComplianceFlag, unpaid domain.UnpaidSummary) domain.Severity {
	worst := domain.SeverityLow
	for _, flag := range flags {
		if flag.Severity.Rank() < worst.Rank() {
			worst = flag.Severity
		}
	}

	switch {
	case worst == domain.SeverityCritical || unpaid.AgedUnpaid > a.rules.CriticalAgedUnpaid:
		return domain.SeverityCritical
	case worst == domain.SeverityHigh || unpaid.TotalUnpaid > a.rules.HighTotalUnpaid:
		return domain.SeverityHigh
	case worst == domain.SeverityMedium || unpaid.TotalUnpaid > a.rules.MediumTotalUnpaid:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// Measure maps analyses onto the uniform metrics. Confidence is the share of
// complete records, benefit is the amount distributed to counterparties at or
// above the benefit threshold, findings is the number of flags.
func (a *Analyzer) Measure(results []domain.DistributionAnalysis) domain.Metrics {
	var (
		metrics  domain.Metrics
		records  int
		complete int
	)
	for _, analysis := range results {
		records += analysis.RecordCount
		complete += analysis.CompleteRecords
		metrics.Findings += len(analysis.Flags)
		for _, profile := range analysis.Profiles {
			if profile.RiskScore >= a.rules.BenefitScoreThreshold {
				metrics.Benefit += profile.TotalDistributed
			}
		}
	}
	if records > 0 {
		metrics.Confidence = math.Round(10000*float64(complete)/float64(records)) / 100
	}
	return metrics
}

func usable(record domain.DistributionRecord) bool {
	if strings.TrimSpace(record.EntityID) == "" || strings.TrimSpace(record.CounterpartyID) == "" {
		return false
	}
	return nonNegative(record.Amount) &&
		nonNegative(record.UnpaidBalance) &&
		nonNegative(record.UnpaidBalanceAgeYears)
}

func complete(record domain.DistributionRecord) bool {
	if strings.TrimSpace(record.CounterpartyName) == "" {
		return false
	}
	if !knownType(record.CounterpartyType) {
		return false
	}
	switch record.PaymentForm {
	case domain.PaymentCash, domain.PaymentAsset, domain.PaymentUnpaidEntitlement:
	default:
		return false
	}
	fy, err := domain.ParseFinancialYear(record.Period)
	if err != nil {
		return false
	}
	return record.PaymentDate == nil || fy.Contains(*record.PaymentDate)
}

func knownType(value domain.CounterpartyType) bool {
	switch value {
	case domain.CounterpartyIndividual, domain.CounterpartyCompany, domain.CounterpartyTrust, domain.CounterpartyPartnership:
		return true
	default:
		return false
	}
}

func nonNegative(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0) && value >= 0
}
