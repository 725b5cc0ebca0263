package domain

import "time"

type CounterpartyType string

const (
	CounterpartyIndividual  CounterpartyType = "individual"
	CounterpartyCompany     CounterpartyType = "company"
	CounterpartyTrust       CounterpartyType = "trust"
	CounterpartyPartnership CounterpartyType = "partnership"
	CounterpartyUnknown     CounterpartyType = "unknown"
)

type PaymentForm string

const (
	PaymentCash              PaymentForm = "cash"
	PaymentAsset             PaymentForm = "asset"
	PaymentUnpaidEntitlement PaymentForm = "unpaid_entitlement"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities, critical first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	default:
		return 3
	}
}

// DistributionRecord is one related-party payment made by an entity.
type DistributionRecord struct {
	EntityID         string           `json:"entity_id"`
	EntityName       string           `json:"entity_name"`
	CounterpartyID   string           `json:"counterparty_id"`
	CounterpartyName string           `json:"counterparty_name"`
	CounterpartyType CounterpartyType `json:"counterparty_type"`
	Amount           float64          `json:"amount"`
	PaymentForm      PaymentForm      `json:"payment_form"`
	Period           string           `json:"period"`

	NonResident          bool `json:"non_resident"`
	Minor                bool `json:"minor"`
	RelatedParty         bool `json:"related_party"`
	FamilyMember         bool `json:"family_member"`
	ReimbursementPattern bool `json:"reimbursement_pattern"`

	UnpaidBalance         float64 `json:"unpaid_balance"`
	UnpaidBalanceAgeYears float64 `json:"unpaid_balance_age_years"`

	// PaymentDate is optional. When set it must fall inside Period.
	PaymentDate *time.Time `json:"payment_date,omitempty"`
}

// CounterpartyRiskProfile aggregates one counterparty within one entity and period.
type CounterpartyRiskProfile struct {
	CounterpartyID   string           `json:"counterparty_id"`
	CounterpartyName string           `json:"counterparty_name"`
	CounterpartyType CounterpartyType `json:"counterparty_type"`

	TotalDistributed float64 `json:"total_distributed"`
	PaidCash         float64 `json:"paid_cash"`
	UnpaidBalance    float64 `json:"unpaid_balance"`

	RiskScore     float64  `json:"risk_score"`
	RiskFactors   []string `json:"risk_factors"`
	ExclusionNote string   `json:"exclusion_note,omitempty"`
}

type ComplianceFlag struct {
	FlagType       string   `json:"flag_type"`
	Severity       Severity `json:"severity"`
	CounterpartyID string   `json:"counterparty_id"`
	Amount         float64  `json:"amount"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation"`
	Note           string   `json:"note,omitempty"`
}

type UnpaidSummary struct {
	TotalUnpaid              float64 `json:"total_unpaid"`
	AgedUnpaid               float64 `json:"aged_unpaid"`
	CounterpartiesWithUnpaid int     `json:"counterparties_with_unpaid"`
}

// DistributionAnalysis is the risk analyzer result for one entity and period.
type DistributionAnalysis struct {
	EntityID         string                    `json:"entity_id"`
	EntityName       string                    `json:"entity_name"`
	Period           string                    `json:"period"`
	TotalDistributed float64                   `json:"total_distributed"`
	Profiles         []CounterpartyRiskProfile `json:"profiles"`
	Flags            []ComplianceFlag          `json:"flags"`
	Unpaid           UnpaidSummary             `json:"unpaid"`
	OverallRisk      Severity                  `json:"overall_risk"`
	RecordCount      int                       `json:"record_count"`
	CompleteRecords  int                       `json:"complete_records"`
}
