package domain

import (
	"encoding/json"
	"time"
)

// AnalysisType selects the analyzer a job runs.
type AnalysisType string

const (
	AnalysisTrustDistributions AnalysisType = "trust_distributions"
	AnalysisFuelTaxCredits     AnalysisType = "fuel_tax_credits"
	AnalysisSuperannuationCap  AnalysisType = "superannuation_cap"
	AnalysisDeductions         AnalysisType = "deductions"
)

// KnownAnalysisTypes lists every analysis type the service understands,
// whether or not an analyzer is registered for it at runtime.
func KnownAnalysisTypes() []AnalysisType {
	return []AnalysisType{
		AnalysisTrustDistributions,
		AnalysisFuelTaxCredits,
		AnalysisSuperannuationCap,
		AnalysisDeductions,
	}
}

// Metrics is the uniform triple extracted from every analyzer result.
type Metrics struct {
	Confidence float64 `json:"confidence"`
	Benefit    float64 `json:"benefit"`
	Findings   int     `json:"findings"`
}

// ImprovementSummary is the before/after delta written on a completed job.
type ImprovementSummary struct {
	ConfidenceBefore    float64 `json:"confidence_before"`
	ConfidenceAfter     float64 `json:"confidence_after"`
	NewFindingsCount    int     `json:"new_findings_count"`
	AdditionalBenefit   float64 `json:"additional_benefit"`
	DataQualityImproved bool    `json:"data_quality_improved"`
}

// StoredResult is the persisted outcome of one successful analyzer run.
type StoredResult struct {
	ID           string
	JobID        string
	EntityID     string
	AnalysisType AnalysisType
	Metrics      Metrics
	Payload      json.RawMessage
	CreatedAt    time.Time
}

func (r *StoredResult) Clone() *StoredResult {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Payload = append([]byte(nil), r.Payload...)
	return &clone
}
