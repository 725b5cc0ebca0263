package domain

import "time"

// DataChangeEvent announces that inputs behind an entity's analysis changed
// and a re-analysis should be queued.
type DataChangeEvent struct {
	EventID          string       `json:"event_id"`
	EntityID         string       `json:"entity_id"`
	AnalysisType     AnalysisType `json:"analysis_type"`
	Priority         string       `json:"priority"`
	PreviousResultID string       `json:"previous_result_id,omitempty"`
	Source           string       `json:"source,omitempty"`
	Attempt          int          `json:"attempt"`
	OccurredAt       time.Time    `json:"occurred_at"`
}
