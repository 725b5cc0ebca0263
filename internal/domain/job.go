package domain

import (
	"fmt"
	"strings"
	"time"
)

// DefaultMaxRetries applies when a job record carries no retry budget.
const DefaultMaxRetries = 3

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Priority orders the queue. Lower values are dequeued first.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityLow
}

// ParsePriority accepts the class name in any case. An empty value maps to medium.
func ParsePriority(value string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "", "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", value)
	}
}

// Job is one queued unit of re-analysis work.
type Job struct {
	ID               string
	EntityID         string
	AnalysisType     AnalysisType
	Priority         Priority
	Status           JobStatus
	PreviousResultID string
	ResultID         string

	RetryCount int
	MaxRetries int

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	LastRetryAt *time.Time

	ErrorMessage       string
	ImprovementSummary *ImprovementSummary
}

// RetryBudget returns MaxRetries, falling back to DefaultMaxRetries when unset.
func (j *Job) RetryBudget() int {
	if j.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return j.MaxRetries
}

// Terminal reports whether the job can no longer change status.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Clone returns a deep copy safe to hand across store boundaries.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	clone.StartedAt = cloneTime(j.StartedAt)
	clone.CompletedAt = cloneTime(j.CompletedAt)
	clone.LastRetryAt = cloneTime(j.LastRetryAt)
	if j.ImprovementSummary != nil {
		summary := *j.ImprovementSummary
		clone.ImprovementSummary = &summary
	}
	return &clone
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
