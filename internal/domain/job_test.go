package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePriority(t *testing.T) {
	cases := map[string]Priority{
		"critical": PriorityCritical,
		"HIGH":     PriorityHigh,
		"":         PriorityMedium,
		"medium":   PriorityMedium,
		" low ":    PriorityLow,
	}
	for input, want := range cases {
		got, err := ParsePriority(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParsePriority("urgent")
	assert.Error(t, err)
}

func TestPriorityOrdering(t *testing.T) {
	assert.Less(t, int(PriorityCritical), int(PriorityHigh))
	assert.Less(t, int(PriorityHigh), int(PriorityMedium))
	assert.Less(t, int(PriorityMedium), int(PriorityLow))
	assert.Equal(t, "critical", PriorityCritical.String())
	assert.False(t, Priority(7).Valid())
}

func TestJobRetryBudgetDefaults(t *testing.T) {
	job := &Job{}
	assert.Equal(t, DefaultMaxRetries, job.RetryBudget())

	job.MaxRetries = 5
	assert.Equal(t, 5, job.RetryBudget())
}

func TestJobCloneIsDeep(t *testing.T) {
	started := time.Now().UTC()
	job := &Job{
		ID:                 "job-1",
		StartedAt:          &started,
		ImprovementSummary: &ImprovementSummary{ConfidenceAfter: 80},
	}

	clone := job.Clone()
	clone.StartedAt = nil
	clone.ImprovementSummary.ConfidenceAfter = 10

	require.NotNil(t, job.StartedAt)
	assert.Equal(t, 80.0, job.ImprovementSummary.ConfidenceAfter)
}

func TestSeverityRank(t *testing.T) {
	assert.Less(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Less(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityMedium.Rank(), SeverityLow.Rank())
}
