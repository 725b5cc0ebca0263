package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iago/risk-reanalysis/internal/domain"
	"github.com/iago/risk-reanalysis/internal/repository"
)

const maxRetriesPrefix = "Max retries exceeded. Last error: "

// RetryController decides what happens to a job after a failed run: back to
// pending with one more retry counted, or failed for good.
type RetryController struct {
	jobs repository.JobsRepository
	now  func() time.Time
	log  zerolog.Logger
}

func NewRetryController(jobs repository.JobsRepository, log zerolog.Logger) *RetryController {
	return &RetryController{
		jobs: jobs,
		now:  func() time.Time { return time.Now().UTC() },
		log:  log.With().Str("component", "retry").Logger(),
	}
}

// OnFailure re-reads the job and persists its next state. The job keeps its
// original CreatedAt when requeued, so it competes in the queue with the age
// it was first submitted at.
func (c *RetryController) OnFailure(ctx context.Context, jobID string, cause error) error {
	job, err := c.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job for retry: %w", err)
	}
	if job.Terminal() {
		return nil
	}

	message := cause.Error()
	now := c.now()
	logEvent := c.log.Warn().Str("job_id", job.ID).Str("analysis_type", string(job.AnalysisType))

	switch {
	case IsPermanent(cause):
		job.Status = domain.JobStatusFailed
		job.ErrorMessage = message
		job.CompletedAt = &now
		logEvent = logEvent.Bool("permanent", true)
	case job.RetryCount+1 < job.RetryBudget():
		job.Status = domain.JobStatusPending
		job.RetryCount++
		job.LastRetryAt = &now
		job.StartedAt = nil
		job.ErrorMessage = message
	default:
		job.Status = domain.JobStatusFailed
		job.ErrorMessage = maxRetriesPrefix + message
		job.CompletedAt = &now
	}

	if err := c.jobs.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist retry state: %w", err)
	}
	logEvent.
		Str("status", string(job.Status)).
		Int("retry_count", job.RetryCount).
		Int("max_retries", job.RetryBudget()).
		Str("error", message).
		Msg("job run failed")
	return nil
}
