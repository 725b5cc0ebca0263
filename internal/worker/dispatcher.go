package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iago/risk-reanalysis/internal/analyzer"
	"github.com/iago/risk-reanalysis/internal/comparator"
	"github.com/iago/risk-reanalysis/internal/domain"
	"github.com/iago/risk-reanalysis/internal/repository"
)

const defaultBatchSize = 10

// PreviousResults loads the baseline a job is compared against.
type PreviousResults interface {
	GetResult(ctx context.Context, resultID string) (*domain.StoredResult, error)
}

// ResultWriter persists the outcome of a successful run.
type ResultWriter interface {
	SaveResult(ctx context.Context, result *domain.StoredResult) error
}

// DrainResult summarizes one DrainQueue call. Failed counts requeued and
// terminally failed jobs alike.
type DrainResult struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

type DispatcherConfig struct {
	BatchSize int
}

// Dispatcher drains pending jobs one at a time. Several dispatchers may
// drain the same store because every job is claimed before it runs.
type Dispatcher struct {
	jobs      repository.JobsRepository
	results   ResultWriter
	previous  PreviousResults
	registry  *analyzer.Registry
	retry     *RetryController
	batchSize int
	now       func() time.Time
	newID     func() string
	log       zerolog.Logger
}

func NewDispatcher(
	jobs repository.JobsRepository,
	results ResultWriter,
	previous PreviousResults,
	registry *analyzer.Registry,
	retry *RetryController,
	cfg DispatcherConfig,
	log zerolog.Logger,
) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Dispatcher{
		jobs:      jobs,
		results:   results,
		previous:  previous,
		registry:  registry,
		retry:     retry,
		batchSize: cfg.BatchSize,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		log:       log.With().Str("component", "dispatcher").Logger(),
	}
}

type jobOutcome int

const (
	outcomeSkipped jobOutcome = iota
	outcomeProcessed
	outcomeFailed
)

// DrainQueue processes up to maxJobs pending jobs in queue order. Per-job
// failures are collected in the result; only a failure to fetch the batch is
// returned as an error. When ctx is cancelled between jobs the partial
// result is returned together with ctx.Err().
func (d *Dispatcher) DrainQueue(ctx context.Context, maxJobs int) (DrainResult, error) {
	if maxJobs <= 0 {
		maxJobs = d.batchSize
	}

	result := DrainResult{Errors: []string{}}
	jobs, err := d.jobs.FetchPending(ctx, maxJobs)
	if err != nil {
		return result, fmt.Errorf("fetch pending jobs: %w", err)
	}
	if len(jobs) == 0 {
		return result, nil
	}

	started := time.Now()
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		outcome, jobErr := d.process(ctx, job)
		switch outcome {
		case outcomeProcessed:
			result.Processed++
		case outcomeFailed:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("job %s: %s", job.ID, jobErr.Error()))
		}
	}

	d.log.Info().
		Int("fetched", len(jobs)).
		Int("processed", result.Processed).
		Int("failed", result.Failed).
		Dur("duration", time.Since(started)).
		Msg("queue drained")
	return result, nil
}

func (d *Dispatcher) process(ctx context.Context, job *domain.Job) (jobOutcome, error) {
	startedAt := d.now()
	claimed, err := d.jobs.ClaimJob(ctx, job.ID, startedAt)
	if err != nil {
		return outcomeFailed, fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		d.log.Debug().Str("job_id", job.ID).Msg("job claimed elsewhere, skipping")
		return outcomeSkipped, nil
	}
	job.Status = domain.JobStatusProcessing
	job.StartedAt = &startedAt

	summary, resultID, runErr := d.run(ctx, job)
	if runErr != nil {
		if err := d.retry.OnFailure(ctx, job.ID, runErr); err != nil {
			return outcomeFailed, fmt.Errorf("%s (recording failure: %v)", runErr.Error(), err)
		}
		return outcomeFailed, runErr
	}

	completedAt := d.now()
	job.Status = domain.JobStatusCompleted
	job.CompletedAt = &completedAt
	job.ImprovementSummary = &summary
	job.ResultID = resultID
	job.ErrorMessage = ""
	if err := d.jobs.UpdateJob(ctx, job); err != nil {
		return outcomeFailed, fmt.Errorf("persist completed job: %w", err)
	}

	d.log.Info().
		Str("job_id", job.ID).
		Str("entity_id", job.EntityID).
		Str("analysis_type", string(job.AnalysisType)).
		Float64("confidence_after", summary.ConfidenceAfter).
		Float64("additional_benefit", summary.AdditionalBenefit).
		Int("findings", summary.NewFindingsCount).
		Msg("job completed")
	return outcomeProcessed, nil
}

func (d *Dispatcher) run(ctx context.Context, job *domain.Job) (domain.ImprovementSummary, string, error) {
	runner, err := d.registry.Lookup(job.AnalysisType)
	if err != nil {
		return domain.ImprovementSummary{}, "", Permanent(err)
	}

	outcome, err := runner.Run(ctx, job.EntityID)
	if err != nil {
		return domain.ImprovementSummary{}, "", err
	}

	previous, err := d.baseline(ctx, job.PreviousResultID)
	if err != nil {
		return domain.ImprovementSummary{}, "", err
	}
	summary := comparator.Compare(previous, outcome.Metrics)

	stored := &domain.StoredResult{
		ID:           d.newID(),
		JobID:        job.ID,
		EntityID:     job.EntityID,
		AnalysisType: job.AnalysisType,
		Metrics:      outcome.Metrics,
		Payload:      outcome.Payload,
		CreatedAt:    d.now(),
	}
	if err := d.results.SaveResult(ctx, stored); err != nil {
		return domain.ImprovementSummary{}, "", fmt.Errorf("save result: %w", err)
	}
	return summary, stored.ID, nil
}

// baseline returns nil when the job has no previous result or the referenced
// result no longer exists.
func (d *Dispatcher) baseline(ctx context.Context, resultID string) (*domain.Metrics, error) {
	if resultID == "" {
		return nil, nil
	}
	result, err := d.previous.GetResult(ctx, resultID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			d.log.Warn().Str("result_id", resultID).Msg("previous result not found, comparing against zero")
			return nil, nil
		}
		return nil, fmt.Errorf("fetch previous result %s: %w", resultID, err)
	}
	return &result.Metrics, nil
}
