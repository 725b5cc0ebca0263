package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iago/risk-reanalysis/internal/worker"
)

// Drainer is satisfied by worker.Dispatcher.
type Drainer interface {
	DrainQueue(ctx context.Context, maxJobs int) (worker.DrainResult, error)
}

// DrainJob runs one dispatcher drain per tick.
type DrainJob struct {
	drainer Drainer
	maxJobs int
	log     zerolog.Logger
}

func NewDrainJob(drainer Drainer, maxJobs int, log zerolog.Logger) *DrainJob {
	return &DrainJob{drainer: drainer, maxJobs: maxJobs, log: log.With().Str("job", "drain_queue").Logger()}
}

func (j *DrainJob) Name() string { return "drain_queue" }

func (j *DrainJob) Run(ctx context.Context) error {
	result, err := j.drainer.DrainQueue(ctx, j.maxJobs)
	for _, message := range result.Errors {
		j.log.Warn().Str("error", message).Msg("job failed during drain")
	}
	if err != nil {
		return fmt.Errorf("drain queue: %w", err)
	}
	return nil
}

// StuckRequeuer is satisfied by every repository.JobsRepository.
type StuckRequeuer interface {
	RequeueStuck(ctx context.Context, startedBefore time.Time) (int, error)
}

// StuckJobSweep returns jobs left in processing longer than maxAge to the queue.
type StuckJobSweep struct {
	jobs   StuckRequeuer
	maxAge time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

func NewStuckJobSweep(jobs StuckRequeuer, maxAge time.Duration, log zerolog.Logger) *StuckJobSweep {
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	return &StuckJobSweep{
		jobs:   jobs,
		maxAge: maxAge,
		now:    func() time.Time { return time.Now().UTC() },
		log:    log.With().Str("job", "requeue_stuck").Logger(),
	}
}

func (j *StuckJobSweep) Name() string { return "requeue_stuck" }

func (j *StuckJobSweep) Run(ctx context.Context) error {
	moved, err := j.jobs.RequeueStuck(ctx, j.now().Add(-j.maxAge))
	if err != nil {
		return fmt.Errorf("requeue stuck jobs: %w", err)
	}
	if moved > 0 {
		j.log.Warn().Int("jobs", moved).Dur("max_age", j.maxAge).Msg("requeued stuck jobs")
	}
	return nil
}
