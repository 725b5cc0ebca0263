package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/iago/risk-reanalysis/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// JobsRepository abstracts job persistence and the claim protocol the
// dispatcher relies on.
type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	UpdateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	// FetchPending returns at most limit pending jobs ordered by priority,
	// then by creation time.
	FetchPending(ctx context.Context, limit int) ([]*domain.Job, error)
	// ClaimJob moves a pending job to processing. It reports false when the
	// job was no longer pending.
	ClaimJob(ctx context.Context, jobID string, startedAt time.Time) (bool, error)
	// ListJobs returns the newest jobs first. An empty status matches all.
	ListJobs(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.Job, error)
	// RequeueStuck returns processing jobs started before the cutoff to
	// pending and reports how many moved.
	RequeueStuck(ctx context.Context, startedBefore time.Time) (int, error)
}

// ResultsRepository stores analyzer outcomes so later jobs can diff against them.
type ResultsRepository interface {
	SaveResult(ctx context.Context, result *domain.StoredResult) error
	GetResult(ctx context.Context, resultID string) (*domain.StoredResult, error)
}

// MemoryJobsRepository stores jobs in memory for local development.
type MemoryJobsRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs: make(map[string]*domain.Job),
	}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *MemoryJobsRepository) UpdateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (r *MemoryJobsRepository) FetchPending(_ context.Context, limit int) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]*domain.Job, 0)
	for _, job := range r.jobs {
		if job.Status == domain.JobStatusPending {
			items = append(items, job.Clone())
		}
	}
	sortQueueOrder(items)
	return truncate(items, limit), nil
}

func (r *MemoryJobsRepository) ClaimJob(_ context.Context, jobID string, startedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return false, ErrNotFound
	}
	if job.Status != domain.JobStatusPending {
		return false, nil
	}
	job.Status = domain.JobStatusProcessing
	job.StartedAt = &startedAt
	return true, nil
}

func (r *MemoryJobsRepository) ListJobs(_ context.Context, status domain.JobStatus, limit int) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]*domain.Job, 0)
	for _, job := range r.jobs {
		if status != "" && job.Status != status {
			continue
		}
		items = append(items, job.Clone())
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return truncate(items, limit), nil
}

func (r *MemoryJobsRepository) RequeueStuck(_ context.Context, startedBefore time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	moved := 0
	for _, job := range r.jobs {
		if job.Status != domain.JobStatusProcessing || job.StartedAt == nil {
			continue
		}
		if !job.StartedAt.Before(startedBefore) {
			continue
		}
		job.Status = domain.JobStatusPending
		job.StartedAt = nil
		moved++
	}
	return moved, nil
}

// MemoryResultsRepository keeps stored results in memory.
type MemoryResultsRepository struct {
	mu      sync.RWMutex
	results map[string]*domain.StoredResult
}

func NewMemoryResultsRepository() *MemoryResultsRepository {
	return &MemoryResultsRepository{
		results: make(map[string]*domain.StoredResult),
	}
}

func (r *MemoryResultsRepository) SaveResult(_ context.Context, result *domain.StoredResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.results[result.ID] = result.Clone()
	return nil
}

func (r *MemoryResultsRepository) GetResult(_ context.Context, resultID string) (*domain.StoredResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result, ok := r.results[resultID]
	if !ok {
		return nil, ErrNotFound
	}
	return result.Clone(), nil
}

func sortQueueOrder(items []*domain.Job) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority < items[j].Priority
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

func truncate(items []*domain.Job, limit int) []*domain.Job {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
