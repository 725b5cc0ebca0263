package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iago/risk-reanalysis/internal/domain"
	"github.com/iago/risk-reanalysis/internal/queue"
	"github.com/iago/risk-reanalysis/internal/repository"
)

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrPublishingDisabled = errors.New("event publishing is not configured")
)

const (
	maxEntityIDLength = 128
	defaultListLimit  = 50
	maxListLimit      = 500
)

// EnqueueRequest describes one re-analysis to queue.
type EnqueueRequest struct {
	EntityID         string
	AnalysisType     domain.AnalysisType
	Priority         string
	PreviousResultID string
	MaxRetries       int
}

type JobsService struct {
	repo     repository.JobsRepository
	producer queue.Producer
	now      func() time.Time
}

// NewJobsService wires job intake. The producer may be nil when data-change
// events are not published through this process.
func NewJobsService(repo repository.JobsRepository, producer queue.Producer) *JobsService {
	return &JobsService{
		repo:     repo,
		producer: producer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue validates the request and stores a new pending job.
func (s *JobsService) Enqueue(ctx context.Context, request EnqueueRequest) (*domain.Job, error) {
	entityID := strings.TrimSpace(request.EntityID)
	if entityID == "" || len(entityID) > maxEntityIDLength {
		return nil, fmt.Errorf("%w: entity_id is required and must be at most %d characters", ErrInvalidRequest, maxEntityIDLength)
	}
	if !knownAnalysisType(request.AnalysisType) {
		return nil, fmt.Errorf("%w: unknown analysis_type %q", ErrInvalidRequest, request.AnalysisType)
	}
	priority, err := domain.ParsePriority(request.Priority)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if request.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max_retries must not be negative", ErrInvalidRequest)
	}
	maxRetries := request.MaxRetries
	if maxRetries == 0 {
		maxRetries = domain.DefaultMaxRetries
	}

	job := &domain.Job{
		ID:               uuid.NewString(),
		EntityID:         entityID,
		AnalysisType:     request.AnalysisType,
		Priority:         priority,
		Status:           domain.JobStatusPending,
		PreviousResultID: strings.TrimSpace(request.PreviousResultID),
		MaxRetries:       maxRetries,
		CreatedAt:        s.now(),
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// EnqueueEvent turns a data-change event into a pending job.
func (s *JobsService) EnqueueEvent(ctx context.Context, event domain.DataChangeEvent) (*domain.Job, error) {
	return s.Enqueue(ctx, EnqueueRequest{
		EntityID:         event.EntityID,
		AnalysisType:     event.AnalysisType,
		Priority:         event.Priority,
		PreviousResultID: event.PreviousResultID,
	})
}

// PublishChange validates a data-change event and hands it to the queue.
func (s *JobsService) PublishChange(ctx context.Context, event domain.DataChangeEvent) (domain.DataChangeEvent, error) {
	if s.producer == nil {
		return domain.DataChangeEvent{}, ErrPublishingDisabled
	}
	event.EntityID = strings.TrimSpace(event.EntityID)
	if event.EntityID == "" {
		return domain.DataChangeEvent{}, fmt.Errorf("%w: entity_id is required", ErrInvalidRequest)
	}
	if !knownAnalysisType(event.AnalysisType) {
		return domain.DataChangeEvent{}, fmt.Errorf("%w: unknown analysis_type %q", ErrInvalidRequest, event.AnalysisType)
	}
	if _, err := domain.ParsePriority(event.Priority); err != nil {
		return domain.DataChangeEvent{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	event.Attempt = 0

	if err := s.producer.Publish(ctx, event); err != nil {
		return domain.DataChangeEvent{}, fmt.Errorf("publish data change: %w", err)
	}
	return event, nil
}

func (s *JobsService) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.repo.GetJob(ctx, jobID)
}

// ListJobs returns the newest jobs, optionally filtered by status.
func (s *JobsService) ListJobs(ctx context.Context, status string, limit int) ([]*domain.Job, error) {
	filter := domain.JobStatus(strings.ToLower(strings.TrimSpace(status)))
	if filter != "" && !filter.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListJobs(ctx, filter, limit)
}

func knownAnalysisType(value domain.AnalysisType) bool {
	for _, known := range domain.KnownAnalysisTypes() {
		if value == known {
			return true
		}
	}
	return false
}
