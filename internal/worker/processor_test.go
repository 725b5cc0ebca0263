package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/risk-reanalysis/internal/domain"
	"github.com/iago/risk-reanalysis/internal/queue"
	"github.com/iago/risk-reanalysis/internal/service"
)

type recordingEnqueuer struct {
	mu     sync.Mutex
	events []domain.DataChangeEvent
	err    error
}

func (e *recordingEnqueuer) EnqueueEvent(_ context.Context, event domain.DataChangeEvent) (*domain.Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	if e.err != nil {
		return nil, e.err
	}
	return &domain.Job{ID: "job-" + event.EventID, EntityID: event.EntityID}, nil
}

func (e *recordingEnqueuer) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

func TestTriggerConsumerQueuesJobsForEvents(t *testing.T) {
	local := queue.NewLocalQueue(8, 3, zerolog.Nop())
	enqueuer := &recordingEnqueuer{}
	consumer := NewTriggerConsumer(local, enqueuer, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumer.Start(ctx)
		close(done)
	}()

	for _, id := range []string{"e1", "e2"} {
		require.NoError(t, local.Publish(ctx, domain.DataChangeEvent{
			EventID:      id,
			EntityID:     "E",
			AnalysisType: domain.AnalysisTrustDistributions,
		}))
	}

	require.Eventually(t, func() bool { return enqueuer.count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

type flakyConsumer struct {
	mu    sync.Mutex
	calls int
}

func (c *flakyConsumer) Consume(ctx context.Context, _ func(context.Context, domain.DataChangeEvent) error) error {
	c.mu.Lock()
	c.calls++
	calls := c.calls
	c.mu.Unlock()
	if calls == 1 {
		return errors.New("connection reset")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestTriggerConsumerRestartsAfterBackendErrors(t *testing.T) {
	backend := &flakyConsumer{}
	consumer := NewTriggerConsumer(backend, &recordingEnqueuer{}, zerolog.Nop())
	consumer.restartDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumer.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.calls == 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestTriggerConsumerReturnsEnqueueErrors(t *testing.T) {
	consumer := NewTriggerConsumer(nil, &recordingEnqueuer{err: errors.New("database is locked")}, zerolog.Nop())

	err := consumer.handle(context.Background(), domain.DataChangeEvent{EventID: "e1"})
	assert.ErrorContains(t, err, "enqueue job for event e1")
	assert.NotErrorIs(t, err, queue.ErrRejected)
}

func TestTriggerConsumerRejectsInvalidEvents(t *testing.T) {
	invalid := fmt.Errorf("%w: entity_id is required", service.ErrInvalidRequest)
	consumer := NewTriggerConsumer(nil, &recordingEnqueuer{err: invalid}, zerolog.Nop())

	err := consumer.handle(context.Background(), domain.DataChangeEvent{EventID: "e1"})
	assert.ErrorIs(t, err, queue.ErrRejected)
	assert.ErrorIs(t, err, service.ErrInvalidRequest)
}

func TestTriggerConsumerDeadLettersInvalidEventsOnFirstAttempt(t *testing.T) {
	local := queue.NewLocalQueue(8, 5, zerolog.Nop())
	enqueuer := &recordingEnqueuer{err: fmt.Errorf("%w: unknown analysis_type", service.ErrInvalidRequest)}
	consumer := NewTriggerConsumer(local, enqueuer, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumer.Start(ctx)
		close(done)
	}()

	require.NoError(t, local.Publish(ctx, domain.DataChangeEvent{EventID: "e1", EntityID: "E", AnalysisType: "bogus"}))
	require.Eventually(t, func() bool { return local.DLQSize() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, enqueuer.count())

	cancel()
	<-done
}
