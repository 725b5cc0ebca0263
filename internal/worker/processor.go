package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iago/risk-reanalysis/internal/domain"
	"github.com/iago/risk-reanalysis/internal/queue"
	"github.com/iago/risk-reanalysis/internal/service"
)

// EventEnqueuer turns a data-change event into a pending job.
type EventEnqueuer interface {
	EnqueueEvent(ctx context.Context, event domain.DataChangeEvent) (*domain.Job, error)
}

// TriggerConsumer reads data-change events from the queue and queues a
// re-analysis job for each one.
type TriggerConsumer struct {
	consumer     queue.Consumer
	enqueuer     EventEnqueuer
	restartDelay time.Duration
	log          zerolog.Logger
}

func NewTriggerConsumer(consumer queue.Consumer, enqueuer EventEnqueuer, log zerolog.Logger) *TriggerConsumer {
	return &TriggerConsumer{
		consumer:     consumer,
		enqueuer:     enqueuer,
		restartDelay: 2 * time.Second,
		log:          log.With().Str("component", "trigger_consumer").Logger(),
	}
}

// Start blocks until ctx is done, restarting the consume loop after backend
// errors.
func (c *TriggerConsumer) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := c.consumer.Consume(ctx, c.handle)
		if err == nil || ctx.Err() != nil {
			return
		}
		c.log.Error().Err(err).Msg("consume loop error")

		timer := time.NewTimer(c.restartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *TriggerConsumer) handle(ctx context.Context, event domain.DataChangeEvent) error {
	job, err := c.enqueuer.EnqueueEvent(ctx, event)
	if err != nil {
		err = fmt.Errorf("enqueue job for event %s: %w", event.EventID, err)
		if errors.Is(err, service.ErrInvalidRequest) {
			return queue.Reject(err)
		}
		return err
	}
	c.log.Info().
		Str("event_id", event.EventID).
		Str("source", event.Source).
		Str("job_id", job.ID).
		Str("entity_id", job.EntityID).
		Str("priority", job.Priority.String()).
		Msg("data change queued")
	return nil
}
