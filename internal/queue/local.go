package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iago/risk-reanalysis/internal/domain"
)

// LocalQueue is the in-process fallback used when Redis is not configured.
type LocalQueue struct {
	ch          chan domain.DataChangeEvent
	maxAttempts int
	retryDelay  time.Duration
	log         zerolog.Logger

	dlqMu sync.Mutex
	dlq   []domain.DataChangeEvent
}

func NewLocalQueue(bufferSize, maxAttempts int, log zerolog.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &LocalQueue{
		ch:          make(chan domain.DataChangeEvent, bufferSize),
		maxAttempts: maxAttempts,
		retryDelay:  500 * time.Millisecond,
		log:         log.With().Str("component", "local_queue").Logger(),
		dlq:         make([]domain.DataChangeEvent, 0),
	}
}

func (q *LocalQueue) Publish(ctx context.Context, event domain.DataChangeEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- event:
		return nil
	}
}

func (q *LocalQueue) PublishBatch(ctx context.Context, events []domain.DataChangeEvent) error {
	for _, event := range events {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case q.ch <- event:
		}
	}
	return nil
}

func (q *LocalQueue) Consume(ctx context.Context, handler func(context.Context, domain.DataChangeEvent) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-q.ch:
			err := handler(ctx, event)
			if err == nil {
				continue
			}

			event.Attempt++
			if errors.Is(err, ErrRejected) || event.Attempt >= q.maxAttempts {
				q.dlqMu.Lock()
				q.dlq = append(q.dlq, event)
				q.dlqMu.Unlock()
				q.log.Warn().
					Err(err).
					Str("event_id", event.EventID).
					Str("entity_id", event.EntityID).
					Msg("moved event to DLQ")
				continue
			}

			delay := time.Duration(event.Attempt) * q.retryDelay
			go func(retry domain.DataChangeEvent) {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
					select {
					case q.ch <- retry:
					case <-ctx.Done():
					}
				}
			}(event)
		}
	}
}

func (q *LocalQueue) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}
