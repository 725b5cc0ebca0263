package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/iago/risk-reanalysis/internal/domain"
)

// ErrRejected marks a handler failure that no redelivery can fix. Consumers
// move such events to the dead-letter queue on the first attempt.
var ErrRejected = errors.New("event rejected")

// Reject wraps err so consumers dead-letter the event without retrying it.
func Reject(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrRejected, err)
}

// Producer publishes data-change events to a queue backend.
type Producer interface {
	Publish(ctx context.Context, event domain.DataChangeEvent) error
}

// Consumer receives data-change events and runs the handler on each one.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.DataChangeEvent) error) error
}
