package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/risk-reanalysis/internal/domain"
)

func queuedEvent(id string) domain.DataChangeEvent {
	return domain.DataChangeEvent{EventID: id, EntityID: "E", AnalysisType: domain.AnalysisTrustDistributions}
}

func TestLocalQueueDeliversEvents(t *testing.T) {
	q := NewLocalQueue(4, 3, zerolog.Nop())
	require.NoError(t, q.Publish(context.Background(), queuedEvent("one")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	received := make(chan domain.DataChangeEvent, 1)
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, event domain.DataChangeEvent) error {
			received <- event
			return nil
		})
	}()

	select {
	case event := <-received:
		assert.Equal(t, "one", event.EventID)
	case <-ctx.Done():
		t.Fatal("event was not delivered")
	}
}

func TestLocalQueueMovesFailingEventsToDLQ(t *testing.T) {
	q := NewLocalQueue(4, 2, zerolog.Nop())
	q.retryDelay = time.Millisecond
	require.NoError(t, q.Publish(context.Background(), queuedEvent("bad")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, func(context.Context, domain.DataChangeEvent) error {
			calls.Add(1)
			return errors.New("boom")
		})
	}()

	require.Eventually(t, func() bool { return q.DLQSize() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestLocalQueueDeadLettersRejectedEventsImmediately(t *testing.T) {
	q := NewLocalQueue(4, 5, zerolog.Nop())
	q.retryDelay = time.Millisecond
	require.NoError(t, q.Publish(context.Background(), queuedEvent("invalid")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go func() {
		_ = q.Consume(ctx, func(context.Context, domain.DataChangeEvent) error {
			calls.Add(1)
			return Reject(errors.New("unknown analysis type"))
		})
	}()

	require.Eventually(t, func() bool { return q.DLQSize() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRejectKeepsCause(t *testing.T) {
	cause := errors.New("unknown analysis type")
	err := Reject(cause)
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, cause)
	assert.NoError(t, Reject(nil))
}

func TestParseStreamEvent(t *testing.T) {
	occurred := time.Date(2024, 8, 1, 10, 30, 0, 0, time.UTC)
	event := domain.DataChangeEvent{
		EventID:          "evt-1",
		EntityID:         "E",
		AnalysisType:     domain.AnalysisTrustDistributions,
		Priority:         "high",
		PreviousResultID: "result-1",
		Source:           "ledger-sync",
		Attempt:          1,
		OccurredAt:       occurred,
	}
	values := eventValues(event)
	values["attempt"] = "1"

	parsed, err := parseStreamEvent(redis.XMessage{ID: "1-0", Values: values})
	require.NoError(t, err)
	assert.Equal(t, event, parsed)
}

func TestParseStreamEventRequiresEntity(t *testing.T) {
	_, err := parseStreamEvent(redis.XMessage{ID: "1-0", Values: map[string]any{"analysis_type": "deductions"}})
	assert.ErrorContains(t, err, "entity_id")

	_, err = parseStreamEvent(redis.XMessage{ID: "1-0", Values: map[string]any{
		"entity_id":     "E",
		"analysis_type": "deductions",
		"attempt":       "x",
	}})
	assert.ErrorContains(t, err, "invalid attempt")
}
