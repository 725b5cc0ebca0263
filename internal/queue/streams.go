package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iago/risk-reanalysis/internal/domain"
)

type StreamsConfig struct {
	Addr        string
	Password    string
	DB          int
	Stream      string
	DLQStream   string
	Group       string
	Consumer    string
	MaxAttempts int
}

// StreamsQueue implements Producer and Consumer on top of Redis Streams.
type StreamsQueue struct {
	client      *redis.Client
	stream      string
	dlqStream   string
	group       string
	consumer    string
	maxAttempts int
	log         zerolog.Logger
}

func NewStreamsQueue(ctx context.Context, cfg StreamsConfig, log zerolog.Logger) (*StreamsQueue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	queue, err := NewStreamsQueueWithClient(ctx, client, cfg, log)
	if err != nil {
		client.Close()
		return nil, err
	}
	return queue, nil
}

// NewStreamsQueueWithClient wraps an existing client and makes sure the
// consumer group exists.
func NewStreamsQueueWithClient(ctx context.Context, client *redis.Client, cfg StreamsConfig, log zerolog.Logger) (*StreamsQueue, error) {
	if cfg.Stream == "" {
		cfg.Stream = "risk_data_changes"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = "risk_data_changes_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "risk_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	queue := &StreamsQueue{
		client:      client,
		stream:      cfg.Stream,
		dlqStream:   cfg.DLQStream,
		group:       cfg.Group,
		consumer:    cfg.Consumer,
		maxAttempts: cfg.MaxAttempts,
		log:         log.With().Str("component", "streams_queue").Logger(),
	}
	if err := queue.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return queue, nil
}

func (q *StreamsQueue) Close() error {
	return q.client.Close()
}

func (q *StreamsQueue) Publish(ctx context.Context, event domain.DataChangeEvent) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: eventValues(event),
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) PublishBatch(ctx context.Context, events []domain.DataChangeEvent) error {
	if len(events) == 0 {
		return nil
	}

	pipeline := q.client.Pipeline()
	for _, event := range events {
		pipeline.XAdd(ctx, &redis.XAddArgs{
			Stream: q.stream,
			Values: eventValues(event),
		})
	}
	if _, err := pipeline.Exec(ctx); err != nil {
		return fmt.Errorf("publish batch to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Consume(ctx context.Context, handler func(context.Context, domain.DataChangeEvent) error) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				q.handle(ctx, item, handler)
			}
		}
	}
}

func (q *StreamsQueue) handle(ctx context.Context, item redis.XMessage, handler func(context.Context, domain.DataChangeEvent) error) {
	event, parseErr := parseStreamEvent(item)
	if parseErr != nil {
		q.deadLetter(ctx, domain.DataChangeEvent{}, item, parseErr.Error())
		q.ackAndDelete(ctx, item.ID)
		return
	}

	handleErr := handler(ctx, event)
	if handleErr == nil {
		q.ackAndDelete(ctx, item.ID)
		return
	}

	event.Attempt++
	if errors.Is(handleErr, ErrRejected) || event.Attempt >= q.maxAttempts {
		q.deadLetter(ctx, event, item, handleErr.Error())
		q.ackAndDelete(ctx, item.ID)
		return
	}

	if err := q.Publish(ctx, event); err != nil {
		q.deadLetter(ctx, event, item, fmt.Sprintf("requeue failed: %v", err))
	}
	q.ackAndDelete(ctx, item.ID)
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) {
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		q.log.Error().Err(err).Str("stream_id", streamID).Msg("xack failed")
		return
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		q.log.Error().Err(err).Str("stream_id", streamID).Msg("xdel failed")
	}
}

func (q *StreamsQueue) deadLetter(ctx context.Context, event domain.DataChangeEvent, item redis.XMessage, reason string) {
	values := eventValues(event)
	values["stream_id"] = item.ID
	values["error"] = reason
	values["moved_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: values}).Result(); err != nil {
		q.log.Error().Err(err).Str("stream_id", item.ID).Msg("send to dlq failed")
		return
	}
	q.log.Warn().Str("stream_id", item.ID).Str("reason", reason).Msg("moved event to DLQ")
}

func eventValues(event domain.DataChangeEvent) map[string]any {
	return map[string]any{
		"event_id":           event.EventID,
		"entity_id":          event.EntityID,
		"analysis_type":      string(event.AnalysisType),
		"priority":           event.Priority,
		"previous_result_id": event.PreviousResultID,
		"source":             event.Source,
		"attempt":            event.Attempt,
		"occurred_at":        event.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
}

func parseStreamEvent(item redis.XMessage) (domain.DataChangeEvent, error) {
	getString := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}
	optional := func(key string) string {
		value, _ := getString(key)
		return value
	}

	entityID, err := getString("entity_id")
	if err != nil {
		return domain.DataChangeEvent{}, err
	}
	analysisType, err := getString("analysis_type")
	if err != nil {
		return domain.DataChangeEvent{}, err
	}

	attempt := 0
	if raw := optional("attempt"); raw != "" {
		attempt, err = strconv.Atoi(raw)
		if err != nil {
			return domain.DataChangeEvent{}, fmt.Errorf("invalid attempt: %w", err)
		}
	}

	var occurredAt time.Time
	if raw := optional("occurred_at"); raw != "" {
		occurredAt, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return domain.DataChangeEvent{}, fmt.Errorf("invalid occurred_at: %w", err)
		}
	}

	return domain.DataChangeEvent{
		EventID:          optional("event_id"),
		EntityID:         entityID,
		AnalysisType:     domain.AnalysisType(analysisType),
		Priority:         optional("priority"),
		PreviousResultID: optional("previous_result_id"),
		Source:           optional("source"),
		Attempt:          attempt,
		OccurredAt:       occurredAt,
	}, nil
}
