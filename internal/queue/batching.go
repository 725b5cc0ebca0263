package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/iago/risk-reanalysis/internal/domain"
)

var (
	ErrQueueBackpressure = errors.New("queue backpressure: publish buffer is full")
	ErrBatchingClosed    = errors.New("batching producer is closed")
)

type BatchingConfig struct {
	// MaxBatchSize caps the distinct (entity, analysis type) pairs per flush.
	MaxBatchSize       int
	FlushInterval      time.Duration
	FlushTimeout       time.Duration
	QueueCapacity      int
	MaxInFlightBatches int
}

type batchCapableProducer interface {
	PublishBatch(ctx context.Context, events []domain.DataChangeEvent) error
}

type publishRequest struct {
	ctx    context.Context
	event  domain.DataChangeEvent
	result chan error
}

// pendingChange is one coalesced event and every caller waiting on it.
type pendingChange struct {
	event   domain.DataChangeEvent
	waiters []publishRequest
}

// merge folds a later change for the same entity and analysis type into p.
// The most urgent priority wins, OccurredAt moves forward, and a non-empty
// PreviousResultID or Source replaces the earlier one.
func (p *pendingChange) merge(next domain.DataChangeEvent) {
	if priorityRank(next.Priority) < priorityRank(p.event.Priority) {
		p.event.Priority = next.Priority
	}
	if next.OccurredAt.After(p.event.OccurredAt) {
		p.event.OccurredAt = next.OccurredAt
	}
	if next.PreviousResultID != "" {
		p.event.PreviousResultID = next.PreviousResultID
	}
	if next.Source != "" {
		p.event.Source = next.Source
	}
}

// changeWindow collects changes between two flushes in arrival order.
type changeWindow struct {
	order   []string
	changes map[string]*pendingChange
}

func newChangeWindow() *changeWindow {
	return &changeWindow{changes: make(map[string]*pendingChange)}
}

func (w *changeWindow) add(request publishRequest) {
	key := coalesceKey(request.event)
	if change, ok := w.changes[key]; ok {
		change.merge(request.event)
		change.waiters = append(change.waiters, request)
		return
	}
	w.order = append(w.order, key)
	w.changes[key] = &pendingChange{event: request.event, waiters: []publishRequest{request}}
}

func (w *changeWindow) size() int { return len(w.order) }

// drain returns the pending changes in arrival order and resets the window.
func (w *changeWindow) drain() []*pendingChange {
	drained := make([]*pendingChange, 0, len(w.order))
	for _, key := range w.order {
		drained = append(drained, w.changes[key])
	}
	w.order = nil
	w.changes = make(map[string]*pendingChange)
	return drained
}

// BatchingProducer collapses bursts of data changes for the same entity and
// analysis type into one event and writes each window to the backend in one
// call. New events are rejected once its buffer is full.
type BatchingProducer struct {
	base        Producer
	batchWriter batchCapableProducer

	in         chan publishRequest
	inFlight   chan struct{}
	flushes    sync.WaitGroup
	stop       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	config     BatchingConfig
	parentDone <-chan struct{}
}

func NewBatchingProducer(parent context.Context, base Producer, cfg BatchingConfig) *BatchingProducer {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 32
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 25 * time.Millisecond
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 3 * time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 2048
	}
	if cfg.MaxInFlightBatches <= 0 {
		cfg.MaxInFlightBatches = 4
	}

	producer := &BatchingProducer{
		base:       base,
		in:         make(chan publishRequest, cfg.QueueCapacity),
		inFlight:   make(chan struct{}, cfg.MaxInFlightBatches),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		config:     cfg,
		parentDone: parent.Done(),
	}
	if writer, ok := base.(batchCapableProducer); ok {
		producer.batchWriter = writer
	}

	go producer.run()
	return producer
}

// Publish hands the event to the current window and waits for the backend
// write that carries it, possibly merged with other events.
func (b *BatchingProducer) Publish(ctx context.Context, event domain.DataChangeEvent) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	request := publishRequest{ctx: ctx, event: event, result: make(chan error, 1)}
	select {
	case <-b.done:
		return ErrBatchingClosed
	case b.in <- request:
	default:
		return ErrQueueBackpressure
	}

	select {
	case err := <-request.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		select {
		case err := <-request.result:
			return err
		default:
			return ErrBatchingClosed
		}
	}
}

// Close flushes the open window and waits for in-flight writes.
func (b *BatchingProducer) Close() {
	b.closeOnce.Do(func() {
		close(b.stop)
		<-b.done
	})
}

func (b *BatchingProducer) run() {
	defer close(b.done)

	window := newChangeWindow()
	var flushDue <-chan time.Time

	for {
		select {
		case <-b.parentDone:
			b.shutdown(window)
			return
		case <-b.stop:
			b.shutdown(window)
			return
		case <-flushDue:
			flushDue = nil
			b.dispatch(window.drain(), false)
		case request := <-b.in:
			if err := request.ctx.Err(); err != nil {
				request.result <- err
				continue
			}
			window.add(request)
			if window.size() >= b.config.MaxBatchSize {
				flushDue = nil
				b.dispatch(window.drain(), false)
			} else if flushDue == nil {
				flushDue = time.After(b.config.FlushInterval)
			}
		}
	}
}

// shutdown takes whatever is still buffered, writes it without a deadline and
// waits for every outstanding write.
func (b *BatchingProducer) shutdown(window *changeWindow) {
	for drained := false; !drained; {
		select {
		case request := <-b.in:
			window.add(request)
		default:
			drained = true
		}
	}
	b.dispatch(window.drain(), true)
	b.flushes.Wait()
}

// dispatch waits for an in-flight slot, then writes the batch asynchronously.
// While every slot is taken the run loop stalls and the input buffer fills,
// so new publishes get ErrQueueBackpressure.
func (b *BatchingProducer) dispatch(changes []*pendingChange, final bool) {
	if len(changes) == 0 {
		return
	}
	b.inFlight <- struct{}{}
	b.flushes.Add(1)
	go func() {
		defer func() {
			<-b.inFlight
			b.flushes.Done()
		}()
		b.write(changes, final)
	}()
}

func (b *BatchingProducer) write(changes []*pendingChange, final bool) {
	live := make([]*pendingChange, 0, len(changes))
	for _, change := range changes {
		waiting := change.waiters[:0]
		for _, request := range change.waiters {
			if err := request.ctx.Err(); err != nil {
				request.result <- err
				continue
			}
			waiting = append(waiting, request)
		}
		if len(waiting) > 0 {
			change.waiters = waiting
			live = append(live, change)
		}
	}
	if len(live) == 0 {
		return
	}

	ctx := context.Background()
	if !final {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.FlushTimeout)
		defer cancel()
	}

	events := make([]domain.DataChangeEvent, 0, len(live))
	for _, change := range live {
		events = append(events, change.event)
	}

	var err error
	if b.batchWriter != nil {
		err = b.batchWriter.PublishBatch(ctx, events)
	} else {
		for _, event := range events {
			if err = b.base.Publish(ctx, event); err != nil {
				break
			}
		}
	}

	for _, change := range live {
		for _, request := range change.waiters {
			request.result <- err
		}
	}
}

func coalesceKey(event domain.DataChangeEvent) string {
	return event.EntityID + "|" + string(event.AnalysisType)
}

// priorityRank orders priority labels like domain.Priority. Labels that do
// not parse rank last so they never override a valid one.
func priorityRank(label string) int {
	priority, err := domain.ParsePriority(label)
	if err != nil {
		return int(domain.PriorityLow) + 1
	}
	return int(priority)
}
