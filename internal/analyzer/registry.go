// Package analyzer defines the contract every re-analysis function satisfies
// and the static table the dispatcher uses to select one.
//
// An analyzer is a pure function over typed input records. It never touches
// the job store: records are fetched by the bound Source before the analyzer
// runs, and a Measure maps the analyzer's own result shape onto the uniform
// confidence/benefit/findings triple the comparator needs.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/iago/risk-reanalysis/internal/domain"
)

var (
	ErrUnsupportedAnalysis = errors.New("unsupported analysis type")
	ErrNoRecords           = errors.New("no input records found")
)

// Source returns the input records for one entity.
type Source[R any] interface {
	Records(ctx context.Context, entityID string) ([]R, error)
}

// SourceFunc adapts a plain function to Source.
type SourceFunc[R any] func(ctx context.Context, entityID string) ([]R, error)

func (f SourceFunc[R]) Records(ctx context.Context, entityID string) ([]R, error) {
	return f(ctx, entityID)
}

// Func is a pure analyzer. It may return several results, one per
// entity/period group found in the records.
type Func[R, T any] func(records []R) ([]T, error)

// Measure extracts the uniform metrics from an analyzer's results.
type Measure[T any] func(results []T) domain.Metrics

// Outcome is what a runner hands back to the dispatcher.
type Outcome struct {
	Metrics domain.Metrics
	Payload json.RawMessage
}

// Runner is a type-erased binding of source, analyzer and measure.
type Runner interface {
	Run(ctx context.Context, entityID string) (Outcome, error)
}

type binding[R, T any] struct {
	source  Source[R]
	analyze Func[R, T]
	measure Measure[T]
}

// Bind ties a record source, a pure analyzer and its metric mapping together.
func Bind[R, T any](source Source[R], analyze Func[R, T], measure Measure[T]) Runner {
	return &binding[R, T]{source: source, analyze: analyze, measure: measure}
}

func (b *binding[R, T]) Run(ctx context.Context, entityID string) (Outcome, error) {
	records, err := b.source.Records(ctx, entityID)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch records for entity %s: %w", entityID, err)
	}
	if len(records) == 0 {
		return Outcome{}, fmt.Errorf("%w for entity %s", ErrNoRecords, entityID)
	}

	results, err := b.analyze(records)
	if err != nil {
		return Outcome{}, fmt.Errorf("analyze entity %s: %w", entityID, err)
	}
	if results == nil {
		results = []T{}
	}

	payload, err := json.Marshal(results)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode results: %w", err)
	}
	return Outcome{Metrics: b.measure(results), Payload: payload}, nil
}

// Registry maps analysis types to runners. It is filled once at startup.
type Registry struct {
	mu      sync.RWMutex
	runners map[domain.AnalysisType]Runner
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[domain.AnalysisType]Runner)}
}

// Register adds or replaces the runner for an analysis type.
func (r *Registry) Register(analysisType domain.AnalysisType, runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[analysisType] = runner
}

// Lookup returns the runner for an analysis type or ErrUnsupportedAnalysis.
func (r *Registry) Lookup(analysisType domain.AnalysisType) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runner, ok := r.runners[analysisType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAnalysis, analysisType)
	}
	return runner, nil
}

// Types returns the registered analysis types in lexical order.
func (r *Registry) Types() []domain.AnalysisType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]domain.AnalysisType, 0, len(r.runners))
	for analysisType := range r.runners {
		types = append(types, analysisType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
