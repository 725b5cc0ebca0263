package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/risk-reanalysis/internal/domain"
)

type countRecord struct {
	Value int
}

type countResult struct {
	Total int `json:"total"`
}

func staticSource(records []countRecord, err error) SourceFunc[countRecord] {
	return func(_ context.Context, _ string) ([]countRecord, error) {
		return records, err
	}
}

func sumAnalyzer(records []countRecord) ([]countResult, error) {
	total := 0
	for _, record := range records {
		total += record.Value
	}
	return []countResult{{Total: total}}, nil
}

func measureTotals(results []countResult) domain.Metrics {
	metrics := domain.Metrics{Findings: len(results)}
	for _, result := range results {
		metrics.Benefit += float64(result.Total)
	}
	metrics.Confidence = 50
	return metrics
}

func TestBindRunsSourceAnalyzerAndMeasure(t *testing.T) {
	runner := Bind[countRecord, countResult](
		staticSource([]countRecord{{Value: 2}, {Value: 3}}, nil),
		sumAnalyzer,
		measureTotals,
	)

	outcome, err := runner.Run(context.Background(), "entity-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Metrics{Confidence: 50, Benefit: 5, Findings: 1}, outcome.Metrics)

	var decoded []countResult
	require.NoError(t, json.Unmarshal(outcome.Payload, &decoded))
	assert.Equal(t, []countResult{{Total: 5}}, decoded)
}

func TestBindReportsMissingRecords(t *testing.T) {
	runner := Bind[countRecord, countResult](staticSource(nil, nil), sumAnalyzer, measureTotals)

	_, err := runner.Run(context.Background(), "entity-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoRecords))
}

func TestBindWrapsSourceErrors(t *testing.T) {
	boom := errors.New("connection reset")
	runner := Bind[countRecord, countResult](staticSource(nil, boom), sumAnalyzer, measureTotals)

	_, err := runner.Run(context.Background(), "entity-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.False(t, errors.Is(err, ErrNoRecords))
}

func TestBindEncodesNilResultsAsEmptyList(t *testing.T) {
	runner := Bind[countRecord, countResult](
		staticSource([]countRecord{{Value: 1}}, nil),
		func([]countRecord) ([]countResult, error) { return nil, nil },
		measureTotals,
	)

	outcome, err := runner.Run(context.Background(), "entity-1")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(outcome.Payload))
}

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry()
	runner := Bind[countRecord, countResult](staticSource(nil, nil), sumAnalyzer, measureTotals)
	registry.Register(domain.AnalysisDeductions, runner)

	t.Run("returns registered runner", func(t *testing.T) {
		got, err := registry.Lookup(domain.AnalysisDeductions)
		require.NoError(t, err)
		assert.Same(t, runner, got)
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		_, err := registry.Lookup("payroll_tax")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnsupportedAnalysis))
		assert.Contains(t, err.Error(), "payroll_tax")
	})
}

func TestRegistryTypesAreSorted(t *testing.T) {
	registry := NewRegistry()
	registry.Register(domain.AnalysisTrustDistributions, nil)
	registry.Register(domain.AnalysisDeductions, nil)
	registry.Register(domain.AnalysisFuelTaxCredits, nil)

	assert.Equal(t, []domain.AnalysisType{
		domain.AnalysisDeductions,
		domain.AnalysisFuelTaxCredits,
		domain.AnalysisTrustDistributions,
	}, registry.Types())
}
