package repository

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/risk-reanalysis/internal/domain"
)

type store interface {
	JobsRepository
	ResultsRepository
}

type memoryStore struct {
	*MemoryJobsRepository
	*MemoryResultsRepository
}

func stores(t *testing.T) map[string]store {
	t.Helper()

	sqlite, err := NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]store{
		"memory": memoryStore{NewMemoryJobsRepository(), NewMemoryResultsRepository()},
		"sqlite": sqlite,
	}
}

var base = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

func newJob(id string, priority domain.Priority, offset time.Duration) *domain.Job {
	return &domain.Job{
		ID:           id,
		EntityID:     "entity-" + id,
		AnalysisType: domain.AnalysisTrustDistributions,
		Priority:     priority,
		Status:       domain.JobStatusPending,
		MaxRetries:   3,
		CreatedAt:    base.Add(offset),
	}
}

func TestFetchPendingOrdersByPriorityThenAge(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.CreateJob(ctx, newJob("low-old", domain.PriorityLow, 0)))
			require.NoError(t, repo.CreateJob(ctx, newJob("critical-new", domain.PriorityCritical, 2*time.Minute)))
			require.NoError(t, repo.CreateJob(ctx, newJob("critical-old", domain.PriorityCritical, time.Minute)))
			require.NoError(t, repo.CreateJob(ctx, newJob("medium", domain.PriorityMedium, 0)))
			done := newJob("done", domain.PriorityCritical, 0)
			done.Status = domain.JobStatusCompleted
			require.NoError(t, repo.CreateJob(ctx, done))

			jobs, err := repo.FetchPending(ctx, 10)
			require.NoError(t, err)

			ids := make([]string, 0, len(jobs))
			for _, job := range jobs {
				ids = append(ids, job.ID)
			}
			assert.Equal(t, []string{"critical-old", "critical-new", "medium", "low-old"}, ids)

			limited, err := repo.FetchPending(ctx, 2)
			require.NoError(t, err)
			assert.Len(t, limited, 2)
		})
	}
}

func TestClaimJobIsExclusive(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.CreateJob(ctx, newJob("job-1", domain.PriorityHigh, 0)))

			var (
				wg   sync.WaitGroup
				wins atomic.Int32
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					claimed, err := repo.ClaimJob(ctx, "job-1", base.Add(time.Hour))
					assert.NoError(t, err)
					if claimed {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), wins.Load())
			job, err := repo.GetJob(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, domain.JobStatusProcessing, job.Status)
			require.NotNil(t, job.StartedAt)
			assert.True(t, job.StartedAt.Equal(base.Add(time.Hour)))
		})
	}
}

func TestUpdateJobRoundTripsOutcome(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := newJob("job-1", domain.PriorityMedium, 0)
			require.NoError(t, repo.CreateJob(ctx, job))

			completed := base.Add(time.Minute)
			job.Status = domain.JobStatusCompleted
			job.ResultID = "result-1"
			job.CompletedAt = &completed
			job.ImprovementSummary = &domain.ImprovementSummary{
				ConfidenceAfter:     80,
				NewFindingsCount:    3,
				AdditionalBenefit:   500,
				DataQualityImproved: true,
			}
			require.NoError(t, repo.UpdateJob(ctx, job))

			stored, err := repo.GetJob(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, domain.JobStatusCompleted, stored.Status)
			assert.Equal(t, "result-1", stored.ResultID)
			assert.Equal(t, job.ImprovementSummary, stored.ImprovementSummary)
			require.NotNil(t, stored.CompletedAt)
			assert.True(t, stored.CompletedAt.Equal(completed))
			assert.True(t, stored.CreatedAt.Equal(base))
		})
	}
}

func TestMissingRecordsReturnNotFound(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := repo.GetJob(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			err = repo.UpdateJob(ctx, newJob("missing", domain.PriorityLow, 0))
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = repo.GetResult(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestListJobsFiltersByStatus(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			failed := newJob("failed", domain.PriorityLow, time.Minute)
			failed.Status = domain.JobStatusFailed
			failed.ErrorMessage = "boom"
			require.NoError(t, repo.CreateJob(ctx, failed))
			require.NoError(t, repo.CreateJob(ctx, newJob("pending", domain.PriorityLow, 2*time.Minute)))

			all, err := repo.ListJobs(ctx, "", 0)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "pending", all[0].ID)

			onlyFailed, err := repo.ListJobs(ctx, domain.JobStatusFailed, 10)
			require.NoError(t, err)
			require.Len(t, onlyFailed, 1)
			assert.Equal(t, "boom", onlyFailed[0].ErrorMessage)
		})
	}
}

func TestRequeueStuckJobs(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.CreateJob(ctx, newJob("stale", domain.PriorityLow, 0)))
			require.NoError(t, repo.CreateJob(ctx, newJob("fresh", domain.PriorityLow, 0)))

			_, err := repo.ClaimJob(ctx, "stale", base)
			require.NoError(t, err)
			_, err = repo.ClaimJob(ctx, "fresh", base.Add(time.Hour))
			require.NoError(t, err)

			moved, err := repo.RequeueStuck(ctx, base.Add(30*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 1, moved)

			stale, err := repo.GetJob(ctx, "stale")
			require.NoError(t, err)
			assert.Equal(t, domain.JobStatusPending, stale.Status)
			assert.Nil(t, stale.StartedAt)

			fresh, err := repo.GetJob(ctx, "fresh")
			require.NoError(t, err)
			assert.Equal(t, domain.JobStatusProcessing, fresh.Status)
		})
	}
}

func TestResultsRoundTrip(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			result := &domain.StoredResult{
				ID:           "result-1",
				JobID:        "job-1",
				EntityID:     "E",
				AnalysisType: domain.AnalysisTrustDistributions,
				Metrics:      domain.Metrics{Confidence: 92.5, Benefit: 1200, Findings: 4},
				Payload:      json.RawMessage(`[{"entity_id":"E"}]`),
				CreatedAt:    base,
			}
			require.NoError(t, repo.SaveResult(ctx, result))

			stored, err := repo.GetResult(ctx, "result-1")
			require.NoError(t, err)
			assert.Equal(t, result.Metrics, stored.Metrics)
			assert.JSONEq(t, string(result.Payload), string(stored.Payload))
			assert.True(t, stored.CreatedAt.Equal(base))
		})
	}
}

func TestMemoryRepositoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobsRepository()
	require.NoError(t, repo.CreateJob(ctx, newJob("job-1", domain.PriorityLow, 0)))

	job, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	job.Status = domain.JobStatusFailed

	again, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, again.Status)
}

func TestMemoryDistributionSource(t *testing.T) {
	source := NewMemoryDistributionSource()
	source.Add(
		domain.DistributionRecord{EntityID: "E", CounterpartyID: "a"},
		domain.DistributionRecord{EntityID: "E", CounterpartyID: "b"},
		domain.DistributionRecord{EntityID: "F", CounterpartyID: "c"},
	)

	records, err := source.Records(context.Background(), "E")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	none, err := source.Records(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteDistributionRecords(t *testing.T) {
	sqlite, err := NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	record := domain.DistributionRecord{
		EntityID:              "E",
		EntityName:            "Example Family Trust",
		CounterpartyID:        "a",
		CounterpartyName:      "Alex Example",
		CounterpartyType:      domain.CounterpartyIndividual,
		Amount:                12_500.5,
		PaymentForm:           domain.PaymentUnpaidEntitlement,
		Period:                "FY24",
		NonResident:           true,
		FamilyMember:          true,
		UnpaidBalance:         12_500.5,
		UnpaidBalanceAgeYears: 2.5,
	}
	paid := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	second := record
	second.CounterpartyID = "b"
	second.PaymentDate = &paid
	other := record
	other.EntityID = "F"
	require.NoError(t, sqlite.AddRecords(context.Background(), record, second, other))

	records, err := sqlite.Records(context.Background(), "E")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, record, records[0])
	assert.Equal(t, "b", records[1].CounterpartyID)
	require.NotNil(t, records[1].PaymentDate)
	assert.Equal(t, paid, *records[1].PaymentDate)
	assert.Nil(t, records[0].PaymentDate)

	none, err := sqlite.Records(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}
