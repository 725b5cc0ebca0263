package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iago/risk-reanalysis/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                  TEXT PRIMARY KEY,
	entity_id           TEXT NOT NULL,
	analysis_type       TEXT NOT NULL,
	priority            SMALLINT NOT NULL,
	status              TEXT NOT NULL,
	previous_result_id  TEXT NOT NULL DEFAULT '',
	result_id           TEXT NOT NULL DEFAULT '',
	retry_count         INTEGER NOT NULL DEFAULT 0,
	max_retries         INTEGER NOT NULL DEFAULT 3,
	created_at          TIMESTAMPTZ NOT NULL,
	started_at          TIMESTAMPTZ,
	completed_at        TIMESTAMPTZ,
	last_retry_at       TIMESTAMPTZ,
	error_message       TEXT NOT NULL DEFAULT '',
	improvement_summary JSONB
);
CREATE INDEX IF NOT EXISTS jobs_queue_idx ON jobs (status, priority, created_at);

CREATE TABLE IF NOT EXISTS analysis_results (
	id            TEXT PRIMARY KEY,
	job_id        TEXT NOT NULL,
	entity_id     TEXT NOT NULL,
	analysis_type TEXT NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	benefit       DOUBLE PRECISION NOT NULL,
	findings      INTEGER NOT NULL,
	payload       JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS distribution_records (
	id                       BIGSERIAL PRIMARY KEY,
	entity_id                TEXT NOT NULL,
	entity_name              TEXT NOT NULL DEFAULT '',
	counterparty_id          TEXT NOT NULL,
	counterparty_name        TEXT NOT NULL DEFAULT '',
	counterparty_type        TEXT NOT NULL DEFAULT 'unknown',
	amount                   DOUBLE PRECISION NOT NULL,
	payment_form             TEXT NOT NULL,
	period                   TEXT NOT NULL,
	non_resident             BOOLEAN NOT NULL DEFAULT FALSE,
	minor                    BOOLEAN NOT NULL DEFAULT FALSE,
	related_party            BOOLEAN NOT NULL DEFAULT FALSE,
	family_member            BOOLEAN NOT NULL DEFAULT FALSE,
	reimbursement_pattern    BOOLEAN NOT NULL DEFAULT FALSE,
	unpaid_balance           DOUBLE PRECISION NOT NULL DEFAULT 0,
	unpaid_balance_age_years DOUBLE PRECISION NOT NULL DEFAULT 0,
	payment_date             DATE
);
CREATE INDEX IF NOT EXISTS distribution_records_entity_idx ON distribution_records (entity_id);
`

const postgresJobColumns = `id, entity_id, analysis_type, priority, status, previous_result_id, result_id,
	retry_count, max_retries, created_at, started_at, completed_at, last_retry_at,
	error_message, improvement_summary`

// PostgresStore persists jobs, results and distribution input records.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Migrate creates the tables when they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply pg schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *domain.Job) error {
	summary, err := encodeSummary(job.ImprovementSummary)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (`+postgresJobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		job.ID,
		job.EntityID,
		string(job.AnalysisType),
		int(job.Priority),
		string(job.Status),
		job.PreviousResultID,
		job.ResultID,
		job.RetryCount,
		job.MaxRetries,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.LastRetryAt,
		job.ErrorMessage,
		summary,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *domain.Job) error {
	summary, err := encodeSummary(job.ImprovementSummary)
	if err != nil {
		return err
	}
	command, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2,
			result_id = $3,
			retry_count = $4,
			max_retries = $5,
			started_at = $6,
			completed_at = $7,
			last_retry_at = $8,
			error_message = $9,
			improvement_summary = $10
		WHERE id = $1
	`,
		job.ID,
		string(job.Status),
		job.ResultID,
		job.RetryCount,
		job.MaxRetries,
		job.StartedAt,
		job.CompletedAt,
		job.LastRetryAt,
		job.ErrorMessage,
		summary,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postgresJobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) FetchPending(ctx context.Context, limit int) ([]*domain.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+postgresJobColumns+`
		FROM jobs
		WHERE status = 'pending'
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT $1
	`, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("fetch pending jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *PostgresStore) ClaimJob(ctx context.Context, jobID string, startedAt time.Time) (bool, error) {
	command, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'processing', started_at = $2
		WHERE id = $1 AND status = 'pending'
	`, jobID, startedAt)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return command.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+postgresJobColumns+`
		FROM jobs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id ASC
		LIMIT $2
	`, string(status), limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *PostgresStore) RequeueStuck(ctx context.Context, startedBefore time.Time) (int, error) {
	command, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'pending', started_at = NULL
		WHERE status = 'processing' AND started_at < $1
	`, startedBefore)
	if err != nil {
		return 0, fmt.Errorf("requeue stuck jobs: %w", err)
	}
	return int(command.RowsAffected()), nil
}

func (s *PostgresStore) SaveResult(ctx context.Context, result *domain.StoredResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO analysis_results (id, job_id, entity_id, analysis_type, confidence, benefit, findings, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		result.ID,
		result.JobID,
		result.EntityID,
		string(result.AnalysisType),
		result.Metrics.Confidence,
		result.Metrics.Benefit,
		result.Metrics.Findings,
		payloadOrEmpty(result.Payload),
		result.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetResult(ctx context.Context, resultID string) (*domain.StoredResult, error) {
	var (
		result       domain.StoredResult
		analysisType string
		payload      []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, job_id, entity_id, analysis_type, confidence, benefit, findings, payload, created_at
		FROM analysis_results
		WHERE id = $1
	`, resultID).Scan(
		&result.ID,
		&result.JobID,
		&result.EntityID,
		&analysisType,
		&result.Metrics.Confidence,
		&result.Metrics.Benefit,
		&result.Metrics.Findings,
		&payload,
		&result.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query result: %w", err)
	}
	result.AnalysisType = domain.AnalysisType(analysisType)
	result.Payload = json.RawMessage(payload)
	return &result, nil
}

// Records loads the distribution records of one entity. It satisfies
// analyzer.Source[domain.DistributionRecord].
func (s *PostgresStore) Records(ctx context.Context, entityID string) ([]domain.DistributionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entity_id, entity_name, counterparty_id, counterparty_name, counterparty_type,
			amount, payment_form, period, non_resident, minor, related_party, family_member,
			reimbursement_pattern, unpaid_balance, unpaid_balance_age_years, payment_date
		FROM distribution_records
		WHERE entity_id = $1
		ORDER BY id ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("query distribution records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.DistributionRecord, 0)
	for rows.Next() {
		var (
			record           domain.DistributionRecord
			counterpartyType string
			paymentForm      string
		)
		if err := rows.Scan(
			&record.EntityID,
			&record.EntityName,
			&record.CounterpartyID,
			&record.CounterpartyName,
			&counterpartyType,
			&record.Amount,
			&paymentForm,
			&record.Period,
			&record.NonResident,
			&record.Minor,
			&record.RelatedParty,
			&record.FamilyMember,
			&record.ReimbursementPattern,
			&record.UnpaidBalance,
			&record.UnpaidBalanceAgeYears,
			&record.PaymentDate,
		); err != nil {
			return nil, fmt.Errorf("scan distribution record: %w", err)
		}
		record.CounterpartyType = domain.CounterpartyType(counterpartyType)
		record.PaymentForm = domain.PaymentForm(paymentForm)
		records = append(records, record)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate distribution records: %w", rows.Err())
	}
	return records, nil
}

// AddRecords bulk-loads distribution input records with COPY.
func (s *PostgresStore) AddRecords(ctx context.Context, records ...domain.DistributionRecord) error {
	rows := make([][]any, 0, len(records))
	for _, record := range records {
		rows = append(rows, []any{
			record.EntityID,
			record.EntityName,
			record.CounterpartyID,
			record.CounterpartyName,
			string(record.CounterpartyType),
			record.Amount,
			string(record.PaymentForm),
			record.Period,
			record.NonResident,
			record.Minor,
			record.RelatedParty,
			record.FamilyMember,
			record.ReimbursementPattern,
			record.UnpaidBalance,
			record.UnpaidBalanceAgeYears,
			record.PaymentDate,
		})
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"distribution_records"},
		[]string{
			"entity_id", "entity_name", "counterparty_id", "counterparty_name", "counterparty_type",
			"amount", "payment_form", "period", "non_resident", "minor", "related_party", "family_member",
			"reimbursement_pattern", "unpaid_balance", "unpaid_balance_age_years", "payment_date",
		},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy distribution records: %w", err)
	}
	return nil
}

func collectJobs(rows pgx.Rows) ([]*domain.Job, error) {
	defer rows.Close()

	jobs := make([]*domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate jobs: %w", rows.Err())
	}
	return jobs, nil
}

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job          domain.Job
		analysisType string
		priority     int
		status       string
		summary      []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.EntityID,
		&analysisType,
		&priority,
		&status,
		&job.PreviousResultID,
		&job.ResultID,
		&job.RetryCount,
		&job.MaxRetries,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.LastRetryAt,
		&job.ErrorMessage,
		&summary,
	); err != nil {
		return nil, err
	}
	job.AnalysisType = domain.AnalysisType(analysisType)
	job.Priority = domain.Priority(priority)
	job.Status = domain.JobStatus(status)
	decoded, err := decodeSummary(summary)
	if err != nil {
		return nil, err
	}
	job.ImprovementSummary = decoded
	return &job, nil
}

func encodeSummary(summary *domain.ImprovementSummary) ([]byte, error) {
	if summary == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("encode improvement summary: %w", err)
	}
	return encoded, nil
}

func decodeSummary(raw []byte) (*domain.ImprovementSummary, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var summary domain.ImprovementSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, fmt.Errorf("decode improvement summary: %w", err)
	}
	return &summary, nil
}

func payloadOrEmpty(payload json.RawMessage) []byte {
	if len(payload) == 0 {
		return []byte("[]")
	}
	return payload
}

// limitOrAll maps a non-positive limit onto a value LIMIT accepts as "no limit".
func limitOrAll(limit int) int64 {
	if limit <= 0 {
		return 1<<63 - 1
	}
	return int64(limit)
}
