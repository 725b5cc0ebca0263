package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/iago/risk-reanalysis/internal/domain"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                  TEXT PRIMARY KEY,
	entity_id           TEXT NOT NULL,
	analysis_type       TEXT NOT NULL,
	priority            INTEGER NOT NULL,
	status              TEXT NOT NULL,
	previous_result_id  TEXT NOT NULL DEFAULT '',
	result_id           TEXT NOT NULL DEFAULT '',
	retry_count         INTEGER NOT NULL DEFAULT 0,
	max_retries         INTEGER NOT NULL DEFAULT 3,
	created_at          TEXT NOT NULL,
	started_at          TEXT,
	completed_at        TEXT,
	last_retry_at       TEXT,
	error_message       TEXT NOT NULL DEFAULT '',
	improvement_summary TEXT
);
CREATE INDEX IF NOT EXISTS jobs_queue_idx ON jobs (status, priority, created_at);

CREATE TABLE IF NOT EXISTS analysis_results (
	id            TEXT PRIMARY KEY,
	job_id        TEXT NOT NULL,
	entity_id     TEXT NOT NULL,
	analysis_type TEXT NOT NULL,
	confidence    REAL NOT NULL,
	benefit       REAL NOT NULL,
	findings      INTEGER NOT NULL,
	payload       TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS distribution_records (
	id                       INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id                TEXT NOT NULL,
	entity_name              TEXT NOT NULL DEFAULT '',
	counterparty_id          TEXT NOT NULL,
	counterparty_name        TEXT NOT NULL DEFAULT '',
	counterparty_type        TEXT NOT NULL DEFAULT 'unknown',
	amount                   REAL NOT NULL,
	payment_form             TEXT NOT NULL,
	period                   TEXT NOT NULL,
	non_resident             INTEGER NOT NULL DEFAULT 0,
	minor                    INTEGER NOT NULL DEFAULT 0,
	related_party            INTEGER NOT NULL DEFAULT 0,
	family_member            INTEGER NOT NULL DEFAULT 0,
	reimbursement_pattern    INTEGER NOT NULL DEFAULT 0,
	unpaid_balance           REAL NOT NULL DEFAULT 0,
	unpaid_balance_age_years REAL NOT NULL DEFAULT 0,
	payment_date             TEXT
);
CREATE INDEX IF NOT EXISTS distribution_records_entity_idx ON distribution_records (entity_id);
`

// sqliteTimeLayout has a fixed width so text comparison matches time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteJobColumns = `id, entity_id, analysis_type, priority, status, previous_result_id, result_id,
	retry_count, max_retries, created_at, started_at, completed_at, last_retry_at,
	error_message, improvement_summary`

// SQLiteStore persists jobs and results in a single SQLite file. It suits
// single-node deployments; the claim is still one conditional UPDATE.
type SQLiteStore struct {
	conn *sql.DB
}

// NewSQLiteStore opens the database at path. ":memory:" opens a private
// in-memory database held by a single connection.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		conn.SetMaxOpenConns(1)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	store := &SQLiteStore{conn: conn}
	if err := store.Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *domain.Job) error {
	summary, err := encodeSummary(job.ImprovementSummary)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO jobs (`+sqliteJobColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
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
		formatTime(job.CreatedAt),
		formatOptionalTime(job.StartedAt),
		formatOptionalTime(job.CompletedAt),
		formatOptionalTime(job.LastRetryAt),
		job.ErrorMessage,
		nullableText(summary),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *domain.Job) error {
	summary, err := encodeSummary(job.ImprovementSummary)
	if err != nil {
		return err
	}
	result, err := s.conn.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?,
			result_id = ?,
			retry_count = ?,
			max_retries = ?,
			started_at = ?,
			completed_at = ?,
			last_retry_at = ?,
			error_message = ?,
			improvement_summary = ?
		WHERE id = ?
	`,
		string(job.Status),
		job.ResultID,
		job.RetryCount,
		job.MaxRetries,
		formatOptionalTime(job.StartedAt),
		formatOptionalTime(job.CompletedAt),
		formatOptionalTime(job.LastRetryAt),
		job.ErrorMessage,
		nullableText(summary),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM jobs WHERE id = ?`, jobID)
	job, err := scanSQLiteJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) FetchPending(ctx context.Context, limit int) ([]*domain.Job, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+sqliteJobColumns+`
		FROM jobs
		WHERE status = 'pending'
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT ?
	`, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("fetch pending jobs: %w", err)
	}
	return collectSQLiteJobs(rows)
}

func (s *SQLiteStore) ClaimJob(ctx context.Context, jobID string, startedAt time.Time) (bool, error) {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'processing', started_at = ?
		WHERE id = ? AND status = 'pending'
	`, formatTime(startedAt), jobID)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return affected == 1, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.Job, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+sqliteJobColumns+`
		FROM jobs
		WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC, id ASC
		LIMIT ?
	`, string(status), string(status), limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectSQLiteJobs(rows)
}

func (s *SQLiteStore) RequeueStuck(ctx context.Context, startedBefore time.Time) (int, error) {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', started_at = NULL
		WHERE status = 'processing' AND started_at < ?
	`, formatTime(startedBefore))
	if err != nil {
		return 0, fmt.Errorf("requeue stuck jobs: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue stuck jobs: %w", err)
	}
	return int(affected), nil
}

func (s *SQLiteStore) SaveResult(ctx context.Context, result *domain.StoredResult) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO analysis_results (id, job_id, entity_id, analysis_type, confidence, benefit, findings, payload, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)
	`,
		result.ID,
		result.JobID,
		result.EntityID,
		string(result.AnalysisType),
		result.Metrics.Confidence,
		result.Metrics.Benefit,
		result.Metrics.Findings,
		string(payloadOrEmpty(result.Payload)),
		formatTime(result.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetResult(ctx context.Context, resultID string) (*domain.StoredResult, error) {
	var (
		result       domain.StoredResult
		analysisType string
		payload      string
		createdAt    string
	)
	err := s.conn.QueryRowContext(ctx, `
		SELECT id, job_id, entity_id, analysis_type, confidence, benefit, findings, payload, created_at
		FROM analysis_results
		WHERE id = ?
	`, resultID).Scan(
		&result.ID,
		&result.JobID,
		&result.EntityID,
		&analysisType,
		&result.Metrics.Confidence,
		&result.Metrics.Benefit,
		&result.Metrics.Findings,
		&payload,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query result: %w", err)
	}
	parsed, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	result.AnalysisType = domain.AnalysisType(analysisType)
	result.Payload = json.RawMessage(payload)
	result.CreatedAt = parsed
	return &result, nil
}

// AddRecords appends distribution input records in one transaction.
func (s *SQLiteStore) AddRecords(ctx context.Context, records ...domain.DistributionRecord) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO distribution_records (
			entity_id, entity_name, counterparty_id, counterparty_name, counterparty_type,
			amount, payment_form, period, non_resident, minor, related_party, family_member,
			reimbursement_pattern, unpaid_balance, unpaid_balance_age_years, payment_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare record insert: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		if _, err := stmt.ExecContext(ctx,
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
			formatOptionalTime(record.PaymentDate),
		); err != nil {
			return fmt.Errorf("insert distribution record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record insert: %w", err)
	}
	return nil
}

// Records loads the distribution records of one entity in insertion order.
func (s *SQLiteStore) Records(ctx context.Context, entityID string) ([]domain.DistributionRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT entity_id, entity_name, counterparty_id, counterparty_name, counterparty_type,
			amount, payment_form, period, non_resident, minor, related_party, family_member,
			reimbursement_pattern, unpaid_balance, unpaid_balance_age_years, payment_date
		FROM distribution_records
		WHERE entity_id = ?
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
			paymentDate      sql.NullString
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
			&paymentDate,
		); err != nil {
			return nil, fmt.Errorf("scan distribution record: %w", err)
		}
		if record.PaymentDate, err = parseOptionalTime(paymentDate); err != nil {
			return nil, fmt.Errorf("parse payment date: %w", err)
		}
		record.CounterpartyType = domain.CounterpartyType(counterpartyType)
		record.PaymentForm = domain.PaymentForm(paymentForm)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate distribution records: %w", err)
	}
	return records, nil
}

func collectSQLiteJobs(rows *sql.Rows) ([]*domain.Job, error) {
	defer rows.Close()

	jobs := make([]*domain.Job, 0)
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func scanSQLiteJob(row rowScanner) (*domain.Job, error) {
	var (
		job          domain.Job
		analysisType string
		priority     int
		status       string
		createdAt    string
		startedAt    sql.NullString
		completedAt  sql.NullString
		lastRetryAt  sql.NullString
		summary      sql.NullString
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
		&createdAt,
		&startedAt,
		&completedAt,
		&lastRetryAt,
		&job.ErrorMessage,
		&summary,
	); err != nil {
		return nil, err
	}

	var err error
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if job.StartedAt, err = parseOptionalTime(startedAt); err != nil {
		return nil, err
	}
	if job.CompletedAt, err = parseOptionalTime(completedAt); err != nil {
		return nil, err
	}
	if job.LastRetryAt, err = parseOptionalTime(lastRetryAt); err != nil {
		return nil, err
	}
	if job.ImprovementSummary, err = decodeSummary([]byte(summary.String)); err != nil {
		return nil, err
	}
	job.AnalysisType = domain.AnalysisType(analysisType)
	job.Priority = domain.Priority(priority)
	job.Status = domain.JobStatus(status)
	return &job, nil
}

func formatTime(value time.Time) string {
	return value.UTC().Format(sqliteTimeLayout)
}

func formatOptionalTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func parseTime(value string) (time.Time, error) {
	parsed, err := time.Parse(sqliteTimeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return parsed, nil
}

func parseOptionalTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	parsed, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func nullableText(raw []byte) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}
