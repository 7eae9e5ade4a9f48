package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"mrzgate/internal/model"
	"mrzgate/internal/repository"
)

// JobPostgres is a PostgreSQL implementation of repository.JobRepository.
// It uses database/sql with parameterized queries and contains no
// business logic.
type JobPostgres struct {
	db *sql.DB
}

func NewJobPostgres(db *sql.DB) *JobPostgres {
	return &JobPostgres{db: db}
}

var _ repository.JobRepository = (*JobPostgres)(nil)

// Create inserts the job in its initial state.
func (r *JobPostgres) Create(ctx context.Context, job *model.Job) error {
	const q = `
		INSERT INTO jobs (id, tenant_id, image_key, state, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, q,
		job.ID,
		job.TenantID,
		job.ImageKey,
		string(job.State),
		job.CreatedAt,
	)
	return err
}

// Update persists state, result and completion data for the job.
func (r *JobPostgres) Update(ctx context.Context, job *model.Job) error {
	var resultJSON []byte
	if job.Result != nil {
		var err error
		resultJSON, err = json.Marshal(job.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}
	reasonsJSON, err := json.Marshal(job.QualityReasons)
	if err != nil {
		return fmt.Errorf("marshal quality reasons: %w", err)
	}

	const q = `
		UPDATE jobs
		SET state = $2, result = $3, winning_engine = $4, needs_better_photo = $5,
		    quality_reasons = $6, completed_at = $7
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, q,
		job.ID,
		string(job.State),
		nullableBytes(resultJSON),
		nullableString(job.WinningEngine),
		job.NeedsBetterPhoto,
		reasonsJSON,
		job.CompletedAt,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AppendAttempts inserts attempt rows. Raw MRZ lines are deliberately
// absent from the schema. The attempt index is allocated in SQL per job:
// the worker and the async webhook path both append, so a client-side
// index from a stale read would collide on the primary key.
func (r *JobPostgres) AppendAttempts(ctx context.Context, jobID string, attempts []model.EngineAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	const q = `
		INSERT INTO job_attempts (job_id, attempt_index, engine_name, latency_ms, error, confidence_score)
		SELECT $1, COALESCE(MAX(attempt_index) + 1, 0), $2, $3, $4, $5
		FROM job_attempts WHERE job_id = $1
	`
	for _, a := range attempts {
		if _, err := r.db.ExecContext(ctx, q,
			jobID,
			a.EngineName,
			a.LatencyMS,
			nullableString(a.Error),
			a.ConfidenceScore,
		); err != nil {
			return err
		}
	}
	return nil
}

// FindByID fetches a job and its attempts.
func (r *JobPostgres) FindByID(ctx context.Context, id string) (*model.Job, error) {
	const q = `
		SELECT id, tenant_id, image_key, state, result, winning_engine,
		       needs_better_photo, quality_reasons, created_at, completed_at
		FROM jobs
		WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, q, id)

	var (
		j             model.Job
		state         string
		resultJSON    []byte
		reasonsJSON   []byte
		winningEngine sql.NullString
	)
	if err := row.Scan(
		&j.ID,
		&j.TenantID,
		&j.ImageKey,
		&state,
		&resultJSON,
		&winningEngine,
		&j.NeedsBetterPhoto,
		&reasonsJSON,
		&j.CreatedAt,
		&j.CompletedAt,
	); err != nil {
		return nil, err
	}
	j.State = model.JobState(state)
	j.WinningEngine = winningEngine.String
	if len(resultJSON) > 0 {
		j.Result = &model.OCRResult{}
		if err := json.Unmarshal(resultJSON, j.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if len(reasonsJSON) > 0 {
		if err := json.Unmarshal(reasonsJSON, &j.QualityReasons); err != nil {
			return nil, fmt.Errorf("unmarshal quality reasons: %w", err)
		}
	}

	attempts, err := r.attemptsFor(ctx, id)
	if err != nil {
		return nil, err
	}
	j.Attempts = attempts
	return &j, nil
}

func (r *JobPostgres) attemptsFor(ctx context.Context, jobID string) ([]model.EngineAttempt, error) {
	const q = `
		SELECT attempt_index, engine_name, latency_ms, error, confidence_score
		FROM job_attempts
		WHERE job_id = $1
		ORDER BY attempt_index ASC
	`
	rows, err := r.db.QueryContext(ctx, q, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := make([]model.EngineAttempt, 0)
	for rows.Next() {
		var (
			a       model.EngineAttempt
			errText sql.NullString
		)
		if err := rows.Scan(
			&a.AttemptIndex,
			&a.EngineName,
			&a.LatencyMS,
			&errText,
			&a.ConfidenceScore,
		); err != nil {
			return nil, err
		}
		a.Error = errText.String
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return attempts, nil
}

// HashIndexPostgres implements the tenant-scoped duplicate index on the
// accepted_hashes table. The composite primary key makes check-and-insert
// one atomic statement.
type HashIndexPostgres struct {
	db *sql.DB
}

func NewHashIndexPostgres(db *sql.DB) *HashIndexPostgres {
	return &HashIndexPostgres{db: db}
}

var _ repository.HashIndex = (*HashIndexPostgres)(nil)

// CheckAndInsert inserts (tenant, hash); a conflict means the hash was
// already accepted for this tenant.
func (h *HashIndexPostgres) CheckAndInsert(ctx context.Context, tenantID, passportHash, jobID string) (bool, error) {
	const q = `
		INSERT INTO accepted_hashes (tenant_id, passport_hash, job_id, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (tenant_id, passport_hash) DO NOTHING
	`
	res, err := h.db.ExecContext(ctx, q, tenantID, passportHash, jobID)
	if err != nil {
		return false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return inserted == 0, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
