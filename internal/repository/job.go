package repository

import (
	"context"

	"mrzgate/internal/model"
)

// JobRepository defines persistence for extraction jobs using SQL queries
// only. No business logic here — strictly persistence operations. Raw MRZ
// lines never reach this layer in any persisted form.
type JobRepository interface {
	// Create inserts a new job row in its initial state.
	Create(ctx context.Context, job *model.Job) error

	// Update persists the job's current state, result and completion
	// timestamp.
	Update(ctx context.Context, job *model.Job) error

	// AppendAttempts inserts attempt records for the job. Attempts are
	// append-only; callers pass only the not-yet-persisted tail.
	AppendAttempts(ctx context.Context, jobID string, attempts []model.EngineAttempt) error

	// FindByID returns a job with its attempts.
	FindByID(ctx context.Context, id string) (*model.Job, error)
}

// HashIndex is the tenant-scoped duplicate index over accepted passport
// hashes. Implementations must make CheckAndInsert a single atomic
// operation.
type HashIndex interface {
	// CheckAndInsert records the hash for the tenant and reports whether
	// it was already present.
	CheckAndInsert(ctx context.Context, tenantID, passportHash, jobID string) (duplicate bool, err error)
}
