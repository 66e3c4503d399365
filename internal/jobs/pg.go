package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrJobNotFound is returned when a job record does not exist.
var ErrJobNotFound = errors.New("job not found")

// PGRecorder persists job records in PostgreSQL.
type PGRecorder struct {
	pool *pgxpool.Pool
}

// NewPGRecorder creates a recorder over the given pool.
func NewPGRecorder(pool *pgxpool.Pool) *PGRecorder {
	return &PGRecorder{pool: pool}
}

// Create inserts a new job record.
func (r *PGRecorder) Create(ctx context.Context, job Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO import_jobs (id, kind, source_id, state, error)
		VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.Kind, job.SourceID, string(job.State), job.Error)
	if err != nil {
		return fmt.Errorf("inserting job %s: %w", job.ID, err)
	}
	return nil
}

// SetState updates a job's state and error message.
func (r *PGRecorder) SetState(ctx context.Context, id uuid.UUID, state State, errMsg string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE import_jobs SET state = $2, error = $3, updated_at = now()
		WHERE id = $1`, id, string(state), errMsg)
	if err != nil {
		return fmt.Errorf("updating job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	return nil
}

// Get returns a job record by ID.
func (r *PGRecorder) Get(ctx context.Context, id uuid.UUID) (Job, error) {
	var job Job
	var state string
	err := r.pool.QueryRow(ctx, `
		SELECT id, kind, source_id, state, error, created_at, updated_at
		FROM import_jobs WHERE id = $1`, id).
		Scan(&job.ID, &job.Kind, &job.SourceID, &state, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return Job{}, fmt.Errorf("getting job %s: %w", id, err)
	}
	job.State = State(state)
	return job, nil
}
