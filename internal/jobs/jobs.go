// Package jobs runs ingestion work as supervised background tasks. Every
// task gets a persistent job record with an observable state, and tasks for
// the same source are serialized with a file lock so concurrent re-ingestion
// cannot interleave.
package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/tessera-kb/tessera/internal/log"
)

// State is the lifecycle state of a job.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Job is a supervised background task record.
type Job struct {
	ID        uuid.UUID `json:"id"`
	Kind      string    `json:"kind"`
	SourceID  string    `json:"source_id"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Recorder persists job records so failures stay observable.
type Recorder interface {
	Create(ctx context.Context, job Job) error
	SetState(ctx context.Context, id uuid.UUID, state State, errMsg string) error
	Get(ctx context.Context, id uuid.UUID) (Job, error)
}

// Runner executes submitted work in the background, one goroutine per job.
type Runner struct {
	recorder Recorder
	logger   log.Logger
	lockDir  string
	wg       sync.WaitGroup
}

// NewRunner creates a Runner. Lock files live under dataDir/locks.
func NewRunner(recorder Recorder, logger log.Logger, dataDir string) (*Runner, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	lockDir := filepath.Join(dataDir, "locks")
	if err := os.MkdirAll(lockDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	return &Runner{recorder: recorder, logger: logger, lockDir: lockDir}, nil
}

// Submit records a pending job and starts it in the background, returning
// the job ID immediately so the caller can poll. The work runs detached from
// the submitting request's cancellation; only its values (trace context)
// carry over.
func (r *Runner) Submit(ctx context.Context, kind, sourceID string, work func(ctx context.Context) error) (uuid.UUID, error) {
	job := Job{
		ID:       uuid.New(),
		Kind:     kind,
		SourceID: sourceID,
		State:    StatePending,
	}
	if err := r.recorder.Create(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("creating job record: %w", err)
	}

	bgCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go r.run(bgCtx, job, work)

	r.logger.Info("job submitted", "job_id", job.ID, "kind", kind, "source_id", sourceID)
	return job.ID, nil
}

// Wait blocks until all in-flight jobs finish. Call during shutdown.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, job Job, work func(ctx context.Context) error) {
	defer r.wg.Done()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("job panicked", "job_id", job.ID, "panic", p)
			r.setState(ctx, job.ID, StateFailed, fmt.Sprintf("panic: %v", p))
		}
	}()

	// Serialize jobs touching the same source. Index writes for different
	// sources are idempotent and safe to run concurrently; same-source
	// re-ingestion is not.
	lock := flock.New(r.lockPath(job.SourceID))
	if err := lock.Lock(); err != nil {
		r.logger.Error("job lock failed", "job_id", job.ID, "error", err)
		r.setState(ctx, job.ID, StateFailed, fmt.Sprintf("acquiring source lock: %v", err))
		return
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			r.logger.Warn("releasing source lock failed", "job_id", job.ID, "error", err)
		}
	}()

	r.setState(ctx, job.ID, StateProcessing, "")

	if err := work(ctx); err != nil {
		r.logger.Error("job failed", "job_id", job.ID, "kind", job.Kind, "error", err)
		r.setState(ctx, job.ID, StateFailed, err.Error())
		return
	}

	r.setState(ctx, job.ID, StateCompleted, "")
	r.logger.Info("job completed", "job_id", job.ID, "kind", job.Kind)
}

// setState updates the record, logging rather than failing when the update
// itself errors: the job outcome is already decided.
func (r *Runner) setState(ctx context.Context, id uuid.UUID, state State, errMsg string) {
	if err := r.recorder.SetState(ctx, id, state, errMsg); err != nil {
		r.logger.Error("updating job state failed", "job_id", id, "state", state, "error", err)
	}
}

func (r *Runner) lockPath(sourceID string) string {
	return filepath.Join(r.lockDir, sanitize(sourceID)+".lock")
}

// sanitize maps a source ID onto a safe file name.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
