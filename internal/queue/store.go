package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fukkingsnow/arq-sub003/internal/domain"
)

// Common errors returned by JobStore implementations
var (
	// ErrJobNotFound indicates no job exists with the requested id.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists indicates a non-terminal job with the same id already
	// exists; enqueue treats this as idempotent success.
	ErrJobExists = errors.New("job already exists")

	// ErrNoJobAvailable indicates no claimable job in the queue right now.
	ErrNoJobAvailable = errors.New("no job available")
)

// JobStore is the external store backing the broker. It is the single
// source of truth for job state; workers reach it only through the
// broker's state-transition operations.
//
// Implementations must make claims exclusive (at most one worker holds a
// job active) and enforce id uniqueness so duplicate enqueues of a live
// job are rejected with ErrJobExists.
type JobStore interface {
	// CreateJob persists a new queued job. Returns ErrJobExists when a
	// non-terminal job with the same id is already present.
	CreateJob(ctx context.Context, job *domain.Job) error

	// GetJob returns the job with the given id in the named queue, or
	// ErrJobNotFound.
	GetJob(ctx context.Context, queueName, id string) (*domain.Job, error)

	// FindJob returns the job with the given id regardless of queue, or
	// ErrJobNotFound. Used by pure status reads.
	FindJob(ctx context.Context, id string) (*domain.Job, error)

	// ClaimNext atomically claims the next visible job in the queue:
	// highest priority first, FIFO within a priority band, skipping jobs
	// whose NextAttemptAt has not passed. The claimed job moves to the
	// active state under a lease of the given duration. Returns
	// ErrNoJobAvailable when nothing is claimable.
	ClaimNext(ctx context.Context, queueName string, lease time.Duration) (*domain.Job, error)

	// UpdateProgress records handler-reported progress (0-100) for an
	// active job.
	UpdateProgress(ctx context.Context, id string, progress int) error

	// AckCompleted transitions an active job to completed with its result.
	AckCompleted(ctx context.Context, id string, result json.RawMessage) error

	// AckRetry transitions an active job back to queued for the given
	// attempt count, invisible until nextAttemptAt.
	AckRetry(ctx context.Context, id string, attempt int, nextAttemptAt time.Time, errMsg string) error

	// AckFailed transitions an active job to the terminal failed state
	// with the recorded error.
	AckFailed(ctx context.Context, id string, attempt int, errMsg string) error

	// ReclaimExpired returns active jobs whose lease has expired to the
	// queued state without consuming an attempt, and reports how many
	// were reclaimed.
	ReclaimExpired(ctx context.Context, queueName string, now time.Time) (int, error)
}
