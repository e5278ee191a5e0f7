package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fukkingsnow/arq-sub003/internal/domain"
	"github.com/fukkingsnow/arq-sub003/internal/platform/logger"
	"github.com/fukkingsnow/arq-sub003/internal/queue"
	"github.com/fukkingsnow/arq-sub003/internal/store"
)

// PostgresJobStore implements the queue.JobStore interface using PostgreSQL.
// Claims use FOR UPDATE SKIP LOCKED so concurrent slots never double-claim
// a job, and a lease column makes crashed claims reclaimable.
type PostgresJobStore struct {
	db store.DBTX
}

// NewPostgresJobStore creates a new PostgresJobStore.
func NewPostgresJobStore(db store.DBTX) *PostgresJobStore {
	return &PostgresJobStore{
		db: db,
	}
}

const jobColumns = `id, queue_name, type, payload, priority, attempt, max_attempts,
	backoff_strategy, backoff_base_ms, state, progress, result, last_error,
	next_attempt_at, lease_expires_at, created_at, updated_at`

// CreateJob persists a new queued job. A live job with the same id
// violates the primary key and surfaces as queue.ErrJobExists; a terminal
// job with the same id is replaced.
func (s *PostgresJobStore) CreateJob(ctx context.Context, job *domain.Job) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			queue_name = EXCLUDED.queue_name,
			type = EXCLUDED.type,
			payload = EXCLUDED.payload,
			priority = EXCLUDED.priority,
			attempt = EXCLUDED.attempt,
			max_attempts = EXCLUDED.max_attempts,
			backoff_strategy = EXCLUDED.backoff_strategy,
			backoff_base_ms = EXCLUDED.backoff_base_ms,
			state = EXCLUDED.state,
			progress = EXCLUDED.progress,
			result = EXCLUDED.result,
			last_error = EXCLUDED.last_error,
			next_attempt_at = EXCLUDED.next_attempt_at,
			lease_expires_at = EXCLUDED.lease_expires_at,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
		WHERE jobs.state IN ('completed', 'failed')
	`

	result, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.QueueName,
		job.Type,
		[]byte(job.Payload),
		job.Priority,
		job.Attempt,
		job.MaxAttempts,
		string(job.Backoff.Strategy),
		job.Backoff.Base.Milliseconds(),
		string(job.State),
		job.Progress,
		nullBytes(job.Result),
		job.LastError,
		nullTime(job.NextAttemptAt),
		nullTime(job.LeaseExpiresAt),
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if mapped := mapJobError(err); errors.Is(mapped, queue.ErrJobExists) {
			return queue.ErrJobExists
		}
		log.Error("failed to insert job",
			"job_id", job.ID,
			"queue", job.QueueName,
			"error", err)
		return fmt.Errorf("failed to insert job: %w", err)
	}

	if err := checkRowsAffected(result); err != nil {
		// conflict against a live job: the conditional upsert did nothing
		return queue.ErrJobExists
	}

	return nil
}

// GetJob returns the job with the given id in the named queue.
func (s *PostgresJobStore) GetJob(ctx context.Context, queueName, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND queue_name = $2`
	return s.scanJob(s.db.QueryRowContext(ctx, query, id, queueName))
}

// FindJob returns the job with the given id regardless of queue.
func (s *PostgresJobStore) FindJob(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	return s.scanJob(s.db.QueryRowContext(ctx, query, id))
}

// ClaimNext atomically claims the next visible job in the queue. The
// inner select orders by priority descending then arrival, skips locked
// rows so concurrent claimers never block each other, and ignores jobs
// whose next_attempt_at is still in the future.
func (s *PostgresJobStore) ClaimNext(ctx context.Context, queueName string, lease time.Duration) (*domain.Job, error) {
	now := time.Now().UTC()

	query := `
		UPDATE jobs
		SET state = 'active', lease_expires_at = $1, updated_at = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue_name = $3
			  AND state = 'queued'
			  AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
			ORDER BY priority DESC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns

	job, err := s.scanJob(s.db.QueryRowContext(ctx, query, now.Add(lease), now, queueName))
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			return nil, queue.ErrNoJobAvailable
		}
		return nil, err
	}
	return job, nil
}

// UpdateProgress records handler-reported progress for an active job.
func (s *PostgresJobStore) UpdateProgress(ctx context.Context, id string, progress int) error {
	query := `UPDATE jobs SET progress = $1, updated_at = $2 WHERE id = $3`
	return s.exec(ctx, query, progress, time.Now().UTC(), id)
}

// AckCompleted transitions an active job to completed with its result.
func (s *PostgresJobStore) AckCompleted(ctx context.Context, id string, result json.RawMessage) error {
	query := `
		UPDATE jobs
		SET state = 'completed', result = $1, progress = 100,
		    lease_expires_at = NULL, updated_at = $2
		WHERE id = $3
	`
	return s.exec(ctx, query, nullBytes(result), time.Now().UTC(), id)
}

// AckRetry returns an active job to queued, invisible until nextAttemptAt.
func (s *PostgresJobStore) AckRetry(ctx context.Context, id string, attempt int, nextAttemptAt time.Time, errMsg string) error {
	query := `
		UPDATE jobs
		SET state = 'queued', attempt = $1, next_attempt_at = $2,
		    last_error = $3, lease_expires_at = NULL, updated_at = $4
		WHERE id = $5
	`
	return s.exec(ctx, query, attempt, nextAttemptAt, errMsg, time.Now().UTC(), id)
}

// AckFailed transitions an active job to the terminal failed state.
func (s *PostgresJobStore) AckFailed(ctx context.Context, id string, attempt int, errMsg string) error {
	query := `
		UPDATE jobs
		SET state = 'failed', attempt = $1, last_error = $2,
		    lease_expires_at = NULL, updated_at = $3
		WHERE id = $4
	`
	return s.exec(ctx, query, attempt, errMsg, time.Now().UTC(), id)
}

// ReclaimExpired returns lease-expired active jobs to queued without
// consuming an attempt.
func (s *PostgresJobStore) ReclaimExpired(ctx context.Context, queueName string, now time.Time) (int, error) {
	query := `
		UPDATE jobs
		SET state = 'queued', lease_expires_at = NULL,
		    next_attempt_at = NULL, updated_at = $1
		WHERE queue_name = $2
		  AND state = 'active'
		  AND lease_expires_at IS NOT NULL
		  AND lease_expires_at < $1
	`

	result, err := s.db.ExecContext(ctx, query, now, queueName)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim expired leases: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// exec runs an update that must touch exactly one job.
func (s *PostgresJobStore) exec(ctx context.Context, query string, args ...any) error {
	log := logger.FromContext(ctx)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("job update failed", "error", err)
		return fmt.Errorf("job update failed: %w", err)
	}

	return checkRowsAffected(result)
}

// scanJob reads one job row, translating sql.ErrNoRows to ErrJobNotFound.
func (s *PostgresJobStore) scanJob(row *sql.Row) (*domain.Job, error) {
	var (
		job             domain.Job
		payload         []byte
		backoffStrategy string
		backoffBaseMs   int64
		state           string
		result          sql.NullString
		lastError       sql.NullString
		nextAttemptAt   sql.NullTime
		leaseExpiresAt  sql.NullTime
	)

	err := row.Scan(
		&job.ID,
		&job.QueueName,
		&job.Type,
		&payload,
		&job.Priority,
		&job.Attempt,
		&job.MaxAttempts,
		&backoffStrategy,
		&backoffBaseMs,
		&state,
		&job.Progress,
		&result,
		&lastError,
		&nextAttemptAt,
		&leaseExpiresAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if mapped := mapJobError(err); errors.Is(mapped, queue.ErrJobNotFound) {
			return nil, queue.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to scan job row: %w", err)
	}

	job.Payload = payload
	job.Backoff = domain.BackoffPolicy{
		Strategy: domain.BackoffStrategy(backoffStrategy),
		Base:     time.Duration(backoffBaseMs) * time.Millisecond,
	}
	job.State = domain.JobState(state)
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	job.LastError = lastError.String
	if nextAttemptAt.Valid {
		job.NextAttemptAt = nextAttemptAt.Time
	}
	if leaseExpiresAt.Valid {
		job.LeaseExpiresAt = leaseExpiresAt.Time
	}

	return &job, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
