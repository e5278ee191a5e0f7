package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fukkingsnow/arq-sub003/internal/domain"
	"github.com/google/uuid"
)

// DefaultLease is how long a claim stays exclusive before the job becomes
// eligible for reclaim.
const DefaultLease = 30 * time.Second

// EnqueueParams describes a job submission. Zero values get broker
// defaults: a generated UUID id, priority 0, three attempts, exponential
// backoff from a two second base.
type EnqueueParams struct {
	ID          string
	Type        string
	Payload     json.RawMessage
	Priority    int
	MaxAttempts int
	Backoff     *domain.BackoffPolicy
}

// Consumer is a per-queue worker loop the broker can start exactly once
// per queue name. Implemented by the worker pool.
type Consumer interface {
	// Start launches the consumer loop.
	Start()

	// Stop shuts the consumer down, draining in-flight jobs.
	Stop()
}

// Broker coordinates durable named queues of jobs over a shared external
// store. It owns enqueue defaults, idempotency, the job-level retry
// schedule, and once-only worker registration per queue name.
type Broker struct {
	store  JobStore
	lease  time.Duration
	logger *slog.Logger

	mu        sync.Mutex
	consumers map[string]Consumer
}

// NewBroker creates a Broker over the given store. A non-positive lease
// falls back to DefaultLease.
func NewBroker(store JobStore, lease time.Duration, logger *slog.Logger) *Broker {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &Broker{
		store:     store,
		lease:     lease,
		logger:    logger.With("component", "broker"),
		consumers: make(map[string]Consumer),
	}
}

// Enqueue persists a new job and returns its id. Enqueue is idempotent
// per supplied id: when a non-terminal job with the same id already
// exists, the existing id is returned and no duplicate is created.
// Store I/O failures are surfaced to the caller, never swallowed.
func (b *Broker) Enqueue(ctx context.Context, queueName string, params EnqueueParams) (string, error) {
	job, err := b.buildJob(queueName, params)
	if err != nil {
		return "", err
	}

	if err := b.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, ErrJobExists) {
			b.logger.Debug("duplicate enqueue ignored",
				"queue", queueName,
				"job_id", job.ID)
			return job.ID, nil
		}
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	b.logger.Info("job enqueued",
		"queue", queueName,
		"job_id", job.ID,
		"job_type", job.Type,
		"priority", job.Priority)

	return job.ID, nil
}

// buildJob applies enqueue defaults and validates the result.
func (b *Broker) buildJob(queueName string, params EnqueueParams) (*domain.Job, error) {
	now := time.Now().UTC()

	job := &domain.Job{
		ID:          params.ID,
		QueueName:   queueName,
		Type:        params.Type,
		Payload:     params.Payload,
		Priority:    params.Priority,
		MaxAttempts: params.MaxAttempts,
		State:       domain.JobStateQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = domain.DefaultMaxAttempts
	}
	if params.Backoff != nil {
		if err := params.Backoff.Validate(); err != nil {
			return nil, err
		}
		job.Backoff = *params.Backoff
	} else {
		job.Backoff = domain.DefaultBackoffPolicy()
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// GetJob returns a snapshot of the job with the given id in the named
// queue, or ErrJobNotFound.
func (b *Broker) GetJob(ctx context.Context, queueName, id string) (*domain.Job, error) {
	return b.store.GetJob(ctx, queueName, id)
}

// FindJob returns a snapshot of the job with the given id regardless of
// queue, or ErrJobNotFound. It never mutates job state.
func (b *Broker) FindJob(ctx context.Context, id string) (*domain.Job, error) {
	return b.store.FindJob(ctx, id)
}

// RegisterWorker starts the consumer for the queue name exactly once.
// Later registrations for the same name are no-ops returning false, so
// independent call sites cannot create duplicate consumption of a queue.
func (b *Broker) RegisterWorker(queueName string, consumer Consumer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.consumers[queueName]; ok {
		b.logger.Debug("worker already registered for queue, ignoring",
			"queue", queueName)
		return false
	}

	b.consumers[queueName] = consumer
	consumer.Start()

	b.logger.Info("worker registered", "queue", queueName)
	return true
}

// Shutdown stops all registered consumers, draining in-flight jobs.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	consumers := make([]Consumer, 0, len(b.consumers))
	for _, c := range b.consumers {
		consumers = append(consumers, c)
	}
	b.mu.Unlock()

	for _, c := range consumers {
		c.Stop()
	}
}

// Claim acquires the next visible job in the queue under the broker's
// lease. Returns ErrNoJobAvailable when nothing is claimable.
func (b *Broker) Claim(ctx context.Context, queueName string) (*domain.Job, error) {
	return b.store.ClaimNext(ctx, queueName, b.lease)
}

// Lease returns the exclusivity window Claim applies. Consumers bound
// their handler execution below this window so a running handler can
// never be reclaimed out from under itself.
func (b *Broker) Lease() time.Duration {
	return b.lease
}

// ReportProgress records handler-reported progress for an active job.
func (b *Broker) ReportProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return b.store.UpdateProgress(ctx, id, progress)
}

// AckSuccess transitions an active job to completed with the handler's
// result and returns the updated snapshot.
func (b *Broker) AckSuccess(ctx context.Context, job *domain.Job, result json.RawMessage) (*domain.Job, error) {
	if err := b.store.AckCompleted(ctx, job.ID, result); err != nil {
		return nil, fmt.Errorf("failed to ack success: %w", err)
	}

	updated := *job
	updated.State = domain.JobStateCompleted
	updated.Result = result
	updated.Progress = 100
	updated.UpdatedAt = time.Now().UTC()
	return &updated, nil
}

// AckFailure records a failed execution. Retryable jobs (one more
// execution fits under MaxAttempts) return to queued with the attempt
// count advanced, invisible until the backoff delay for the new attempt
// elapses. Exhausted jobs transition to the terminal failed state.
// Permanent errors skip retry regardless of remaining attempts.
func (b *Broker) AckFailure(ctx context.Context, job *domain.Job, execErr error, permanent bool) (*domain.Job, error) {
	attempt := job.Attempt + 1
	updated := *job
	updated.Attempt = attempt
	updated.LastError = execErr.Error()
	updated.UpdatedAt = time.Now().UTC()

	if !permanent && job.Retryable() {
		delay := job.Backoff.Delay(attempt)
		nextAt := time.Now().UTC().Add(delay)
		if err := b.store.AckRetry(ctx, job.ID, attempt, nextAt, execErr.Error()); err != nil {
			return nil, fmt.Errorf("failed to schedule retry: %w", err)
		}

		updated.State = domain.JobStateQueued
		updated.NextAttemptAt = nextAt

		b.logger.Info("job scheduled for retry",
			"queue", job.QueueName,
			"job_id", job.ID,
			"attempt", attempt,
			"max_attempts", job.MaxAttempts,
			"retry_in", delay)

		return &updated, nil
	}

	// an exhausted job ends with Attempt == MaxAttempts; a permanently
	// failed one keeps the attempt that produced the failure
	if err := b.store.AckFailed(ctx, job.ID, attempt, execErr.Error()); err != nil {
		return nil, fmt.Errorf("failed to ack failure: %w", err)
	}

	updated.State = domain.JobStateFailed

	b.logger.Error("job failed permanently",
		"queue", job.QueueName,
		"job_id", job.ID,
		"attempt", attempt,
		"error", execErr)

	return &updated, nil
}

// ReclaimExpired returns lease-expired active jobs to the queued state so
// another worker eventually re-claims them. A crashed worker's claim is
// therefore never lost.
func (b *Broker) ReclaimExpired(ctx context.Context, queueName string) (int, error) {
	n, err := b.store.ReclaimExpired(ctx, queueName, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim expired leases: %w", err)
	}
	if n > 0 {
		b.logger.Info("reclaimed expired leases",
			"queue", queueName,
			"count", n)
	}
	return n, nil
}
