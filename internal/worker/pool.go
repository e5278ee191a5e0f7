package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fukkingsnow/arq-sub003/internal/domain"
	"github.com/fukkingsnow/arq-sub003/internal/events"
	"github.com/fukkingsnow/arq-sub003/internal/queue"
)

// PoolConfig holds configuration options for a worker pool.
type PoolConfig struct {
	// Concurrency is the maximum number of jobs executing at once.
	// If zero or negative, defaults to 5.
	Concurrency int

	// PollInterval is how long an idle slot sleeps before checking the
	// queue again. If zero, defaults to 250ms.
	PollInterval time.Duration

	// ReclaimInterval is how often expired leases are swept back to the
	// queue. If zero, defaults to 10s.
	ReclaimInterval time.Duration

	// HandlerTimeout bounds a single execution. A timed-out handler
	// follows the normal retry path. The value is clamped below the
	// broker's lease so a running handler can never outlast its claim;
	// zero selects the clamped default.
	HandlerTimeout time.Duration
}

// DefaultPoolConfig returns a PoolConfig with reasonable defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Concurrency:     5,
		PollInterval:    250 * time.Millisecond,
		ReclaimInterval: 10 * time.Second,
	}
}

// Pool pulls jobs from one broker queue at a bounded concurrency,
// dispatches them by type and reports completion or failure back to the
// broker. Each concurrency slot claims its next job only when free, so
// there is no unbounded prefetch. It implements queue.Consumer.
type Pool struct {
	broker      *queue.Broker
	queueName   string
	registry    *Registry
	broadcaster *events.Broadcaster
	config      PoolConfig
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPool creates a worker pool for the named queue.
func NewPool(
	broker *queue.Broker,
	queueName string,
	registry *Registry,
	broadcaster *events.Broadcaster,
	config PoolConfig,
	logger *slog.Logger,
) *Pool {
	if config.Concurrency <= 0 {
		config.Concurrency = 5
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 250 * time.Millisecond
	}
	if config.ReclaimInterval <= 0 {
		config.ReclaimInterval = 10 * time.Second
	}

	// A handler that outlasts its lease would be reclaimed mid-flight
	// and handed to a second slot, so the execution bound must sit
	// strictly below the lease.
	if lease := broker.Lease(); config.HandlerTimeout <= 0 || config.HandlerTimeout >= lease {
		config.HandlerTimeout = lease * 9 / 10
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		broker:      broker,
		queueName:   queueName,
		registry:    registry,
		broadcaster: broadcaster,
		config:      config,
		logger: logger.With(
			"component", "worker_pool",
			"queue", queueName),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the concurrency slots and the lease reclaimer.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.config.Concurrency; i++ {
			p.wg.Add(1)
			go p.slot(i)
		}

		p.wg.Add(1)
		go p.reclaimer()

		p.logger.Info("worker pool started",
			"concurrency", p.config.Concurrency)
	})
}

// Stop shuts the pool down: no further jobs are claimed and in-flight
// executions run to completion (bounded by HandlerTimeout) before Stop
// returns.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		p.logger.Info("worker pool stopped")
	})
}

// slot is one concurrency slot: it claims a job only when free and blocks
// (sleeps, never busy-waits) while the queue is empty.
func (p *Pool) slot(id int) {
	defer p.wg.Done()

	p.logger.Debug("starting worker slot", "slot", id)

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("stopping worker slot", "slot", id)
			return
		default:
		}

		job, err := p.broker.Claim(p.ctx, p.queueName)
		if err != nil {
			if !errors.Is(err, queue.ErrNoJobAvailable) && !errors.Is(err, context.Canceled) {
				p.logger.Error("failed to claim job", "slot", id, "error", err)
			}
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(p.config.PollInterval):
			}
			continue
		}

		p.process(job, id)
	}
}

// process executes one claimed job and acknowledges the outcome.
func (p *Pool) process(job *domain.Job, slot int) {
	logger := p.logger.With(
		"job_id", job.ID,
		"job_type", job.Type,
		"slot", slot,
		"attempt", job.Attempt)

	logger.Info("processing job")
	p.publishStatus(job)

	// The execution context is detached from the pool's own so that Stop
	// drains a claimed job instead of aborting it and burning an attempt.
	ctx, cancel := context.WithTimeout(context.Background(), p.config.HandlerTimeout)
	defer cancel()

	result, err := p.execute(ctx, job)
	if err != nil {
		updated, ackErr := p.broker.AckFailure(context.Background(), job, err, IsPermanent(err))
		if ackErr != nil {
			logger.Error("failed to acknowledge job failure", "error", ackErr)
			return
		}

		logger.Error("job execution failed",
			"error", err,
			"state", updated.State)

		p.publishStatus(updated)
		if updated.State == domain.JobStateFailed {
			p.publishError(updated)
		}
		return
	}

	updated, ackErr := p.broker.AckSuccess(context.Background(), job, result)
	if ackErr != nil {
		logger.Error("failed to acknowledge job success", "error", ackErr)
		return
	}

	logger.Info("job completed")
	p.publishStatus(updated)
	p.publishCompleted(updated)
}

// execute resolves the handler and runs it, converting panics into
// ordinary failures so a single job cannot take down the pool.
func (p *Pool) execute(ctx context.Context, job *domain.Job) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	handler, err := p.registry.Resolve(job.Type)
	if err != nil {
		return nil, err
	}

	report := func(progress int) {
		if perr := p.broker.ReportProgress(context.Background(), job.ID, progress); perr != nil {
			p.logger.Warn("failed to report progress",
				"job_id", job.ID,
				"error", perr)
			return
		}
		snapshot := *job
		snapshot.Progress = progress
		p.publishStatus(&snapshot)
	}

	return handler(ctx, job, report)
}

// reclaimer periodically returns lease-expired jobs to the queue so a
// crashed worker's claim is never lost.
func (p *Pool) reclaimer() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.broker.ReclaimExpired(context.Background(), p.queueName); err != nil {
				p.logger.Error("lease reclaim failed", "error", err)
			}
		}
	}
}

// statusPayload is the wire shape of a status_changed event.
type statusPayload struct {
	State    domain.JobState `json:"state"`
	Progress int             `json:"progress"`
	Attempt  int             `json:"attempt"`
}

func (p *Pool) publishStatus(job *domain.Job) {
	event, err := events.NewEvent(job.ID, events.EventStatusChanged, statusPayload{
		State:    job.State,
		Progress: job.Progress,
		Attempt:  job.Attempt,
	})
	if err != nil {
		p.logger.Warn("failed to build status event", "job_id", job.ID, "error", err)
		return
	}
	p.broadcaster.Publish(event)
}

func (p *Pool) publishCompleted(job *domain.Job) {
	event := events.Event{
		JobID:       job.ID,
		Kind:        events.EventCompleted,
		Payload:     job.Result,
		PublishedAt: time.Now().UTC(),
	}
	p.broadcaster.Publish(event)
}

func (p *Pool) publishError(job *domain.Job) {
	event, err := events.NewEvent(job.ID, events.EventError, map[string]string{
		"message": job.LastError,
	})
	if err != nil {
		p.logger.Warn("failed to build error event", "job_id", job.ID, "error", err)
		return
	}
	p.broadcaster.Publish(event)
}
