package queue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/fukkingsnow/arq-sub003/internal/domain"
)

// MemoryJobStore is an in-process JobStore used by tests and local
// development. It enforces the same contract as the durable stores:
// id uniqueness for live jobs, exclusive claims, priority-then-FIFO
// visibility and delayed re-visibility of retried jobs.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job

	// arrival preserves FIFO order within a priority band.
	arrival map[string]int
	nextSeq int
}

// NewMemoryJobStore creates an empty MemoryJobStore.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:    make(map[string]*domain.Job),
		arrival: make(map[string]int),
	}
}

// CreateJob persists a new queued job. A live (non-terminal) job with the
// same id rejects the insert with ErrJobExists; a terminal one is
// replaced, matching the uniqueness window of the durable stores.
func (s *MemoryJobStore) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[job.ID]; ok && !existing.Terminal() {
		return ErrJobExists
	}

	clone := *job
	s.jobs[job.ID] = &clone
	s.nextSeq++
	s.arrival[job.ID] = s.nextSeq
	return nil
}

// GetJob returns the job with the given id in the named queue.
func (s *MemoryJobStore) GetJob(_ context.Context, queueName, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.QueueName != queueName {
		return nil, ErrJobNotFound
	}
	clone := *job
	return &clone, nil
}

// FindJob returns the job with the given id regardless of queue.
func (s *MemoryJobStore) FindJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	clone := *job
	return &clone, nil
}

// ClaimNext claims the next visible job: highest priority first, FIFO
// within a band, skipping jobs whose NextAttemptAt is in the future.
func (s *MemoryJobStore) ClaimNext(_ context.Context, queueName string, lease time.Duration) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	var candidates []*domain.Job
	for _, job := range s.jobs {
		if job.QueueName != queueName || job.State != domain.JobStateQueued {
			continue
		}
		if job.NextAttemptAt.After(now) {
			continue
		}
		candidates = append(candidates, job)
	}

	if len(candidates) == 0 {
		return nil, ErrNoJobAvailable
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return s.arrival[candidates[i].ID] < s.arrival[candidates[j].ID]
	})

	job := candidates[0]
	job.State = domain.JobStateActive
	job.LeaseExpiresAt = now.Add(lease)
	job.UpdatedAt = now

	clone := *job
	return &clone, nil
}

// UpdateProgress records progress for an active job.
func (s *MemoryJobStore) UpdateProgress(_ context.Context, id string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Progress = progress
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// AckCompleted transitions an active job to completed.
func (s *MemoryJobStore) AckCompleted(_ context.Context, id string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}

	job.State = domain.JobStateCompleted
	job.Result = result
	job.Progress = 100
	job.LeaseExpiresAt = time.Time{}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// AckRetry returns an active job to queued, invisible until nextAttemptAt.
func (s *MemoryJobStore) AckRetry(_ context.Context, id string, attempt int, nextAttemptAt time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}

	job.State = domain.JobStateQueued
	job.Attempt = attempt
	job.NextAttemptAt = nextAttemptAt
	job.LastError = errMsg
	job.LeaseExpiresAt = time.Time{}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// AckFailed transitions an active job to the terminal failed state.
func (s *MemoryJobStore) AckFailed(_ context.Context, id string, attempt int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}

	job.State = domain.JobStateFailed
	job.Attempt = attempt
	job.LastError = errMsg
	job.LeaseExpiresAt = time.Time{}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// ReclaimExpired returns lease-expired active jobs to queued without
// consuming an attempt.
func (s *MemoryJobStore) ReclaimExpired(_ context.Context, queueName string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reclaimed := 0
	for _, job := range s.jobs {
		if job.QueueName != queueName || job.State != domain.JobStateActive {
			continue
		}
		if job.LeaseExpiresAt.IsZero() || job.LeaseExpiresAt.After(now) {
			continue
		}

		job.State = domain.JobStateQueued
		job.LeaseExpiresAt = time.Time{}
		job.NextAttemptAt = time.Time{}
		job.UpdatedAt = now
		reclaimed++
	}

	return reclaimed, nil
}
