package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fukkingsnow/arq-sub003/internal/domain"
	"github.com/fukkingsnow/arq-sub003/internal/queue"
	r "github.com/redis/go-redis/v9"
)

// RedisJobStore implements the queue.JobStore interface using Redis.
//
// Per queue it keeps:
//   - ready:{queue}  zset of claimable job ids, scored so higher priority
//     pops first and arrival order breaks ties
//   - delay:{queue}  zset of invisible job ids scored by the unix-ms
//     instant they become claimable
//   - lease:{queue}  zset of active job ids scored by lease expiry
//
// The job record itself is a JSON string at job:{id}, and live:{id} marks
// ids with a non-terminal job so duplicate enqueues are rejected.
type RedisJobStore struct {
	rdb *r.Client
}

// NewRedisJobStore creates a new RedisJobStore.
func NewRedisJobStore(rdb *r.Client) *RedisJobStore {
	return &RedisJobStore{rdb: rdb}
}

func jobKey(id string) string          { return "job:" + id }
func liveKey(id string) string         { return "live:" + id }
func readyKey(queueName string) string { return "ready:" + queueName }
func delayKey(queueName string) string { return "delay:" + queueName }
func leaseKey(queueName string) string { return "lease:" + queueName }
func seqKey(queueName string) string   { return "seq:" + queueName }

// readyScore composes priority and arrival into one zset score: lower
// scores pop first, so priority is negated and the arrival sequence
// breaks ties within a band.
func readyScore(priority int, seq int64) float64 {
	return float64(-priority)*1e12 + float64(seq)
}

// CreateJob persists a new queued job. The live marker enforces id
// uniqueness while a job is non-terminal.
func (s *RedisJobStore) CreateJob(ctx context.Context, job *domain.Job) error {
	ok, err := s.rdb.SetNX(ctx, liveKey(job.ID), 1, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to mark job live: %w", err)
	}
	if !ok {
		return queue.ErrJobExists
	}

	seq, err := s.rdb.Incr(ctx, seqKey(job.QueueName)).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate sequence: %w", err)
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, 0)
	if !job.NextAttemptAt.IsZero() && job.NextAttemptAt.After(time.Now()) {
		pipe.ZAdd(ctx, delayKey(job.QueueName), r.Z{
			Score:  float64(job.NextAttemptAt.UnixMilli()),
			Member: job.ID,
		})
	} else {
		pipe.ZAdd(ctx, readyKey(job.QueueName), r.Z{
			Score:  readyScore(job.Priority, seq),
			Member: job.ID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	return nil
}

// GetJob returns the job with the given id in the named queue.
func (s *RedisJobStore) GetJob(ctx context.Context, queueName, id string) (*domain.Job, error) {
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.QueueName != queueName {
		return nil, queue.ErrJobNotFound
	}
	return job, nil
}

// FindJob returns the job with the given id regardless of queue.
func (s *RedisJobStore) FindJob(ctx context.Context, id string) (*domain.Job, error) {
	return s.loadJob(ctx, id)
}

// ClaimNext promotes due delayed jobs, then pops the best ready id and
// moves it under a lease.
func (s *RedisJobStore) ClaimNext(ctx context.Context, queueName string, lease time.Duration) (*domain.Job, error) {
	now := time.Now().UTC()

	if err := s.promoteDue(ctx, queueName, now); err != nil {
		return nil, err
	}

	popped, err := s.rdb.ZPopMin(ctx, readyKey(queueName), 1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to pop ready job: %w", err)
	}
	if len(popped) == 0 {
		return nil, queue.ErrNoJobAvailable
	}

	id, _ := popped[0].Member.(string)
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return nil, err
	}

	job.State = domain.JobStateActive
	job.LeaseExpiresAt = now.Add(lease)
	job.UpdatedAt = now

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(id), data, 0)
	pipe.ZAdd(ctx, leaseKey(queueName), r.Z{
		Score:  float64(job.LeaseExpiresAt.UnixMilli()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to lease job: %w", err)
	}

	return job, nil
}

// promoteDue moves delayed jobs whose visibility instant has passed into
// the ready zset.
func (s *RedisJobStore) promoteDue(ctx context.Context, queueName string, now time.Time) error {
	due, err := s.rdb.ZRangeByScore(ctx, delayKey(queueName), &r.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10), Offset: 0, Count: 128,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to list due jobs: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	pipe := s.rdb.TxPipeline()
	for _, id := range due {
		job, loadErr := s.loadJob(ctx, id)
		if loadErr != nil {
			pipe.ZRem(ctx, delayKey(queueName), id)
			continue
		}
		seq, seqErr := s.rdb.Incr(ctx, seqKey(queueName)).Result()
		if seqErr != nil {
			return fmt.Errorf("failed to allocate sequence: %w", seqErr)
		}
		pipe.ZAdd(ctx, readyKey(queueName), r.Z{
			Score:  readyScore(job.Priority, seq),
			Member: id,
		})
		pipe.ZRem(ctx, delayKey(queueName), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to promote due jobs: %w", err)
	}

	return nil
}

// UpdateProgress records handler-reported progress for an active job.
func (s *RedisJobStore) UpdateProgress(ctx context.Context, id string, progress int) error {
	return s.mutateJob(ctx, id, func(job *domain.Job) {
		job.Progress = progress
	})
}

// AckCompleted transitions an active job to completed with its result.
func (s *RedisJobStore) AckCompleted(ctx context.Context, id string, result json.RawMessage) error {
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return err
	}

	job.State = domain.JobStateCompleted
	job.Result = result
	job.Progress = 100
	job.LeaseExpiresAt = time.Time{}
	job.UpdatedAt = time.Now().UTC()

	return s.storeTerminal(ctx, job)
}

// AckRetry returns an active job to queued, invisible until nextAttemptAt.
func (s *RedisJobStore) AckRetry(ctx context.Context, id string, attempt int, nextAttemptAt time.Time, errMsg string) error {
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return err
	}

	job.State = domain.JobStateQueued
	job.Attempt = attempt
	job.NextAttemptAt = nextAttemptAt
	job.LastError = errMsg
	job.LeaseExpiresAt = time.Time{}
	job.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(id), data, 0)
	pipe.ZRem(ctx, leaseKey(job.QueueName), id)
	pipe.ZAdd(ctx, delayKey(job.QueueName), r.Z{
		Score:  float64(nextAttemptAt.UnixMilli()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}

	return nil
}

// AckFailed transitions an active job to the terminal failed state.
func (s *RedisJobStore) AckFailed(ctx context.Context, id string, attempt int, errMsg string) error {
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return err
	}

	job.State = domain.JobStateFailed
	job.Attempt = attempt
	job.LastError = errMsg
	job.LeaseExpiresAt = time.Time{}
	job.UpdatedAt = time.Now().UTC()

	return s.storeTerminal(ctx, job)
}

// ReclaimExpired returns lease-expired active jobs to the ready zset
// without consuming an attempt.
func (s *RedisJobStore) ReclaimExpired(ctx context.Context, queueName string, now time.Time) (int, error) {
	expired, err := s.rdb.ZRangeByScore(ctx, leaseKey(queueName), &r.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10), Offset: 0, Count: 128,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list expired leases: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	reclaimed := 0
	for _, id := range expired {
		job, loadErr := s.loadJob(ctx, id)
		if loadErr != nil {
			s.rdb.ZRem(ctx, leaseKey(queueName), id)
			continue
		}

		job.State = domain.JobStateQueued
		job.LeaseExpiresAt = time.Time{}
		job.NextAttemptAt = time.Time{}
		job.UpdatedAt = now

		data, marshalErr := json.Marshal(job)
		if marshalErr != nil {
			return reclaimed, fmt.Errorf("failed to marshal job: %w", marshalErr)
		}

		seq, seqErr := s.rdb.Incr(ctx, seqKey(queueName)).Result()
		if seqErr != nil {
			return reclaimed, fmt.Errorf("failed to allocate sequence: %w", seqErr)
		}

		pipe := s.rdb.TxPipeline()
		pipe.Set(ctx, jobKey(id), data, 0)
		pipe.ZRem(ctx, leaseKey(queueName), id)
		pipe.ZAdd(ctx, readyKey(queueName), r.Z{
			Score:  readyScore(job.Priority, seq),
			Member: id,
		})
		if _, pipeErr := pipe.Exec(ctx); pipeErr != nil {
			return reclaimed, fmt.Errorf("failed to reclaim lease: %w", pipeErr)
		}
		reclaimed++
	}

	return reclaimed, nil
}

// storeTerminal writes a terminal job record and releases its live marker
// and lease so the id becomes enqueueable again.
func (s *RedisJobStore) storeTerminal(ctx context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, 0)
	pipe.ZRem(ctx, leaseKey(job.QueueName), job.ID)
	pipe.Del(ctx, liveKey(job.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store terminal job: %w", err)
	}

	return nil
}

// mutateJob applies an in-place change to the stored job record.
func (s *RedisJobStore) mutateJob(ctx context.Context, id string, mutate func(*domain.Job)) error {
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return err
	}

	mutate(job)
	job.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := s.rdb.Set(ctx, jobKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}

	return nil
}

// loadJob reads and decodes one job record.
func (s *RedisJobStore) loadJob(ctx context.Context, id string) (*domain.Job, error) {
	data, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, r.Nil) {
			return nil, queue.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}

	return &job, nil
}
