package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	t.Parallel()

	payload := json.RawMessage(`{"message":"hello"}`)

	job, err := NewJob("default", "chat_message", payload)
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.NotEmpty(t, job.ID, "a generated ID is expected")
	assert.Equal(t, "default", job.QueueName)
	assert.Equal(t, "chat_message", job.Type)
	assert.Equal(t, payload, job.Payload)
	assert.Equal(t, 0, job.Priority)
	assert.Equal(t, 0, job.Attempt)
	assert.Equal(t, DefaultMaxAttempts, job.MaxAttempts)
	assert.Equal(t, DefaultBackoffPolicy(), job.Backoff)
	assert.Equal(t, JobStateQueued, job.State)
	assert.False(t, job.CreatedAt.IsZero())
	assert.Equal(t, job.CreatedAt, job.UpdatedAt)
}

func TestNewJob_Invalid(t *testing.T) {
	t.Parallel()

	_, err := NewJob("", "echo", nil)
	assert.ErrorIs(t, err, ErrEmptyJobQueue)

	_, err = NewJob("default", "", nil)
	assert.ErrorIs(t, err, ErrEmptyJobType)
}

func TestJobValidate(t *testing.T) {
	t.Parallel()

	validJob := func() Job {
		return Job{
			ID:          "job-1",
			QueueName:   "default",
			Type:        "echo",
			MaxAttempts: 3,
			State:       JobStateQueued,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Job)
		wantErr error
	}{
		{
			name:    "valid job",
			mutate:  func(j *Job) {},
			wantErr: nil,
		},
		{
			name:    "empty ID",
			mutate:  func(j *Job) { j.ID = "" },
			wantErr: ErrEmptyJobID,
		},
		{
			name:    "empty queue name",
			mutate:  func(j *Job) { j.QueueName = "" },
			wantErr: ErrEmptyJobQueue,
		},
		{
			name:    "empty type",
			mutate:  func(j *Job) { j.Type = "" },
			wantErr: ErrEmptyJobType,
		},
		{
			name:    "zero max attempts",
			mutate:  func(j *Job) { j.MaxAttempts = 0 },
			wantErr: ErrInvalidMaxAttempts,
		},
		{
			name:    "unknown state",
			mutate:  func(j *Job) { j.State = "paused" },
			wantErr: ErrInvalidJobState,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			job := validJob()
			tc.mutate(&job)

			err := job.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestJobTerminal(t *testing.T) {
	t.Parallel()

	job := Job{State: JobStateQueued}
	assert.False(t, job.Terminal())

	job.State = JobStateActive
	assert.False(t, job.Terminal())

	job.State = JobStateCompleted
	assert.True(t, job.Terminal())

	job.State = JobStateFailed
	assert.True(t, job.Terminal())
}

func TestJobRetryable(t *testing.T) {
	t.Parallel()

	job := Job{MaxAttempts: 3}

	// two failed executions still leave room for a third
	job.Attempt = 0
	assert.True(t, job.Retryable())
	job.Attempt = 1
	assert.True(t, job.Retryable())

	// the third execution is the last one
	job.Attempt = 2
	assert.False(t, job.Retryable())
}

func TestJobRetryable_SingleAttempt(t *testing.T) {
	t.Parallel()

	job := Job{MaxAttempts: 1}
	assert.False(t, job.Retryable(), "maxAttempts=1 means no retries at all")
}

func TestJobJSONRoundTrip(t *testing.T) {
	t.Parallel()

	job, err := NewJob("default", "echo", json.RawMessage(`{"n":1}`))
	require.NoError(t, err)
	job.NextAttemptAt = time.Now().UTC().Add(2 * time.Second)

	data, err := json.Marshal(job)
	require.NoError(t, err)

	var decoded Job
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, job.ID, decoded.ID)
	assert.Equal(t, job.Backoff, decoded.Backoff)
	assert.True(t, job.NextAttemptAt.Equal(decoded.NextAttemptAt))
}
