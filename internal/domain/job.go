package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobState represents the lifecycle state of a job
type JobState string

// Possible job state values
const (
	JobStateQueued    JobState = "queued"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Common validation errors for Job
var (
	ErrEmptyJobID         = errors.New("job ID cannot be empty")
	ErrEmptyJobQueue      = errors.New("job queue name cannot be empty")
	ErrEmptyJobType       = errors.New("job type cannot be empty")
	ErrInvalidJobState    = errors.New("invalid job state")
	ErrInvalidMaxAttempts = errors.New("job max attempts must be at least 1")
)

// Job represents a unit of asynchronous work tracked through a state machine.
// Jobs are mutated only through the broker's state-transition operations;
// workers report results, they never write job state directly.
type Job struct {
	ID          string          `json:"id"`
	QueueName   string          `json:"queue_name"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	Backoff     BackoffPolicy   `json:"backoff"`
	State       JobState        `json:"state"`
	Progress    int             `json:"progress"`
	Result      json.RawMessage `json:"result,omitempty"`
	LastError   string          `json:"last_error,omitempty"`

	// NextAttemptAt gates visibility: a queued job is claimable only once
	// this instant has passed. Zero means immediately claimable.
	NextAttemptAt time.Time `json:"next_attempt_at"`

	// LeaseExpiresAt is set while the job is active; once it passes, the
	// claim is considered abandoned and the job may be reclaimed.
	LeaseExpiresAt time.Time `json:"lease_expires_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJob creates a queued Job with the given queue, type and payload.
// An empty id is replaced with a generated UUID. Zero-value priority,
// max attempts and backoff get the broker defaults (priority 0, three
// attempts, exponential backoff from a two second base).
func NewJob(queueName, jobType string, payload json.RawMessage) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:          uuid.NewString(),
		QueueName:   queueName,
		Type:        jobType,
		Payload:     payload,
		Priority:    0,
		Attempt:     0,
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultBackoffPolicy(),
		State:       JobStateQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// DefaultMaxAttempts is the number of executions a job gets unless the
// producer overrides it.
const DefaultMaxAttempts = 3

// Validate checks if the Job has valid data.
// Returns an error if any field fails validation.
func (j *Job) Validate() error {
	if j.ID == "" {
		return ErrEmptyJobID
	}

	if j.QueueName == "" {
		return ErrEmptyJobQueue
	}

	if j.Type == "" {
		return ErrEmptyJobType
	}

	if j.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}

	if !isValidJobState(j.State) {
		return ErrInvalidJobState
	}

	return nil
}

// Terminal reports whether the job has reached a terminal state.
func (j *Job) Terminal() bool {
	return j.State == JobStateCompleted || j.State == JobStateFailed
}

// Retryable reports whether a failed execution may be retried: one more
// execution must still fit under MaxAttempts.
func (j *Job) Retryable() bool {
	return j.Attempt+1 < j.MaxAttempts
}

// isValidJobState checks if the given state is a valid JobState.
func isValidJobState(state JobState) bool {
	switch state {
	case JobStateQueued, JobStateActive, JobStateCompleted, JobStateFailed:
		return true
	default:
		return false
	}
}
