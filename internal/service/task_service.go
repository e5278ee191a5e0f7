package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fukkingsnow/arq-sub003/internal/domain"
	"github.com/fukkingsnow/arq-sub003/internal/events"
	"github.com/fukkingsnow/arq-sub003/internal/queue"
	"github.com/go-playground/validator/v10"
)

// ErrTaskNotFound indicates no task exists with the requested id.
var ErrTaskNotFound = errors.New("task not found")

// SubmitTaskRequest describes a task submission from a producer.
type SubmitTaskRequest struct {
	ID          string          `json:"id" validate:"omitempty,max=128"`
	Type        string          `json:"type" validate:"required,max=64"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	MaxAttempts int             `json:"max_attempts" validate:"omitempty,gte=1,lte=100"`
}

// TaskStatus is a read-only snapshot of a task.
type TaskStatus struct {
	ID       string          `json:"id"`
	State    domain.JobState `json:"state"`
	Progress int             `json:"progress"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Attempt  int             `json:"attempt"`
}

// TaskService glues producers, the broker and the broadcaster together:
// it validates submissions, reads status snapshots without mutating job
// state, and implements the subscribe-then-snapshot protocol.
type TaskService struct {
	broker      *queue.Broker
	broadcaster *events.Broadcaster
	queueName   string
	validator   *validator.Validate
	logger      *slog.Logger
}

// NewTaskService creates a TaskService submitting to the named queue.
func NewTaskService(
	broker *queue.Broker,
	broadcaster *events.Broadcaster,
	queueName string,
	logger *slog.Logger,
) *TaskService {
	return &TaskService{
		broker:      broker,
		broadcaster: broadcaster,
		queueName:   queueName,
		validator:   validator.New(),
		logger:      logger.With("component", "task_service"),
	}
}

// SubmitTask validates the request and enqueues the task, returning the
// job id. Malformed requests are permanent errors reported immediately.
func (s *TaskService) SubmitTask(ctx context.Context, req SubmitTaskRequest) (string, error) {
	if err := s.validator.Struct(req); err != nil {
		return "", fmt.Errorf("invalid task submission: %w", err)
	}

	return s.broker.Enqueue(ctx, s.queueName, queue.EnqueueParams{
		ID:          req.ID,
		Type:        req.Type,
		Payload:     req.Payload,
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
	})
}

// GetTaskStatus is a pure read: it returns the task's current state,
// progress and stored payload/result, or ErrTaskNotFound. It never
// mutates job state.
func (s *TaskService) GetTaskStatus(ctx context.Context, jobID string) (*TaskStatus, error) {
	job, err := s.broker.FindJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to read task status: %w", err)
	}

	return snapshotFromJob(job), nil
}

// Subscribe binds the subscriber to the task's event stream and pushes an
// immediate status snapshot, followed by live status-changed / completed /
// error events until Unsubscribe.
func (s *TaskService) Subscribe(ctx context.Context, subscriberID, jobID string) (<-chan events.Event, error) {
	// The binding must exist before the snapshot read: an event published
	// in between is then buffered on the channel instead of lost. The
	// subscriber may see such an event ahead of the snapshot, which is
	// harmless; a silently dropped terminal event is not.
	ch := s.broadcaster.Subscribe(subscriberID, jobID)

	snapshot, err := s.GetTaskStatus(ctx, jobID)
	if err != nil {
		s.broadcaster.Unsubscribe(subscriberID, jobID)
		return nil, err
	}

	event, err := events.NewEvent(jobID, events.EventStatusChanged, snapshot)
	if err != nil {
		s.broadcaster.Unsubscribe(subscriberID, jobID)
		return nil, fmt.Errorf("failed to build snapshot event: %w", err)
	}
	s.broadcaster.Send(subscriberID, jobID, event)

	s.logger.Debug("subscriber attached",
		"subscriber_id", subscriberID,
		"job_id", jobID)

	return ch, nil
}

// Unsubscribe removes the subscriber's binding to the task.
func (s *TaskService) Unsubscribe(subscriberID, jobID string) {
	s.broadcaster.Unsubscribe(subscriberID, jobID)
}

// snapshotFromJob converts a job record into its read-only status view.
func snapshotFromJob(job *domain.Job) *TaskStatus {
	return &TaskStatus{
		ID:       job.ID,
		State:    job.State,
		Progress: job.Progress,
		Payload:  job.Payload,
		Result:   job.Result,
		Error:    job.LastError,
		Attempt:  job.Attempt,
	}
}
