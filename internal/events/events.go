package events

import (
	"encoding/json"
	"time"
)

// EventKind discriminates job lifecycle notifications.
type EventKind string

// Event kinds emitted by the worker/broker integration.
const (
	// EventStatusChanged signals a job state or progress transition.
	EventStatusChanged EventKind = "status_changed"

	// EventCompleted carries the final result payload of a finished job.
	EventCompleted EventKind = "completed"

	// EventError carries the failure message of a failed job.
	EventError EventKind = "error"
)

// Event is one job lifecycle notification. Events are notifications only;
// they carry no authority over job state.
type Event struct {
	// JobID is the job this event describes.
	JobID string `json:"job_id"`

	// Kind discriminates the notification.
	Kind EventKind `json:"kind"`

	// Payload contains kind-specific data serialized as JSON.
	Payload json.RawMessage `json:"payload,omitempty"`

	// PublishedAt records when the event was published.
	PublishedAt time.Time `json:"published_at"`
}

// NewEvent creates an Event for the given job, serializing the payload.
func NewEvent(jobID string, kind EventKind, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{
		JobID:       jobID,
		Kind:        kind,
		Payload:     data,
		PublishedAt: time.Now().UTC(),
	}, nil
}
