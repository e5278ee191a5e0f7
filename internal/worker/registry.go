package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/fukkingsnow/arq-sub003/internal/domain"
)

// Common errors returned by the Registry
var (
	ErrEmptyJobType     = errors.New("job type cannot be empty")
	ErrNilHandler       = errors.New("handler cannot be nil")
	ErrDuplicateJobType = errors.New("job type already registered")
	ErrUnknownJobType   = errors.New("unknown job type")
)

// ProgressFunc lets a handler report incremental progress (0-100).
type ProgressFunc func(progress int)

// HandlerFunc executes one job and returns its result payload.
// A returned error drives the broker's retry/backoff path unless it is
// marked permanent.
type HandlerFunc func(ctx context.Context, job *domain.Job, report ProgressFunc) (json.RawMessage, error)

// Registry maps job type discriminators to handlers. Registration is
// validated up front so misconfigured types fail fast instead of at
// dispatch time.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a handler to a job type. Empty types, nil handlers and
// duplicate registrations are rejected.
func (r *Registry) Register(jobType string, handler HandlerFunc) error {
	if jobType == "" {
		return ErrEmptyJobType
	}
	if handler == nil {
		return ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[jobType]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateJobType, jobType)
	}

	r.handlers[jobType] = handler
	return nil
}

// Resolve returns the handler for the job type. An unrecognized type is a
// configuration error, reported as permanent so it is never retried.
func (r *Registry) Resolve(jobType string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[jobType]
	if !ok {
		return nil, Permanent(fmt.Errorf("%w: %q", ErrUnknownJobType, jobType))
	}
	return handler, nil
}

// Types returns the registered job types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// permanentError marks a failure that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error so the pool skips the retry path for it.
// Used for configuration errors like unknown job types or malformed
// payloads, where retrying cannot help.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether the error is marked permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
