package pipeline

import (
	"errors"
	"time"
)

// Common validation errors for Context
var (
	ErrEmptyContextUserID = errors.New("context user ID cannot be empty")
)

// Context is the value threaded through a pipeline run. The identity
// fields (UserID, SessionID) are fixed for the whole run; everything a
// stage derives goes into Metadata. Each stage receives the snapshot
// produced by the previous stage and returns a new one, so no two stages
// ever share a mutable view.
type Context struct {
	// UserID correlates the run with the requesting user. Immutable.
	UserID string

	// SessionID correlates the run with a browser session. Immutable.
	SessionID string

	// Message is the raw input the pipeline operates on.
	Message string

	// Intent is the parsed intent discriminator, set by the intent stage.
	Intent string

	// Response is the synthesized output, set by the transform stage.
	Response string

	// Route names the delivery route chosen for the response.
	Route string

	// Metadata holds per-stage extensions keyed by stage-chosen names.
	Metadata map[string]any

	// StartedAt records when the run began.
	StartedAt time.Time
}

// NewContext creates a fresh Context for one pipeline invocation.
func NewContext(userID, sessionID, message string) (*Context, error) {
	if userID == "" {
		return nil, ErrEmptyContextUserID
	}

	return &Context{
		UserID:    userID,
		SessionID: sessionID,
		Message:   message,
		Metadata:  make(map[string]any),
		StartedAt: time.Now().UTC(),
	}, nil
}

// Clone returns a deep-enough copy for copy-on-write semantics: scalar
// fields are copied and the metadata map is duplicated, so a stage
// mutating the clone never affects the snapshot handed to it.
func (c *Context) Clone() *Context {
	out := *c
	out.Metadata = make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

// Set records a metadata value under the given key.
func (c *Context) Set(key string, value any) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata[key] = value
}

// Get returns the metadata value for the given key.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.Metadata[key]
	return v, ok
}

// GetString returns the metadata value for key when it is a string.
func (c *Context) GetString(key string) (string, bool) {
	v, ok := c.Metadata[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
