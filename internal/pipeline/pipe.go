package pipeline

import "context"

// Pipe is one stage of context-transforming logic. Implementations must be
// stateless: the same Pipe value is shared across concurrent runs and
// pipelines, and all per-run data lives in the Context.
type Pipe interface {
	// Name returns the pipe's unique name within a registry.
	Name() string

	// Priority orders dynamically composed pipelines; higher runs earlier.
	// It has no effect on the fixed default pipeline order.
	Priority() int

	// Enabled reports whether the pipe participates in execution at all.
	// A disabled pipe is absent from the effective order.
	Enabled() bool

	// CanProcess lets a pipe opt out for a given context without being
	// treated as a failure; the engine skips it silently.
	CanProcess(pctx *Context) bool

	// Process transforms the context. It receives the snapshot produced by
	// the previous stage and returns a new snapshot for the next one, or an
	// error describing why this stage failed.
	Process(ctx context.Context, pctx *Context) (*Context, error)
}

// BasePipe carries the descriptive attributes shared by all pipes so
// concrete stages only implement CanProcess and Process.
type BasePipe struct {
	name        string
	priority    int
	enabled     bool
	description string
	version     string
}

// NewBasePipe constructs the shared attribute set for a pipe.
func NewBasePipe(name string, priority int) BasePipe {
	return BasePipe{
		name:     name,
		priority: priority,
		enabled:  true,
		version:  "1.0",
	}
}

// Name returns the pipe's unique name.
func (p BasePipe) Name() string { return p.name }

// Priority returns the pipe's ordering priority.
func (p BasePipe) Priority() int { return p.priority }

// Enabled reports whether the pipe participates in execution.
func (p BasePipe) Enabled() bool { return p.enabled }

// Description returns the documentation-only description.
func (p BasePipe) Description() string { return p.description }

// Version returns the documentation-only version string.
func (p BasePipe) Version() string { return p.version }

// WithEnabled returns a copy with the enabled flag set.
func (p BasePipe) WithEnabled(enabled bool) BasePipe {
	p.enabled = enabled
	return p
}

// WithDescription returns a copy with the description set.
func (p BasePipe) WithDescription(desc string) BasePipe {
	p.description = desc
	return p
}
