package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// DefaultPipelineName identifies the fixed built-in pipeline.
const DefaultPipelineName = "default"

// Common errors returned by the Engine
var (
	ErrUnknownPipeline = errors.New("unknown pipeline")
	ErrNilContext      = errors.New("pipeline context cannot be nil")
	ErrDuplicatePipe   = errors.New("pipe name already registered in pipeline")
)

// Options controls a single pipeline execution.
type Options struct {
	// StopOnError makes the engine return on the first failing stage.
	// Nil means the default (true).
	StopOnError *bool

	// LogExecution enables per-stage debug logging for this run.
	LogExecution bool
}

// StageResult records the outcome of one stage in execution order.
type StageResult struct {
	Pipe    string `json:"pipe"`
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Metadata describes which pipeline ran and which pipes executed.
type Metadata struct {
	PipelineExecuted string        `json:"pipeline_executed"`
	ExecutedPipes    []string      `json:"executed_pipes"`
	Stages           []StageResult `json:"stages,omitempty"`
}

// Result is the aggregate outcome of a pipeline run. Data is the context
// as of the last successfully executed stage.
type Result struct {
	Success  bool     `json:"success"`
	Data     *Context `json:"-"`
	Error    string   `json:"error,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// Engine orders pipes into named pipelines and executes them sequentially
// over one context. The engine itself is safe for concurrent use; each
// Execute call is one logical thread of control with no internal
// parallelism across stages.
type Engine struct {
	mu        sync.RWMutex
	pipelines map[string][]Pipe
	logger    *slog.Logger
}

// NewEngine creates an Engine pre-registered with the default pipeline:
// validate, enrich, parse-intent, transform, route, in that fixed order.
func NewEngine(logger *slog.Logger) *Engine {
	e := &Engine{
		pipelines: make(map[string][]Pipe),
		logger:    logger.With("component", "pipeline_engine"),
	}
	e.pipelines[DefaultPipelineName] = DefaultPipes()
	return e
}

// Register installs a named pipeline with the given fixed order.
// Registering an existing name replaces it. Pipe names must be unique
// within the pipeline.
func (e *Engine) Register(name string, pipes []Pipe) error {
	seen := make(map[string]struct{}, len(pipes))
	for _, p := range pipes {
		if _, dup := seen[p.Name()]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicatePipe, p.Name())
		}
		seen[p.Name()] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.pipelines[name] = append([]Pipe(nil), pipes...)
	return nil
}

// Compose registers a custom pipeline ordered by descending priority.
// Equal priorities keep their original relative order (stable sort), so a
// caller appending pipes at the same priority gets insertion order.
func (e *Engine) Compose(name string, pipes []Pipe) error {
	ordered := append([]Pipe(nil), pipes...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() > ordered[j].Priority()
	})
	return e.Register(name, ordered)
}

// Pipeline returns the ordered pipes registered under name.
func (e *Engine) Pipeline(name string) ([]Pipe, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pipes, ok := e.pipelines[name]
	if !ok {
		return nil, false
	}
	return append([]Pipe(nil), pipes...), true
}

// Execute runs the named pipeline over the given context. An empty name
// selects the default pipeline. The input context is never mutated: every
// stage operates on a fresh snapshot, and the returned Result.Data is the
// snapshot as of the last successful stage.
func (e *Engine) Execute(ctx context.Context, pctx *Context, name string, opts Options) Result {
	if pctx == nil {
		return Result{Success: false, Error: ErrNilContext.Error()}
	}
	if name == "" {
		name = DefaultPipelineName
	}

	pipes, ok := e.Pipeline(name)
	if !ok {
		return Result{
			Success:  false,
			Data:     pctx,
			Error:    fmt.Sprintf("%s: %q", ErrUnknownPipeline.Error(), name),
			Metadata: Metadata{PipelineExecuted: name},
		}
	}

	stopOnError := true
	if opts.StopOnError != nil {
		stopOnError = *opts.StopOnError
	}

	current := pctx.Clone()
	meta := Metadata{
		PipelineExecuted: name,
		ExecutedPipes:    []string{},
	}

	for _, pipe := range pipes {
		if !pipe.Enabled() {
			continue
		}

		if !pipe.CanProcess(current) {
			meta.Stages = append(meta.Stages, StageResult{
				Pipe:    pipe.Name(),
				Success: true,
				Skipped: true,
			})
			if opts.LogExecution {
				e.logger.Debug("pipe skipped",
					"pipeline", name,
					"pipe", pipe.Name())
			}
			continue
		}

		next, err := pipe.Process(ctx, current.Clone())
		if err != nil {
			meta.Stages = append(meta.Stages, StageResult{
				Pipe:    pipe.Name(),
				Success: false,
				Error:   err.Error(),
			})
			if opts.LogExecution {
				e.logger.Debug("pipe failed",
					"pipeline", name,
					"pipe", pipe.Name(),
					"error", err)
			}

			if stopOnError {
				return Result{
					Success:  false,
					Data:     current,
					Error:    err.Error(),
					Metadata: meta,
				}
			}
			// keep the context as of the last successful stage and move on
			continue
		}

		if next != nil {
			current = next
		}
		meta.ExecutedPipes = append(meta.ExecutedPipes, pipe.Name())
		meta.Stages = append(meta.Stages, StageResult{
			Pipe:    pipe.Name(),
			Success: true,
		})
		if opts.LogExecution {
			e.logger.Debug("pipe executed",
				"pipeline", name,
				"pipe", pipe.Name())
		}
	}

	// with stopOnError=false the run reached the end, which counts as
	// success even when individual stages failed
	return Result{
		Success:  true,
		Data:     current,
		Metadata: meta,
	}
}
