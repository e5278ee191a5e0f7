package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultPipes returns the stages of the built-in pipeline in their fixed,
// authoritative order. This order is never re-derived from priorities.
func DefaultPipes() []Pipe {
	return []Pipe{
		NewValidationPipe(),
		NewEnrichmentPipe(),
		NewIntentPipe(),
		NewTransformPipe(),
		NewRoutePipe(),
	}
}

// ValidationPipe rejects contexts whose message is empty or blank.
type ValidationPipe struct {
	BasePipe
}

// NewValidationPipe creates the validation stage.
func NewValidationPipe() *ValidationPipe {
	return &ValidationPipe{
		BasePipe: NewBasePipe("validate", 100).
			WithDescription("rejects empty or malformed messages"),
	}
}

// CanProcess always returns true: validation applies to every context.
func (p *ValidationPipe) CanProcess(*Context) bool { return true }

// Process fails the run when the message is empty.
func (p *ValidationPipe) Process(_ context.Context, pctx *Context) (*Context, error) {
	if strings.TrimSpace(pctx.Message) == "" {
		return nil, errors.New("Message cannot be empty")
	}
	pctx.Set("validated", true)
	return pctx, nil
}

// EnrichmentPipe stamps the context with processing metadata.
type EnrichmentPipe struct {
	BasePipe
}

// NewEnrichmentPipe creates the enrichment stage.
func NewEnrichmentPipe() *EnrichmentPipe {
	return &EnrichmentPipe{
		BasePipe: NewBasePipe("enrich", 90).
			WithDescription("adds timestamps and session metadata"),
	}
}

// CanProcess always returns true.
func (p *EnrichmentPipe) CanProcess(*Context) bool { return true }

// Process records enrichment metadata on the context.
func (p *EnrichmentPipe) Process(_ context.Context, pctx *Context) (*Context, error) {
	pctx.Set("enriched_at", time.Now().UTC().Format(time.RFC3339Nano))
	pctx.Set("message_length", len(pctx.Message))
	if pctx.SessionID != "" {
		pctx.Set("session_id", pctx.SessionID)
	}
	return pctx, nil
}

// IntentPipe derives a coarse intent from the message by keyword matching.
type IntentPipe struct {
	BasePipe
}

// NewIntentPipe creates the intent-parsing stage.
func NewIntentPipe() *IntentPipe {
	return &IntentPipe{
		BasePipe: NewBasePipe("parse-intent", 80).
			WithDescription("keyword-matches the message to an intent"),
	}
}

// CanProcess skips intent parsing when an earlier stage already set one.
func (p *IntentPipe) CanProcess(pctx *Context) bool {
	return pctx.Intent == ""
}

// Process classifies the message into one of the known intents.
func (p *IntentPipe) Process(_ context.Context, pctx *Context) (*Context, error) {
	msg := strings.ToLower(pctx.Message)

	switch {
	case containsAny(msg, "hello", "hi", "hey"):
		pctx.Intent = "greeting"
	case containsAny(msg, "status", "progress", "how is"):
		pctx.Intent = "status_query"
	case containsAny(msg, "help", "what can you"):
		pctx.Intent = "help"
	case containsAny(msg, "bye", "goodbye"):
		pctx.Intent = "farewell"
	default:
		pctx.Intent = "unknown"
	}

	return pctx, nil
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// TransformPipe synthesizes a response from the parsed intent.
type TransformPipe struct {
	BasePipe
}

// NewTransformPipe creates the transform stage.
func NewTransformPipe() *TransformPipe {
	return &TransformPipe{
		BasePipe: NewBasePipe("transform", 70).
			WithDescription("builds a response from the parsed intent"),
	}
}

// CanProcess requires an intent to transform.
func (p *TransformPipe) CanProcess(pctx *Context) bool {
	return pctx.Intent != ""
}

// Process fills in the response text for the intent.
func (p *TransformPipe) Process(_ context.Context, pctx *Context) (*Context, error) {
	switch pctx.Intent {
	case "greeting":
		pctx.Response = "Hello! How can I help you today?"
	case "status_query":
		pctx.Response = "Let me check the current status for you."
	case "help":
		pctx.Response = "You can submit tasks, ask for their status, or just chat."
	case "farewell":
		pctx.Response = "Goodbye! Come back any time."
	default:
		pctx.Response = fmt.Sprintf("I received your message: %s", pctx.Message)
	}
	return pctx, nil
}

// RoutePipe selects the delivery route for the response.
type RoutePipe struct {
	BasePipe
}

// NewRoutePipe creates the routing stage.
func NewRoutePipe() *RoutePipe {
	return &RoutePipe{
		BasePipe: NewBasePipe("route", 60).
			WithDescription("chooses the delivery route for the response"),
	}
}

// CanProcess requires a response to route.
func (p *RoutePipe) CanProcess(pctx *Context) bool {
	return pctx.Response != ""
}

// Process routes session-bound contexts to the push channel, everything
// else to the request/response path.
func (p *RoutePipe) Process(_ context.Context, pctx *Context) (*Context, error) {
	if pctx.SessionID != "" {
		pctx.Route = "push"
	} else {
		pctx.Route = "response"
	}
	return pctx, nil
}
