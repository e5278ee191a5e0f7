package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fukkingsnow/arq-sub003/internal/domain"
	"github.com/fukkingsnow/arq-sub003/internal/pipeline"
)

// Built-in job type discriminators.
const (
	// JobTypeEcho completes immediately with the submitted payload.
	JobTypeEcho = "echo"

	// JobTypeChatMessage runs the default pipeline over the payload.
	JobTypeChatMessage = "chat_message"
)

// NewEchoHandler returns a handler that echoes the job payload back as
// its result. Useful for smoke tests and queue health checks.
func NewEchoHandler() HandlerFunc {
	return func(_ context.Context, job *domain.Job, report ProgressFunc) (json.RawMessage, error) {
		report(100)
		return job.Payload, nil
	}
}

// chatMessagePayload is the expected payload of a chat_message job.
type chatMessagePayload struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// chatMessageResult is the result recorded for a chat_message job.
type chatMessageResult struct {
	Response string `json:"response"`
	Intent   string `json:"intent"`
	Route    string `json:"route"`
}

// NewChatMessageHandler returns a handler that threads the job payload
// through the default pipeline. A malformed payload or a pipeline
// validation failure is permanent: retrying the same input cannot
// succeed.
func NewChatMessageHandler(engine *pipeline.Engine, logExecution bool) HandlerFunc {
	return func(ctx context.Context, job *domain.Job, report ProgressFunc) (json.RawMessage, error) {
		var payload chatMessagePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, Permanent(fmt.Errorf("malformed chat_message payload: %w", err))
		}

		pctx, err := pipeline.NewContext(payload.UserID, payload.SessionID, payload.Message)
		if err != nil {
			return nil, Permanent(err)
		}

		report(10)

		result := engine.Execute(ctx, pctx, pipeline.DefaultPipelineName, pipeline.Options{
			LogExecution: logExecution,
		})
		if !result.Success {
			return nil, Permanent(errors.New(result.Error))
		}

		report(90)

		out, err := json.Marshal(chatMessageResult{
			Response: result.Data.Response,
			Intent:   result.Data.Intent,
			Route:    result.Data.Route,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode chat result: %w", err)
		}

		return out, nil
	}
}
