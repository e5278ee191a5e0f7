package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/fukkingsnow/arq-sub003/internal/domain"
	"github.com/fukkingsnow/arq-sub003/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noProgress(int) {}

func TestEchoHandler(t *testing.T) {
	t.Parallel()

	payload := json.RawMessage(`{"hello":"world"}`)
	job := &domain.Job{ID: "job-1", Type: JobTypeEcho, Payload: payload}

	result, err := NewEchoHandler()(context.Background(), job, noProgress)
	require.NoError(t, err)
	assert.Equal(t, payload, result)
}

func TestChatMessageHandler(t *testing.T) {
	t.Parallel()

	engine := pipeline.NewEngine(testLogger())
	handler := NewChatMessageHandler(engine, false)

	payload := json.RawMessage(`{"user_id":"u1","session_id":"s1","message":"hello there"}`)
	job := &domain.Job{ID: "job-1", Type: JobTypeChatMessage, Payload: payload}

	result, err := handler(context.Background(), job, noProgress)
	require.NoError(t, err)

	var out struct {
		Response string `json:"response"`
		Intent   string `json:"intent"`
		Route    string `json:"route"`
	}
	require.NoError(t, json.Unmarshal(result, &out))

	assert.Equal(t, "greeting", out.Intent)
	assert.Equal(t, "Hello! How can I help you today?", out.Response)
	assert.Equal(t, "push", out.Route)
}

func TestChatMessageHandler_MalformedPayload(t *testing.T) {
	t.Parallel()

	engine := pipeline.NewEngine(testLogger())
	handler := NewChatMessageHandler(engine, false)

	job := &domain.Job{ID: "job-1", Type: JobTypeChatMessage, Payload: json.RawMessage(`{not json`)}

	_, err := handler(context.Background(), job, noProgress)
	require.Error(t, err)
	assert.True(t, IsPermanent(err), "malformed input cannot be fixed by retrying")
}

func TestChatMessageHandler_MissingUserID(t *testing.T) {
	t.Parallel()

	engine := pipeline.NewEngine(testLogger())
	handler := NewChatMessageHandler(engine, false)

	job := &domain.Job{ID: "job-1", Type: JobTypeChatMessage,
		Payload: json.RawMessage(`{"message":"hello"}`)}

	_, err := handler(context.Background(), job, noProgress)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestChatMessageHandler_EmptyMessage(t *testing.T) {
	t.Parallel()

	engine := pipeline.NewEngine(testLogger())
	handler := NewChatMessageHandler(engine, false)

	job := &domain.Job{ID: "job-1", Type: JobTypeChatMessage,
		Payload: json.RawMessage(`{"user_id":"u1","message":"  "}`)}

	_, err := handler(context.Background(), job, noProgress)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, "Message cannot be empty", err.Error())
}
