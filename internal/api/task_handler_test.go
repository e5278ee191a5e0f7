package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fukkingsnow/arq-sub003/internal/domain"
	"github.com/fukkingsnow/arq-sub003/internal/events"
	"github.com/fukkingsnow/arq-sub003/internal/queue"
	"github.com/fukkingsnow/arq-sub003/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type apiFixture struct {
	router      chi.Router
	broker      *queue.Broker
	broadcaster *events.Broadcaster
	service     *service.TaskService
}

func newAPIFixture() *apiFixture {
	broker := queue.NewBroker(queue.NewMemoryJobStore(), time.Minute, testLogger())
	broadcaster := events.NewBroadcaster(testLogger())
	taskService := service.NewTaskService(broker, broadcaster, "default", testLogger())

	taskHandler := NewTaskHandler(taskService)
	eventsHandler := NewEventsHandler(taskService)

	r := chi.NewRouter()
	r.Post("/api/tasks", taskHandler.SubmitTask)
	r.Get("/api/tasks/{id}", taskHandler.GetTaskStatus)
	r.Get("/api/tasks/{id}/events", eventsHandler.StreamTaskEvents)

	return &apiFixture{
		router:      r,
		broker:      broker,
		broadcaster: broadcaster,
		service:     taskService,
	}
}

func TestSubmitTaskEndpoint(t *testing.T) {
	t.Parallel()

	f := newAPIFixture()

	body := `{"type":"echo","payload":{"n":1},"priority":3}`
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp SubmitTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)

	job, err := f.broker.FindJob(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "echo", job.Type)
	assert.Equal(t, 3, job.Priority)
}

func TestSubmitTaskEndpoint_InvalidJSON(t *testing.T) {
	t.Parallel()

	f := newAPIFixture()

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBufferString(`{not json`))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTaskEndpoint_MissingType(t *testing.T) {
	t.Parallel()

	f := newAPIFixture()

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskStatusEndpoint(t *testing.T) {
	t.Parallel()

	f := newAPIFixture()

	id, err := f.service.SubmitTask(context.Background(), service.SubmitTaskRequest{
		Type:    "echo",
		Payload: json.RawMessage(`{"n":1}`),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/"+id, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var status service.TaskStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, id, status.ID)
	assert.Equal(t, domain.JobStateQueued, status.State)
}

func TestGetTaskStatusEndpoint_NotFound(t *testing.T) {
	t.Parallel()

	f := newAPIFixture()

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/missing", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamTaskEventsEndpoint_UnknownTask(t *testing.T) {
	t.Parallel()

	f := newAPIFixture()

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/missing/events", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamTaskEventsEndpoint_SnapshotThenLiveEvents(t *testing.T) {
	t.Parallel()

	f := newAPIFixture()
	server := httptest.NewServer(f.router)
	defer server.Close()

	id, err := f.service.SubmitTask(context.Background(), service.SubmitTaskRequest{Type: "echo"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		server.URL+"/api/tasks/"+id+"/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	// the snapshot is pushed immediately on subscribe
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: status_changed\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"state":"queued"`)
	_, err = reader.ReadString('\n')
	require.NoError(t, err)

	// a live publish reaches the open stream
	require.Eventually(t, func() bool {
		return f.broadcaster.SubscriberCount(id) == 1
	}, 2*time.Second, 10*time.Millisecond)
	event, err := events.NewEvent(id, events.EventCompleted, map[string]bool{"done": true})
	require.NoError(t, err)
	f.broadcaster.Publish(event)

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: completed\n", line)

	// disconnecting removes the binding
	cancel()
	require.Eventually(t, func() bool {
		return f.broadcaster.SubscriberCount(id) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// errorStore triggers the 500 path of the status endpoint.
type errorStore struct {
	queue.MemoryJobStore
}

func (s *errorStore) FindJob(context.Context, string) (*domain.Job, error) {
	return nil, errors.New("backend down")
}

func TestGetTaskStatusEndpoint_StoreFailure(t *testing.T) {
	t.Parallel()

	broker := queue.NewBroker(&errorStore{}, time.Minute, testLogger())
	broadcaster := events.NewBroadcaster(testLogger())
	taskService := service.NewTaskService(broker, broadcaster, "default", testLogger())

	r := chi.NewRouter()
	r.Get("/api/tasks/{id}", NewTaskHandler(taskService).GetTaskStatus)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/any", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
