package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/fukkingsnow/arq-sub003/internal/api/shared"
	"github.com/fukkingsnow/arq-sub003/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// EventsHandler streams task lifecycle events over Server-Sent Events.
type EventsHandler struct {
	taskService *service.TaskService
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(taskService *service.TaskService) *EventsHandler {
	return &EventsHandler{
		taskService: taskService,
	}
}

// StreamTaskEvents handles GET /api/tasks/{id}/events requests. The
// client first receives a status snapshot, then live status-changed /
// completed / error events until it disconnects; disconnecting removes
// only this subscriber's binding.
func (h *EventsHandler) StreamTaskEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		shared.RespondWithError(w, r, http.StatusInternalServerError,
			"Streaming not supported")
		return
	}

	// each connection is its own subscriber identity
	subscriberID := uuid.NewString()

	ch, err := h.taskService.Subscribe(r.Context(), subscriberID, jobID)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to subscribe to task events", err)
		return
	}
	defer h.taskService.Unsubscribe(subscriberID, jobID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}

			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
			flusher.Flush()
		}
	}
}
