package api

import (
	"errors"
	"net/http"

	"github.com/fukkingsnow/arq-sub003/internal/api/shared"
	"github.com/fukkingsnow/arq-sub003/internal/service"
	"github.com/go-chi/chi/v5"
)

// SubmitTaskResponse is returned for an accepted task submission.
type SubmitTaskResponse struct {
	ID string `json:"id"`
}

// TaskHandler handles task-related HTTP requests.
type TaskHandler struct {
	taskService *service.TaskService
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(taskService *service.TaskService) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
	}
}

// SubmitTask handles POST /api/tasks requests. Processing happens
// asynchronously, so success is a 202 with the job id.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	jobID, err := h.taskService.SubmitTask(r.Context(), req)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest,
			"Failed to submit task", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{ID: jobID})
}

// GetTaskStatus handles GET /api/tasks/{id} requests. It is a pure read
// and never mutates task state.
func (h *TaskHandler) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return
	}

	status, err := h.taskService.GetTaskStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to read task status", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, status)
}
