package api

import (
	"net/http"

	"github.com/fukkingsnow/arq-sub003/internal/api/shared"
	"github.com/fukkingsnow/arq-sub003/internal/pipeline"
)

// ExecutePipelineRequest selects a pipeline and provides the context
// fields for one run.
type ExecutePipelineRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`

	// Pipeline selects a registered pipeline; empty means the default.
	Pipeline string `json:"pipeline"`

	StopOnError  *bool `json:"stop_on_error"`
	LogExecution bool  `json:"log_execution"`
}

// ExecutePipelineResponse mirrors the engine result for transport.
type ExecutePipelineResponse struct {
	Success  bool              `json:"success"`
	Error    string            `json:"error,omitempty"`
	Response string            `json:"response,omitempty"`
	Intent   string            `json:"intent,omitempty"`
	Route    string            `json:"route,omitempty"`
	Metadata pipeline.Metadata `json:"metadata"`
}

// PipelineHandler handles pipeline execution HTTP requests.
type PipelineHandler struct {
	engine *pipeline.Engine
}

// NewPipelineHandler creates a new PipelineHandler.
func NewPipelineHandler(engine *pipeline.Engine) *PipelineHandler {
	return &PipelineHandler{
		engine: engine,
	}
}

// ExecutePipeline handles POST /api/pipelines/execute requests. A failing
// stage is reported in the result body, not as an HTTP error: the run
// itself succeeded in producing an outcome.
func (h *PipelineHandler) ExecutePipeline(w http.ResponseWriter, r *http.Request) {
	var req ExecutePipelineRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest,
			"Validation error: "+err.Error())
		return
	}

	pctx, err := pipeline.NewContext(req.UserID, req.SessionID, req.Message)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result := h.engine.Execute(r.Context(), pctx, req.Pipeline, pipeline.Options{
		StopOnError:  req.StopOnError,
		LogExecution: req.LogExecution,
	})

	resp := ExecutePipelineResponse{
		Success:  result.Success,
		Error:    result.Error,
		Metadata: result.Metadata,
	}
	if result.Data != nil {
		resp.Response = result.Data.Response
		resp.Intent = result.Data.Intent
		resp.Route = result.Data.Route
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}
