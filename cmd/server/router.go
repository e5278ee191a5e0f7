package main

import (
	"net/http"

	"github.com/fukkingsnow/arq-sub003/internal/api"
	"github.com/fukkingsnow/arq-sub003/internal/api/middleware"
	"github.com/fukkingsnow/arq-sub003/internal/api/shared"
	"github.com/fukkingsnow/arq-sub003/internal/pipeline"
	"github.com/fukkingsnow/arq-sub003/internal/service"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// newRouter builds the HTTP routing table.
func newRouter(taskService *service.TaskService, engine *pipeline.Engine) chi.Router {
	taskHandler := api.NewTaskHandler(taskService)
	eventsHandler := api.NewEventsHandler(taskService)
	pipelineHandler := api.NewPipelineHandler(engine)

	r := chi.NewRouter()

	r.Use(middleware.TraceMiddleware)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", taskHandler.SubmitTask)
		r.Get("/tasks/{id}", taskHandler.GetTaskStatus)
		r.Get("/tasks/{id}/events", eventsHandler.StreamTaskEvents)
		r.Post("/pipelines/execute", pipelineHandler.ExecutePipeline)
	})

	return r
}
