package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
		CORS(h.corsOrigin),
	)

	// Preflight-запросы браузера (закрывает CORS middleware)
	mux.Handle("OPTIONS /api/v1/", chain(http.NotFoundHandler()))

	// Workflows
	mux.Handle("GET /api/v1/workflows", chain(http.HandlerFunc(h.ListWorkflows)))
	mux.Handle("POST /api/v1/workflows", chain(http.HandlerFunc(h.CreateWorkflow)))
	mux.Handle("GET /api/v1/workflows/{id}", chain(http.HandlerFunc(h.GetWorkflow)))
	mux.Handle("PUT /api/v1/workflows/{id}/active", chain(http.HandlerFunc(h.SetWorkflowActive)))

	// Workflow Versions
	mux.Handle("POST /api/v1/workflows/{id}/versions", chain(http.HandlerFunc(h.CreateWorkflowVersion)))
	mux.Handle("GET /api/v1/workflows/{id}/versions/{version}", chain(http.HandlerFunc(h.GetWorkflowVersion)))

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/runs", chain(http.HandlerFunc(h.StartRun)))
	mux.Handle("POST /api/v1/workflows/{id}/runs", chain(http.HandlerFunc(h.StartWorkflowRun)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("POST /api/v1/runs/{id}/cancel", chain(http.HandlerFunc(h.CancelRun)))
	mux.Handle("GET /api/v1/runs/{id}/events", chain(http.HandlerFunc(h.StreamRunEvents)))

	// Preview
	mux.Handle("POST /api/v1/preview", chain(http.HandlerFunc(h.PreviewNode)))

	// Node types
	mux.Handle("GET /api/v1/node-types", chain(http.HandlerFunc(h.ListNodeTypes)))

	// Schedules
	mux.Handle("GET /api/v1/schedules", chain(http.HandlerFunc(h.ListSchedules)))
	mux.Handle("POST /api/v1/workflows/{id}/schedules", chain(http.HandlerFunc(h.CreateSchedule)))
	mux.Handle("GET /api/v1/schedules/{id}", chain(http.HandlerFunc(h.GetSchedule)))
	mux.Handle("PATCH /api/v1/schedules/{id}", chain(http.HandlerFunc(h.UpdateSchedule)))
	mux.Handle("DELETE /api/v1/schedules/{id}", chain(http.HandlerFunc(h.DeleteSchedule)))
}
