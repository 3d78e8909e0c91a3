package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/smolenkov/conveyor/internal/domain"
	"github.com/smolenkov/conveyor/internal/engine"
	"github.com/smolenkov/conveyor/internal/repo"
)

// StartRun запускает ad-hoc граф прямо с канвы.
// POST /api/v1/runs
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if err := requestValidator.Struct(&req); err != nil {
		BadRequest(w, err.Error())
		return
	}

	run, err := h.engine.StartRun(r.Context(), engine.StartParams{
		Spec:           &req.Spec,
		IdempotencyKey: req.IdempotencyKey,
	})
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Created(w, run)
}

// StartWorkflowRun запускает сохранённый workflow.
// POST /api/v1/workflows/{id}/runs
func (h *Handler) StartWorkflowRun(w http.ResponseWriter, r *http.Request) {
	if !h.hasStorage() {
		InvalidState(w, "server is running without storage")
		return
	}

	workflowID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return
	}

	var req StartWorkflowRunRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid request body")
			return
		}
		if err := requestValidator.Struct(&req); err != nil {
			BadRequest(w, err.Error())
			return
		}
	}

	var version *domain.WorkflowVersion
	if req.Version > 0 {
		version, err = h.workflowRepo.GetVersion(r.Context(), workflowID, req.Version)
	} else {
		version, err = h.workflowRepo.LatestVersion(r.Context(), workflowID)
	}
	if HandleRepoError(w, h.logger, err, "workflow version not found") {
		return
	}

	run, err := h.engine.StartRun(r.Context(), engine.StartParams{
		WorkflowID:     workflowID,
		Spec:           &version.Spec,
		IdempotencyKey: req.IdempotencyKey,
	})
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Created(w, run)
}

// GetRun возвращает снимок run.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.engine.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, engine.ErrRunNotFound) || errors.Is(err, repo.ErrNotFound) {
			NotFound(w, "run not found")
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	Success(w, run)
}

// ListRuns возвращает историю runs из БД.
// GET /api/v1/runs?workflow_id=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if !h.hasStorage() {
		InvalidState(w, "server is running without storage")
		return
	}

	filter := repo.RunFilter{Limit: 50}

	if workflowIDStr := r.URL.Query().Get("workflow_id"); workflowIDStr != "" {
		workflowID, err := uuid.Parse(workflowIDStr)
		if err != nil {
			BadRequest(w, "invalid workflow_id")
			return
		}
		filter.WorkflowID = &workflowID
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.RunStatus(status)
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	runs, err := h.runRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	List(w, runs, len(runs))
}

// CancelRun запрашивает отмену run.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	if err := h.engine.CancelRun(runID); HandleEngineError(w, h.logger, err) {
		return
	}

	run, err := h.engine.GetRun(r.Context(), runID)
	if HandleEngineError(w, h.logger, err) {
		return
	}
	Success(w, run)
}

// PreviewNode выполняет замыкание предков узла и возвращает его результат.
// POST /api/v1/preview
func (h *Handler) PreviewNode(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if err := requestValidator.Struct(&req); err != nil {
		BadRequest(w, err.Error())
		return
	}

	output, err := h.engine.PreviewNode(r.Context(), &req.Spec, req.NodeID)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	Success(w, PreviewResponse{NodeID: req.NodeID, Output: output})
}

// ListNodeTypes возвращает зарегистрированные типы узлов для палитры UI.
// GET /api/v1/node-types
func (h *Handler) ListNodeTypes(w http.ResponseWriter, r *http.Request) {
	registry := h.engine.Registry()

	types := registry.Types()
	result := make([]NodeTypeResponse, 0, len(types))
	for _, nodeType := range types {
		caps, err := registry.Capabilities(nodeType)
		if err != nil {
			continue
		}
		result = append(result, NodeTypeResponse{
			Type:          nodeType,
			Deterministic: caps.Deterministic,
		})
	}

	List(w, result, len(result))
}
