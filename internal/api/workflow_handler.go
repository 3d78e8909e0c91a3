package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/smolenkov/conveyor/internal/domain"
)

// CreateWorkflow создаёт workflow, опционально с первой версией.
// POST /api/v1/workflows
func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	if !h.hasStorage() {
		InvalidState(w, "server is running without storage")
		return
	}

	var req CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if err := requestValidator.Struct(&req); err != nil {
		BadRequest(w, err.Error())
		return
	}

	workflow := &domain.Workflow{
		ID:        uuid.New(),
		Name:      req.Name,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if err := h.workflowRepo.Create(r.Context(), workflow); HandleRepoError(w, h.logger, err, "") {
		return
	}

	if req.Spec != nil {
		if _, err := h.workflowRepo.CreateVersion(r.Context(), workflow.ID, req.Spec); HandleRepoError(w, h.logger, err, "") {
			return
		}
	}

	Created(w, workflow)
}

// ListWorkflows возвращает все workflows.
// GET /api/v1/workflows
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	if !h.hasStorage() {
		InvalidState(w, "server is running without storage")
		return
	}

	workflows, err := h.workflowRepo.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	List(w, workflows, len(workflows))
}

// GetWorkflow возвращает workflow по ID.
// GET /api/v1/workflows/{id}
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	if !h.hasStorage() {
		InvalidState(w, "server is running without storage")
		return
	}

	workflowID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return
	}

	workflow, err := h.workflowRepo.GetByID(r.Context(), workflowID)
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	Success(w, workflow)
}

// SetWorkflowActive меняет активность workflow.
// PUT /api/v1/workflows/{id}/active
func (h *Handler) SetWorkflowActive(w http.ResponseWriter, r *http.Request) {
	if !h.hasStorage() {
		InvalidState(w, "server is running without storage")
		return
	}

	workflowID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return
	}

	var req SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if err := h.workflowRepo.SetActive(r.Context(), workflowID, req.IsActive); HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	NoContent(w)
}

// CreateWorkflowVersion сохраняет новую версию workflow.
// POST /api/v1/workflows/{id}/versions
func (h *Handler) CreateWorkflowVersion(w http.ResponseWriter, r *http.Request) {
	if !h.hasStorage() {
		InvalidState(w, "server is running without storage")
		return
	}

	workflowID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return
	}

	var req CreateVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if _, err := h.workflowRepo.GetByID(r.Context(), workflowID); HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	version, err := h.workflowRepo.CreateVersion(r.Context(), workflowID, &req.Spec)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	Created(w, version)
}

// GetWorkflowVersion возвращает версию workflow.
// GET /api/v1/workflows/{id}/versions/{version}
func (h *Handler) GetWorkflowVersion(w http.ResponseWriter, r *http.Request) {
	if !h.hasStorage() {
		InvalidState(w, "server is running without storage")
		return
	}

	workflowID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return
	}

	versionNum, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || versionNum < 1 {
		BadRequest(w, "invalid version")
		return
	}

	version, err := h.workflowRepo.GetVersion(r.Context(), workflowID, versionNum)
	if HandleRepoError(w, h.logger, err, "workflow version not found") {
		return
	}

	Success(w, version)
}
