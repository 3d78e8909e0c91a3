package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/smolenkov/conveyor/internal/domain"
	"github.com/smolenkov/conveyor/internal/scheduler"
)

// CreateSchedule создаёт расписание для workflow.
// POST /api/v1/workflows/{id}/schedules
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	if !h.hasStorage() {
		InvalidState(w, "server is running without storage")
		return
	}

	workflowID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return
	}

	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if err := requestValidator.Struct(&req); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if err := scheduler.ValidateCronExpr(req.CronExpr); err != nil {
		BadRequest(w, "invalid cron expression: "+err.Error())
		return
	}

	if _, err := h.workflowRepo.GetByID(r.Context(), workflowID); HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	sched := &domain.Schedule{
		ID:         uuid.New(),
		WorkflowID: workflowID,
		Name:       req.Name,
		CronExpr:   req.CronExpr,
		Timezone:   req.Timezone,
		Enabled:    enabled,
		CreatedAt:  time.Now(),
	}

	nextDue, err := scheduler.CalculateNextDue(sched, time.Now())
	if err != nil {
		BadRequest(w, "cannot compute next run time: "+err.Error())
		return
	}
	sched.NextDueAt = &nextDue

	if err := h.scheduleRepo.Create(r.Context(), sched); HandleRepoError(w, h.logger, err, "") {
		return
	}

	Created(w, sched)
}

// ListSchedules возвращает включённые расписания.
// GET /api/v1/schedules
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	if !h.hasStorage() {
		InvalidState(w, "server is running without storage")
		return
	}

	schedules, err := h.scheduleRepo.ListEnabled(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	List(w, schedules, len(schedules))
}

// GetSchedule возвращает расписание по ID.
// GET /api/v1/schedules/{id}
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	if !h.hasStorage() {
		InvalidState(w, "server is running without storage")
		return
	}

	scheduleID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	sched, err := h.scheduleRepo.GetByID(r.Context(), scheduleID)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	Success(w, sched)
}

// UpdateSchedule меняет параметры расписания.
// PATCH /api/v1/schedules/{id}
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	if !h.hasStorage() {
		InvalidState(w, "server is running without storage")
		return
	}

	scheduleID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	var req UpdateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	sched, err := h.scheduleRepo.GetByID(r.Context(), scheduleID)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	if req.Name != nil {
		sched.Name = *req.Name
	}
	if req.CronExpr != nil {
		if err := scheduler.ValidateCronExpr(*req.CronExpr); err != nil {
			BadRequest(w, "invalid cron expression: "+err.Error())
			return
		}
		sched.CronExpr = *req.CronExpr
	}
	if req.Timezone != nil {
		sched.Timezone = *req.Timezone
	}
	if req.Enabled != nil {
		sched.Enabled = *req.Enabled
	}

	// Смена выражения или таймзоны сдвигает следующий запуск.
	if req.CronExpr != nil || req.Timezone != nil {
		nextDue, err := scheduler.CalculateNextDue(sched, time.Now())
		if err != nil {
			BadRequest(w, "cannot compute next run time: "+err.Error())
			return
		}
		sched.NextDueAt = &nextDue
	}

	if err := h.scheduleRepo.Update(r.Context(), sched); HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	Success(w, sched)
}

// DeleteSchedule удаляет расписание.
// DELETE /api/v1/schedules/{id}
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if !h.hasStorage() {
		InvalidState(w, "server is running without storage")
		return
	}

	scheduleID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	if err := h.scheduleRepo.Delete(r.Context(), scheduleID); HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	NoContent(w)
}
