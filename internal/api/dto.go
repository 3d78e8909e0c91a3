package api

import (
	"github.com/go-playground/validator/v10"

	"github.com/smolenkov/conveyor/internal/domain"
)

// requestValidator — валидатор входящих DTO.
var requestValidator = validator.New()

// CreateWorkflowRequest — запрос на создание workflow.
type CreateWorkflowRequest struct {
	Name string `json:"name" validate:"required,min=1,max=128"`

	// Spec — первая версия workflow (опционально).
	Spec *domain.GraphSpec `json:"spec,omitempty"`
}

// SetActiveRequest — запрос на смену активности workflow.
type SetActiveRequest struct {
	IsActive bool `json:"is_active"`
}

// CreateVersionRequest — запрос на сохранение новой версии workflow.
type CreateVersionRequest struct {
	Spec domain.GraphSpec `json:"spec" validate:"required"`
}

// StartRunRequest — запрос на ad-hoc запуск графа с канвы.
type StartRunRequest struct {
	Spec           domain.GraphSpec `json:"spec" validate:"required"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

// StartWorkflowRunRequest — запрос на запуск сохранённого workflow.
type StartWorkflowRunRequest struct {
	// Version — версия workflow (0 — последняя).
	Version        int    `json:"version,omitempty" validate:"omitempty,min=1"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// PreviewRequest — запрос на preview одного узла.
type PreviewRequest struct {
	Spec   domain.GraphSpec `json:"spec" validate:"required"`
	NodeID string           `json:"node_id" validate:"required"`
}

// CreateScheduleRequest — запрос на создание расписания.
type CreateScheduleRequest struct {
	Name     string `json:"name,omitempty" validate:"omitempty,max=128"`
	CronExpr string `json:"cron_expr" validate:"required"`
	Timezone string `json:"timezone,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty"`
}

// UpdateScheduleRequest — запрос на обновление расписания.
type UpdateScheduleRequest struct {
	Name     *string `json:"name,omitempty"`
	CronExpr *string `json:"cron_expr,omitempty"`
	Timezone *string `json:"timezone,omitempty"`
	Enabled  *bool   `json:"enabled,omitempty"`
}

// NodeTypeResponse — описание зарегистрированного типа узла.
type NodeTypeResponse struct {
	Type          string `json:"type"`
	Deterministic bool   `json:"deterministic"`
}

// PreviewResponse — результат preview-запуска узла.
type PreviewResponse struct {
	NodeID string         `json:"node_id"`
	Output *domain.Output `json:"output"`
}
