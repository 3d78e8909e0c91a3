package domain

import (
	"time"

	"github.com/google/uuid"
)

// Workflow — сохранённое определение workflow из визуального редактора.
//
// Один workflow имеет множество версий (WorkflowVersion); каждый run
// выполняет конкретную версию.
type Workflow struct {
	// ID — уникальный идентификатор workflow.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя workflow ("daily-report", "etl-orders").
	Name string `json:"name"`

	// IsActive — неактивные workflows не запускаются по расписанию.
	IsActive bool `json:"is_active"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// WorkflowVersion — версия workflow с конкретным графом.
type WorkflowVersion struct {
	// WorkflowID — ссылка на родительский workflow.
	WorkflowID uuid.UUID `json:"workflow_id"`

	// Version — номер версии (1, 2, 3, ...).
	Version int `json:"version"`

	// Spec — граф, переменные и опции запуска этой версии.
	Spec GraphSpec `json:"spec"`

	// CreatedAt — время создания версии.
	CreatedAt time.Time `json:"created_at"`
}

// GraphSpec — полная спецификация версии: то, что редактор сохраняет
// и что engine получает на вход StartRun.
type GraphSpec struct {
	// Nodes и Edges — граф с канвы.
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`

	// Variables — переменные workflow.
	Variables []Variable `json:"variables,omitempty"`

	// Options — параметры выполнения.
	Options RunOptions `json:"options,omitempty"`
}

// Graph возвращает узлы и рёбра спецификации как Graph.
func (s *GraphSpec) Graph() Graph {
	return Graph{Nodes: s.Nodes, Edges: s.Edges}
}

// Schedule — расписание автоматического запуска workflow.
//
// Scheduler проверяет NextDueAt и создаёт run, когда время подошло.
type Schedule struct {
	// ID — уникальный идентификатор schedule.
	ID uuid.UUID `json:"id"`

	// WorkflowID — ссылка на workflow, который нужно запускать.
	WorkflowID uuid.UUID `json:"workflow_id"`

	// Name — имя расписания.
	Name string `json:"name,omitempty"`

	// CronExpr — cron-выражение "минуты часы дни месяцы дни_недели".
	CronExpr string `json:"cron_expr"`

	// Timezone — часовой пояс для вычисления времени (default: UTC).
	Timezone string `json:"timezone"`

	// Enabled — выключенные расписания игнорируются.
	Enabled bool `json:"enabled"`

	// NextDueAt — время следующего запуска.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	// LastRunAt — время последнего запуска.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// LastRunID — ID последнего созданного run.
	LastRunID *uuid.UUID `json:"last_run_id,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsDue проверяет, пора ли запускать.
func (s *Schedule) IsDue(now time.Time) bool {
	if !s.Enabled || s.NextDueAt == nil {
		return false
	}
	return !now.Before(*s.NextDueAt)
}

// RecordRun записывает информацию о созданном run и следующем запуске.
// Нулевой runID допустим: запуск запрошен, но run ещё не создан.
func (s *Schedule) RecordRun(runID uuid.UUID, nextDue time.Time) {
	now := time.Now()
	s.LastRunAt = &now
	if runID != uuid.Nil {
		s.LastRunID = &runID
	}
	s.NextDueAt = &nextDue
	s.UpdatedAt = now
}
