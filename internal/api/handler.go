package api

import (
	"log/slog"

	"github.com/smolenkov/conveyor/internal/engine"
	"github.com/smolenkov/conveyor/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
//
// Репозитории опциональны: без БД сервер работает в ad-hoc режиме
// (запуск графов с канвы без сохранённых workflows и истории).
type Handler struct {
	engine       *engine.Engine
	workflowRepo *repo.WorkflowRepo
	runRepo      *repo.RunRepo
	scheduleRepo *repo.ScheduleRepo
	logger       *slog.Logger
	corsOrigin   string
}

// Config — конфигурация для создания Handler.
type Config struct {
	Engine       *engine.Engine
	WorkflowRepo *repo.WorkflowRepo
	RunRepo      *repo.RunRepo
	ScheduleRepo *repo.ScheduleRepo
	Logger       *slog.Logger

	// CORSOrigin — origin браузерного редактора (default: "*").
	CORSOrigin string
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}

	return &Handler{
		engine:       cfg.Engine,
		workflowRepo: cfg.WorkflowRepo,
		runRepo:      cfg.RunRepo,
		scheduleRepo: cfg.ScheduleRepo,
		logger:       logger,
		corsOrigin:   corsOrigin,
	}
}

// hasStorage возвращает true, если сервер подключён к БД.
func (h *Handler) hasStorage() bool {
	return h.workflowRepo != nil
}
