package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/smolenkov/conveyor/internal/domain"
	"github.com/smolenkov/conveyor/internal/mq"
	"github.com/smolenkov/conveyor/internal/repo"
	"github.com/smolenkov/conveyor/internal/telemetry"
)

// Scheduler — планировщик, обрабатывающий due schedules.
//
// Сам он runs не выполняет: для каждого подошедшего расписания
// публикует run.requested в RabbitMQ, а запуском занимается
// conveyor-server.
type Scheduler struct {
	scheduleRepo *repo.ScheduleRepo
	workflowRepo *repo.WorkflowRepo
	runRepo      *repo.RunRepo
	publisher    *mq.Publisher
	logger       *slog.Logger
	batchSize    int
}

// Config — конфигурация Scheduler.
type Config struct {
	ScheduleRepo *repo.ScheduleRepo
	WorkflowRepo *repo.WorkflowRepo
	RunRepo      *repo.RunRepo
	Publisher    *mq.Publisher
	Logger       *slog.Logger
	BatchSize    int // количество schedules за один тик (default: 100)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		scheduleRepo: cfg.ScheduleRepo,
		workflowRepo: cfg.WorkflowRepo,
		runRepo:      cfg.RunRepo,
		publisher:    cfg.Publisher,
		logger:       logger,
		batchSize:    batchSize,
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled=true, next_due_at <= now)
// 2. Для каждого публикует run.requested
// 3. Обновляет next_due_at
//
// Ошибки одного schedule не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now()

	schedules, err := s.scheduleRepo.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}

	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var processed, requested int
	for i := range schedules {
		sched := &schedules[i]

		runRequested, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			// Продолжаем обработку остальных
			continue
		}

		processed++
		if runRequested {
			requested++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(schedules),
		"processed", processed,
		"runs_requested", requested,
	)

	return nil
}

// processSchedule обрабатывает один schedule.
// Возвращает true, если запрос на запуск был опубликован (не дубликат).
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	workflow, err := s.workflowRepo.GetByID(ctx, sched.WorkflowID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Warn("workflow not found for schedule, skipping",
				"schedule_id", sched.ID,
				"workflow_id", sched.WorkflowID,
			)
			return false, nil
		}
		return false, fmt.Errorf("get workflow: %w", err)
	}

	if !workflow.IsActive {
		// Неактивный workflow: расписание перематываем, но не запускаем
		return false, s.advance(ctx, sched, uuid.Nil, now)
	}

	version, err := s.workflowRepo.LatestVersion(ctx, sched.WorkflowID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Warn("workflow has no versions, skipping",
				"schedule_id", sched.ID,
				"workflow_id", sched.WorkflowID,
			)
			return false, nil
		}
		return false, fmt.Errorf("get latest version: %w", err)
	}

	// Idempotency key "{schedule_id}_{next_due_at_unix}" гарантирует
	// один run на одно срабатывание расписания, даже при redelivery
	// или рестарте планировщика между публикацией и обновлением schedule
	idempKey := fmt.Sprintf("%s_%d", sched.ID, sched.NextDueAt.Unix())

	existing, err := s.runRepo.GetByIdempotencyKey(ctx, idempKey)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return false, fmt.Errorf("check idempotency: %w", err)
	}
	if existing != nil {
		s.logger.Debug("run already exists (idempotency)",
			"schedule_id", sched.ID,
			"run_id", existing.ID,
			"idempotency_key", idempKey,
		)
		return false, s.advance(ctx, sched, existing.ID, now)
	}

	payload := mq.RunRequestedPayload{
		WorkflowID:     sched.WorkflowID,
		ScheduleID:     sched.ID,
		Version:        version.Version,
		IdempotencyKey: idempKey,
	}
	if err := s.publisher.PublishRunRequested(ctx, payload); err != nil {
		// next_due_at не трогаем: schedule останется due и запрос
		// будет повторён на следующем тике
		return false, fmt.Errorf("publish run.requested: %w", err)
	}

	telemetry.WithWorkflowID(s.logger, sched.WorkflowID.String()).Info("requested run from schedule",
		"schedule_id", sched.ID,
		"schedule_name", sched.Name,
		"version", version.Version,
		"idempotency_key", idempKey,
	)

	return true, s.advance(ctx, sched, uuid.Nil, now)
}

// advance вычисляет следующее время запуска и сохраняет schedule.
func (s *Scheduler) advance(ctx context.Context, sched *domain.Schedule, runID uuid.UUID, now time.Time) error {
	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		// Невалидный cron: оставляем next_due_at как есть,
		// чтобы не потерять расписание молча
		s.logger.Error("failed to calculate next due",
			"schedule_id", sched.ID,
			"error", err,
		)
		return nil
	}

	sched.RecordRun(runID, nextDue)
	if err := s.scheduleRepo.Update(ctx, sched); err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}
