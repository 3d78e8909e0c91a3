package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/smolenkov/conveyor/internal/domain"
	"github.com/smolenkov/conveyor/internal/engine"
	"github.com/smolenkov/conveyor/internal/mq"
	"github.com/smolenkov/conveyor/internal/repo"
)

// runRequestHandler обрабатывает запросы на запуск от scheduler.
//
// Идемпотентность двухуровневая: engine дедуплицирует по ключу в памяти,
// а проверка через runRepo защищает от повтора после рестарта сервера.
// Неустранимые ошибки (невалидный граф, пропавший workflow) помечаются
// mq.Permanent и уходят в DLQ без requeue.
func runRequestHandler(
	eng *engine.Engine,
	workflowRepo *repo.WorkflowRepo,
	runRepo *repo.RunRepo,
	scheduleRepo *repo.ScheduleRepo,
	logger *slog.Logger,
) mq.Handler {
	return func(ctx context.Context, msg *mq.Delivery) error {
		if msg.Message.Type != mq.MessageTypeRunRequested {
			return mq.Permanent(fmt.Errorf("unexpected message type %q", msg.Message.Type))
		}

		var payload mq.RunRequestedPayload
		if err := msg.Message.DecodePayload(&payload); err != nil {
			return mq.Permanent(fmt.Errorf("malformed run request: %w", err))
		}

		if payload.IdempotencyKey != "" {
			existing, err := runRepo.GetByIdempotencyKey(ctx, payload.IdempotencyKey)
			if err == nil {
				logger.Info("run request already processed",
					"run_id", existing.ID,
					"idempotency_key", payload.IdempotencyKey,
				)
				return nil
			}
			if !errors.Is(err, repo.ErrNotFound) {
				// Временная ошибка БД, сообщение вернётся в очередь
				return fmt.Errorf("idempotency check: %w", err)
			}
		}

		var version *domain.WorkflowVersion
		var err error
		if payload.Version > 0 {
			version, err = workflowRepo.GetVersion(ctx, payload.WorkflowID, payload.Version)
		} else {
			version, err = workflowRepo.LatestVersion(ctx, payload.WorkflowID)
		}
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return mq.Permanent(fmt.Errorf("workflow %s version not found", payload.WorkflowID))
			}
			return fmt.Errorf("load workflow version: %w", err)
		}

		run, err := eng.StartRun(ctx, engine.StartParams{
			WorkflowID:     payload.WorkflowID,
			Spec:           &version.Spec,
			IdempotencyKey: payload.IdempotencyKey,
		})
		if err != nil {
			// Невалидный граф не станет валидным при повторе
			return mq.Permanent(fmt.Errorf("start run for workflow %s: %w", payload.WorkflowID, err))
		}

		logger.Info("scheduled run started",
			"run_id", run.ID,
			"workflow_id", payload.WorkflowID,
			"schedule_id", payload.ScheduleID,
		)

		if payload.ScheduleID != uuid.Nil {
			recordScheduleRun(ctx, scheduleRepo, payload.ScheduleID, run.ID, logger)
		}

		return nil
	}
}

// recordScheduleRun проставляет last_run_id расписанию.
// Ошибка здесь не влияет на судьбу сообщения: run уже запущен.
func recordScheduleRun(ctx context.Context, scheduleRepo *repo.ScheduleRepo, scheduleID, runID uuid.UUID, logger *slog.Logger) {
	sched, err := scheduleRepo.GetByID(ctx, scheduleID)
	if err != nil {
		logger.Warn("failed to load schedule for last_run_id update", "schedule_id", scheduleID, "error", err)
		return
	}
	sched.LastRunID = &runID
	if err := scheduleRepo.Update(ctx, sched); err != nil {
		logger.Warn("failed to update schedule last_run_id", "schedule_id", scheduleID, "error", err)
	}
}
