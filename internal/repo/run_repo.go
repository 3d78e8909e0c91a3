package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smolenkov/conveyor/internal/domain"
)

// RunRepo — репозиторий для работы с workflow runs.
//
// Таблица NodeRuns хранится целиком как JSONB: UI всегда читает run
// со всеми узлами, а engine пишет только полные снимки.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// SaveRun сохраняет полный снимок run (insert или update).
//
// Реализует engine.Store.
func (r *RunRepo) SaveRun(ctx context.Context, run *domain.WorkflowRun) error {
	nodeRunsJSON, err := json.Marshal(run.NodeRuns)
	if err != nil {
		return fmt.Errorf("marshal node runs: %w", err)
	}
	variablesJSON, err := json.Marshal(run.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	optionsJSON, err := json.Marshal(run.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}

	query := `
		INSERT INTO workflow_runs (id, workflow_id, status, node_runs, variables, options,
		                           error, idempotency_key, started_at, ended_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    node_runs = EXCLUDED.node_runs,
		    error = EXCLUDED.error,
		    started_at = EXCLUDED.started_at,
		    ended_at = EXCLUDED.ended_at
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		nullUUID(run.WorkflowID),
		run.Status,
		nodeRunsJSON,
		variablesJSON,
		optionsJSON,
		nullString(run.Error),
		nullString(run.IdempotencyKey),
		run.StartedAt,
		run.EndedAt,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// LoadRun возвращает run по ID.
//
// Реализует engine.Store.
func (r *RunRepo) LoadRun(ctx context.Context, id uuid.UUID) (*domain.WorkflowRun, error) {
	query := `
		SELECT id, workflow_id, status, node_runs, variables, options,
		       error, idempotency_key, started_at, ended_at, created_at
		FROM workflow_runs
		WHERE id = $1
	`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	WorkflowID *uuid.UUID
	Status     domain.RunStatus
	Limit      int
	Offset     int
}

// List возвращает runs с фильтрацией, новые первыми.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.WorkflowRun, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	query := `
		SELECT id, workflow_id, status, node_runs, variables, options,
		       error, idempotency_key, started_at, ended_at, created_at
		FROM workflow_runs
		WHERE ($1::uuid IS NULL OR workflow_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		filter.WorkflowID,
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetByIdempotencyKey возвращает run по ключу идемпотентности.
func (r *RunRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.WorkflowRun, error) {
	query := `
		SELECT id, workflow_id, status, node_runs, variables, options,
		       error, idempotency_key, started_at, ended_at, created_at
		FROM workflow_runs
		WHERE idempotency_key = $1
	`
	return scanRun(r.pool.QueryRow(ctx, query, key))
}

// scanRun сканирует одну строку в WorkflowRun.
func scanRun(row pgx.Row) (*domain.WorkflowRun, error) {
	var run domain.WorkflowRun
	var workflowID *uuid.UUID
	var nodeRunsJSON, variablesJSON, optionsJSON []byte
	var runError, idempotencyKey *string

	err := row.Scan(
		&run.ID,
		&workflowID,
		&run.Status,
		&nodeRunsJSON,
		&variablesJSON,
		&optionsJSON,
		&runError,
		&idempotencyKey,
		&run.StartedAt,
		&run.EndedAt,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if workflowID != nil {
		run.WorkflowID = *workflowID
	}
	if err := json.Unmarshal(nodeRunsJSON, &run.NodeRuns); err != nil {
		return nil, fmt.Errorf("unmarshal node runs: %w", err)
	}
	if len(variablesJSON) > 0 {
		if err := json.Unmarshal(variablesJSON, &run.Variables); err != nil {
			return nil, fmt.Errorf("unmarshal variables: %w", err)
		}
	}
	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &run.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options: %w", err)
		}
	}
	if runError != nil {
		run.Error = *runError
	}
	if idempotencyKey != nil {
		run.IdempotencyKey = *idempotencyKey
	}

	return &run, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для нулевого UUID.
func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
