package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smolenkov/conveyor/internal/domain"
)

// WorkflowRepo — репозиторий для работы с workflows и их версиями.
type WorkflowRepo struct {
	pool *pgxpool.Pool
}

// NewWorkflowRepo создаёт новый WorkflowRepo.
func NewWorkflowRepo(pool *pgxpool.Pool) *WorkflowRepo {
	return &WorkflowRepo{pool: pool}
}

// Create создаёт новый workflow.
func (r *WorkflowRepo) Create(ctx context.Context, workflow *domain.Workflow) error {
	query := `
		INSERT INTO workflows (id, name, is_active, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.pool.Exec(ctx, query,
		workflow.ID,
		workflow.Name,
		workflow.IsActive,
		workflow.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: workflow %q", ErrAlreadyExists, workflow.Name)
	}
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// GetByID возвращает workflow по ID.
func (r *WorkflowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	query := `
		SELECT id, name, is_active, created_at
		FROM workflows
		WHERE id = $1
	`
	return scanWorkflow(r.pool.QueryRow(ctx, query, id))
}

// GetByName возвращает workflow по имени.
func (r *WorkflowRepo) GetByName(ctx context.Context, name string) (*domain.Workflow, error) {
	query := `
		SELECT id, name, is_active, created_at
		FROM workflows
		WHERE name = $1
	`
	return scanWorkflow(r.pool.QueryRow(ctx, query, name))
}

// List возвращает все workflows.
func (r *WorkflowRepo) List(ctx context.Context) ([]domain.Workflow, error) {
	query := `
		SELECT id, name, is_active, created_at
		FROM workflows
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []domain.Workflow
	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, *workflow)
	}
	return workflows, rows.Err()
}

// SetActive меняет флаг активности workflow.
func (r *WorkflowRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE workflows SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateVersion сохраняет новую версию workflow.
//
// Номер версии вычисляется атомарно от максимального существующего.
func (r *WorkflowRepo) CreateVersion(ctx context.Context, workflowID uuid.UUID, spec *domain.GraphSpec) (*domain.WorkflowVersion, error) {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshal spec: %w", err)
	}

	query := `
		INSERT INTO workflow_versions (workflow_id, version, spec, created_at)
		VALUES ($1,
		        COALESCE((SELECT MAX(version) FROM workflow_versions WHERE workflow_id = $1), 0) + 1,
		        $2, now())
		RETURNING workflow_id, version, spec, created_at
	`
	return scanVersion(r.pool.QueryRow(ctx, query, workflowID, specJSON))
}

// GetVersion возвращает конкретную версию workflow.
func (r *WorkflowRepo) GetVersion(ctx context.Context, workflowID uuid.UUID, version int) (*domain.WorkflowVersion, error) {
	query := `
		SELECT workflow_id, version, spec, created_at
		FROM workflow_versions
		WHERE workflow_id = $1 AND version = $2
	`
	return scanVersion(r.pool.QueryRow(ctx, query, workflowID, version))
}

// LatestVersion возвращает последнюю версию workflow.
func (r *WorkflowRepo) LatestVersion(ctx context.Context, workflowID uuid.UUID) (*domain.WorkflowVersion, error) {
	query := `
		SELECT workflow_id, version, spec, created_at
		FROM workflow_versions
		WHERE workflow_id = $1
		ORDER BY version DESC
		LIMIT 1
	`
	return scanVersion(r.pool.QueryRow(ctx, query, workflowID))
}

// scanWorkflow сканирует одну строку в Workflow.
func scanWorkflow(row pgx.Row) (*domain.Workflow, error) {
	var workflow domain.Workflow
	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.IsActive,
		&workflow.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	return &workflow, nil
}

// scanVersion сканирует одну строку в WorkflowVersion.
func scanVersion(row pgx.Row) (*domain.WorkflowVersion, error) {
	var version domain.WorkflowVersion
	var specJSON []byte

	err := row.Scan(
		&version.WorkflowID,
		&version.Version,
		&specJSON,
		&version.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow version: %w", err)
	}

	if err := json.Unmarshal(specJSON, &version.Spec); err != nil {
		return nil, fmt.Errorf("unmarshal spec: %w", err)
	}
	return &version, nil
}

// isUniqueViolation проверяет ошибку нарушения уникальности (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
