package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solsuite/treasuryd/internal/domain"
	"github.com/solsuite/treasuryd/internal/domain/execution"
)

// Archive persists terminal executions so they outlive the in-memory
// store's GC window. Writes are idempotent on execution id.
type Archive struct {
	pool *pgxpool.Pool
}

// NewArchive creates an Archive backed by the given connection pool.
func NewArchive(pool *pgxpool.Pool) *Archive {
	return &Archive{pool: pool}
}

// Save upserts a terminal execution into the archive.
func (a *Archive) Save(ctx context.Context, e execution.Execution) error {
	if !e.Status.IsTerminal() {
		return fmt.Errorf("%w: only terminal executions are archived", domain.ErrValidation)
	}
	_, err := a.pool.Exec(ctx,
		`INSERT INTO execution_archive (id, operation, status, progress, result, error, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   progress = EXCLUDED.progress,
		   result = EXCLUDED.result,
		   error = EXCLUDED.error,
		   completed_at = EXCLUDED.completed_at`,
		e.ID, e.Operation, string(e.Status), e.Progress, e.Result, e.Error, e.CreatedAt, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("archive execution %s: %w", e.ID, err)
	}
	return nil
}

// Get returns an archived execution by id, or domain.ErrNotFound.
func (a *Archive) Get(ctx context.Context, id string) (*execution.Execution, error) {
	var e execution.Execution
	var status string
	err := a.pool.QueryRow(ctx,
		`SELECT id, operation, status, progress, result, error, created_at, completed_at
		 FROM execution_archive WHERE id = $1`, id).
		Scan(&e.ID, &e.Operation, &status, &e.Progress, &e.Result, &e.Error, &e.CreatedAt, &e.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("archived execution %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get archived execution %s: %w", id, err)
	}
	e.Status = execution.Status(status)
	e.UpdatedAt = *e.CompletedAt
	return &e, nil
}

// ListRecent returns the most recently completed archived executions.
func (a *Archive) ListRecent(ctx context.Context, limit int) ([]execution.Execution, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT id, operation, status, progress, result, error, created_at, completed_at
		 FROM execution_archive ORDER BY completed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list archived executions: %w", err)
	}
	defer rows.Close()

	var out []execution.Execution
	for rows.Next() {
		var e execution.Execution
		var status string
		if err := rows.Scan(&e.ID, &e.Operation, &status, &e.Progress, &e.Result, &e.Error, &e.CreatedAt, &e.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan archived execution: %w", err)
		}
		e.Status = execution.Status(status)
		e.UpdatedAt = *e.CompletedAt
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived executions: %w", err)
	}
	return out, nil
}
