package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/persistence"
)

// RunRepository handles run storage, including the progress and suspension
// writes the engine depends on.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

const runColumns = `
	id
  , workflow_id
  , status
  , position
  , error_message
  , primary_output
  , context
  , created_at
  , updated_at
  , completed_at
`

// GetByID returns the run with the given id.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("GetByID", id, err)
	}

	return run, nil
}

// List returns runs matching the filter, newest first.
func (r *RunRepository) List(ctx context.Context, filter persistence.RunFilter) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`

	var (
		clauses []string
		args    []any
	)

	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		clauses = append(clauses, "workflow_id = $"+strconv.Itoa(len(args)))
	}

	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, "status = $"+strconv.Itoa(len(args)))
	}

	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}

	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.Run, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// Save stores a run, stamping CreatedAt on first save.
func (r *RunRepository) Save(ctx context.Context, run *models.Run) error {
	now := time.Now().UTC()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}

	run.UpdatedAt = now

	err := upsertRun(ctx, r.db, run)
	if err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	return nil
}

// UpdateProgress persists the position and context after one completed
// step.
func (r *RunRepository) UpdateProgress(ctx context.Context, runID string, position int, execCtx *models.ExecutionContext) error {
	contextJSON, err := json.Marshal(execCtx)
	if err != nil {
		return persistence.NewRunError("UpdateProgress", runID, fmt.Errorf("failed to marshal context: %w", err))
	}

	query := `UPDATE runs SET position = $2, context = $3, updated_at = $4 WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, runID, position, contextJSON, time.Now().UTC())
	if err != nil {
		return persistence.NewRunError("UpdateProgress", runID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRunError("UpdateProgress", runID, fmt.Errorf("failed to get rows affected: %w", err))
	}

	if rowsAffected == 0 {
		return persistence.NewRunError("UpdateProgress", runID, persistence.ErrRunNotFound)
	}

	return nil
}

// Pause commits the paused run together with its pending approval requests
// in one transaction: either the run is paused with every request stored,
// or nothing changed.
func (r *RunRepository) Pause(ctx context.Context, run *models.Run, approvals []*models.ApprovalRequest) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewRunError("Pause", run.ID, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()

	for _, approval := range approvals {
		if approval.CreatedAt.IsZero() {
			approval.CreatedAt = now
		}

		approval.UpdatedAt = now

		err = upsertApproval(ctx, tx, approval)
		if err != nil {
			return persistence.NewApprovalError("Pause", approval.ID, err)
		}
	}

	run.UpdatedAt = now

	err = upsertRun(ctx, tx, run)
	if err != nil {
		return persistence.NewRunError("Pause", run.ID, err)
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewRunError("Pause", run.ID, fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

// Resume flips a paused run back to running at the given position with the
// given context snapshot. The status check and the update are one
// statement, so two concurrent resumes cannot both succeed.
func (r *RunRepository) Resume(ctx context.Context, runID string, position int, execCtx *models.ExecutionContext) error {
	contextJSON, err := json.Marshal(execCtx)
	if err != nil {
		return persistence.NewRunError("Resume", runID, fmt.Errorf("failed to marshal context: %w", err))
	}

	query := `
		UPDATE runs
		SET status = $2, position = $3, context = $4, updated_at = $5
		WHERE id = $1 AND status = $6
	`

	result, err := r.db.ExecContext(ctx, query,
		runID, models.RunStatusRunning, position, contextJSON, time.Now().UTC(), models.RunStatusPaused)
	if err != nil {
		return persistence.NewRunError("Resume", runID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRunError("Resume", runID, fmt.Errorf("failed to get rows affected: %w", err))
	}

	if rowsAffected == 0 {
		var exists bool

		err = r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)", runID).Scan(&exists)
		if err != nil {
			return persistence.NewRunError("Resume", runID, err)
		}

		if !exists {
			return persistence.NewRunError("Resume", runID, persistence.ErrRunNotFound)
		}

		return persistence.NewRunError("Resume", runID, persistence.ErrRunNotPaused)
	}

	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertRun(ctx context.Context, db execer, run *models.Run) error {
	contextJSON, err := json.Marshal(run.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	var primaryOutputJSON []byte

	if run.PrimaryOutput != nil {
		primaryOutputJSON, err = json.Marshal(run.PrimaryOutput)
		if err != nil {
			return fmt.Errorf("failed to marshal primary output: %w", err)
		}
	}

	query := `
		INSERT INTO runs (id, workflow_id, status, position, error_message, primary_output, context, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			position = EXCLUDED.position,
			error_message = EXCLUDED.error_message,
			primary_output = EXCLUDED.primary_output,
			context = EXCLUDED.context,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at
	`

	_, err = db.ExecContext(ctx, query,
		run.ID,
		run.WorkflowID,
		run.Status,
		run.Position,
		run.ErrorMessage,
		primaryOutputJSON,
		contextJSON,
		run.CreatedAt,
		run.UpdatedAt,
		run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*models.Run, error) {
	var (
		run               models.Run
		primaryOutputJSON []byte
		contextJSON       []byte
	)

	err := scanner.Scan(
		&run.ID,
		&run.WorkflowID,
		&run.Status,
		&run.Position,
		&run.ErrorMessage,
		&primaryOutputJSON,
		&contextJSON,
		&run.CreatedAt,
		&run.UpdatedAt,
		&run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if primaryOutputJSON != nil {
		err := json.Unmarshal(primaryOutputJSON, &run.PrimaryOutput)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal primary output: %w", err)
		}
	}

	if contextJSON != nil {
		err := json.Unmarshal(contextJSON, &run.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal context: %w", err)
		}
	}

	return &run, nil
}
