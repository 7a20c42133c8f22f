package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/persistence"
)

// ApprovalRepository handles approval request storage.
type ApprovalRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewApprovalRepository creates a new approval repository.
func NewApprovalRepository(db *sql.DB, logger *slog.Logger) *ApprovalRepository {
	return &ApprovalRepository{db: db, logger: logger}
}

const approvalColumns = `
	id
  , run_id
  , step_id
  , token
  , approver_name
  , approver_email
  , status
  , message
  , evidence_urls
  , auto_approve
  , comment
  , decided_at
  , expires_at
  , context_snapshot
  , created_at
  , updated_at
`

// GetByID returns the approval request with the given id.
func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE id = $1`

	approval, err := scanApproval(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewApprovalError("GetByID", id, persistence.ErrApprovalNotFound)
		}

		return nil, persistence.NewApprovalError("GetByID", id, err)
	}

	return approval, nil
}

// GetByToken returns the approval request carrying the given token. The
// token is the sole credential for public decision endpoints.
func (r *ApprovalRepository) GetByToken(ctx context.Context, token string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE token = $1`

	approval, err := scanApproval(r.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewApprovalError("GetByToken", "", persistence.ErrApprovalNotFound)
		}

		return nil, persistence.NewApprovalError("GetByToken", "", err)
	}

	return approval, nil
}

// ListByRunAndStep returns the requests for one pausing step, oldest first.
func (r *ApprovalRepository) ListByRunAndStep(ctx context.Context, runID, stepID string) ([]*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE run_id = $1 AND step_id = $2 ORDER BY created_at`

	return r.list(ctx, query, runID, stepID)
}

// ListByRun returns every request of a run, oldest first.
func (r *ApprovalRepository) ListByRun(ctx context.Context, runID string) ([]*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE run_id = $1 ORDER BY created_at`

	return r.list(ctx, query, runID)
}

// ListExpired returns pending requests whose expiry passed at the given
// time, for the expiry sweep.
func (r *ApprovalRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE status = $1 AND expires_at < $2 ORDER BY created_at`

	return r.list(ctx, query, models.ApprovalStatusPending, now)
}

// Save stores an approval request, stamping CreatedAt on first save.
func (r *ApprovalRepository) Save(ctx context.Context, approval *models.ApprovalRequest) error {
	now := time.Now().UTC()

	if approval.CreatedAt.IsZero() {
		approval.CreatedAt = now
	}

	approval.UpdatedAt = now

	err := upsertApproval(ctx, r.db, approval)
	if err != nil {
		return persistence.NewApprovalError("Save", approval.ID, err)
	}

	return nil
}

func (r *ApprovalRepository) list(ctx context.Context, query string, args ...any) ([]*models.ApprovalRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approval requests: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	approvals := make([]*models.ApprovalRequest, 0)

	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval request: %w", err)
		}

		approvals = append(approvals, approval)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating approval requests: %w", err)
	}

	return approvals, nil
}

func upsertApproval(ctx context.Context, db execer, approval *models.ApprovalRequest) error {
	evidenceJSON, err := json.Marshal(approval.EvidenceURLs)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence urls: %w", err)
	}

	var snapshotJSON []byte

	if approval.ContextSnapshot != nil {
		snapshotJSON, err = json.Marshal(approval.ContextSnapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal context snapshot: %w", err)
		}
	}

	query := `
		INSERT INTO approval_requests (id, run_id, step_id, token, approver_name, approver_email,
			status, message, evidence_urls, auto_approve, comment, decided_at, expires_at,
			context_snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			comment = EXCLUDED.comment,
			decided_at = EXCLUDED.decided_at,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = db.ExecContext(ctx, query,
		approval.ID,
		approval.RunID,
		approval.StepID,
		approval.Token,
		approval.ApproverName,
		approval.ApproverEmail,
		approval.Status,
		approval.Message,
		evidenceJSON,
		approval.AutoApprove,
		approval.Comment,
		approval.DecidedAt,
		approval.ExpiresAt,
		snapshotJSON,
		approval.CreatedAt,
		approval.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save approval request: %w", err)
	}

	return nil
}

func scanApproval(scanner interface {
	Scan(dest ...any) error
}) (*models.ApprovalRequest, error) {
	var (
		approval     models.ApprovalRequest
		evidenceJSON []byte
		snapshotJSON []byte
	)

	err := scanner.Scan(
		&approval.ID,
		&approval.RunID,
		&approval.StepID,
		&approval.Token,
		&approval.ApproverName,
		&approval.ApproverEmail,
		&approval.Status,
		&approval.Message,
		&evidenceJSON,
		&approval.AutoApprove,
		&approval.Comment,
		&approval.DecidedAt,
		&approval.ExpiresAt,
		&snapshotJSON,
		&approval.CreatedAt,
		&approval.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if evidenceJSON != nil {
		err := json.Unmarshal(evidenceJSON, &approval.EvidenceURLs)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal evidence urls: %w", err)
		}
	}

	if snapshotJSON != nil {
		err := json.Unmarshal(snapshotJSON, &approval.ContextSnapshot)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal context snapshot: %w", err)
		}
	}

	return &approval, nil
}
