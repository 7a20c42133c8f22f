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

// SignatureRepository handles signature request storage.
type SignatureRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSignatureRepository creates a new signature repository.
func NewSignatureRepository(db *sql.DB, logger *slog.Logger) *SignatureRepository {
	return &SignatureRepository{db: db, logger: logger}
}

const signatureColumns = `
	id
  , run_id
  , step_id
  , provider
  , external_id
  , external_url
  , document_id
  , signers
  , status
  , blocking
  , expires_at
  , created_at
  , updated_at
`

// GetByID returns the signature request with the given id.
func (r *SignatureRepository) GetByID(ctx context.Context, id string) (*models.SignatureRequest, error) {
	query := `SELECT ` + signatureColumns + ` FROM signature_requests WHERE id = $1`

	return r.getOne(ctx, "GetByID", id, query, id)
}

// GetByRunAndStep returns the request sent by one step of one run, the
// idempotency key for replays.
func (r *SignatureRepository) GetByRunAndStep(ctx context.Context, runID, stepID string) (*models.SignatureRequest, error) {
	query := `SELECT ` + signatureColumns + ` FROM signature_requests WHERE run_id = $1 AND step_id = $2`

	return r.getOne(ctx, "GetByRunAndStep", runID+"/"+stepID, query, runID, stepID)
}

// GetByExternalID returns the request a provider webhook refers to.
func (r *SignatureRepository) GetByExternalID(ctx context.Context, provider, externalID string) (*models.SignatureRequest, error) {
	query := `SELECT ` + signatureColumns + ` FROM signature_requests WHERE provider = $1 AND external_id = $2`

	return r.getOne(ctx, "GetByExternalID", provider+"/"+externalID, query, provider, externalID)
}

// ListExpired returns pending requests whose expiry passed at the given
// time, for the expiry sweep.
func (r *SignatureRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.SignatureRequest, error) {
	query := `SELECT ` + signatureColumns + ` FROM signature_requests WHERE status = $1 AND expires_at < $2 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, models.SignatureStatusPending, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query signature requests: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	signatures := make([]*models.SignatureRequest, 0)

	for rows.Next() {
		signature, err := scanSignature(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signature request: %w", err)
		}

		signatures = append(signatures, signature)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signature requests: %w", err)
	}

	return signatures, nil
}

// Save stores a signature request, stamping CreatedAt on first save.
func (r *SignatureRepository) Save(ctx context.Context, signature *models.SignatureRequest) error {
	now := time.Now().UTC()

	if signature.CreatedAt.IsZero() {
		signature.CreatedAt = now
	}

	signature.UpdatedAt = now

	signersJSON, err := json.Marshal(signature.Signers)
	if err != nil {
		return persistence.NewSignatureError("Save", signature.ID, fmt.Errorf("failed to marshal signers: %w", err))
	}

	query := `
		INSERT INTO signature_requests (id, run_id, step_id, provider, external_id, external_url,
			document_id, signers, status, blocking, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			external_url = EXCLUDED.external_url,
			signers = EXCLUDED.signers,
			status = EXCLUDED.status,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		signature.ID,
		signature.RunID,
		signature.StepID,
		signature.Provider,
		signature.ExternalID,
		signature.ExternalURL,
		signature.DocumentID,
		signersJSON,
		signature.Status,
		signature.Blocking,
		signature.ExpiresAt,
		signature.CreatedAt,
		signature.UpdatedAt,
	)
	if err != nil {
		return persistence.NewSignatureError("Save", signature.ID, err)
	}

	return nil
}

func (r *SignatureRepository) getOne(ctx context.Context, op, key, query string, args ...any) (*models.SignatureRequest, error) {
	signature, err := scanSignature(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewSignatureError(op, key, persistence.ErrSignatureNotFound)
		}

		return nil, persistence.NewSignatureError(op, key, err)
	}

	return signature, nil
}

func scanSignature(scanner interface {
	Scan(dest ...any) error
}) (*models.SignatureRequest, error) {
	var (
		signature   models.SignatureRequest
		signersJSON []byte
	)

	err := scanner.Scan(
		&signature.ID,
		&signature.RunID,
		&signature.StepID,
		&signature.Provider,
		&signature.ExternalID,
		&signature.ExternalURL,
		&signature.DocumentID,
		&signersJSON,
		&signature.Status,
		&signature.Blocking,
		&signature.ExpiresAt,
		&signature.CreatedAt,
		&signature.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if signersJSON != nil {
		err := json.Unmarshal(signersJSON, &signature.Signers)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal signers: %w", err)
		}
	}

	return &signature, nil
}
