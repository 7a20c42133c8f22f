package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/persistence"
)

// DocumentRepository records generated documents. One record per run and
// step, enforced by the table's unique key; that constraint is what makes
// generation replay-safe under concurrent deliveries.
type DocumentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db *sql.DB, logger *slog.Logger) *DocumentRepository {
	return &DocumentRepository{db: db, logger: logger}
}

const documentColumns = `
	id
  , run_id
  , step_id
  , document_id
  , name
  , url
  , pdf_id
  , pdf_url
  , created_at
`

// GetByRunAndStep returns the record for one step of one run.
func (r *DocumentRepository) GetByRunAndStep(ctx context.Context, runID, stepID string) (*models.GeneratedDocument, error) {
	query := `SELECT ` + documentColumns + ` FROM generated_documents WHERE run_id = $1 AND step_id = $2`

	document, err := scanDocument(r.db.QueryRowContext(ctx, query, runID, stepID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewDocumentError("GetByRunAndStep", runID, stepID, persistence.ErrDocumentNotFound)
		}

		return nil, persistence.NewDocumentError("GetByRunAndStep", runID, stepID, err)
	}

	return document, nil
}

// ListByRun returns every document record of a run, oldest first.
func (r *DocumentRepository) ListByRun(ctx context.Context, runID string) ([]*models.GeneratedDocument, error) {
	query := `SELECT ` + documentColumns + ` FROM generated_documents WHERE run_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query generated documents: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	documents := make([]*models.GeneratedDocument, 0)

	for rows.Next() {
		document, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generated document: %w", err)
		}

		documents = append(documents, document)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating generated documents: %w", err)
	}

	return documents, nil
}

// Save inserts the record. When a record for the (run id, step id) key
// already exists the insert changes nothing and ErrDocumentAlreadyExists is
// returned, so the losing writer of a race reuses the stored document.
func (r *DocumentRepository) Save(ctx context.Context, document *models.GeneratedDocument) error {
	if document.CreatedAt.IsZero() {
		document.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO generated_documents (id, run_id, step_id, document_id, name, url, pdf_id, pdf_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, step_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		document.ID,
		document.RunID,
		document.StepID,
		document.DocumentID,
		document.Name,
		document.URL,
		document.PDFID,
		document.PDFURL,
		document.CreatedAt,
	)
	if err != nil {
		return persistence.NewDocumentError("Save", document.RunID, document.StepID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewDocumentError("Save", document.RunID, document.StepID, fmt.Errorf("failed to get rows affected: %w", err))
	}

	if rowsAffected == 0 {
		return persistence.NewDocumentError("Save", document.RunID, document.StepID, persistence.ErrDocumentAlreadyExists)
	}

	return nil
}

func scanDocument(scanner interface {
	Scan(dest ...any) error
}) (*models.GeneratedDocument, error) {
	var document models.GeneratedDocument

	err := scanner.Scan(
		&document.ID,
		&document.RunID,
		&document.StepID,
		&document.DocumentID,
		&document.Name,
		&document.URL,
		&document.PDFID,
		&document.PDFURL,
		&document.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &document, nil
}
