package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/persistence"
)

// DocumentRepository handles generated document records. The file name is
// the (run id, step id) key, and creation is exclusive, so a replay that
// races another worker loses cleanly with ErrDocumentAlreadyExists.
type DocumentRepository struct {
	store *Persistence
}

func documentKey(runID, stepID string) string {
	return runID + "__" + stepID
}

// GetByRunAndStep returns the document record one step generated in one
// run.
func (dr *DocumentRepository) GetByRunAndStep(_ context.Context, runID, stepID string) (*models.GeneratedDocument, error) {
	dr.store.mu.RLock()
	defer dr.store.mu.RUnlock()

	var document models.GeneratedDocument

	if err := dr.store.readEntity("documents", documentKey(runID, stepID), &document); err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewDocumentError("GetByRunAndStep", runID, stepID, persistence.ErrDocumentNotFound)
		}

		return nil, persistence.NewDocumentError("GetByRunAndStep", runID, stepID, err)
	}

	return &document, nil
}

// ListByRun returns every document record of one run, oldest first.
func (dr *DocumentRepository) ListByRun(_ context.Context, runID string) ([]*models.GeneratedDocument, error) {
	dr.store.mu.RLock()
	defer dr.store.mu.RUnlock()

	documents := make([]*models.GeneratedDocument, 0)

	err := dr.store.forEachEntity("documents", func(data []byte) error {
		var document models.GeneratedDocument
		if err := json.Unmarshal(data, &document); err != nil {
			return fmt.Errorf("failed to unmarshal document record: %w", err)
		}

		if document.RunID == runID {
			documents = append(documents, &document)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(documents, func(i, j int) bool {
		return documents[i].CreatedAt.Before(documents[j].CreatedAt)
	})

	return documents, nil
}

// Save stores a document record. A record already present for the same
// (run id, step id) key fails with ErrDocumentAlreadyExists.
func (dr *DocumentRepository) Save(_ context.Context, document *models.GeneratedDocument) error {
	dr.store.mu.Lock()
	defer dr.store.mu.Unlock()

	if document.CreatedAt.IsZero() {
		document.CreatedAt = time.Now().UTC()
	}

	err := dr.store.createEntity("documents", documentKey(document.RunID, document.StepID), document)
	if err != nil {
		if os.IsExist(err) {
			return persistence.NewDocumentError("Save", document.RunID, document.StepID, persistence.ErrDocumentAlreadyExists)
		}

		return persistence.NewDocumentError("Save", document.RunID, document.StepID, err)
	}

	return nil
}
