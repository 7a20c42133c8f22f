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

// SignatureRepository handles signature request storage.
type SignatureRepository struct {
	store *Persistence
}

// GetByID returns the signature request with the given id.
func (sr *SignatureRepository) GetByID(_ context.Context, id string) (*models.SignatureRequest, error) {
	sr.store.mu.RLock()
	defer sr.store.mu.RUnlock()

	var signature models.SignatureRequest

	if err := sr.store.readEntity("signatures", id, &signature); err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewSignatureError("GetByID", id, persistence.ErrSignatureNotFound)
		}

		return nil, persistence.NewSignatureError("GetByID", id, err)
	}

	return &signature, nil
}

// GetByRunAndStep returns the signature request created by one step of one
// run, the replay lookup key.
func (sr *SignatureRepository) GetByRunAndStep(_ context.Context, runID, stepID string) (*models.SignatureRequest, error) {
	found, err := sr.find(func(signature *models.SignatureRequest) bool {
		return signature.RunID == runID && signature.StepID == stepID
	})
	if err != nil {
		return nil, err
	}

	if found == nil {
		return nil, persistence.NewSignatureError("GetByRunAndStep", "", persistence.ErrSignatureNotFound)
	}

	return found, nil
}

// GetByExternalID returns the signature request a provider webhook refers
// to.
func (sr *SignatureRepository) GetByExternalID(_ context.Context, provider, externalID string) (*models.SignatureRequest, error) {
	found, err := sr.find(func(signature *models.SignatureRequest) bool {
		return signature.Provider == provider && signature.ExternalID == externalID
	})
	if err != nil {
		return nil, err
	}

	if found == nil {
		return nil, persistence.NewSignatureError("GetByExternalID", externalID, persistence.ErrSignatureNotFound)
	}

	return found, nil
}

// ListExpired returns pending requests whose expiry passed at the given
// time, oldest first.
func (sr *SignatureRepository) ListExpired(_ context.Context, now time.Time) ([]*models.SignatureRequest, error) {
	sr.store.mu.RLock()
	defer sr.store.mu.RUnlock()

	signatures := make([]*models.SignatureRequest, 0)

	err := sr.store.forEachEntity("signatures", func(data []byte) error {
		var signature models.SignatureRequest
		if err := json.Unmarshal(data, &signature); err != nil {
			return fmt.Errorf("failed to unmarshal signature request: %w", err)
		}

		if signature.IsPending() && signature.ExpiredBy(now) {
			signatures = append(signatures, &signature)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(signatures, func(i, j int) bool {
		return signatures[i].CreatedAt.Before(signatures[j].CreatedAt)
	})

	return signatures, nil
}

// Save stores a signature request, stamping CreatedAt on first save.
func (sr *SignatureRepository) Save(_ context.Context, signature *models.SignatureRequest) error {
	sr.store.mu.Lock()
	defer sr.store.mu.Unlock()

	now := time.Now().UTC()
	if signature.CreatedAt.IsZero() {
		signature.CreatedAt = now
	}

	signature.UpdatedAt = now

	if err := sr.store.writeEntity("signatures", signature.ID, signature); err != nil {
		return persistence.NewSignatureError("Save", signature.ID, err)
	}

	return nil
}

func (sr *SignatureRepository) find(match func(*models.SignatureRequest) bool) (*models.SignatureRequest, error) {
	sr.store.mu.RLock()
	defer sr.store.mu.RUnlock()

	var found *models.SignatureRequest

	err := sr.store.forEachEntity("signatures", func(data []byte) error {
		var signature models.SignatureRequest
		if err := json.Unmarshal(data, &signature); err != nil {
			return fmt.Errorf("failed to unmarshal signature request: %w", err)
		}

		if match(&signature) {
			found = &signature
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return found, nil
}
