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

// ApprovalRepository handles approval request storage. Token and run
// lookups scan the approvals directory, which is fine at the scale this
// backend is meant for.
type ApprovalRepository struct {
	store *Persistence
}

// GetByID returns the approval request with the given id.
func (ar *ApprovalRepository) GetByID(_ context.Context, id string) (*models.ApprovalRequest, error) {
	ar.store.mu.RLock()
	defer ar.store.mu.RUnlock()

	var approval models.ApprovalRequest

	if err := ar.store.readEntity("approvals", id, &approval); err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewApprovalError("GetByID", id, persistence.ErrApprovalNotFound)
		}

		return nil, persistence.NewApprovalError("GetByID", id, err)
	}

	return &approval, nil
}

// GetByToken returns the approval request carrying the given decision
// token.
func (ar *ApprovalRepository) GetByToken(_ context.Context, token string) (*models.ApprovalRequest, error) {
	ar.store.mu.RLock()
	defer ar.store.mu.RUnlock()

	var found *models.ApprovalRequest

	err := ar.store.forEachEntity("approvals", func(data []byte) error {
		var approval models.ApprovalRequest
		if err := json.Unmarshal(data, &approval); err != nil {
			return fmt.Errorf("failed to unmarshal approval request: %w", err)
		}

		if approval.Token == token {
			found = &approval
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if found == nil {
		return nil, persistence.NewApprovalError("GetByToken", "", persistence.ErrApprovalNotFound)
	}

	return found, nil
}

// ListByRunAndStep returns every approval request of one pausing step,
// oldest first.
func (ar *ApprovalRepository) ListByRunAndStep(ctx context.Context, runID, stepID string) ([]*models.ApprovalRequest, error) {
	return ar.list(func(approval *models.ApprovalRequest) bool {
		return approval.RunID == runID && approval.StepID == stepID
	})
}

// ListByRun returns every approval request of one run, oldest first.
func (ar *ApprovalRepository) ListByRun(_ context.Context, runID string) ([]*models.ApprovalRequest, error) {
	return ar.list(func(approval *models.ApprovalRequest) bool {
		return approval.RunID == runID
	})
}

// ListExpired returns pending requests whose expiry passed at the given
// time.
func (ar *ApprovalRepository) ListExpired(_ context.Context, now time.Time) ([]*models.ApprovalRequest, error) {
	return ar.list(func(approval *models.ApprovalRequest) bool {
		return approval.IsPending() && approval.ExpiredBy(now)
	})
}

// Save stores an approval request, stamping CreatedAt on first save.
func (ar *ApprovalRepository) Save(_ context.Context, approval *models.ApprovalRequest) error {
	ar.store.mu.Lock()
	defer ar.store.mu.Unlock()

	now := time.Now().UTC()
	if approval.CreatedAt.IsZero() {
		approval.CreatedAt = now
	}

	approval.UpdatedAt = now

	if err := ar.store.writeEntity("approvals", approval.ID, approval); err != nil {
		return persistence.NewApprovalError("Save", approval.ID, err)
	}

	return nil
}

func (ar *ApprovalRepository) list(keep func(*models.ApprovalRequest) bool) ([]*models.ApprovalRequest, error) {
	ar.store.mu.RLock()
	defer ar.store.mu.RUnlock()

	approvals := make([]*models.ApprovalRequest, 0)

	err := ar.store.forEachEntity("approvals", func(data []byte) error {
		var approval models.ApprovalRequest
		if err := json.Unmarshal(data, &approval); err != nil {
			return fmt.Errorf("failed to unmarshal approval request: %w", err)
		}

		if keep(&approval) {
			approvals = append(approvals, &approval)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(approvals, func(i, j int) bool {
		return approvals[i].CreatedAt.Before(approvals[j].CreatedAt)
	})

	return approvals, nil
}
