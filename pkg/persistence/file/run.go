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

// RunRepository handles run storage, including the progress and suspension
// writes the engine depends on.
type RunRepository struct {
	store *Persistence
}

// GetByID returns the run with the given id.
func (rr *RunRepository) GetByID(_ context.Context, id string) (*models.Run, error) {
	rr.store.mu.RLock()
	defer rr.store.mu.RUnlock()

	return rr.getByID(id)
}

func (rr *RunRepository) getByID(id string) (*models.Run, error) {
	var run models.Run

	if err := rr.store.readEntity("runs", id, &run); err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("GetByID", id, err)
	}

	return &run, nil
}

// List returns runs matching the filter, newest first.
func (rr *RunRepository) List(_ context.Context, filter persistence.RunFilter) ([]*models.Run, error) {
	rr.store.mu.RLock()
	defer rr.store.mu.RUnlock()

	runs := make([]*models.Run, 0)

	err := rr.store.forEachEntity("runs", func(data []byte) error {
		var run models.Run
		if err := json.Unmarshal(data, &run); err != nil {
			return fmt.Errorf("failed to unmarshal run: %w", err)
		}

		if filter.WorkflowID != "" && run.WorkflowID != filter.WorkflowID {
			return nil
		}

		if filter.Status != "" && run.Status != filter.Status {
			return nil
		}

		runs = append(runs, &run)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	return runs, nil
}

// Save stores a run, stamping CreatedAt on first save.
func (rr *RunRepository) Save(_ context.Context, run *models.Run) error {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	return rr.save(run)
}

func (rr *RunRepository) save(run *models.Run) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}

	run.UpdatedAt = now

	if err := rr.store.writeEntity("runs", run.ID, run); err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	return nil
}

// UpdateProgress persists the position and context after one completed
// step.
func (rr *RunRepository) UpdateProgress(_ context.Context, runID string, position int, execCtx *models.ExecutionContext) error {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	run, err := rr.getByID(runID)
	if err != nil {
		return err
	}

	run.Position = position
	run.Context = execCtx
	run.UpdatedAt = time.Now().UTC()

	if err := rr.store.writeEntity("runs", run.ID, run); err != nil {
		return persistence.NewRunError("UpdateProgress", run.ID, err)
	}

	return nil
}

// Pause commits the paused run together with its pending approval requests
// under one lock. The requests are written first and the run last, so a
// torn write leaves a running run whose next delivery recreates the pause
// from the already stored requests.
func (rr *RunRepository) Pause(_ context.Context, run *models.Run, approvals []*models.ApprovalRequest) error {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	now := time.Now().UTC()

	for _, approval := range approvals {
		if approval.CreatedAt.IsZero() {
			approval.CreatedAt = now
		}

		approval.UpdatedAt = now

		if err := rr.store.writeEntity("approvals", approval.ID, approval); err != nil {
			return persistence.NewApprovalError("Pause", approval.ID, err)
		}
	}

	run.UpdatedAt = now

	if err := rr.store.writeEntity("runs", run.ID, run); err != nil {
		return persistence.NewRunError("Pause", run.ID, err)
	}

	return nil
}

// Resume flips a paused run back to running at the given position with the
// given context snapshot.
func (rr *RunRepository) Resume(_ context.Context, runID string, position int, execCtx *models.ExecutionContext) error {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	run, err := rr.getByID(runID)
	if err != nil {
		return err
	}

	if run.Status != models.RunStatusPaused {
		return persistence.NewRunError("Resume", runID, persistence.ErrRunNotPaused)
	}

	if err := run.Transition(models.RunStatusRunning); err != nil {
		return persistence.NewRunError("Resume", runID, err)
	}

	run.Position = position
	run.Context = execCtx

	if err := rr.store.writeEntity("runs", run.ID, run); err != nil {
		return persistence.NewRunError("Resume", run.ID, err)
	}

	return nil
}
