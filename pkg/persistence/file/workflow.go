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

// WorkflowRepository handles workflow definition storage.
type WorkflowRepository struct {
	store *Persistence
}

// GetAll returns every workflow that is not soft-deleted, sorted by
// creation time.
func (wr *WorkflowRepository) GetAll(_ context.Context) ([]*models.Workflow, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	workflows := make([]*models.Workflow, 0)

	err := wr.store.forEachEntity("workflows", func(data []byte) error {
		var workflow models.Workflow
		if err := json.Unmarshal(data, &workflow); err != nil {
			return fmt.Errorf("failed to unmarshal workflow: %w", err)
		}

		if workflow.DeletedAt == nil {
			workflows = append(workflows, &workflow)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

// GetByID returns the workflow with the given id. Soft-deleted workflows
// still resolve, so existing runs keep working after a delete.
func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	return wr.getByID(id)
}

func (wr *WorkflowRepository) getByID(id string) (*models.Workflow, error) {
	var workflow models.Workflow

	if err := wr.store.readEntity("workflows", id, &workflow); err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return &workflow, nil
}

// Save stores a workflow, stamping CreatedAt on first save.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if err := wr.store.writeEntity("workflows", workflow.ID, workflow); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// Delete soft-deletes a workflow. The definition stays on disk so runs
// referencing it keep resolving.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	workflow, err := wr.getByID(id)
	if err != nil {
		return err
	}

	if workflow.DeletedAt != nil {
		return nil
	}

	now := time.Now().UTC()
	workflow.DeletedAt = &now
	workflow.UpdatedAt = now

	if err := wr.store.writeEntity("workflows", id, workflow); err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	return nil
}
