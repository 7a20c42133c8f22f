package services

import (
	"context"
	"fmt"
	"time"

	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/persistence"
)

// Publishing handles the draft to published transition. Only published
// workflows can start runs.
type Publishing struct {
	persistence persistence.Persistence
}

// NewPublishing creates a new workflow publishing service.
func NewPublishing(persistence persistence.Persistence) *Publishing {
	return &Publishing{
		persistence: persistence,
	}
}

// PublishWorkflow validates a workflow's structure and marks it published.
// Publishing an already published workflow is a no-op.
func (p *Publishing) PublishWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := p.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Status == models.WorkflowStatusPublished {
		return workflow, nil
	}

	if err := p.validateForPublishing(workflow); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	workflow.Status = models.WorkflowStatusPublished
	workflow.PublishedAt = &now
	workflow.UpdatedAt = now

	if err := p.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to publish workflow: %w", err)
	}

	return workflow, nil
}

// validateForPublishing ensures a workflow is ready to accept runs: a name,
// and a structurally valid step list with its trigger at position 1.
func (p *Publishing) validateForPublishing(workflow *models.Workflow) error {
	if workflow.Name == "" {
		return NewValidationError("PublishWorkflow", "NAME_REQUIRED",
			"workflow name is required", ErrWorkflowNameRequired)
	}

	if err := workflow.ValidateSteps(); err != nil {
		return NewValidationError("PublishWorkflow", "INVALID_STEPS", err.Error(), ErrInvalidRequest)
	}

	return nil
}
