// Package models defines the core domain models for document workflow runs.
package models

import (
	"errors"
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft       WorkflowStatus = "draft"       // Editable, not executable
	WorkflowStatusPublished   WorkflowStatus = "published"   // Current active, executable
	WorkflowStatusUnpublished WorkflowStatus = "unpublished" // Historical, not executable
)

// Structural validation errors for workflow step lists.
var (
	ErrWorkflowNoSteps                = errors.New("workflow has no steps")
	ErrWorkflowTriggerPosition        = errors.New("workflow must have exactly one trigger step at position 1")
	ErrWorkflowPositionsNotContiguous = errors.New("workflow step positions must be contiguous starting at 1")
	ErrWorkflowDuplicateStepID        = errors.New("workflow step ids must be unique")
)

// Workflow is an ordered sequence of steps executed against one source
// record per run.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"                   validate:"required,min=3"`
	Description string         `json:"description"`
	Status      WorkflowStatus `json:"status"                 validate:"required"`
	Steps       []*Step        `json:"steps"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Owner       string         `json:"owner"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
}

// IsExecutable reports whether runs may be started from this workflow.
func (w *Workflow) IsExecutable() bool {
	return w.Status == WorkflowStatusPublished && w.DeletedAt == nil
}

// StepAt returns the enabled or disabled step at the given position, or nil.
func (w *Workflow) StepAt(position int) *Step {
	for _, step := range w.Steps {
		if step.Position == position {
			return step
		}
	}

	return nil
}

// TriggerStep returns the step at position 1, or nil.
func (w *Workflow) TriggerStep() *Step {
	return w.StepAt(1)
}

// LastPosition returns the highest step position, 0 for an empty workflow.
func (w *Workflow) LastPosition() int {
	last := 0
	for _, step := range w.Steps {
		if step.Position > last {
			last = step.Position
		}
	}

	return last
}

// ValidateSteps checks the structural rules for the step list: exactly one
// trigger step occupying position 1, contiguous positions starting at 1,
// unique step ids, and known kinds.
func (w *Workflow) ValidateSteps() error {
	if len(w.Steps) == 0 {
		return ErrWorkflowNoSteps
	}

	seenIDs := make(map[string]bool, len(w.Steps))
	seenPositions := make(map[int]bool, len(w.Steps))
	triggers := 0

	for _, step := range w.Steps {
		if !step.Kind.Valid() {
			return fmt.Errorf("step %q: unknown kind %q", step.ID, step.Kind)
		}

		if seenIDs[step.ID] {
			return fmt.Errorf("%w: %q", ErrWorkflowDuplicateStepID, step.ID)
		}

		seenIDs[step.ID] = true

		if seenPositions[step.Position] {
			return fmt.Errorf("%w: duplicate position %d", ErrWorkflowPositionsNotContiguous, step.Position)
		}

		seenPositions[step.Position] = true

		if step.Kind == StepKindTrigger {
			triggers++

			if step.Position != 1 {
				return ErrWorkflowTriggerPosition
			}
		}
	}

	if triggers != 1 {
		return ErrWorkflowTriggerPosition
	}

	for position := 1; position <= len(w.Steps); position++ {
		if !seenPositions[position] {
			return fmt.Errorf("%w: missing position %d", ErrWorkflowPositionsNotContiguous, position)
		}
	}

	return nil
}
