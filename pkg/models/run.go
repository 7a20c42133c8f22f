package models

import (
	"fmt"
	"time"
)

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"   // Steps are executing or ready to execute
	RunStatusPaused    RunStatus = "paused"    // Waiting on an external decision
	RunStatusCompleted RunStatus = "completed" // Terminal, all steps finished
	RunStatusFailed    RunStatus = "failed"    // Terminal, carries an error message
)

// ValidRunTransitions defines the allowed status transitions for runs.
// Statuses move monotonically: completed and failed are terminal.
var ValidRunTransitions = map[RunStatus][]RunStatus{
	RunStatusRunning: {RunStatusPaused, RunStatusCompleted, RunStatusFailed},
	RunStatusPaused:  {RunStatusRunning, RunStatusFailed},
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to RunStatus) bool {
	for _, allowed := range ValidRunTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

// Run is one invocation of a workflow against one source record.
type Run struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id" validate:"required"`
	Status     RunStatus `json:"status"      validate:"required"`

	// Position is the step currently executing or next to execute.
	Position int `json:"position"`

	// ErrorMessage is set exactly when Status is failed.
	ErrorMessage string `json:"error_message,omitempty"`

	// PrimaryOutput references the most recently generated document once
	// the run completes.
	PrimaryOutput *GeneratedDocument `json:"primary_output,omitempty"`

	// Context is the latest persisted execution context snapshot.
	Context *ExecutionContext `json:"context,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the run reached a final status.
func (r *Run) IsTerminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// Transition moves the run to the given status, enforcing the validity
// table. Terminal transitions stamp CompletedAt.
func (r *Run) Transition(to RunStatus) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("invalid run transition: %s -> %s", r.Status, to)
	}

	r.Status = to
	r.UpdatedAt = time.Now().UTC()

	if r.IsTerminal() {
		completedAt := r.UpdatedAt
		r.CompletedAt = &completedAt
	}

	return nil
}

// Fail transitions the run to failed with the given message. A failed run
// always carries a message; a non-terminal run never does.
func (r *Run) Fail(message string) error {
	if err := r.Transition(RunStatusFailed); err != nil {
		return err
	}

	if message == "" {
		message = "run failed"
	}

	r.ErrorMessage = message

	return nil
}

// Complete transitions the run to completed and records the primary output,
// the most recently generated document, when there is one.
func (r *Run) Complete() error {
	if err := r.Transition(RunStatusCompleted); err != nil {
		return err
	}

	if r.Context != nil && len(r.Context.GeneratedDocuments) > 0 {
		last := r.Context.GeneratedDocuments[len(r.Context.GeneratedDocuments)-1]
		r.PrimaryOutput = &last
	}

	return nil
}
