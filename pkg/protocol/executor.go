// Package protocol defines the contracts between the orchestrator, the six
// step executors, and the external collaborators they call.
package protocol

import (
	"context"
	"log/slog"

	"github.com/vessoa/paperwork/pkg/models"
)

// StepResult is what an executor hands back to the orchestrator after a
// successful execution.
type StepResult struct {
	// Context is the mutated execution context to thread into the next
	// step.
	Context *models.ExecutionContext

	// Suspension is non-nil when the step halts the run pending an
	// external decision.
	Suspension *Suspension
}

// SuspensionReason names why a run paused.
type SuspensionReason string

const (
	SuspendedForApproval  SuspensionReason = "human_approval"
	SuspendedForSignature SuspensionReason = "signature_request"
)

// Suspension carries the decision records guarding resumption. Approval
// requests are handed to the orchestrator unpersisted so the pause and the
// records commit in one atomic write.
type Suspension struct {
	Reason SuspensionReason

	// ApprovalRequests are the fresh (or, under replay, the already
	// pending) requests for a human approval step.
	ApprovalRequests []*models.ApprovalRequest

	// SignatureRequestID references the persisted signature request a
	// blocking signature step waits on.
	SignatureRequestID string
}

// StepExecutor runs one step kind. Implementations are built per step by
// their factory, which parses the step configuration exactly once;
// executors never dig through raw configuration maps at execution time.
type StepExecutor interface {
	// Kind identifies the step implementation.
	Kind() models.StepKind

	// Classification states what a failure of this executor does to the
	// run. It is a property of the configured instance: a blocking
	// signature step is critical while a non-blocking one is best effort.
	Classification() models.Classification

	// Execute runs the step against the given context and returns the
	// mutated context, plus a suspension when the run must pause. The
	// context argument is owned by the executor for the duration of the
	// call; nothing else mutates it concurrently.
	Execute(ctx context.Context, execCtx *models.ExecutionContext, logger *slog.Logger) (*StepResult, error)
}

// StepFactory builds executors for one step kind.
type StepFactory interface {
	Kind() models.StepKind
	Name() string
	Description() string

	// Schema describes the step configuration as a JSON schema fragment
	// for registry listings.
	Schema() map[string]any

	// Create parses and validates the step's configuration and returns a
	// bound executor. Configuration errors surface here, before any
	// execution begins.
	Create(step *models.Step) (StepExecutor, error)
}
