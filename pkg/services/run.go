package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vessoa/paperwork/pkg/eventbus"
	"github.com/vessoa/paperwork/pkg/events"
	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/persistence"
)

// Run starts, inspects, and cancels workflow runs. Execution itself happens
// on the worker; this service only seeds state and publishes signals.
type Run struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

// NewRun creates a new run service.
func NewRun(persistence persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger) *Run {
	return &Run{
		persistence: persistence,
		publisher:   publisher,
		logger:      logger.With("module", "run_service"),
	}
}

// StartRunRequest asks for a new run of a published workflow against one
// source record.
type StartRunRequest struct {
	WorkflowID       string `json:"workflow_id"        validate:"required"`
	SourceObjectType string `json:"source_object_type" validate:"required"`
	SourceObjectID   string `json:"source_object_id"   validate:"required"`

	// SourceData optionally seeds the context for inbound-mode triggers
	// that validate a caller-supplied payload instead of fetching.
	SourceData map[string]any `json:"source_data,omitempty"`

	// Initiator names who or what started the run, for the audit trail.
	Initiator string `json:"initiator,omitempty"`
}

// StartRun creates a run at position 1 and announces it. The run is
// persisted before the announcement so a worker picking up the event always
// finds it.
func (r *Run) StartRun(ctx context.Context, req StartRunRequest) (*models.Run, error) {
	if err := validate.Struct(req); err != nil {
		return nil, NewValidationError("StartRun", "INVALID_START_REQUEST", err.Error(), ErrSourceObjectRequired)
	}

	workflow, err := r.persistence.WorkflowRepository().GetByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}

	if !workflow.IsExecutable() {
		return nil, NewConflictError("StartRun", "WORKFLOW_NOT_PUBLISHED",
			fmt.Sprintf("workflow %s has status %s", workflow.ID, workflow.Status),
			ErrWorkflowNotExecutable)
	}

	runID := uuid.Must(uuid.NewV7()).String()
	execCtx := models.NewExecutionContext(runID, workflow.ID, req.SourceObjectType, req.SourceObjectID)

	if len(req.SourceData) > 0 {
		execCtx.SourceData = req.SourceData
	}

	now := time.Now().UTC()
	run := &models.Run{
		ID:         runID,
		WorkflowID: workflow.ID,
		Status:     models.RunStatusRunning,
		Position:   1,
		Context:    execCtx,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := r.persistence.RunRepository().Save(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	event := events.RunStarted{
		BaseEvent:        events.NewBaseEvent(events.RunStartedEvent, workflow.ID),
		ExecutionID:      run.ID,
		SourceObjectType: req.SourceObjectType,
		SourceObjectID:   req.SourceObjectID,
		Initiator:        req.Initiator,
	}

	if err := r.publisher.Publish(ctx, run.ID, event); err != nil {
		return nil, fmt.Errorf("failed to announce run %s: %w", run.ID, err)
	}

	r.logger.InfoContext(ctx, "Run started",
		"run_id", run.ID, "workflow_id", workflow.ID,
		"source_object_type", req.SourceObjectType, "source_object_id", req.SourceObjectID)

	return run, nil
}

// FetchByID retrieves a run by its ID.
func (r *Run) FetchByID(ctx context.Context, id string) (*models.Run, error) {
	return r.persistence.RunRepository().GetByID(ctx, id)
}

// List returns runs newest first, optionally narrowed by workflow and
// status.
func (r *Run) List(ctx context.Context, workflowID, status string) ([]*models.Run, error) {
	filter := persistence.RunFilter{WorkflowID: workflowID}

	if status != "" {
		runStatus := models.RunStatus(status)
		switch runStatus {
		case models.RunStatusRunning, models.RunStatusPaused, models.RunStatusCompleted, models.RunStatusFailed:
			filter.Status = runStatus
		default:
			return nil, NewValidationError("List", "INVALID_STATUS",
				fmt.Sprintf("unknown run status %q", status), ErrInvalidStatus)
		}
	}

	runs, err := r.persistence.RunRepository().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}

// CancelRun force-fails a run. A paused run's outstanding approval requests
// are expired first, ignoring auto-approve, so their tokens die with the
// run.
func (r *Run) CancelRun(ctx context.Context, runID, canceledBy string) (*models.Run, error) {
	run, err := r.persistence.RunRepository().GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.IsTerminal() {
		return nil, NewConflictError("CancelRun", "RUN_FINISHED",
			fmt.Sprintf("run %s already has status %s", runID, run.Status),
			ErrRunAlreadyFinished)
	}

	if run.Status == models.RunStatusPaused {
		if err := r.expirePendingApprovals(ctx, runID, canceledBy); err != nil {
			return nil, err
		}
	}

	message := "run canceled"
	if canceledBy != "" {
		message = fmt.Sprintf("run canceled by %s", canceledBy)
	}

	if err := run.Fail(message); err != nil {
		return nil, fmt.Errorf("failed to cancel run %s: %w", runID, err)
	}

	if err := r.persistence.RunRepository().Save(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save canceled run: %w", err)
	}

	r.logger.InfoContext(ctx, "Run canceled", "run_id", runID, "canceled_by", canceledBy)

	return run, nil
}

func (r *Run) expirePendingApprovals(ctx context.Context, runID, canceledBy string) error {
	approvals, err := r.persistence.ApprovalRepository().ListByRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load approvals for run %s: %w", runID, err)
	}

	now := time.Now().UTC()

	for _, approval := range approvals {
		if !approval.IsPending() {
			continue
		}

		approval.Status = models.ApprovalStatusExpired
		approval.Comment = "run canceled"
		if canceledBy != "" {
			approval.Comment = fmt.Sprintf("run canceled by %s", canceledBy)
		}

		decidedAt := now
		approval.DecidedAt = &decidedAt
		approval.UpdatedAt = now

		if err := r.persistence.ApprovalRepository().Save(ctx, approval); err != nil {
			return fmt.Errorf("failed to expire approval %s: %w", approval.ID, err)
		}
	}

	return nil
}
