// Package orchestration drives runs through their workflow's steps. The
// orchestrator is a stateless event consumer: every step execution is
// triggered by an event, progress is persisted before the next event is
// published, and any delivery may repeat. Handlers therefore check the
// persisted run position before acting and skip work the run has moved
// past, which makes redelivery the retry mechanism instead of a hazard.
package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vessoa/paperwork/pkg/eventbus"
	"github.com/vessoa/paperwork/pkg/events"
	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/otelhelper"
	"github.com/vessoa/paperwork/pkg/persistence"
	"github.com/vessoa/paperwork/pkg/protocol"
	"github.com/vessoa/paperwork/pkg/registry"
)

type Orchestrator struct {
	workerID    string
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	registry    *registry.Registry
	tracer      trace.Tracer
	logger      *slog.Logger
}

func NewOrchestrator(
	workerID string,
	persist persistence.Persistence,
	eventBus eventbus.EventBus,
	reg *registry.Registry,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		workerID:    workerID,
		persistence: persist,
		eventBus:    eventBus,
		registry:    reg,
		tracer:      tracer,
		logger:      logger.With("module", "orchestrator", "worker_id", workerID),
	}
}

// RegisterHandlers attaches the orchestrator's event handlers to the bus.
// The caller subscribes the bus once after all consumers registered.
func (o *Orchestrator) RegisterHandlers() error {
	handlers := map[events.EventType]eventbus.EventHandler{
		events.RunStartedEvent:    o.handleRunStarted,
		events.RunResumedEvent:    o.handleRunResumed,
		events.StepAvailableEvent: o.handleStepAvailable,
	}

	for eventType, handler := range handlers {
		if err := o.eventBus.Handle(eventType, handler); err != nil {
			return fmt.Errorf("failed to register handler for %s: %w", eventType, err)
		}
	}

	return nil
}

// handleRunStarted kicks off execution by making the first step available.
func (o *Orchestrator) handleRunStarted(ctx context.Context, event any) error {
	started, ok := event.(*events.RunStarted)
	if !ok {
		o.logger.Error("Received unexpected payload for run started event")

		return nil
	}

	o.logger.Info("Run started",
		"run_id", started.ExecutionID, "workflow_id", started.WorkflowID)

	return o.publishStepAvailable(ctx, started.WorkflowID, started.ExecutionID, 1)
}

// handleRunResumed continues a run after an external decision unblocked it.
func (o *Orchestrator) handleRunResumed(ctx context.Context, event any) error {
	resumed, ok := event.(*events.RunResumed)
	if !ok {
		o.logger.Error("Received unexpected payload for run resumed event")

		return nil
	}

	o.logger.Info("Run resumed",
		"run_id", resumed.ExecutionID, "position", resumed.Position, "resumed_by", resumed.ResumedBy)

	return o.publishStepAvailable(ctx, resumed.WorkflowID, resumed.ExecutionID, resumed.Position)
}

// handleStepAvailable executes the step at the run's current position. This
// is the only place steps execute; everything else routes here.
func (o *Orchestrator) handleStepAvailable(ctx context.Context, event any) error {
	available, ok := event.(*events.StepAvailable)
	if !ok {
		o.logger.Error("Received unexpected payload for step available event")

		return nil
	}

	run, err := o.persistence.RunRepository().GetByID(ctx, available.ExecutionID)
	if err != nil {
		if persistence.IsRunNotFound(err) {
			o.logger.Warn("Step available for unknown run, dropping", "run_id", available.ExecutionID)

			return nil
		}

		return fmt.Errorf("failed to load run %s: %w", available.ExecutionID, err)
	}

	logger := o.logger.With("run_id", run.ID, "workflow_id", run.WorkflowID)

	if run.IsTerminal() {
		logger.Debug("Run already finished, dropping stale delivery", "position", available.Position)

		return nil
	}

	if run.Status == models.RunStatusPaused {
		logger.Debug("Run is paused, dropping delivery", "position", available.Position)

		return nil
	}

	if available.Position != run.Position {
		// The run moved past this position, so this delivery is a
		// duplicate. Re-announce the current position: if its event was
		// lost after the progress write, this nudge revives the run.
		logger.Debug("Stale step delivery, re-announcing current position",
			"delivered", available.Position, "current", run.Position)

		return o.publishStepAvailable(ctx, run.WorkflowID, run.ID, run.Position)
	}

	workflow, err := o.persistence.WorkflowRepository().GetByID(ctx, run.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return o.failRun(ctx, run, nil, "workflow definition no longer exists", logger)
		}

		return fmt.Errorf("failed to load workflow %s: %w", run.WorkflowID, err)
	}

	step := workflow.StepAt(run.Position)
	if step == nil {
		return o.completeRun(ctx, run, logger)
	}

	if !step.Enabled {
		logger.Info("Step disabled, skipping", "step_id", step.ID, "position", step.Position)

		return o.advance(ctx, run, workflow, step.Position+1, logger)
	}

	return o.executeStep(ctx, run, workflow, step, logger)
}

func (o *Orchestrator) executeStep(ctx context.Context, run *models.Run, workflow *models.Workflow, step *models.Step, logger *slog.Logger) error {
	stepLogger := logger.With("step_id", step.ID, "step_kind", string(step.Kind), "position", step.Position)

	executor, err := o.registry.CreateExecutor(step)
	if err != nil {
		// A step that cannot be constructed can never succeed, no matter
		// how often it is redelivered.
		stepLogger.Error("Step is not runnable", "error", err)

		return o.failRun(ctx, run, step, err.Error(), stepLogger)
	}

	execCtx, err := run.Context.Clone()
	if err != nil {
		return fmt.Errorf("failed to clone execution context for run %s: %w", run.ID, err)
	}

	spanCtx, span := otelhelper.StartSpan(ctx, o.tracer, "orchestration.execute_step",
		attribute.String(otelhelper.WorkflowIDKey, run.WorkflowID),
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepKindKey, string(step.Kind)),
	)
	defer span.End()

	stepLogger.Info("Executing step")

	startedAt := time.Now()
	result, err := executor.Execute(spanCtx, execCtx, stepLogger)
	durationMs := time.Since(startedAt).Milliseconds()

	if err != nil {
		otelhelper.SetError(span, err)

		return o.handleStepFailure(ctx, run, workflow, step, executor.Classification(), err, durationMs, stepLogger)
	}

	if result.Suspension != nil {
		return o.pauseRun(ctx, run, step, result, stepLogger)
	}

	return o.completeStep(ctx, run, workflow, step, result.Context, durationMs, stepLogger)
}

// handleStepFailure routes a step error by its classification. Critical
// steps end the run unless the failure is transient, in which case the
// delivery is retried. Best effort steps record the failure on the run and
// let it continue.
func (o *Orchestrator) handleStepFailure(
	ctx context.Context,
	run *models.Run,
	workflow *models.Workflow,
	step *models.Step,
	classification models.Classification,
	stepErr error,
	durationMs int64,
	logger *slog.Logger,
) error {
	if classification == models.ClassificationCritical {
		if protocol.IsTransient(stepErr) {
			logger.Warn("Critical step failed transiently, leaving delivery for retry", "error", stepErr)

			return fmt.Errorf("transient failure in step %s: %w", step.ID, stepErr)
		}

		logger.Error("Critical step failed, ending run", "error", stepErr)

		o.publishEvent(ctx, run, events.StepFailed{
			BaseEvent:      o.newBaseEvent(events.StepFailedEvent, run.WorkflowID),
			ExecutionID:    run.ID,
			StepID:         step.ID,
			Position:       step.Position,
			Classification: classification,
			Error:          stepErr.Error(),
			DurationMs:     durationMs,
			Recovered:      false,
		})

		return o.failRun(ctx, run, step, stepErr.Error(), logger)
	}

	logger.Warn("Best effort step failed, recording and continuing", "error", stepErr)

	run.Context.RecordError(step.ID, step.Kind, stepErr.Error())

	o.publishEvent(ctx, run, events.StepFailed{
		BaseEvent:      o.newBaseEvent(events.StepFailedEvent, run.WorkflowID),
		ExecutionID:    run.ID,
		StepID:         step.ID,
		Position:       step.Position,
		Classification: classification,
		Error:          stepErr.Error(),
		DurationMs:     durationMs,
		Recovered:      true,
	})

	next := step.Position + 1
	run.Context.Metadata.Position = next

	if err := o.persistence.RunRepository().UpdateProgress(ctx, run.ID, next, run.Context); err != nil {
		return fmt.Errorf("failed to persist progress for run %s: %w", run.ID, err)
	}

	run.Position = next

	return o.advance(ctx, run, workflow, next, logger)
}

// completeStep persists the step's outcome and hands the run to the next
// position. The progress write happens before the next event is published,
// so a crash between the two leaves a resumable run, never a repeated
// side effect.
func (o *Orchestrator) completeStep(
	ctx context.Context,
	run *models.Run,
	workflow *models.Workflow,
	step *models.Step,
	execCtx *models.ExecutionContext,
	durationMs int64,
	logger *slog.Logger,
) error {
	next := step.Position + 1
	execCtx.Metadata.Position = next

	if err := o.persistence.RunRepository().UpdateProgress(ctx, run.ID, next, execCtx); err != nil {
		return fmt.Errorf("failed to persist progress for run %s: %w", run.ID, err)
	}

	run.Context = execCtx
	run.Position = next

	logger.Info("Step completed", "duration_ms", durationMs)

	o.publishEvent(ctx, run, events.StepCompleted{
		BaseEvent:   o.newBaseEvent(events.StepCompletedEvent, run.WorkflowID),
		ExecutionID: run.ID,
		StepID:      step.ID,
		Position:    step.Position,
		DurationMs:  durationMs,
	})

	return o.advance(ctx, run, workflow, next, logger)
}

// advance makes the next position available, or completes the run when the
// workflow has no step there.
func (o *Orchestrator) advance(ctx context.Context, run *models.Run, workflow *models.Workflow, next int, logger *slog.Logger) error {
	if next > workflow.LastPosition() {
		return o.completeRun(ctx, run, logger)
	}

	if run.Position != next {
		run.Context.Metadata.Position = next

		if err := o.persistence.RunRepository().UpdateProgress(ctx, run.ID, next, run.Context); err != nil {
			return fmt.Errorf("failed to persist progress for run %s: %w", run.ID, err)
		}

		run.Position = next
	}

	return o.publishStepAvailable(ctx, run.WorkflowID, run.ID, next)
}

func (o *Orchestrator) pauseRun(ctx context.Context, run *models.Run, step *models.Step, result *protocol.StepResult, logger *slog.Logger) error {
	run.Context = result.Context

	if err := run.Transition(models.RunStatusPaused); err != nil {
		return fmt.Errorf("failed to pause run %s: %w", run.ID, err)
	}

	suspension := result.Suspension

	if err := o.persistence.RunRepository().Pause(ctx, run, suspension.ApprovalRequests); err != nil {
		return fmt.Errorf("failed to persist pause for run %s: %w", run.ID, err)
	}

	requestIDs := make([]string, 0, len(suspension.ApprovalRequests))
	for _, request := range suspension.ApprovalRequests {
		requestIDs = append(requestIDs, request.ID)
	}

	logger.Info("Run paused", "reason", string(suspension.Reason), "approval_requests", len(requestIDs))

	o.publishEvent(ctx, run, events.RunPaused{
		BaseEvent:          o.newBaseEvent(events.RunPausedEvent, run.WorkflowID),
		ExecutionID:        run.ID,
		Position:           step.Position,
		StepID:             step.ID,
		Reason:             string(suspension.Reason),
		ApprovalRequestIDs: requestIDs,
		SignatureRequestID: suspension.SignatureRequestID,
	})

	return nil
}

func (o *Orchestrator) completeRun(ctx context.Context, run *models.Run, logger *slog.Logger) error {
	if err := run.Complete(); err != nil {
		return fmt.Errorf("failed to complete run %s: %w", run.ID, err)
	}

	if err := o.persistence.RunRepository().Save(ctx, run); err != nil {
		return fmt.Errorf("failed to persist completed run %s: %w", run.ID, err)
	}

	primaryDocumentID := ""
	if run.PrimaryOutput != nil {
		primaryDocumentID = run.PrimaryOutput.DocumentID
	}

	documentsGenerated := 0
	if run.Context != nil {
		documentsGenerated = len(run.Context.GeneratedDocuments)
	}

	logger.Info("Run completed",
		"documents_generated", documentsGenerated,
		"primary_document_id", primaryDocumentID)

	o.publishEvent(ctx, run, events.RunCompleted{
		BaseEvent:          o.newBaseEvent(events.RunCompletedEvent, run.WorkflowID),
		ExecutionID:        run.ID,
		DurationMs:         time.Since(run.CreatedAt).Milliseconds(),
		DocumentsGenerated: documentsGenerated,
		PrimaryDocumentID:  primaryDocumentID,
	})

	return nil
}

func (o *Orchestrator) failRun(ctx context.Context, run *models.Run, step *models.Step, message string, logger *slog.Logger) error {
	if step != nil && run.Context != nil {
		run.Context.RecordError(step.ID, step.Kind, message)
	}

	if err := run.Fail(message); err != nil {
		return fmt.Errorf("failed to mark run %s failed: %w", run.ID, err)
	}

	if err := o.persistence.RunRepository().Save(ctx, run); err != nil {
		return fmt.Errorf("failed to persist failed run %s: %w", run.ID, err)
	}

	stepID := ""
	if step != nil {
		stepID = step.ID
	}

	logger.Error("Run failed", "step_id", stepID, "error", message)

	o.publishEvent(ctx, run, events.RunFailed{
		BaseEvent:   o.newBaseEvent(events.RunFailedEvent, run.WorkflowID),
		ExecutionID: run.ID,
		StepID:      stepID,
		Position:    run.Position,
		Error:       message,
		DurationMs:  time.Since(run.CreatedAt).Milliseconds(),
	})

	return nil
}

func (o *Orchestrator) publishStepAvailable(ctx context.Context, workflowID, runID string, position int) error {
	event := events.StepAvailable{
		BaseEvent:   o.newBaseEvent(events.StepAvailableEvent, workflowID),
		ExecutionID: runID,
		Position:    position,
	}

	if err := o.eventBus.Publish(ctx, runID, event); err != nil {
		return fmt.Errorf("failed to announce step %d of run %s: %w", position, runID, err)
	}

	return nil
}

// publishEvent emits an observability event. Losing one does not affect the
// run's progress, so failures are logged rather than retried.
func (o *Orchestrator) publishEvent(ctx context.Context, run *models.Run, event eventbus.Event) {
	if err := o.eventBus.Publish(ctx, run.ID, event); err != nil {
		o.logger.Error("Failed to publish event",
			"event_type", string(event.GetType()), "run_id", run.ID, "error", err)
	}
}

func (o *Orchestrator) newBaseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	base := events.NewBaseEvent(eventType, workflowID)
	base.WorkerID = o.workerID

	return base
}
