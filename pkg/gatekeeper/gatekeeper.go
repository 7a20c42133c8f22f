// Package gatekeeper applies external decisions to paused runs: human
// approvals by token, expiry sweeps, and signature provider updates. It is
// the only component that resumes a paused run or fails one on an outside
// verdict, so every unblock path funnels through the same checks.
package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vessoa/paperwork/pkg/eventbus"
	"github.com/vessoa/paperwork/pkg/events"
	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/persistence"
)

// Gatekeeper validates decision tokens, records outcomes, and moves paused
// runs forward or into failure.
type Gatekeeper struct {
	workerID    string
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	logger      *slog.Logger
}

// NewGatekeeper creates a gatekeeper bound to a persistence backend and an
// event bus.
func NewGatekeeper(workerID string, persist persistence.Persistence, eventBus eventbus.EventBus, logger *slog.Logger) *Gatekeeper {
	return &Gatekeeper{
		workerID:    workerID,
		persistence: persist,
		eventBus:    eventBus,
		logger:      logger.With("module", "gatekeeper"),
	}
}

// RegisterHandlers attaches the gatekeeper's event handlers to the bus. The
// caller subscribes the bus once after every consumer registered.
func (g *Gatekeeper) RegisterHandlers() error {
	handlers := map[events.EventType]eventbus.EventHandler{
		events.ApprovalExpiryDueEvent:  g.handleApprovalExpiryDue,
		events.SignatureExpiryDueEvent: g.handleSignatureExpiryDue,
		events.SignatureUpdatedEvent:   g.handleSignatureUpdated,
	}

	for eventType, handler := range handlers {
		if err := g.eventBus.Handle(eventType, handler); err != nil {
			return fmt.Errorf("failed to register handler for %s: %w", eventType, err)
		}
	}

	return nil
}

// RequestByToken loads the approval request a decision token points at.
func (g *Gatekeeper) RequestByToken(ctx context.Context, token string) (*models.ApprovalRequest, error) {
	request, err := g.persistence.ApprovalRepository().GetByToken(ctx, token)
	if err != nil {
		if persistence.IsApprovalNotFound(err) {
			return nil, ErrApprovalNotFound
		}

		return nil, fmt.Errorf("failed to load approval request: %w", err)
	}

	return request, nil
}

// Decide records one approver's verdict and routes the outcome. Approval
// resumes the run once every sibling request on the same step is approved;
// rejection fails the run immediately. The first decision on a token wins:
// later calls re-check the gate, so retrying a decision whose resume was
// lost still heals the run, then report ErrAlreadyDecided.
func (g *Gatekeeper) Decide(ctx context.Context, token string, outcome models.ApprovalStatus, decidedBy, comment string) (*models.ApprovalRequest, error) {
	if outcome != models.ApprovalStatusApproved && outcome != models.ApprovalStatusRejected {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}

	request, err := g.RequestByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if !request.IsPending() {
		if err := g.reconcileGate(ctx, request, "retry"); err != nil {
			g.logger.ErrorContext(ctx, "Failed to reconcile decided approval gate",
				"request_id", request.ID, "error", err)
		}

		return request, fmt.Errorf("%w: request is %s", ErrAlreadyDecided, request.Status)
	}

	now := time.Now().UTC()
	if request.ExpiredBy(now) {
		if err := g.finalizeExpiry(ctx, request, now); err != nil {
			return request, err
		}

		return request, ErrDecisionExpired
	}

	if decidedBy == "" {
		decidedBy = request.ApproverEmail
	}

	request.Status = outcome
	request.Comment = comment
	request.DecidedAt = &now
	request.UpdatedAt = now

	if err := g.persistence.ApprovalRepository().Save(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to save decision for request %s: %w", request.ID, err)
	}

	g.publishDecision(ctx, request, decidedBy, false)

	g.logger.InfoContext(ctx, "Approval decision recorded",
		"request_id", request.ID, "execution_id", request.RunID, "outcome", outcome, "decided_by", decidedBy)

	switch outcome {
	case models.ApprovalStatusRejected:
		message := fmt.Sprintf("approval rejected by %s", decidedBy)
		if err := g.failRun(ctx, request.RunID, request.StepID, message); err != nil {
			return request, err
		}
	default:
		if err := g.reconcileGate(ctx, request, decidedBy); err != nil {
			return request, err
		}
	}

	return request, nil
}

// Expire finalizes one overdue approval request. Requests flagged for
// auto-approval count as approved; everything else lapses and fails the
// run. Decided or still-current requests are left untouched, so the expiry
// sweep can deliver the same request any number of times.
func (g *Gatekeeper) Expire(ctx context.Context, requestID string) error {
	request, err := g.persistence.ApprovalRepository().GetByID(ctx, requestID)
	if err != nil {
		if persistence.IsApprovalNotFound(err) {
			g.logger.WarnContext(ctx, "Expiry due for unknown approval request", "request_id", requestID)
			return nil
		}

		return fmt.Errorf("failed to load approval request %s: %w", requestID, err)
	}

	if !request.IsPending() {
		return g.reconcileGate(ctx, request, "expiry-sweep")
	}

	now := time.Now().UTC()
	if !request.ExpiredBy(now) {
		return nil
	}

	return g.finalizeExpiry(ctx, request, now)
}

// ExpireSignature lapses one overdue signature request. Blocking requests
// fail their paused run; fire-and-forget requests just close out.
func (g *Gatekeeper) ExpireSignature(ctx context.Context, requestID string) error {
	request, err := g.persistence.SignatureRepository().GetByID(ctx, requestID)
	if err != nil {
		if persistence.IsSignatureNotFound(err) {
			g.logger.WarnContext(ctx, "Expiry due for unknown signature request", "request_id", requestID)
			return nil
		}

		return fmt.Errorf("failed to load signature request %s: %w", requestID, err)
	}

	if !request.IsPending() {
		return nil
	}

	now := time.Now().UTC()
	if !request.ExpiredBy(now) {
		return nil
	}

	request.Status = models.SignatureStatusExpired
	request.UpdatedAt = now

	if err := g.persistence.SignatureRepository().Save(ctx, request); err != nil {
		return fmt.Errorf("failed to save expired signature request %s: %w", request.ID, err)
	}

	g.logger.InfoContext(ctx, "Signature request expired",
		"request_id", request.ID, "execution_id", request.RunID)

	if !request.Blocking {
		return nil
	}

	return g.failRun(ctx, request.RunID, request.StepID, "signature request expired before completion")
}

// HandleSignatureUpdate applies a provider-reported status change to the
// stored request and, for blocking requests, routes the run outcome. An
// update for an already resolved request re-routes the outcome instead of
// re-applying it, which makes redelivered provider webhooks safe.
func (g *Gatekeeper) HandleSignatureUpdate(ctx context.Context, update *events.SignatureUpdated) error {
	request, err := g.lookupSignatureRequest(ctx, update)
	if err != nil {
		return err
	}

	if request == nil {
		g.logger.WarnContext(ctx, "Signature update for unknown request",
			"provider", update.Provider, "external_id", update.ExternalID)
		return nil
	}

	if !request.IsPending() {
		return g.routeSignatureOutcome(ctx, request)
	}

	occurredAt := update.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	if len(update.SignerStatuses) > 0 {
		request.ApplySignerStatuses(update.SignerStatuses, occurredAt)
	}

	switch update.Status {
	case models.SignatureStatusCompleted, models.SignatureStatusDeclined, models.SignatureStatusExpired:
		request.Status = update.Status
	default:
		if request.AllSigned() {
			request.Status = models.SignatureStatusCompleted
		}
	}

	request.UpdatedAt = occurredAt

	if err := g.persistence.SignatureRepository().Save(ctx, request); err != nil {
		return fmt.Errorf("failed to save signature request %s: %w", request.ID, err)
	}

	g.logger.InfoContext(ctx, "Signature request updated",
		"request_id", request.ID, "execution_id", request.RunID, "status", request.Status)

	if request.IsPending() {
		return nil
	}

	return g.routeSignatureOutcome(ctx, request)
}

func (g *Gatekeeper) handleApprovalExpiryDue(ctx context.Context, event any) error {
	due, ok := event.(*events.ApprovalExpiryDue)
	if !ok {
		return fmt.Errorf("unexpected event payload %T for %s", event, events.ApprovalExpiryDueEvent)
	}

	return g.Expire(ctx, due.RequestID)
}

func (g *Gatekeeper) handleSignatureExpiryDue(ctx context.Context, event any) error {
	due, ok := event.(*events.SignatureExpiryDue)
	if !ok {
		return fmt.Errorf("unexpected event payload %T for %s", event, events.SignatureExpiryDueEvent)
	}

	return g.ExpireSignature(ctx, due.RequestID)
}

func (g *Gatekeeper) handleSignatureUpdated(ctx context.Context, event any) error {
	update, ok := event.(*events.SignatureUpdated)
	if !ok {
		return fmt.Errorf("unexpected event payload %T for %s", event, events.SignatureUpdatedEvent)
	}

	return g.HandleSignatureUpdate(ctx, update)
}

// reconcileGate re-evaluates an approval gate. Every sibling approved
// resumes the paused run; any rejection or lapse fails it; a remaining
// pending request keeps the run paused. Runs that already moved on are
// left alone.
func (g *Gatekeeper) reconcileGate(ctx context.Context, request *models.ApprovalRequest, resumedBy string) error {
	siblings, err := g.persistence.ApprovalRepository().ListByRunAndStep(ctx, request.RunID, request.StepID)
	if err != nil {
		return fmt.Errorf("failed to list approval requests for run %s: %w", request.RunID, err)
	}

	failure := ""

	for _, sibling := range siblings {
		switch sibling.Status {
		case models.ApprovalStatusPending:
			g.logger.DebugContext(ctx, "Approval gate still waiting on other approvers",
				"execution_id", request.RunID, "step_id", request.StepID)
			return nil
		case models.ApprovalStatusRejected:
			failure = fmt.Sprintf("approval rejected by %s", sibling.ApproverEmail)
		case models.ApprovalStatusExpired:
			if failure == "" {
				failure = "approval request expired before a decision"
			}
		}
	}

	if failure != "" {
		return g.failRun(ctx, request.RunID, request.StepID, failure)
	}

	return g.resumeApproval(ctx, request, resumedBy)
}

// finalizeExpiry applies the configured expiry outcome to a pending,
// overdue request.
func (g *Gatekeeper) finalizeExpiry(ctx context.Context, request *models.ApprovalRequest, now time.Time) error {
	if request.AutoApprove {
		request.Status = models.ApprovalStatusApproved
		request.Comment = "auto-approved on expiry"
		request.DecidedAt = &now
	} else {
		request.Status = models.ApprovalStatusExpired
	}

	request.UpdatedAt = now

	if err := g.persistence.ApprovalRepository().Save(ctx, request); err != nil {
		return fmt.Errorf("failed to save expired request %s: %w", request.ID, err)
	}

	g.publishDecision(ctx, request, "expiry-sweep", true)

	if request.Status == models.ApprovalStatusApproved {
		g.logger.InfoContext(ctx, "Approval request auto-approved on expiry",
			"request_id", request.ID, "execution_id", request.RunID)

		return g.reconcileGate(ctx, request, "expiry-sweep")
	}

	g.logger.InfoContext(ctx, "Approval request expired",
		"request_id", request.ID, "execution_id", request.RunID)

	return g.failRun(ctx, request.RunID, request.StepID, "approval request expired before a decision")
}

// resumeApproval flips the paused run back to running at the step after the
// gate, restoring the context snapshot captured at pause time.
func (g *Gatekeeper) resumeApproval(ctx context.Context, request *models.ApprovalRequest, resumedBy string) error {
	run, err := g.persistence.RunRepository().GetByID(ctx, request.RunID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", request.RunID, err)
	}

	if run.Status != models.RunStatusPaused {
		g.logger.DebugContext(ctx, "Run no longer paused, nothing to resume",
			"execution_id", run.ID, "status", run.Status)
		return nil
	}

	snapshot := request.ContextSnapshot
	if snapshot == nil {
		snapshot = run.Context
	}

	position := run.Position + 1
	if snapshot != nil {
		snapshot.Metadata.Position = position
	}

	return g.resumeRun(ctx, run, position, snapshot, resumedBy)
}

// resumeSignature flips the paused run back to running after its blocking
// signature completed. The run's own snapshot is the resume context, with
// the signature descriptor refreshed to the terminal status.
func (g *Gatekeeper) resumeSignature(ctx context.Context, request *models.SignatureRequest) error {
	run, err := g.persistence.RunRepository().GetByID(ctx, request.RunID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", request.RunID, err)
	}

	if run.Status != models.RunStatusPaused {
		g.logger.DebugContext(ctx, "Run no longer paused, nothing to resume",
			"execution_id", run.ID, "status", run.Status)
		return nil
	}

	position := run.Position + 1

	snapshot := run.Context
	if snapshot != nil {
		snapshot.Metadata.Position = position

		if ref := snapshot.SignatureByStep(request.StepID); ref != nil {
			ref.Status = string(request.Status)
		}
	}

	return g.resumeRun(ctx, run, position, snapshot, "signature:"+request.Provider)
}

func (g *Gatekeeper) resumeRun(ctx context.Context, run *models.Run, position int, snapshot *models.ExecutionContext, resumedBy string) error {
	if err := g.persistence.RunRepository().Resume(ctx, run.ID, position, snapshot); err != nil {
		if errors.Is(err, persistence.ErrRunNotPaused) {
			return nil
		}

		return fmt.Errorf("failed to resume run %s: %w", run.ID, err)
	}

	resumed := events.RunResumed{
		BaseEvent:   g.newBaseEvent(events.RunResumedEvent, run.WorkflowID),
		ExecutionID: run.ID,
		Position:    position,
		ResumedBy:   resumedBy,
	}

	// The resume announcement is what wakes the worker. Propagate publish
	// failures so the caller retries.
	if err := g.eventBus.Publish(ctx, run.ID, resumed); err != nil {
		return fmt.Errorf("failed to announce resumed run %s: %w", run.ID, err)
	}

	g.logger.InfoContext(ctx, "Run resumed",
		"execution_id", run.ID, "position", position, "resumed_by", resumedBy)

	return nil
}

// failRun marks a run failed with the given message. Terminal runs are left
// untouched so repeated signals stay idempotent.
func (g *Gatekeeper) failRun(ctx context.Context, runID, stepID, message string) error {
	run, err := g.persistence.RunRepository().GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	if run.IsTerminal() {
		return nil
	}

	if err := run.Fail(message); err != nil {
		return fmt.Errorf("failed to fail run %s: %w", runID, err)
	}

	if err := g.persistence.RunRepository().Save(ctx, run); err != nil {
		return fmt.Errorf("failed to save failed run %s: %w", runID, err)
	}

	failed := events.RunFailed{
		BaseEvent:   g.newBaseEvent(events.RunFailedEvent, run.WorkflowID),
		ExecutionID: run.ID,
		StepID:      stepID,
		Position:    run.Position,
		Error:       message,
		DurationMs:  time.Since(run.CreatedAt).Milliseconds(),
	}
	g.publishEvent(ctx, run.ID, failed)

	g.logger.InfoContext(ctx, "Run failed", "execution_id", run.ID, "error", message)

	return nil
}

func (g *Gatekeeper) lookupSignatureRequest(ctx context.Context, update *events.SignatureUpdated) (*models.SignatureRequest, error) {
	repo := g.persistence.SignatureRepository()

	var (
		request *models.SignatureRequest
		err     error
	)

	if update.RequestID != "" {
		request, err = repo.GetByID(ctx, update.RequestID)
	} else {
		request, err = repo.GetByExternalID(ctx, update.Provider, update.ExternalID)
	}

	if err != nil {
		if persistence.IsSignatureNotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to look up signature request: %w", err)
	}

	return request, nil
}

// routeSignatureOutcome moves a paused run according to the terminal state
// of its blocking signature request. Fire-and-forget requests never touch
// the run.
func (g *Gatekeeper) routeSignatureOutcome(ctx context.Context, request *models.SignatureRequest) error {
	if !request.Blocking {
		return nil
	}

	switch request.Status {
	case models.SignatureStatusCompleted:
		return g.resumeSignature(ctx, request)
	case models.SignatureStatusDeclined:
		return g.failRun(ctx, request.RunID, request.StepID, "signature request declined by signer")
	case models.SignatureStatusExpired:
		return g.failRun(ctx, request.RunID, request.StepID, "signature request expired before completion")
	}

	return nil
}

func (g *Gatekeeper) publishDecision(ctx context.Context, request *models.ApprovalRequest, decidedBy string, auto bool) {
	workflowID := ""
	if request.ContextSnapshot != nil {
		workflowID = request.ContextSnapshot.WorkflowID
	}

	decided := events.ApprovalDecided{
		BaseEvent:   g.newBaseEvent(events.ApprovalDecidedEvent, workflowID),
		ExecutionID: request.RunID,
		RequestID:   request.ID,
		StepID:      request.StepID,
		Outcome:     request.Status,
		DecidedBy:   decidedBy,
		Comment:     request.Comment,
		AutoDecided: auto,
	}
	g.publishEvent(ctx, request.RunID, decided)
}

// publishEvent emits an observability event. Losing one does not affect the
// run's progress.
func (g *Gatekeeper) publishEvent(ctx context.Context, key string, event eventbus.Event) {
	if err := g.eventBus.Publish(ctx, key, event); err != nil {
		g.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}

func (g *Gatekeeper) newBaseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	base := events.NewBaseEvent(eventType, workflowID)
	base.WorkerID = g.workerID

	return base
}
