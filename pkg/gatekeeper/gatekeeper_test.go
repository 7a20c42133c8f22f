package gatekeeper

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vessoa/paperwork/pkg/eventbus"
	"github.com/vessoa/paperwork/pkg/events"
	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/persistence"
	filepersistence "github.com/vessoa/paperwork/pkg/persistence/file"
)

type recordingBus struct {
	mu       sync.Mutex
	events   []eventbus.Event
	handlers map[events.EventType]eventbus.EventHandler
}

func (b *recordingBus) Publish(_ context.Context, _ string, event eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)

	return nil
}

func (b *recordingBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	if b.handlers == nil {
		b.handlers = make(map[events.EventType]eventbus.EventHandler)
	}

	b.handlers[eventType] = handler

	return nil
}

func (b *recordingBus) Subscribe(_ context.Context) error { return nil }

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) GenerateID() string { return "generated-id" }

func (b *recordingBus) eventsOfType(eventType events.EventType) []eventbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	matched := make([]eventbus.Event, 0)

	for _, event := range b.events {
		if event.GetType() == eventType {
			matched = append(matched, event)
		}
	}

	return matched
}

type fixture struct {
	persistence persistence.Persistence
	bus         *recordingBus
	gatekeeper  *Gatekeeper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	p, err := filepersistence.NewPersistence(t.TempDir())
	require.NoError(t, err)

	bus := &recordingBus{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &fixture{
		persistence: p,
		bus:         bus,
		gatekeeper:  NewGatekeeper("worker-test", p, bus, logger),
	}
}

// seedPausedRun stores a run paused at position 3 along with the given
// pending approval requests.
func (f *fixture) seedPausedRun(t *testing.T, approvals ...*models.ApprovalRequest) *models.Run {
	t.Helper()

	execCtx := models.NewExecutionContext("run-1", "wf-1", "deal", "8841")
	execCtx.SourceData["name"] = "Acme"
	execCtx.Metadata.Position = 3

	run := &models.Run{
		ID:         "run-1",
		WorkflowID: "wf-1",
		Status:     models.RunStatusPaused,
		Position:   3,
		Context:    execCtx,
	}
	require.NoError(t, f.persistence.RunRepository().Save(t.Context(), run))

	for _, approval := range approvals {
		require.NoError(t, f.persistence.ApprovalRepository().Save(t.Context(), approval))
	}

	return run
}

func pendingApproval(id, token, email string) *models.ApprovalRequest {
	snapshot := models.NewExecutionContext("run-1", "wf-1", "deal", "8841")
	snapshot.SourceData["name"] = "Acme"
	snapshot.SourceData["snapshot_marker"] = id
	snapshot.Metadata.Position = 3

	return &models.ApprovalRequest{
		ID:              id,
		RunID:           "run-1",
		StepID:          "approve",
		Token:           token,
		ApproverEmail:   email,
		Status:          models.ApprovalStatusPending,
		ExpiresAt:       time.Now().Add(48 * time.Hour),
		ContextSnapshot: snapshot,
	}
}

func TestDecide_ApproveResumesRun(t *testing.T) {
	f := newFixture(t)
	f.seedPausedRun(t, pendingApproval("apr-1", "token-1", "legal@acme.test"))

	request, err := f.gatekeeper.Decide(t.Context(), "token-1", models.ApprovalStatusApproved, "", "looks good")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, request.Status)
	assert.Equal(t, "looks good", request.Comment)
	require.NotNil(t, request.DecidedAt)

	run, err := f.persistence.RunRepository().GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, 4, run.Position)

	// The stored snapshot is the resume context, advanced past the gate.
	assert.Equal(t, "apr-1", run.Context.SourceData["snapshot_marker"])
	assert.Equal(t, 4, run.Context.Metadata.Position)

	resumed := f.bus.eventsOfType(events.RunResumedEvent)
	require.Len(t, resumed, 1)
	assert.Equal(t, 4, resumed[0].(events.RunResumed).Position)
	assert.Equal(t, "legal@acme.test", resumed[0].(events.RunResumed).ResumedBy)

	decided := f.bus.eventsOfType(events.ApprovalDecidedEvent)
	require.Len(t, decided, 1)
	assert.False(t, decided[0].(events.ApprovalDecided).AutoDecided)
}

func TestDecide_WaitsForEveryApprover(t *testing.T) {
	f := newFixture(t)
	f.seedPausedRun(t,
		pendingApproval("apr-1", "token-1", "legal@acme.test"),
		pendingApproval("apr-2", "token-2", "finance@acme.test"),
	)

	_, err := f.gatekeeper.Decide(t.Context(), "token-1", models.ApprovalStatusApproved, "", "")
	require.NoError(t, err)

	run, err := f.persistence.RunRepository().GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPaused, run.Status)
	assert.Empty(t, f.bus.eventsOfType(events.RunResumedEvent))

	_, err = f.gatekeeper.Decide(t.Context(), "token-2", models.ApprovalStatusApproved, "", "")
	require.NoError(t, err)

	run, err = f.persistence.RunRepository().GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Len(t, f.bus.eventsOfType(events.RunResumedEvent), 1)
}

func TestDecide_RejectFailsRun(t *testing.T) {
	f := newFixture(t)
	f.seedPausedRun(t,
		pendingApproval("apr-1", "token-1", "legal@acme.test"),
		pendingApproval("apr-2", "token-2", "finance@acme.test"),
	)

	_, err := f.gatekeeper.Decide(t.Context(), "token-1", models.ApprovalStatusRejected, "", "numbers are off")
	require.NoError(t, err)

	run, err := f.persistence.RunRepository().GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, "approval rejected by legal@acme.test", run.ErrorMessage)
	assert.NotNil(t, run.CompletedAt)

	// Rejection does not touch the captured context.
	assert.Equal(t, "Acme", run.Context.SourceData["name"])

	failed := f.bus.eventsOfType(events.RunFailedEvent)
	require.Len(t, failed, 1)
	assert.Equal(t, "approval rejected by legal@acme.test", failed[0].(events.RunFailed).Error)
}

func TestDecide_SecondDecisionLoses(t *testing.T) {
	f := newFixture(t)
	f.seedPausedRun(t, pendingApproval("apr-1", "token-1", "legal@acme.test"))

	_, err := f.gatekeeper.Decide(t.Context(), "token-1", models.ApprovalStatusApproved, "", "")
	require.NoError(t, err)

	_, err = f.gatekeeper.Decide(t.Context(), "token-1", models.ApprovalStatusRejected, "", "changed my mind")
	assert.True(t, IsAlreadyDecided(err))

	// The first decision stands.
	run, err := f.persistence.RunRepository().GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)
}

func TestDecide_ExpiredTokenFailsRun(t *testing.T) {
	f := newFixture(t)

	overdue := pendingApproval("apr-1", "token-1", "legal@acme.test")
	overdue.ExpiresAt = time.Now().Add(-time.Hour)
	f.seedPausedRun(t, overdue)

	_, err := f.gatekeeper.Decide(t.Context(), "token-1", models.ApprovalStatusApproved, "", "")
	assert.True(t, IsDecisionExpired(err))

	request, err := f.persistence.ApprovalRepository().GetByID(t.Context(), "apr-1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusExpired, request.Status)

	run, err := f.persistence.RunRepository().GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, "approval request expired before a decision", run.ErrorMessage)
}

func TestDecide_ExpiredTokenWithAutoApprove(t *testing.T) {
	f := newFixture(t)

	overdue := pendingApproval("apr-1", "token-1", "legal@acme.test")
	overdue.ExpiresAt = time.Now().Add(-time.Hour)
	overdue.AutoApprove = true
	f.seedPausedRun(t, overdue)

	_, err := f.gatekeeper.Decide(t.Context(), "token-1", models.ApprovalStatusRejected, "", "")
	assert.True(t, IsDecisionExpired(err))

	// The lapse already auto-approved, so the late rejection changes
	// nothing and the run moves on.
	request, err := f.persistence.ApprovalRepository().GetByID(t.Context(), "apr-1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, request.Status)

	run, err := f.persistence.RunRepository().GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)
}

func TestDecide_UnknownToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.gatekeeper.Decide(t.Context(), "nope", models.ApprovalStatusApproved, "", "")
	assert.ErrorIs(t, err, ErrApprovalNotFound)
}

func TestDecide_InvalidOutcome(t *testing.T) {
	f := newFixture(t)

	_, err := f.gatekeeper.Decide(t.Context(), "token-1", models.ApprovalStatusPending, "", "")
	assert.ErrorIs(t, err, ErrInvalidOutcome)
}

func TestExpire_WithoutAutoApproveFailsRun(t *testing.T) {
	f := newFixture(t)

	overdue := pendingApproval("apr-1", "token-1", "legal@acme.test")
	overdue.ExpiresAt = time.Now().Add(-time.Hour)
	f.seedPausedRun(t, overdue)

	require.NoError(t, f.gatekeeper.Expire(t.Context(), "apr-1"))

	request, err := f.persistence.ApprovalRepository().GetByID(t.Context(), "apr-1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusExpired, request.Status)

	run, err := f.persistence.RunRepository().GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)

	decided := f.bus.eventsOfType(events.ApprovalDecidedEvent)
	require.Len(t, decided, 1)
	assert.True(t, decided[0].(events.ApprovalDecided).AutoDecided)
}

func TestExpire_AutoApproveResumesRun(t *testing.T) {
	f := newFixture(t)

	overdue := pendingApproval("apr-1", "token-1", "legal@acme.test")
	overdue.ExpiresAt = time.Now().Add(-time.Hour)
	overdue.AutoApprove = true
	f.seedPausedRun(t, overdue)

	require.NoError(t, f.gatekeeper.Expire(t.Context(), "apr-1"))

	request, err := f.persistence.ApprovalRepository().GetByID(t.Context(), "apr-1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, request.Status)
	assert.Equal(t, "auto-approved on expiry", request.Comment)

	run, err := f.persistence.RunRepository().GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, 4, run.Position)
}

func TestExpire_IsIdempotent(t *testing.T) {
	f := newFixture(t)

	overdue := pendingApproval("apr-1", "token-1", "legal@acme.test")
	overdue.ExpiresAt = time.Now().Add(-time.Hour)
	f.seedPausedRun(t, overdue)

	require.NoError(t, f.gatekeeper.Expire(t.Context(), "apr-1"))
	require.NoError(t, f.gatekeeper.Expire(t.Context(), "apr-1"))

	run, err := f.persistence.RunRepository().GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)

	// The second sweep publishes nothing new.
	assert.Len(t, f.bus.eventsOfType(events.ApprovalDecidedEvent), 1)
	assert.Len(t, f.bus.eventsOfType(events.RunFailedEvent), 1)
}

func TestExpire_NotYetDue(t *testing.T) {
	f := newFixture(t)
	f.seedPausedRun(t, pendingApproval("apr-1", "token-1", "legal@acme.test"))

	require.NoError(t, f.gatekeeper.Expire(t.Context(), "apr-1"))

	request, err := f.persistence.ApprovalRepository().GetByID(t.Context(), "apr-1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, request.Status)
}

func TestExpire_UnknownRequest(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.gatekeeper.Expire(t.Context(), "missing"))
}

// seedPausedSignatureRun stores a run paused on a blocking signature step
// together with its pending request.
func (f *fixture) seedPausedSignatureRun(t *testing.T, blocking bool) *models.SignatureRequest {
	t.Helper()

	request := &models.SignatureRequest{
		ID:         "sig-1",
		RunID:      "run-1",
		StepID:     "sign",
		Provider:   "inksign",
		ExternalID: "env-42",
		DocumentID: "doc-1",
		Signers: []models.Signer{
			{Name: "Alice", Email: "alice@acme.test", Status: models.SignerStatusPending},
		},
		Status:    models.SignatureStatusPending,
		Blocking:  blocking,
		ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
	}
	require.NoError(t, f.persistence.SignatureRepository().Save(t.Context(), request))

	execCtx := models.NewExecutionContext("run-1", "wf-1", "deal", "8841")
	execCtx.Metadata.Position = 3
	execCtx.SignatureRequests = append(execCtx.SignatureRequests, request.Ref())

	status := models.RunStatusRunning
	if blocking {
		status = models.RunStatusPaused
	}

	run := &models.Run{
		ID:         "run-1",
		WorkflowID: "wf-1",
		Status:     status,
		Position:   3,
		Context:    execCtx,
	}
	require.NoError(t, f.persistence.RunRepository().Save(t.Context(), run))

	return request
}

func TestHandleSignatureUpdate_CompletionResumesBlockedRun(t *testing.T) {
	f := newFixture(t)
	f.seedPausedSignatureRun(t, true)

	update := &events.SignatureUpdated{
		Provider:   "inksign",
		ExternalID: "env-42",
		Status:     models.SignatureStatusCompleted,
		SignerStatuses: map[string]models.SignerStatus{
			"alice@acme.test": models.SignerStatusSigned,
		},
		OccurredAt: time.Now().UTC(),
	}
	require.NoError(t, f.gatekeeper.HandleSignatureUpdate(t.Context(), update))

	request, err := f.persistence.SignatureRepository().GetByID(t.Context(), "sig-1")
	require.NoError(t, err)
	assert.Equal(t, models.SignatureStatusCompleted, request.Status)
	assert.Equal(t, models.SignerStatusSigned, request.Signers[0].Status)

	run, err := f.persistence.RunRepository().GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, 4, run.Position)

	ref := run.Context.SignatureByStep("sign")
	require.NotNil(t, ref)
	assert.Equal(t, string(models.SignatureStatusCompleted), ref.Status)
}

func TestHandleSignatureUpdate_DeclineFailsBlockedRun(t *testing.T) {
	f := newFixture(t)
	f.seedPausedSignatureRun(t, true)

	update := &events.SignatureUpdated{
		RequestID: "sig-1",
		Status:    models.SignatureStatusDeclined,
	}
	require.NoError(t, f.gatekeeper.HandleSignatureUpdate(t.Context(), update))

	run, err := f.persistence.RunRepository().GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, "signature request declined by signer", run.ErrorMessage)
}

func TestHandleSignatureUpdate_NonBlockingNeverTouchesRun(t *testing.T) {
	f := newFixture(t)
	f.seedPausedSignatureRun(t, false)

	update := &events.SignatureUpdated{
		RequestID: "sig-1",
		Status:    models.SignatureStatusCompleted,
	}
	require.NoError(t, f.gatekeeper.HandleSignatureUpdate(t.Context(), update))

	request, err := f.persistence.SignatureRepository().GetByID(t.Context(), "sig-1")
	require.NoError(t, err)
	assert.Equal(t, models.SignatureStatusCompleted, request.Status)

	run, err := f.persistence.RunRepository().GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, 3, run.Position)
	assert.Empty(t, f.bus.eventsOfType(events.RunResumedEvent))
}

func TestHandleSignatureUpdate_PartialProgressKeepsWaiting(t *testing.T) {
	f := newFixture(t)
	request := f.seedPausedSignatureRun(t, true)
	request.Signers = append(request.Signers, models.Signer{
		Name: "Bob", Email: "bob@acme.test", Status: models.SignerStatusPending,
	})
	require.NoError(t, f.persistence.SignatureRepository().Save(t.Context(), request))

	update := &events.SignatureUpdated{
		RequestID: "sig-1",
		SignerStatuses: map[string]models.SignerStatus{
			"alice@acme.test": models.SignerStatusSigned,
		},
	}
	require.NoError(t, f.gatekeeper.HandleSignatureUpdate(t.Context(), update))

	stored, err := f.persistence.SignatureRepository().GetByID(t.Context(), "sig-1")
	require.NoError(t, err)
	assert.Equal(t, models.SignatureStatusPending, stored.Status)
	assert.Equal(t, models.SignerStatusSigned, stored.Signers[0].Status)
	assert.Equal(t, models.SignerStatusPending, stored.Signers[1].Status)

	run, err := f.persistence.RunRepository().GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPaused, run.Status)
}

func TestHandleSignatureUpdate_LastSignerCompletes(t *testing.T) {
	f := newFixture(t)
	f.seedPausedSignatureRun(t, true)

	// No overall status from the provider, only the signer detail. All
	// signers done means completed.
	update := &events.SignatureUpdated{
		RequestID: "sig-1",
		SignerStatuses: map[string]models.SignerStatus{
			"alice@acme.test": models.SignerStatusSigned,
		},
	}
	require.NoError(t, f.gatekeeper.HandleSignatureUpdate(t.Context(), update))

	stored, err := f.persistence.SignatureRepository().GetByID(t.Context(), "sig-1")
	require.NoError(t, err)
	assert.Equal(t, models.SignatureStatusCompleted, stored.Status)

	run, err := f.persistence.RunRepository().GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)
}

func TestHandleSignatureUpdate_UnknownRequestIsDropped(t *testing.T) {
	f := newFixture(t)

	update := &events.SignatureUpdated{
		Provider:   "inksign",
		ExternalID: "env-unknown",
		Status:     models.SignatureStatusCompleted,
	}
	assert.NoError(t, f.gatekeeper.HandleSignatureUpdate(t.Context(), update))
}

func TestHandleSignatureUpdate_RedeliveryIsSafe(t *testing.T) {
	f := newFixture(t)
	f.seedPausedSignatureRun(t, true)

	update := &events.SignatureUpdated{
		RequestID: "sig-1",
		Status:    models.SignatureStatusCompleted,
	}
	require.NoError(t, f.gatekeeper.HandleSignatureUpdate(t.Context(), update))
	require.NoError(t, f.gatekeeper.HandleSignatureUpdate(t.Context(), update))

	run, err := f.persistence.RunRepository().GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, 4, run.Position)
	assert.Len(t, f.bus.eventsOfType(events.RunResumedEvent), 1)
}

func TestExpireSignature_BlockingFailsRun(t *testing.T) {
	f := newFixture(t)
	request := f.seedPausedSignatureRun(t, true)
	request.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, f.persistence.SignatureRepository().Save(t.Context(), request))

	require.NoError(t, f.gatekeeper.ExpireSignature(t.Context(), "sig-1"))

	stored, err := f.persistence.SignatureRepository().GetByID(t.Context(), "sig-1")
	require.NoError(t, err)
	assert.Equal(t, models.SignatureStatusExpired, stored.Status)

	run, err := f.persistence.RunRepository().GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, "signature request expired before completion", run.ErrorMessage)
}

func TestExpireSignature_NonBlockingJustCloses(t *testing.T) {
	f := newFixture(t)
	request := f.seedPausedSignatureRun(t, false)
	request.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, f.persistence.SignatureRepository().Save(t.Context(), request))

	require.NoError(t, f.gatekeeper.ExpireSignature(t.Context(), "sig-1"))

	stored, err := f.persistence.SignatureRepository().GetByID(t.Context(), "sig-1")
	require.NoError(t, err)
	assert.Equal(t, models.SignatureStatusExpired, stored.Status)

	run, err := f.persistence.RunRepository().GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)
}

func TestRegisterHandlers_CoversDecisionEvents(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.gatekeeper.RegisterHandlers())

	assert.Contains(t, f.bus.handlers, events.ApprovalExpiryDueEvent)
	assert.Contains(t, f.bus.handlers, events.SignatureExpiryDueEvent)
	assert.Contains(t, f.bus.handlers, events.SignatureUpdatedEvent)
}
