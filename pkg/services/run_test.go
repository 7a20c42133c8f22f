package services

import (
	"context"
	"errors"
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
)

type capturePublisher struct {
	mu     sync.Mutex
	keys   []string
	events []eventbus.Event
}

func (p *capturePublisher) Publish(_ context.Context, key string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.keys = append(p.keys, key)
	p.events = append(p.events, event)

	return nil
}

func (p *capturePublisher) published() []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]eventbus.Event(nil), p.events...)
}

func newRunFixture(t *testing.T) (*Run, persistence.Persistence, *capturePublisher) {
	t.Helper()

	persist := newTestPersistence(t)
	publisher := &capturePublisher{}
	service := NewRun(persist, publisher, slog.Default())

	return service, persist, publisher
}

func publishedWorkflow(t *testing.T, persist persistence.Persistence) *models.Workflow {
	t.Helper()

	workflow := draftWorkflow()
	workflow.ID = "wf-published"
	workflow.Status = models.WorkflowStatusPublished
	require.NoError(t, persist.WorkflowRepository().Save(t.Context(), workflow))

	return workflow
}

func TestRun_StartRun(t *testing.T) {
	service, persist, publisher := newRunFixture(t)
	workflow := publishedWorkflow(t, persist)

	run, err := service.StartRun(t.Context(), StartRunRequest{
		WorkflowID:       workflow.ID,
		SourceObjectType: "deal",
		SourceObjectID:   "8841",
		Initiator:        "ops@acme.test",
	})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, 1, run.Position)
	require.NotNil(t, run.Context)
	assert.Equal(t, "deal", run.Context.SourceObjectType)
	assert.Equal(t, "8841", run.Context.SourceObjectID)

	stored, err := persist.RunRepository().GetByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, stored.Status)

	published := publisher.published()
	require.Len(t, published, 1)

	started, ok := published[0].(events.RunStarted)
	require.True(t, ok)
	assert.Equal(t, run.ID, started.ExecutionID)
	assert.Equal(t, workflow.ID, started.WorkflowID)
	assert.Equal(t, "ops@acme.test", started.Initiator)
	assert.Equal(t, []string{run.ID}, publisher.keys)
}

func TestRun_StartRunSeedsInboundPayload(t *testing.T) {
	service, persist, _ := newRunFixture(t)
	workflow := publishedWorkflow(t, persist)

	run, err := service.StartRun(t.Context(), StartRunRequest{
		WorkflowID:       workflow.ID,
		SourceObjectType: "deal",
		SourceObjectID:   "8841",
		SourceData:       map[string]any{"name": "Acme", "amount": 1200},
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme", run.Context.SourceData["name"])
}

func TestRun_StartRunRejectsUnpublishedWorkflow(t *testing.T) {
	service, persist, publisher := newRunFixture(t)

	workflow := draftWorkflow()
	workflow.ID = "wf-draft"
	require.NoError(t, persist.WorkflowRepository().Save(t.Context(), workflow))

	_, err := service.StartRun(t.Context(), StartRunRequest{
		WorkflowID:       "wf-draft",
		SourceObjectType: "deal",
		SourceObjectID:   "8841",
	})
	require.Error(t, err)
	assert.True(t, IsConflictError(err))
	assert.True(t, errors.Is(err, ErrWorkflowNotExecutable))
	assert.Empty(t, publisher.published())
}

func TestRun_StartRunRequiresSourceObject(t *testing.T) {
	service, persist, _ := newRunFixture(t)
	workflow := publishedWorkflow(t, persist)

	_, err := service.StartRun(t.Context(), StartRunRequest{
		WorkflowID:     workflow.ID,
		SourceObjectID: "8841",
	})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestRun_StartRunUnknownWorkflow(t *testing.T) {
	service, _, _ := newRunFixture(t)

	_, err := service.StartRun(t.Context(), StartRunRequest{
		WorkflowID:       "wf-missing",
		SourceObjectType: "deal",
		SourceObjectID:   "8841",
	})
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func seedRun(t *testing.T, persist persistence.Persistence, id string, status models.RunStatus) *models.Run {
	t.Helper()

	run := &models.Run{
		ID:         id,
		WorkflowID: "wf-published",
		Status:     status,
		Position:   2,
		Context:    models.NewExecutionContext(id, "wf-published", "deal", "8841"),
	}
	if run.IsTerminal() {
		completedAt := time.Now().UTC()
		run.CompletedAt = &completedAt

		if status == models.RunStatusFailed {
			run.ErrorMessage = "step failed"
		}
	}

	require.NoError(t, persist.RunRepository().Save(t.Context(), run))

	return run
}

func TestRun_List(t *testing.T) {
	service, persist, _ := newRunFixture(t)
	publishedWorkflow(t, persist)

	seedRun(t, persist, "run-1", models.RunStatusRunning)
	seedRun(t, persist, "run-2", models.RunStatusCompleted)
	seedRun(t, persist, "run-3", models.RunStatusCompleted)

	all, err := service.List(t.Context(), "", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	completed, err := service.List(t.Context(), "wf-published", "completed")
	require.NoError(t, err)
	assert.Len(t, completed, 2)

	_, err = service.List(t.Context(), "", "sleeping")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidStatus))
}

func TestRun_CancelRunningRun(t *testing.T) {
	service, persist, _ := newRunFixture(t)
	publishedWorkflow(t, persist)
	seedRun(t, persist, "run-1", models.RunStatusRunning)

	canceled, err := service.CancelRun(t.Context(), "run-1", "ops@acme.test")
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusFailed, canceled.Status)
	assert.Equal(t, "run canceled by ops@acme.test", canceled.ErrorMessage)
	require.NotNil(t, canceled.CompletedAt)
}

func TestRun_CancelPausedRunExpiresPendingApprovals(t *testing.T) {
	service, persist, _ := newRunFixture(t)
	publishedWorkflow(t, persist)
	seedRun(t, persist, "run-1", models.RunStatusPaused)

	approvals := []*models.ApprovalRequest{
		{
			ID: "ap-1", RunID: "run-1", StepID: "approve", Token: "tok-1",
			ApproverEmail: "legal@acme.test", Status: models.ApprovalStatusPending,
			AutoApprove: true, ExpiresAt: time.Now().Add(24 * time.Hour),
		},
		{
			ID: "ap-2", RunID: "run-1", StepID: "approve", Token: "tok-2",
			ApproverEmail: "finance@acme.test", Status: models.ApprovalStatusPending,
			ExpiresAt: time.Now().Add(24 * time.Hour),
		},
		{
			ID: "ap-3", RunID: "run-1", StepID: "approve", Token: "tok-3",
			ApproverEmail: "ceo@acme.test", Status: models.ApprovalStatusApproved,
			ExpiresAt: time.Now().Add(24 * time.Hour),
		},
	}
	for _, approval := range approvals {
		require.NoError(t, persist.ApprovalRepository().Save(t.Context(), approval))
	}

	canceled, err := service.CancelRun(t.Context(), "run-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, canceled.Status)
	assert.Equal(t, "run canceled", canceled.ErrorMessage)

	stored, err := persist.ApprovalRepository().ListByRun(t.Context(), "run-1")
	require.NoError(t, err)

	byID := make(map[string]*models.ApprovalRequest, len(stored))
	for _, approval := range stored {
		byID[approval.ID] = approval
	}

	// Auto-approve does not soften a cancel; both pending gates expire.
	assert.Equal(t, models.ApprovalStatusExpired, byID["ap-1"].Status)
	assert.Equal(t, models.ApprovalStatusExpired, byID["ap-2"].Status)
	assert.NotNil(t, byID["ap-1"].DecidedAt)

	// The already decided request keeps its decision.
	assert.Equal(t, models.ApprovalStatusApproved, byID["ap-3"].Status)
}

func TestRun_CancelFinishedRunConflicts(t *testing.T) {
	service, persist, _ := newRunFixture(t)
	publishedWorkflow(t, persist)
	seedRun(t, persist, "run-1", models.RunStatusCompleted)

	_, err := service.CancelRun(t.Context(), "run-1", "ops@acme.test")
	require.Error(t, err)
	assert.True(t, IsConflictError(err))
	assert.True(t, errors.Is(err, ErrRunAlreadyFinished))
}

func TestRun_CancelUnknownRun(t *testing.T) {
	service, _, _ := newRunFixture(t)

	_, err := service.CancelRun(t.Context(), "run-missing", "")
	require.Error(t, err)
	assert.True(t, persistence.IsRunNotFound(err))
}
