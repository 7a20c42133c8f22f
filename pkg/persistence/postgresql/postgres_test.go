//go:build integration
// +build integration

package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/persistence"
	"github.com/vessoa/paperwork/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{
		"generated_documents", "signature_requests", "approval_requests",
		"runs", "workflow_steps", "workflows", "schema_migrations",
	} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (persistence.Persistence, context.Context) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("paperwork_test"),
			postgres.WithUsername("paperwork"),
			postgres.WithPassword("paperwork"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx
}

func testWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:          uuid.New().String(),
		Name:        "Contract package",
		Description: "Generates and routes a contract",
		Status:      models.WorkflowStatusPublished,
		Steps: []*models.Step{
			{
				ID:            "fetch",
				Kind:          models.StepKindTrigger,
				Name:          "Fetch deal",
				Position:      1,
				Enabled:       true,
				Configuration: map[string]any{"mode": "fetch"},
			},
			{
				ID:            "generate",
				Kind:          models.StepKindDocumentGeneration,
				Name:          "Generate contract",
				Position:      2,
				Enabled:       true,
				Configuration: map[string]any{"template_ref": "tpl-1", "export_pdf": true},
			},
		},
		Metadata: map[string]any{"team": "legal"},
		Owner:    "legal@acme.test",
	}
}

func testRun(workflowID string) *models.Run {
	runID := uuid.New().String()

	return &models.Run{
		ID:         runID,
		WorkflowID: workflowID,
		Status:     models.RunStatusRunning,
		Position:   1,
		Context:    models.NewExecutionContext(runID, workflowID, "deal", "8841"),
	}
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx := setupTestDB(t)

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"workflows", "workflow_steps", "runs", "approval_requests", "signature_requests", "generated_documents"} {
		var exists bool

		err = db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestWorkflowRepository_SaveAndRetrieve(t *testing.T) {
	p, ctx := setupTestDB(t)

	workflow := testWorkflow()

	err := p.WorkflowRepository().Save(ctx, workflow)
	require.NoError(t, err)
	assert.False(t, workflow.CreatedAt.IsZero())
	assert.False(t, workflow.UpdatedAt.IsZero())

	retrieved, err := p.WorkflowRepository().GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.Equal(t, workflow.Name, retrieved.Name)
	assert.Equal(t, workflow.Status, retrieved.Status)
	assert.Equal(t, workflow.Owner, retrieved.Owner)
	assert.Equal(t, "legal", retrieved.Metadata["team"])

	require.Len(t, retrieved.Steps, 2)
	assert.Equal(t, "fetch", retrieved.Steps[0].ID)
	assert.Equal(t, models.StepKindTrigger, retrieved.Steps[0].Kind)
	assert.Equal(t, 1, retrieved.Steps[0].Position)
	assert.Equal(t, "fetch", retrieved.Steps[0].Configuration["mode"])
	assert.Equal(t, true, retrieved.Steps[1].Configuration["export_pdf"])

	_, err = p.WorkflowRepository().GetByID(ctx, uuid.New().String())
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_UpdateReplacesSteps(t *testing.T) {
	p, ctx := setupTestDB(t)

	workflow := testWorkflow()
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	workflow.Name = "Contract package v2"
	workflow.Steps = []*models.Step{
		{
			ID:       "fetch",
			Kind:     models.StepKindTrigger,
			Name:     "Fetch deal",
			Position: 1,
			Enabled:  true,
		},
	}

	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	retrieved, err := p.WorkflowRepository().GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Contract package v2", retrieved.Name)
	assert.Len(t, retrieved.Steps, 1)
}

func TestWorkflowRepository_DeleteIsSoft(t *testing.T) {
	p, ctx := setupTestDB(t)

	workflow := testWorkflow()
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	require.NoError(t, p.WorkflowRepository().Delete(ctx, workflow.ID))

	// The definition still resolves for existing runs.
	retrieved, err := p.WorkflowRepository().GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved.DeletedAt)
	assert.False(t, retrieved.IsExecutable())

	// But listings no longer include it.
	all, err := p.WorkflowRepository().GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	// Deleting again is a no-op.
	require.NoError(t, p.WorkflowRepository().Delete(ctx, workflow.ID))

	err = p.WorkflowRepository().Delete(ctx, uuid.New().String())
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestRunRepository_SaveAndProgress(t *testing.T) {
	p, ctx := setupTestDB(t)

	workflow := testWorkflow()
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	run := testRun(workflow.ID)
	require.NoError(t, p.RunRepository().Save(ctx, run))

	run.Context.SourceData["name"] = "Acme"
	run.Context.Metadata.Position = 2

	require.NoError(t, p.RunRepository().UpdateProgress(ctx, run.ID, 2, run.Context))

	retrieved, err := p.RunRepository().GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, retrieved.Position)
	assert.Equal(t, models.RunStatusRunning, retrieved.Status)
	require.NotNil(t, retrieved.Context)
	assert.Equal(t, "Acme", retrieved.Context.SourceData["name"])
	assert.Equal(t, 2, retrieved.Context.Metadata.Position)

	err = p.RunRepository().UpdateProgress(ctx, uuid.New().String(), 2, run.Context)
	assert.True(t, persistence.IsRunNotFound(err))
}

func TestRunRepository_ListFilters(t *testing.T) {
	p, ctx := setupTestDB(t)

	workflow := testWorkflow()
	other := testWorkflow()
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))
	require.NoError(t, p.WorkflowRepository().Save(ctx, other))

	first := testRun(workflow.ID)
	require.NoError(t, p.RunRepository().Save(ctx, first))

	second := testRun(workflow.ID)
	second.Status = models.RunStatusCompleted
	require.NoError(t, p.RunRepository().Save(ctx, second))

	third := testRun(other.ID)
	require.NoError(t, p.RunRepository().Save(ctx, third))

	byWorkflow, err := p.RunRepository().List(ctx, persistence.RunFilter{WorkflowID: workflow.ID})
	require.NoError(t, err)
	assert.Len(t, byWorkflow, 2)

	completed, err := p.RunRepository().List(ctx, persistence.RunFilter{Status: models.RunStatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, second.ID, completed[0].ID)

	all, err := p.RunRepository().List(ctx, persistence.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRunRepository_PauseStoresRunAndApprovalsTogether(t *testing.T) {
	p, ctx := setupTestDB(t)

	workflow := testWorkflow()
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	run := testRun(workflow.ID)
	require.NoError(t, p.RunRepository().Save(ctx, run))
	require.NoError(t, run.Transition(models.RunStatusPaused))

	expiresAt := time.Now().UTC().Add(48 * time.Hour)
	approvals := []*models.ApprovalRequest{
		{
			ID:            uuid.New().String(),
			RunID:         run.ID,
			StepID:        "approve",
			Token:         uuid.New().String(),
			ApproverEmail: "legal@acme.test",
			Status:        models.ApprovalStatusPending,
			ExpiresAt:     expiresAt,
		},
		{
			ID:            uuid.New().String(),
			RunID:         run.ID,
			StepID:        "approve",
			Token:         uuid.New().String(),
			ApproverEmail: "finance@acme.test",
			Status:        models.ApprovalStatusPending,
			ExpiresAt:     expiresAt,
		},
	}

	require.NoError(t, p.RunRepository().Pause(ctx, run, approvals))

	paused, err := p.RunRepository().GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPaused, paused.Status)
	assert.Empty(t, paused.ErrorMessage)

	stored, err := p.ApprovalRepository().ListByRunAndStep(ctx, run.ID, "approve")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestRunRepository_Resume(t *testing.T) {
	p, ctx := setupTestDB(t)

	workflow := testWorkflow()
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	run := testRun(workflow.ID)
	require.NoError(t, p.RunRepository().Save(ctx, run))
	require.NoError(t, run.Transition(models.RunStatusPaused))
	require.NoError(t, p.RunRepository().Pause(ctx, run, nil))

	snapshot := models.NewExecutionContext(run.ID, workflow.ID, "deal", "8841")
	snapshot.SourceData["restored"] = true
	snapshot.Metadata.Position = 3

	require.NoError(t, p.RunRepository().Resume(ctx, run.ID, 3, snapshot))

	resumed, err := p.RunRepository().GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, resumed.Status)
	assert.Equal(t, 3, resumed.Position)
	assert.Equal(t, true, resumed.Context.SourceData["restored"])

	// A second resume finds the run already running.
	err = p.RunRepository().Resume(ctx, run.ID, 3, snapshot)
	assert.ErrorIs(t, err, persistence.ErrRunNotPaused)

	err = p.RunRepository().Resume(ctx, uuid.New().String(), 3, snapshot)
	assert.True(t, persistence.IsRunNotFound(err))
}

func TestApprovalRepository_TokenLookupAndExpiry(t *testing.T) {
	p, ctx := setupTestDB(t)

	workflow := testWorkflow()
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	run := testRun(workflow.ID)
	require.NoError(t, p.RunRepository().Save(ctx, run))

	now := time.Now().UTC()

	fresh := &models.ApprovalRequest{
		ID:            uuid.New().String(),
		RunID:         run.ID,
		StepID:        "approve",
		Token:         uuid.New().String(),
		ApproverEmail: "legal@acme.test",
		Status:        models.ApprovalStatusPending,
		ExpiresAt:     now.Add(time.Hour),
	}
	overdue := &models.ApprovalRequest{
		ID:            uuid.New().String(),
		RunID:         run.ID,
		StepID:        "approve",
		Token:         uuid.New().String(),
		ApproverEmail: "finance@acme.test",
		Status:        models.ApprovalStatusPending,
		ExpiresAt:     now.Add(-time.Hour),
	}

	require.NoError(t, p.ApprovalRepository().Save(ctx, fresh))
	require.NoError(t, p.ApprovalRepository().Save(ctx, overdue))

	byToken, err := p.ApprovalRepository().GetByToken(ctx, fresh.Token)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, byToken.ID)

	_, err = p.ApprovalRepository().GetByToken(ctx, uuid.New().String())
	assert.True(t, persistence.IsApprovalNotFound(err))

	expired, err := p.ApprovalRepository().ListExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, overdue.ID, expired[0].ID)

	// A decided request keeps its decision fields across an upsert.
	decidedAt := now
	fresh.Status = models.ApprovalStatusApproved
	fresh.Comment = "looks good"
	fresh.DecidedAt = &decidedAt
	require.NoError(t, p.ApprovalRepository().Save(ctx, fresh))

	decided, err := p.ApprovalRepository().GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, decided.Status)
	assert.Equal(t, "looks good", decided.Comment)
	require.NotNil(t, decided.DecidedAt)
}

func TestSignatureRepository_Lookups(t *testing.T) {
	p, ctx := setupTestDB(t)

	workflow := testWorkflow()
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	run := testRun(workflow.ID)
	require.NoError(t, p.RunRepository().Save(ctx, run))

	request := &models.SignatureRequest{
		ID:         uuid.New().String(),
		RunID:      run.ID,
		StepID:     "sign",
		Provider:   "inksign",
		ExternalID: "env-1",
		DocumentID: "doc-1",
		Signers: []models.Signer{
			{Name: "Alice", Email: "alice@acme.test", Status: models.SignerStatusPending},
		},
		Status:    models.SignatureStatusPending,
		Blocking:  true,
		ExpiresAt: time.Now().UTC().Add(30 * 24 * time.Hour),
	}

	require.NoError(t, p.SignatureRepository().Save(ctx, request))

	byStep, err := p.SignatureRepository().GetByRunAndStep(ctx, run.ID, "sign")
	require.NoError(t, err)
	assert.Equal(t, request.ID, byStep.ID)
	assert.True(t, byStep.Blocking)
	require.Len(t, byStep.Signers, 1)
	assert.Equal(t, "alice@acme.test", byStep.Signers[0].Email)

	byExternal, err := p.SignatureRepository().GetByExternalID(ctx, "inksign", "env-1")
	require.NoError(t, err)
	assert.Equal(t, request.ID, byExternal.ID)

	_, err = p.SignatureRepository().GetByExternalID(ctx, "inksign", "env-unknown")
	assert.True(t, persistence.IsSignatureNotFound(err))
}

func TestDocumentRepository_SaveIsExclusivePerRunAndStep(t *testing.T) {
	p, ctx := setupTestDB(t)

	workflow := testWorkflow()
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	run := testRun(workflow.ID)
	require.NoError(t, p.RunRepository().Save(ctx, run))

	document := &models.GeneratedDocument{
		ID:         uuid.New().String(),
		RunID:      run.ID,
		StepID:     "generate",
		DocumentID: "doc-1",
		Name:       "Contract",
	}

	require.NoError(t, p.DocumentRepository().Save(ctx, document))

	duplicate := &models.GeneratedDocument{
		ID:         uuid.New().String(),
		RunID:      run.ID,
		StepID:     "generate",
		DocumentID: "doc-2",
		Name:       "Contract again",
	}

	err := p.DocumentRepository().Save(ctx, duplicate)
	assert.True(t, persistence.IsDocumentAlreadyExists(err))

	// The stored record is still the first one.
	stored, err := p.DocumentRepository().GetByRunAndStep(ctx, run.ID, "generate")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", stored.DocumentID)

	listed, err := p.DocumentRepository().ListByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}
