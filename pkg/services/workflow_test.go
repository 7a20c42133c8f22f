package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/persistence"
	"github.com/vessoa/paperwork/pkg/persistence/file"
)

func newTestPersistence(t *testing.T) persistence.Persistence {
	t.Helper()

	persist, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	return persist
}

func draftWorkflow() *models.Workflow {
	return &models.Workflow{
		Name:        "Contract Paperwork",
		Description: "Generates and routes the contract",
		Status:      models.WorkflowStatusDraft,
		Steps: []*models.Step{
			{
				ID:       "fetch",
				Name:     "Fetch deal",
				Kind:     models.StepKindTrigger,
				Position: 1,
				Enabled:  true,
				Configuration: map[string]any{
					"mode": "fetch",
				},
			},
			{
				ID:       "generate",
				Name:     "Generate contract",
				Kind:     models.StepKindDocumentGeneration,
				Position: 2,
				Enabled:  true,
				Configuration: map[string]any{
					"template_ref": "tpl-contract",
				},
			},
		},
	}
}

func TestNewWorkflow(t *testing.T) {
	persist := newTestPersistence(t)
	service := NewWorkflow(persist)

	assert.NotNil(t, service)
	assert.Equal(t, persist, service.persistence)
}

func TestWorkflow_Create(t *testing.T) {
	service := NewWorkflow(newTestPersistence(t))

	created, err := service.Create(t.Context(), draftWorkflow())
	require.NoError(t, err)
	require.NotNil(t, created)

	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.False(t, created.UpdatedAt.IsZero())
	assert.Equal(t, models.WorkflowStatusDraft, created.Status)
}

func TestWorkflow_CreateRejectsShortName(t *testing.T) {
	service := NewWorkflow(newTestPersistence(t))

	workflow := draftWorkflow()
	workflow.Name = "ab"

	_, err := service.Create(t.Context(), workflow)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestWorkflow_FetchByID(t *testing.T) {
	service := NewWorkflow(newTestPersistence(t))

	created, err := service.Create(t.Context(), draftWorkflow())
	require.NoError(t, err)

	fetched, err := service.FetchByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, fetched.ID)
	assert.Equal(t, "Contract Paperwork", fetched.Name)
	assert.Len(t, fetched.Steps, 2)
}

func TestWorkflow_FetchByID_NotFound(t *testing.T) {
	service := NewWorkflow(newTestPersistence(t))

	_, err := service.FetchByID(t.Context(), "non-existent")
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflow_List(t *testing.T) {
	service := NewWorkflow(newTestPersistence(t))

	first, err := service.Create(t.Context(), draftWorkflow())
	require.NoError(t, err)

	second := draftWorkflow()
	second.Name = "Renewal Paperwork"
	_, err = service.Create(t.Context(), second)
	require.NoError(t, err)

	workflows, err := service.List(t.Context())
	require.NoError(t, err)
	assert.Len(t, workflows, 2)

	require.NoError(t, service.Delete(t.Context(), first.ID))

	workflows, err = service.List(t.Context())
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, "Renewal Paperwork", workflows[0].Name)
}

func TestWorkflow_Update(t *testing.T) {
	service := NewWorkflow(newTestPersistence(t))

	created, err := service.Create(t.Context(), draftWorkflow())
	require.NoError(t, err)

	replacement := draftWorkflow()
	replacement.Name = "Contract Paperwork v2"

	updated, err := service.Update(t.Context(), created.ID, replacement)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "Contract Paperwork v2", updated.Name)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.Equal(t, models.WorkflowStatusDraft, updated.Status)
}

func TestWorkflow_UpdateBlocksPublished(t *testing.T) {
	persist := newTestPersistence(t)
	service := NewWorkflow(persist)
	publishing := NewPublishing(persist)

	created, err := service.Create(t.Context(), draftWorkflow())
	require.NoError(t, err)

	_, err = publishing.PublishWorkflow(t.Context(), created.ID)
	require.NoError(t, err)

	_, err = service.Update(t.Context(), created.ID, draftWorkflow())
	require.Error(t, err)
	assert.True(t, IsConflictError(err))
	assert.True(t, errors.Is(err, ErrCannotModifyPublished))
}

func TestWorkflow_Delete_NotFound(t *testing.T) {
	service := NewWorkflow(newTestPersistence(t))

	err := service.Delete(t.Context(), "non-existent")
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}
