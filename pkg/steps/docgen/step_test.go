package docgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/persistence"
	"github.com/vessoa/paperwork/pkg/protocol"
	"github.com/vessoa/paperwork/pkg/steps"
)

type fakeRenderer struct {
	requests []*protocol.RenderRequest
	err      error
}

func (f *fakeRenderer) Render(_ context.Context, req *protocol.RenderRequest) (*protocol.RenderedDocument, error) {
	f.requests = append(f.requests, req)

	if f.err != nil {
		return nil, f.err
	}

	seq := len(f.requests)

	return &protocol.RenderedDocument{
		ID:   fmt.Sprintf("doc-%d", seq),
		Name: req.Name,
		URL:  fmt.Sprintf("https://docs.example.com/doc-%d", seq),
	}, nil
}

func (f *fakeRenderer) ExportPDF(_ context.Context, documentID string) ([]byte, error) {
	return []byte("%PDF-" + documentID), nil
}

type fakeDocumentRepo struct {
	stored    map[string]*models.GeneratedDocument
	saveErr   error
	getMisses int
}

func newFakeDocumentRepo() *fakeDocumentRepo {
	return &fakeDocumentRepo{stored: make(map[string]*models.GeneratedDocument)}
}

func (f *fakeDocumentRepo) key(runID, stepID string) string {
	return runID + "/" + stepID
}

func (f *fakeDocumentRepo) GetByRunAndStep(_ context.Context, runID, stepID string) (*models.GeneratedDocument, error) {
	if f.getMisses > 0 {
		f.getMisses--

		return nil, persistence.ErrDocumentNotFound
	}

	document, ok := f.stored[f.key(runID, stepID)]
	if !ok {
		return nil, persistence.ErrDocumentNotFound
	}

	return document, nil
}

func (f *fakeDocumentRepo) ListByRun(_ context.Context, runID string) ([]*models.GeneratedDocument, error) {
	var documents []*models.GeneratedDocument

	for _, document := range f.stored {
		if document.RunID == runID {
			documents = append(documents, document)
		}
	}

	return documents, nil
}

func (f *fakeDocumentRepo) Save(_ context.Context, document *models.GeneratedDocument) error {
	f.saveCall++

	if f.saveErr != nil {
		return f.saveErr
	}

	key := f.key(document.RunID, document.StepID)
	if _, ok := f.stored[key]; ok {
		return persistence.ErrDocumentAlreadyExists
	}

	f.stored[key] = document

	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func docgenStep(config map[string]any) *models.Step {
	return &models.Step{
		ID:            "generate_contract",
		Kind:          models.StepKindDocumentGeneration,
		Name:          "Generate Contract",
		Position:      2,
		Enabled:       true,
		Configuration: config,
	}
}

func executionContext() *models.ExecutionContext {
	execCtx := models.NewExecutionContext("run-1", "wf-1", "deal", "8841")
	execCtx.SourceData = map[string]any{"name": "Acme", "amount": 1200.5}

	return execCtx
}

func TestDocgenStep_GeneratesAndRecordsDocument(t *testing.T) {
	renderer := &fakeRenderer{}
	repo := newFakeDocumentRepo()

	step, err := NewStep(docgenStep(map[string]any{
		"template_ref": "tpl-contract",
		"name":         "Contract for {{ .source.name }}",
		"tag_mappings": map[string]any{"customer": "{{ .source.name }}"},
		"export_pdf":   true,
	}), renderer, repo)
	require.NoError(t, err)

	result, err := step.Execute(context.Background(), executionContext(), testLogger())
	require.NoError(t, err)
	require.Nil(t, result.Suspension)

	require.Len(t, renderer.requests, 1)
	assert.Equal(t, "tpl-contract", renderer.requests[0].TemplateRef)
	assert.Equal(t, "Contract for Acme", renderer.requests[0].Name)
	assert.Equal(t, map[string]string{"customer": "Acme"}, renderer.requests[0].TagMappings)
	assert.True(t, renderer.requests[0].ExportPDF)

	require.Len(t, result.Context.GeneratedDocuments, 1)
	assert.Equal(t, "doc-1", result.Context.GeneratedDocuments[0].DocumentID)
	assert.Equal(t, "generate_contract", result.Context.GeneratedDocuments[0].StepID)

	stored, err := repo.GetByRunAndStep(context.Background(), "run-1", "generate_contract")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", stored.DocumentID)
}

func TestDocgenStep_ReusesExistingDocumentOnReplay(t *testing.T) {
	renderer := &fakeRenderer{}
	repo := newFakeDocumentRepo()
	repo.stored["run-1/generate_contract"] = &models.GeneratedDocument{
		ID:         "gd-1",
		RunID:      "run-1",
		StepID:     "generate_contract",
		DocumentID: "doc-earlier",
	}

	step, err := NewStep(docgenStep(map[string]any{"template_ref": "tpl-contract"}), renderer, repo)
	require.NoError(t, err)

	result, err := step.Execute(context.Background(), executionContext(), testLogger())
	require.NoError(t, err)

	assert.Empty(t, renderer.requests, "replay must not render again")
	require.Len(t, result.Context.GeneratedDocuments, 1)
	assert.Equal(t, "doc-earlier", result.Context.GeneratedDocuments[0].DocumentID)

	// Running once more with the document already in context must not duplicate it.
	result, err = step.Execute(context.Background(), result.Context, testLogger())
	require.NoError(t, err)
	assert.Len(t, result.Context.GeneratedDocuments, 1)
}

func TestDocgenStep_LosesSaveRaceToConcurrentReplay(t *testing.T) {
	renderer := &fakeRenderer{}
	repo := newFakeDocumentRepo()

	// The winner's record appears between our lookup and our save: the
	// initial lookup misses, the save collides, the re-fetch finds it.
	repo.getMisses = 1
	repo.saveErr = persistence.ErrDocumentAlreadyExists
	repo.stored["run-1/generate_contract"] = &models.GeneratedDocument{
		ID:         "gd-winner",
		RunID:      "run-1",
		StepID:     "generate_contract",
		DocumentID: "doc-winner",
	}

	step, err := NewStep(docgenStep(map[string]any{"template_ref": "tpl-contract"}), renderer, repo)
	require.NoError(t, err)

	result, err := step.Execute(context.Background(), executionContext(), testLogger())
	require.NoError(t, err)

	require.Len(t, renderer.requests, 1)
	require.Len(t, result.Context.GeneratedDocuments, 1)
	assert.Equal(t, "doc-winner", result.Context.GeneratedDocuments[0].DocumentID)
}

func TestDocgenStep_SubGenerations(t *testing.T) {
	renderer := &fakeRenderer{}
	repo := newFakeDocumentRepo()

	step, err := NewStep(docgenStep(map[string]any{
		"template_ref": "tpl-contract",
		"sub_generations": []any{
			map[string]any{
				"template_ref": "tpl-annex",
				"items_field":  "line_items",
				"name":         "Annex {{ .item.sku }}",
			},
		},
	}), renderer, repo)
	require.NoError(t, err)

	execCtx := executionContext()
	execCtx.SourceData["line_items"] = []any{
		map[string]any{"sku": "A-1"},
		map[string]any{"sku": "A-2"},
	}

	result, err := step.Execute(context.Background(), execCtx, testLogger())
	require.NoError(t, err)

	require.Len(t, renderer.requests, 3)
	assert.Equal(t, "tpl-annex", renderer.requests[1].TemplateRef)
	assert.Equal(t, "Annex A-1", renderer.requests[1].Name)
	assert.Equal(t, "Annex A-2", renderer.requests[2].Name)

	assert.Len(t, result.Context.GeneratedDocuments, 3)

	// Only the main document is the replay record.
	assert.Equal(t, 1, len(repo.stored))
}

func TestDocgenStep_SubGenerationFieldNotAList(t *testing.T) {
	step, err := NewStep(docgenStep(map[string]any{
		"template_ref": "tpl-contract",
		"sub_generations": []any{
			map[string]any{"template_ref": "tpl-annex", "items_field": "name"},
		},
	}), &fakeRenderer{}, newFakeDocumentRepo())
	require.NoError(t, err)

	_, err = step.Execute(context.Background(), executionContext(), testLogger())
	assert.ErrorContains(t, err, "is not a list")
}

func TestDocgenStep_RendererFailure(t *testing.T) {
	renderer := &fakeRenderer{err: errors.New("template service unavailable")}

	step, err := NewStep(docgenStep(map[string]any{"template_ref": "tpl-contract"}), renderer, newFakeDocumentRepo())
	require.NoError(t, err)

	_, err = step.Execute(context.Background(), executionContext(), testLogger())
	assert.ErrorContains(t, err, "template service unavailable")
}

func TestDocgenStep_ConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
	}{
		{
			name:   "missing template_ref",
			config: map[string]any{"name": "Contract"},
		},
		{
			name: "sub generation missing items_field",
			config: map[string]any{
				"template_ref":    "tpl-contract",
				"sub_generations": []any{map[string]any{"template_ref": "tpl-annex"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStep(docgenStep(tt.config), &fakeRenderer{}, newFakeDocumentRepo())
			require.Error(t, err)
			assert.True(t, steps.IsConfigError(err))
		})
	}
}

func TestDocgenFactory(t *testing.T) {
	factory := NewFactory(&fakeRenderer{}, newFakeDocumentRepo())

	assert.Equal(t, models.StepKindDocumentGeneration, factory.Kind())
	assert.NotEmpty(t, factory.Description())

	executor, err := factory.Create(docgenStep(map[string]any{"template_ref": "tpl-contract"}))
	require.NoError(t, err)
	assert.Equal(t, models.ClassificationCritical, executor.Classification())
}
