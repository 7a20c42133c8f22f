// Package docgen generates documents from templates, the step most runs
// exist to perform. Generation is recorded per run and step so a replayed
// step reuses the stored document instead of producing a duplicate.
package docgen

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/persistence"
	"github.com/vessoa/paperwork/pkg/protocol"
	"github.com/vessoa/paperwork/pkg/steps"
	"github.com/vessoa/paperwork/pkg/template"
)

// SubGeneration renders one extra document per entry of a list field in the
// source data, e.g. one annex per line item.
type SubGeneration struct {
	TemplateRef string            `json:"template_ref" validate:"required"`
	ItemsField  string            `json:"items_field"  validate:"required"`
	Name        string            `json:"name"`
	TagMappings map[string]string `json:"tag_mappings"`
}

type Config struct {
	TemplateRef    string            `json:"template_ref" validate:"required"`
	Name           string            `json:"name"`
	TagMappings    map[string]string `json:"tag_mappings"`
	ExportPDF      bool              `json:"export_pdf"`
	SubGenerations []SubGeneration   `json:"sub_generations" validate:"omitempty,dive"`
}

type Step struct {
	step      *models.Step
	config    *Config
	renderer  protocol.Renderer
	documents persistence.DocumentRepository
}

func NewStep(step *models.Step, renderer protocol.Renderer, documents persistence.DocumentRepository) (*Step, error) {
	config := &Config{}

	err := steps.DecodeConfig(step, config)
	if err != nil {
		return nil, err
	}

	return &Step{step: step, config: config, renderer: renderer, documents: documents}, nil
}

func (s *Step) Kind() models.StepKind {
	return models.StepKindDocumentGeneration
}

func (s *Step) Classification() models.Classification {
	return models.ClassificationCritical
}

func (s *Step) Execute(ctx context.Context, execCtx *models.ExecutionContext, logger *slog.Logger) (*protocol.StepResult, error) {
	existing, err := s.documents.GetByRunAndStep(ctx, execCtx.RunID, s.step.ID)
	if err != nil && !persistence.IsDocumentNotFound(err) {
		return nil, fmt.Errorf("failed to check for existing document: %w", err)
	}

	if existing != nil {
		logger.Info("Document already generated for this step, reusing it",
			"document_id", existing.DocumentID)

		if execCtx.DocumentByStep(s.step.ID) == nil {
			execCtx.GeneratedDocuments = append(execCtx.GeneratedDocuments, *existing)
		}

		return &protocol.StepResult{Context: execCtx}, nil
	}

	document, err := s.renderMain(ctx, execCtx)
	if err != nil {
		return nil, err
	}

	err = s.documents.Save(ctx, document)
	if err != nil {
		if !persistence.IsDocumentAlreadyExists(err) {
			return nil, fmt.Errorf("failed to record generated document: %w", err)
		}

		// A concurrent replay won the race. Use its document.
		document, err = s.documents.GetByRunAndStep(ctx, execCtx.RunID, s.step.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load concurrently generated document: %w", err)
		}
	}

	execCtx.GeneratedDocuments = append(execCtx.GeneratedDocuments, *document)

	logger.Info("Document generated", "document_id", document.DocumentID, "name", document.Name)

	for _, sub := range s.config.SubGenerations {
		subDocs, err := s.renderSub(ctx, execCtx, sub)
		if err != nil {
			return nil, err
		}

		execCtx.GeneratedDocuments = append(execCtx.GeneratedDocuments, subDocs...)
	}

	return &protocol.StepResult{Context: execCtx}, nil
}

func (s *Step) renderMain(ctx context.Context, execCtx *models.ExecutionContext) (*models.GeneratedDocument, error) {
	name := s.step.Name
	if s.config.Name != "" {
		rendered, err := template.RenderString(s.config.Name, execCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render document name: %w", err)
		}

		name = rendered
	}

	tags, err := renderTags(s.config.TagMappings, execCtx, nil)
	if err != nil {
		return nil, err
	}

	rendered, err := s.renderer.Render(ctx, &protocol.RenderRequest{
		TemplateRef: s.config.TemplateRef,
		Name:        name,
		Data:        execCtx.SourceData,
		TagMappings: tags,
		ExportPDF:   s.config.ExportPDF,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render document from template %s: %w", s.config.TemplateRef, err)
	}

	return &models.GeneratedDocument{
		ID:         uuid.Must(uuid.NewV7()).String(),
		RunID:      execCtx.RunID,
		StepID:     s.step.ID,
		DocumentID: rendered.ID,
		Name:       rendered.Name,
		URL:        rendered.URL,
		PDFID:      rendered.PDFID,
		PDFURL:     rendered.PDFURL,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func (s *Step) renderSub(ctx context.Context, execCtx *models.ExecutionContext, sub SubGeneration) ([]models.GeneratedDocument, error) {
	value, ok := execCtx.SourceData[sub.ItemsField]
	if !ok || value == nil {
		return nil, nil
	}

	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("sub generation field %q is not a list", sub.ItemsField)
	}

	documents := make([]models.GeneratedDocument, 0, len(items))

	for index, item := range items {
		scope := map[string]any{"item": item, "item_index": index}

		name := s.step.Name
		if sub.Name != "" {
			rendered, err := template.RenderStringWith(sub.Name, execCtx, scope)
			if err != nil {
				return nil, fmt.Errorf("failed to render sub document name: %w", err)
			}

			name = rendered
		}

		tags, err := renderTags(sub.TagMappings, execCtx, scope)
		if err != nil {
			return nil, err
		}

		data, _ := item.(map[string]any)

		rendered, err := s.renderer.Render(ctx, &protocol.RenderRequest{
			TemplateRef: sub.TemplateRef,
			Name:        name,
			Data:        data,
			TagMappings: tags,
			ExportPDF:   s.config.ExportPDF,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to render sub document %d from template %s: %w", index, sub.TemplateRef, err)
		}

		documents = append(documents, models.GeneratedDocument{
			ID:         uuid.Must(uuid.NewV7()).String(),
			RunID:      execCtx.RunID,
			StepID:     s.step.ID,
			DocumentID: rendered.ID,
			Name:       rendered.Name,
			URL:        rendered.URL,
			PDFID:      rendered.PDFID,
			PDFURL:     rendered.PDFURL,
			CreatedAt:  time.Now().UTC(),
		})
	}

	return documents, nil
}

func renderTags(mappings map[string]string, execCtx *models.ExecutionContext, scope map[string]any) (map[string]string, error) {
	if len(mappings) == 0 {
		return nil, nil
	}

	tags := make(map[string]string, len(mappings))

	for tag, valueTemplate := range mappings {
		var (
			value string
			err   error
		)

		if scope == nil {
			value, err = template.RenderString(valueTemplate, execCtx)
		} else {
			value, err = template.RenderStringWith(valueTemplate, execCtx, scope)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to render tag %q: %w", tag, err)
		}

		tags[tag] = value
	}

	return tags, nil
}
