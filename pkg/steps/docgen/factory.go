package docgen

import (
	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/persistence"
	"github.com/vessoa/paperwork/pkg/protocol"
)

// Factory creates document generation step executors.
type Factory struct {
	renderer  protocol.Renderer
	documents persistence.DocumentRepository
}

// NewFactory creates a new document generation factory bound to a renderer
// and the generated document store.
func NewFactory(renderer protocol.Renderer, documents persistence.DocumentRepository) *Factory {
	return &Factory{renderer: renderer, documents: documents}
}

// Kind returns the step kind this factory builds.
func (f *Factory) Kind() models.StepKind {
	return models.StepKindDocumentGeneration
}

// Name returns the human readable name of the step.
func (f *Factory) Name() string {
	return "Generate Document"
}

// Description returns a brief description of the step.
func (f *Factory) Description() string {
	return "Renders a document from a template with values from the run, optionally exporting a PDF and expanding per-item sub documents."
}

// Create builds an executor for the given step.
func (f *Factory) Create(step *models.Step) (protocol.StepExecutor, error) {
	return NewStep(step, f.renderer, f.documents)
}

// Schema returns the JSON schema for configuring this step.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"template_ref"},
		"properties": map[string]any{
			"template_ref": map[string]any{
				"type":        "string",
				"description": "Identifier of the template in the rendering service.",
			},
			"name": map[string]any{
				"type":        "string",
				"description": "Document name, rendered as a template against the run state. Defaults to the step name.",
			},
			"tag_mappings": map[string]any{
				"type":        "object",
				"description": "Template tag to value-template pairs resolved against the run state.",
				"additionalProperties": map[string]any{
					"type": "string",
				},
			},
			"export_pdf": map[string]any{
				"type":        "boolean",
				"description": "Export a PDF rendition alongside the document.",
				"default":     false,
			},
			"sub_generations": map[string]any{
				"type":        "array",
				"description": "Extra documents rendered once per entry of a list field in the source data.",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"template_ref", "items_field"},
					"properties": map[string]any{
						"template_ref": map[string]any{"type": "string"},
						"items_field":  map[string]any{"type": "string"},
						"name":         map[string]any{"type": "string"},
						"tag_mappings": map[string]any{
							"type":                 "object",
							"additionalProperties": map[string]any{"type": "string"},
						},
					},
				},
			},
		},
		"additionalProperties": false,
	}
}
