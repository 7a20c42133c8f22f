package email

import (
	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/protocol"
)

// Factory creates email step executors.
type Factory struct {
	mailer   protocol.Mailer
	renderer protocol.Renderer
}

// NewFactory creates a new email step factory. The renderer is used to
// export PDF attachments for documents generated earlier in the run.
func NewFactory(mailer protocol.Mailer, renderer protocol.Renderer) *Factory {
	return &Factory{mailer: mailer, renderer: renderer}
}

// Kind returns the step kind this factory builds.
func (f *Factory) Kind() models.StepKind {
	return models.StepKindEmail
}

// Name returns the human readable name of the step.
func (f *Factory) Name() string {
	return "Send Email"
}

// Description returns a brief description of the step.
func (f *Factory) Description() string {
	return "Sends an email rendered from the run state, optionally attaching PDFs of generated documents. Failures are recorded without stopping the run."
}

// Create builds an executor for the given step.
func (f *Factory) Create(step *models.Step) (protocol.StepExecutor, error) {
	return NewStep(step, f.mailer, f.renderer)
}

// Schema returns the JSON schema for configuring this step.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"to", "subject", "body"},
		"properties": map[string]any{
			"to": map[string]any{
				"type":        "array",
				"description": "Recipient templates. Each entry may render to a comma separated list.",
				"items":       map[string]any{"type": "string"},
				"minItems":    1,
			},
			"cc": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"bcc": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"subject": map[string]any{
				"type":        "string",
				"description": "Subject template.",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Body template.",
			},
			"body_type": map[string]any{
				"type":    "string",
				"enum":    []string{"text", "html"},
				"default": "text",
			},
			"attach": map[string]any{
				"type":        "array",
				"description": "Documents generated earlier in the run to attach as PDFs.",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"step_id":     map[string]any{"type": "string"},
						"document_id": map[string]any{"type": "string"},
					},
				},
			},
		},
		"additionalProperties": false,
	}
}
