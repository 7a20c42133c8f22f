package webhook

import (
	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/protocol"
)

// Factory creates webhook step executors.
type Factory struct{}

// NewFactory creates a new webhook step factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Kind returns the step kind this factory builds.
func (f *Factory) Kind() models.StepKind {
	return models.StepKindWebhook
}

// Name returns the human readable name of the step.
func (f *Factory) Name() string {
	return "Call Webhook"
}

// Description returns a brief description of the step.
func (f *Factory) Description() string {
	return "Calls an external endpoint with the run state, or with a custom body. Failures are recorded without stopping the run."
}

// Create builds an executor for the given step.
func (f *Factory) Create(step *models.Step) (protocol.StepExecutor, error) {
	return NewStep(step)
}

// Schema returns the JSON schema for configuring this step.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"url"},
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Endpoint URL template.",
			},
			"method": map[string]any{
				"type":    "string",
				"enum":    []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
				"default": "POST",
			},
			"headers": map[string]any{
				"type":                 "object",
				"description":          "Header templates rendered against the run state.",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Body template. When empty the endpoint receives the documented run payload: workflow_id, execution_id, source_data, generated_documents, signature_requests and metadata.",
			},
			"timeout_seconds": map[string]any{
				"type":    "integer",
				"minimum": 1,
				"maximum": 120,
				"default": defaultTimeoutSeconds,
			},
		},
		"additionalProperties": false,
	}
}
