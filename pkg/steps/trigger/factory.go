package trigger

import (
	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/protocol"
)

// Factory creates trigger step executors.
type Factory struct {
	client protocol.SourceClient
}

// NewFactory creates a new trigger step factory bound to a source client.
func NewFactory(client protocol.SourceClient) *Factory {
	return &Factory{client: client}
}

// Kind returns the step kind this factory builds.
func (f *Factory) Kind() models.StepKind {
	return models.StepKindTrigger
}

// Name returns the human readable name of the step.
func (f *Factory) Name() string {
	return "Trigger"
}

// Description returns a brief description of the step.
func (f *Factory) Description() string {
	return "Fetches the source record snapshot, or validates an inbound payload, and seeds the run's source data."
}

// Create builds an executor for the given step.
func (f *Factory) Create(step *models.Step) (protocol.StepExecutor, error) {
	return NewStep(step, f.client)
}

// Schema returns the JSON schema for configuring this step.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"mode": map[string]any{
				"type":        "string",
				"description": "fetch pulls the record from the source system; inbound validates data pushed with the start request.",
				"default":     "fetch",
				"enum":        []string{"fetch", "inbound"},
			},
			"envelope": map[string]any{
				"type":        "string",
				"description": "Nested property envelope to flatten into the source data map.",
				"default":     "properties",
			},
			"payload_schema": map[string]any{
				"type":        "object",
				"description": "Optional JSON schema that inbound payloads must satisfy.",
			},
		},
		"additionalProperties": false,
	}
}
