package signature

import (
	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/persistence"
	"github.com/vessoa/paperwork/pkg/protocol"
)

// Factory creates signature request step executors.
type Factory struct {
	provider   protocol.SignatureProvider
	signatures persistence.SignatureRepository
}

// NewFactory creates a new signature step factory bound to a signing
// provider and the signature request store.
func NewFactory(provider protocol.SignatureProvider, signatures persistence.SignatureRepository) *Factory {
	return &Factory{provider: provider, signatures: signatures}
}

// Kind returns the step kind this factory builds.
func (f *Factory) Kind() models.StepKind {
	return models.StepKindSignatureRequest
}

// Name returns the human readable name of the step.
func (f *Factory) Name() string {
	return "Request Signature"
}

// Description returns a brief description of the step.
func (f *Factory) Description() string {
	return "Sends a generated document for electronic signature. The run continues while signatures are collected unless await_completion pauses it."
}

// Create builds an executor for the given step.
func (f *Factory) Create(step *models.Step) (protocol.StepExecutor, error) {
	return NewStep(step, f.provider, f.signatures)
}

// Schema returns the JSON schema for configuring this step.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"signers"},
		"properties": map[string]any{
			"signers": map[string]any{
				"type":        "array",
				"description": "Signing parties. Names and emails may be templates.",
				"minItems":    1,
				"items": map[string]any{
					"type":     "object",
					"required": []string{"email"},
					"properties": map[string]any{
						"name":  map[string]any{"type": "string"},
						"email": map[string]any{"type": "string"},
					},
				},
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Message template shown to signers.",
			},
			"document": map[string]any{
				"type":        "object",
				"description": "Which generated document to send. Defaults to the most recent one with a PDF.",
				"properties": map[string]any{
					"step_id":     map[string]any{"type": "string"},
					"document_id": map[string]any{"type": "string"},
				},
			},
			"await_completion": map[string]any{
				"type":        "boolean",
				"description": "Pause the run until every signer signed. Declines and expiry then fail the run.",
				"default":     false,
			},
			"expires_in_days": map[string]any{
				"type":    "integer",
				"minimum": 1,
				"default": defaultExpiresInDays,
			},
		},
		"additionalProperties": false,
	}
}
