package approval

import (
	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/persistence"
	"github.com/vessoa/paperwork/pkg/protocol"
)

// Factory creates human approval step executors.
type Factory struct {
	approvals persistence.ApprovalRepository
}

// NewFactory creates a new human approval factory bound to the approval
// request store.
func NewFactory(approvals persistence.ApprovalRepository) *Factory {
	return &Factory{approvals: approvals}
}

// Kind returns the step kind this factory builds.
func (f *Factory) Kind() models.StepKind {
	return models.StepKindHumanApproval
}

// Name returns the human readable name of the step.
func (f *Factory) Name() string {
	return "Human Approval"
}

// Description returns a brief description of the step.
func (f *Factory) Description() string {
	return "Pauses the run until every listed approver approves. Rejection or unanswered expiry fails the run; expiry can auto-approve instead."
}

// Create builds an executor for the given step.
func (f *Factory) Create(step *models.Step) (protocol.StepExecutor, error) {
	return NewStep(step, f.approvals)
}

// Schema returns the JSON schema for configuring this step.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"approvers"},
		"properties": map[string]any{
			"approvers": map[string]any{
				"type":        "array",
				"description": "People whose sign-off the run waits for. Every approver must approve.",
				"minItems":    1,
				"items": map[string]any{
					"type":     "object",
					"required": []string{"email"},
					"properties": map[string]any{
						"name":  map[string]any{"type": "string"},
						"email": map[string]any{"type": "string", "format": "email"},
					},
				},
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Message template shown to approvers.",
			},
			"expires_in_hours": map[string]any{
				"type":    "integer",
				"minimum": 1,
				"default": defaultExpiresInHours,
			},
			"auto_approve_on_expiry": map[string]any{
				"type":        "boolean",
				"description": "Treat an unanswered request as approved when it expires instead of failing the run.",
				"default":     false,
			},
		},
		"additionalProperties": false,
	}
}
