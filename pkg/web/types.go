// Package web provides the HTTP surface of the engine: run control,
// public approval decisions, signature provider webhooks, and the minimal
// workflow storage API.
package web

import (
	"time"

	"github.com/vessoa/paperwork/pkg/models"
)

// StepRequest is one step definition inside a workflow create or update.
type StepRequest struct {
	ID            string         `json:"id"            validate:"required"`
	Name          string         `json:"name"          validate:"required,min=1"`
	Kind          string         `json:"kind"          validate:"required"`
	Position      int            `json:"position"      validate:"required,min=1"`
	Enabled       bool           `json:"enabled"`
	Configuration map[string]any `json:"configuration"`
}

// CreateWorkflowRequest represents the request body for creating a new
// workflow draft.
type CreateWorkflowRequest struct {
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description"`
	Owner       string         `json:"owner"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Steps       []StepRequest  `json:"steps"       validate:"dive"`
}

// UpdateWorkflowRequest represents the request body for updating a draft.
// Absent fields keep their stored values; a present steps list replaces the
// stored one.
type UpdateWorkflowRequest struct {
	Name        *string        `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string        `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Steps       []StepRequest  `json:"steps,omitempty"       validate:"omitempty,dive"`
}

// DecisionRequest is the optional body of an approve or reject call.
type DecisionRequest struct {
	Comment   string `json:"comment,omitempty"`
	DecidedBy string `json:"decided_by,omitempty"`
}

// ApprovalResponse is the public view of an approval request. The token is
// the only credential on these endpoints, so the response never exposes the
// run's execution context.
type ApprovalResponse struct {
	Status        string     `json:"status"`
	ApproverName  string     `json:"approver_name,omitempty"`
	ApproverEmail string     `json:"approver_email"`
	Message       string     `json:"message,omitempty"`
	EvidenceURLs  []string   `json:"evidence_urls,omitempty"`
	Comment       string     `json:"comment,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
}

// TransformApprovalResponse strips an approval request down to its public
// view.
func TransformApprovalResponse(request *models.ApprovalRequest) ApprovalResponse {
	return ApprovalResponse{
		Status:        string(request.Status),
		ApproverName:  request.ApproverName,
		ApproverEmail: request.ApproverEmail,
		Message:       request.Message,
		EvidenceURLs:  request.EvidenceURLs,
		Comment:       request.Comment,
		ExpiresAt:     request.ExpiresAt,
		DecidedAt:     request.DecidedAt,
	}
}

// TransformSteps converts step requests into model steps.
func TransformSteps(steps []StepRequest) []*models.Step {
	if steps == nil {
		return nil
	}

	result := make([]*models.Step, 0, len(steps))
	for _, step := range steps {
		result = append(result, &models.Step{
			ID:            step.ID,
			Name:          step.Name,
			Kind:          models.StepKind(step.Kind),
			Position:      step.Position,
			Enabled:       step.Enabled,
			Configuration: step.Configuration,
		})
	}

	return result
}
