// Package approval gates a run on human sign-off. Executing the step does
// not block: it prepares one approval request per approver and asks the
// orchestrator to pause the run, which persists the requests and the pause
// in one commit. Deciding happens later through the gatekeeper.
//
// A replayed execution reuses the requests already stored for this run and
// step, so approval links that were already emailed out stay valid.
package approval

import (
	"context"
	"errors"
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

const defaultExpiresInHours = 48

// ErrApprovalRejected indicates the step ran again after a rejection that
// should already have failed the run.
var ErrApprovalRejected = errors.New("approval was rejected")

// Approver identifies one person whose sign-off the run waits for. Every
// approver must approve before the run resumes.
type Approver struct {
	Name  string `json:"name"`
	Email string `json:"email" validate:"required,email"`
}

type Config struct {
	Approvers      []Approver `json:"approvers" validate:"required,min=1,dive"`
	Message        string     `json:"message"`
	ExpiresInHours int        `json:"expires_in_hours" validate:"omitempty,min=1"`
	AutoApprove    bool       `json:"auto_approve_on_expiry"`
}

type Step struct {
	step      *models.Step
	config    *Config
	approvals persistence.ApprovalRepository
}

func NewStep(step *models.Step, approvals persistence.ApprovalRepository) (*Step, error) {
	config := &Config{}

	err := steps.DecodeConfig(step, config)
	if err != nil {
		return nil, err
	}

	if config.ExpiresInHours == 0 {
		config.ExpiresInHours = defaultExpiresInHours
	}

	return &Step{step: step, config: config, approvals: approvals}, nil
}

func (s *Step) Kind() models.StepKind {
	return models.StepKindHumanApproval
}

func (s *Step) Classification() models.Classification {
	return models.ClassificationCritical
}

func (s *Step) Execute(ctx context.Context, execCtx *models.ExecutionContext, logger *slog.Logger) (*protocol.StepResult, error) {
	existing, err := s.approvals.ListByRunAndStep(ctx, execCtx.RunID, s.step.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing approval requests: %w", err)
	}

	if len(existing) > 0 {
		return s.resumeExisting(execCtx, existing, logger)
	}

	message := ""
	if s.config.Message != "" {
		message, err = template.RenderString(s.config.Message, execCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render approval message: %w", err)
		}
	}

	snapshot, err := execCtx.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot run state: %w", err)
	}

	evidence := evidenceURLs(execCtx)
	expiresAt := time.Now().UTC().Add(time.Duration(s.config.ExpiresInHours) * time.Hour)

	requests := make([]*models.ApprovalRequest, 0, len(s.config.Approvers))

	for _, approver := range s.config.Approvers {
		now := time.Now().UTC()

		requests = append(requests, &models.ApprovalRequest{
			ID:              uuid.Must(uuid.NewV7()).String(),
			RunID:           execCtx.RunID,
			StepID:          s.step.ID,
			Token:           uuid.New().String(),
			ApproverName:    approver.Name,
			ApproverEmail:   approver.Email,
			Status:          models.ApprovalStatusPending,
			Message:         message,
			EvidenceURLs:    evidence,
			AutoApprove:     s.config.AutoApprove,
			ExpiresAt:       expiresAt,
			ContextSnapshot: snapshot,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	logger.Info("Pausing run for human approval",
		"approvers", len(requests), "expires_at", expiresAt)

	return &protocol.StepResult{
		Context: execCtx,
		Suspension: &protocol.Suspension{
			Reason:           protocol.SuspendedForApproval,
			ApprovalRequests: requests,
		},
	}, nil
}

// resumeExisting handles a replayed execution: the requests for this run
// and step already exist, so the step's decision stands or is still pending.
// Tokens are never regenerated.
func (s *Step) resumeExisting(execCtx *models.ExecutionContext, existing []*models.ApprovalRequest, logger *slog.Logger) (*protocol.StepResult, error) {
	pending := make([]*models.ApprovalRequest, 0, len(existing))
	approved := 0

	for _, request := range existing {
		switch request.Status {
		case models.ApprovalStatusRejected, models.ApprovalStatusExpired:
			return nil, fmt.Errorf("approval request %s is %s: %w", request.ID, request.Status, ErrApprovalRejected)
		case models.ApprovalStatusApproved:
			approved++
		case models.ApprovalStatusPending:
			pending = append(pending, request)
		}
	}

	if len(pending) == 0 && approved == len(existing) {
		logger.Info("Approval already granted, continuing run")

		return &protocol.StepResult{Context: execCtx}, nil
	}

	logger.Info("Approval requests already exist, re-pausing with the same tokens",
		"pending", len(pending))

	return &protocol.StepResult{
		Context: execCtx,
		Suspension: &protocol.Suspension{
			Reason:           protocol.SuspendedForApproval,
			ApprovalRequests: pending,
		},
	}, nil
}

func evidenceURLs(execCtx *models.ExecutionContext) []string {
	var urls []string

	for _, document := range execCtx.GeneratedDocuments {
		switch {
		case document.PDFURL != "":
			urls = append(urls, document.PDFURL)
		case document.URL != "":
			urls = append(urls, document.URL)
		}
	}

	return urls
}
