// Package signature sends a generated document out for electronic
// signature. By default the run does not wait for the outcome: the request
// is tracked and later status changes arrive through provider webhooks.
// With await_completion the step instead pauses the run until everyone
// signed.
//
// The request is keyed by run and step, so a replayed execution finds the
// request already sent and never submits the document twice.
package signature

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

const defaultExpiresInDays = 30

var (
	// ErrNoDocumentToSign indicates the run generated no PDF-bearing
	// document for the step to send.
	ErrNoDocumentToSign = errors.New("no document with a PDF to send for signature")

	// ErrSignatureDeclined indicates the tracked request was declined or
	// lapsed while the run waited on it.
	ErrSignatureDeclined = errors.New("signature request was declined or expired")
)

// SignerConfig identifies one signing party.
type SignerConfig struct {
	Name  string `json:"name"`
	Email string `json:"email" validate:"required"`
}

// DocumentRef selects which generated document to send. With both fields
// empty the most recent document with a PDF is used.
type DocumentRef struct {
	StepID     string `json:"step_id"`
	DocumentID string `json:"document_id"`
}

type Config struct {
	Signers         []SignerConfig `json:"signers" validate:"required,min=1,dive"`
	Message         string         `json:"message"`
	Document        DocumentRef    `json:"document"`
	AwaitCompletion bool           `json:"await_completion"`
	ExpiresInDays   int            `json:"expires_in_days" validate:"omitempty,min=1"`
}

type Step struct {
	step       *models.Step
	config     *Config
	provider   protocol.SignatureProvider
	signatures persistence.SignatureRepository
}

func NewStep(step *models.Step, provider protocol.SignatureProvider, signatures persistence.SignatureRepository) (*Step, error) {
	config := &Config{}

	err := steps.DecodeConfig(step, config)
	if err != nil {
		return nil, err
	}

	if config.ExpiresInDays == 0 {
		config.ExpiresInDays = defaultExpiresInDays
	}

	return &Step{step: step, config: config, provider: provider, signatures: signatures}, nil
}

func (s *Step) Kind() models.StepKind {
	return models.StepKindSignatureRequest
}

// Classification depends on the waiting mode: a run that must not proceed
// without the signature treats a send failure as fatal, a fire-and-track
// run records it and moves on.
func (s *Step) Classification() models.Classification {
	if s.config.AwaitCompletion {
		return models.ClassificationCritical
	}

	return models.ClassificationBestEffort
}

func (s *Step) Execute(ctx context.Context, execCtx *models.ExecutionContext, logger *slog.Logger) (*protocol.StepResult, error) {
	existing, err := s.signatures.GetByRunAndStep(ctx, execCtx.RunID, s.step.ID)
	if err != nil && !persistence.IsSignatureNotFound(err) {
		return nil, fmt.Errorf("failed to check for existing signature request: %w", err)
	}

	if existing != nil {
		return s.resumeExisting(execCtx, existing, logger)
	}

	document := s.resolveDocument(execCtx)
	if document == nil {
		return nil, ErrNoDocumentToSign
	}

	message := ""
	if s.config.Message != "" {
		message, err = template.RenderString(s.config.Message, execCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render signature message: %w", err)
		}
	}

	parties, signers, err := s.renderSigners(execCtx)
	if err != nil {
		return nil, err
	}

	submission, err := s.provider.SendForSignature(ctx, document, parties, message)
	if err != nil {
		return nil, fmt.Errorf("failed to send document for signature: %w", err)
	}

	now := time.Now().UTC()
	request := &models.SignatureRequest{
		ID:          uuid.Must(uuid.NewV7()).String(),
		RunID:       execCtx.RunID,
		StepID:      s.step.ID,
		Provider:    s.provider.Name(),
		ExternalID:  submission.ExternalID,
		ExternalURL: submission.ExternalURL,
		DocumentID:  document.DocumentID,
		Signers:     signers,
		Status:      models.SignatureStatusPending,
		Blocking:    s.config.AwaitCompletion,
		ExpiresAt:   now.Add(time.Duration(s.config.ExpiresInDays) * 24 * time.Hour),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.signatures.Save(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("failed to record signature request: %w", err)
	}

	execCtx.SignatureRequests = append(execCtx.SignatureRequests, request.Ref())

	logger.Info("Document sent for signature",
		"provider", request.Provider, "external_id", request.ExternalID,
		"signers", len(signers), "await_completion", s.config.AwaitCompletion)

	if s.config.AwaitCompletion {
		return &protocol.StepResult{
			Context: execCtx,
			Suspension: &protocol.Suspension{
				Reason:             protocol.SuspendedForSignature,
				SignatureRequestID: request.ID,
			},
		}, nil
	}

	return &protocol.StepResult{Context: execCtx}, nil
}

// resumeExisting handles a replayed execution: the request was already sent
// to the provider, so the step only reconciles run state with its status.
func (s *Step) resumeExisting(execCtx *models.ExecutionContext, existing *models.SignatureRequest, logger *slog.Logger) (*protocol.StepResult, error) {
	if execCtx.SignatureByStep(s.step.ID) == nil {
		execCtx.SignatureRequests = append(execCtx.SignatureRequests, existing.Ref())
	}

	if !existing.Blocking {
		logger.Info("Signature request already sent, continuing run",
			"external_id", existing.ExternalID, "status", existing.Status)

		return &protocol.StepResult{Context: execCtx}, nil
	}

	switch existing.Status {
	case models.SignatureStatusCompleted:
		return &protocol.StepResult{Context: execCtx}, nil
	case models.SignatureStatusDeclined, models.SignatureStatusExpired:
		return nil, fmt.Errorf("signature request %s is %s: %w", existing.ID, existing.Status, ErrSignatureDeclined)
	default:
		logger.Info("Signature request still pending, re-pausing", "external_id", existing.ExternalID)

		return &protocol.StepResult{
			Context: execCtx,
			Suspension: &protocol.Suspension{
				Reason:             protocol.SuspendedForSignature,
				SignatureRequestID: existing.ID,
			},
		}, nil
	}
}

func (s *Step) resolveDocument(execCtx *models.ExecutionContext) *models.GeneratedDocument {
	switch {
	case s.config.Document.StepID != "":
		return execCtx.DocumentByStep(s.config.Document.StepID)
	case s.config.Document.DocumentID != "":
		return execCtx.DocumentByID(s.config.Document.DocumentID)
	default:
		return execCtx.LastDocumentWithPDF()
	}
}

func (s *Step) renderSigners(execCtx *models.ExecutionContext) ([]protocol.SignerParty, []models.Signer, error) {
	parties := make([]protocol.SignerParty, 0, len(s.config.Signers))
	signers := make([]models.Signer, 0, len(s.config.Signers))

	for _, signer := range s.config.Signers {
		email, err := template.RenderString(signer.Email, execCtx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to render signer email %q: %w", signer.Email, err)
		}

		name := signer.Name
		if name != "" {
			name, err = template.RenderString(signer.Name, execCtx)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to render signer name %q: %w", signer.Name, err)
			}
		}

		parties = append(parties, protocol.SignerParty{Name: name, Email: email})
		signers = append(signers, models.Signer{Name: name, Email: email, Status: models.SignerStatusPending})
	}

	return parties, signers, nil
}
