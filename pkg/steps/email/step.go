// Package email sends notification emails from a run, optionally attaching
// PDF renditions of documents generated by earlier steps. Delivery is best
// effort: a failed send is recorded on the run without stopping it.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/protocol"
	"github.com/vessoa/paperwork/pkg/steps"
	"github.com/vessoa/paperwork/pkg/template"
)

// ErrNoRecipients indicates every recipient template rendered to nothing.
var ErrNoRecipients = errors.New("email step resolved no recipients")

// AttachmentRef points at a document generated earlier in the run, by the
// step that generated it or by its document id.
type AttachmentRef struct {
	StepID     string `json:"step_id"`
	DocumentID string `json:"document_id"`
}

type Config struct {
	To       []string        `json:"to"       validate:"required,min=1"`
	CC       []string        `json:"cc"`
	BCC      []string        `json:"bcc"`
	Subject  string          `json:"subject"  validate:"required"`
	Body     string          `json:"body"     validate:"required"`
	BodyType string          `json:"body_type" validate:"omitempty,oneof=text html"`
	Attach   []AttachmentRef `json:"attach"`
}

type Step struct {
	step     *models.Step
	config   *Config
	mailer   protocol.Mailer
	renderer protocol.Renderer
}

func NewStep(step *models.Step, mailer protocol.Mailer, renderer protocol.Renderer) (*Step, error) {
	config := &Config{}

	err := steps.DecodeConfig(step, config)
	if err != nil {
		return nil, err
	}

	if config.BodyType == "" {
		config.BodyType = "text"
	}

	for _, ref := range config.Attach {
		if ref.StepID == "" && ref.DocumentID == "" {
			return nil, steps.NewConfigError(step, errors.New("attachment needs a step_id or a document_id"))
		}
	}

	return &Step{step: step, config: config, mailer: mailer, renderer: renderer}, nil
}

func (s *Step) Kind() models.StepKind {
	return models.StepKindEmail
}

func (s *Step) Classification() models.Classification {
	return models.ClassificationBestEffort
}

func (s *Step) Execute(ctx context.Context, execCtx *models.ExecutionContext, logger *slog.Logger) (*protocol.StepResult, error) {
	to, err := renderRecipients(s.config.To, execCtx)
	if err != nil {
		return nil, err
	}

	if len(to) == 0 {
		return nil, ErrNoRecipients
	}

	cc, err := renderRecipients(s.config.CC, execCtx)
	if err != nil {
		return nil, err
	}

	bcc, err := renderRecipients(s.config.BCC, execCtx)
	if err != nil {
		return nil, err
	}

	subject, err := template.RenderString(s.config.Subject, execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}

	body, err := template.RenderString(s.config.Body, execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render body: %w", err)
	}

	attachments, err := s.resolveAttachments(ctx, execCtx)
	if err != nil {
		return nil, err
	}

	message := &protocol.MailMessage{
		To:          to,
		CC:          cc,
		BCC:         bcc,
		Subject:     subject,
		Body:        body,
		BodyType:    s.config.BodyType,
		Attachments: attachments,
	}

	err = s.mailer.Send(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("failed to send email: %w", err)
	}

	logger.Info("Email sent", "recipients", len(to), "attachments", len(attachments))

	return &protocol.StepResult{Context: execCtx}, nil
}

func (s *Step) resolveAttachments(ctx context.Context, execCtx *models.ExecutionContext) ([]protocol.Attachment, error) {
	if len(s.config.Attach) == 0 {
		return nil, nil
	}

	attachments := make([]protocol.Attachment, 0, len(s.config.Attach))

	for _, ref := range s.config.Attach {
		var document *models.GeneratedDocument

		if ref.StepID != "" {
			document = execCtx.DocumentByStep(ref.StepID)
		} else {
			document = execCtx.DocumentByID(ref.DocumentID)
		}

		if document == nil {
			return nil, fmt.Errorf("attachment references a document this run never generated (step_id=%q document_id=%q)",
				ref.StepID, ref.DocumentID)
		}

		content, err := s.renderer.ExportPDF(ctx, document.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("failed to export PDF for attachment %s: %w", document.Name, err)
		}

		attachments = append(attachments, protocol.Attachment{
			Filename:    document.Name + ".pdf",
			ContentType: "application/pdf",
			Content:     content,
		})
	}

	return attachments, nil
}

// renderRecipients renders each template and splits comma separated results,
// so a single source field can carry a recipient list.
func renderRecipients(templates []string, execCtx *models.ExecutionContext) ([]string, error) {
	var recipients []string

	for _, entry := range templates {
		rendered, err := template.RenderString(entry, execCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render recipient %q: %w", entry, err)
		}

		for _, address := range strings.Split(rendered, ",") {
			address = strings.TrimSpace(address)
			if address != "" {
				recipients = append(recipients, address)
			}
		}
	}

	return recipients, nil
}
