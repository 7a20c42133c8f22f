package protocol

import (
	"context"
	"time"

	"github.com/vessoa/paperwork/pkg/models"
)

// RenderRequest asks the document renderer for one rendered copy of a
// template with tags substituted from the data map.
type RenderRequest struct {
	TemplateRef string
	Name        string
	Data        map[string]any

	// TagMappings maps output tags in the template to source data fields.
	TagMappings map[string]string

	// ExportPDF requests a PDF rendition alongside the primary document.
	ExportPDF bool
}

// RenderedDocument is the renderer's handle for a produced document.
type RenderedDocument struct {
	ID     string
	Name   string
	URL    string
	PDFID  string
	PDFURL string
}

// Renderer is the external document rendering collaborator.
type Renderer interface {
	Render(ctx context.Context, request *RenderRequest) (*RenderedDocument, error)
	ExportPDF(ctx context.Context, documentID string) ([]byte, error)
}

// Attachment is one file attached to an outgoing mail.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// MailMessage is one outgoing mail.
type MailMessage struct {
	To          []string
	CC          []string
	BCC         []string
	Subject     string
	Body        string
	BodyType    string // "text" or "html"
	Attachments []Attachment
}

// Mailer is the external mail transport collaborator.
type Mailer interface {
	Send(ctx context.Context, message *MailMessage) error
}

// SignerParty identifies one requested signer.
type SignerParty struct {
	Name  string
	Email string
}

// SignatureSubmission is the provider's handle for a submitted envelope.
type SignatureSubmission struct {
	ExternalID  string
	ExternalURL string
}

// SignatureEvent is one provider webhook notification, normalized across
// vendors.
type SignatureEvent struct {
	ExternalID     string
	Status         models.SignatureStatus
	SignerStatuses map[string]models.SignerStatus
	OccurredAt     time.Time
}

// SignatureProvider is the uniform e-signature adapter. One implementation
// exists per vendor; the executor and gatekeeper only see this interface.
type SignatureProvider interface {
	Name() string
	SendForSignature(ctx context.Context, document *models.GeneratedDocument, signers []SignerParty, message string) (*SignatureSubmission, error)
	ParseWebhookEvent(payload []byte) (*SignatureEvent, error)
}

// SourceClient fetches one entity snapshot from the external data source a
// trigger step reads. The returned map is the provider's raw shape; the
// trigger step flattens any nested property envelope.
type SourceClient interface {
	FetchEntity(ctx context.Context, objectType, objectID string) (map[string]any, error)
}
