// Package signing provides the HTTP adapter for e-signature vendors. One
// Provider instance speaks to one vendor; the provider name configured at
// construction is how stored requests and webhook routes find it again.
package signing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/protocol"
)

const (
	defaultTimeout    = 30 * time.Second
	maxErrorBodyBytes = 512
)

type envelopeDocument struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	URL    string `json:"url,omitempty"`
	PDFID  string `json:"pdf_id,omitempty"`
	PDFURL string `json:"pdf_url,omitempty"`
}

type envelopeSigner struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type envelopePayload struct {
	Document envelopeDocument `json:"document"`
	Signers  []envelopeSigner `json:"signers"`
	Message  string           `json:"message,omitempty"`
}

type envelopeResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type webhookPayload struct {
	EnvelopeID string `json:"envelope_id"`
	Event      string `json:"event"`
	Signers    []struct {
		Email  string `json:"email"`
		Status string `json:"status"`
	} `json:"signers"`
	OccurredAt string `json:"occurred_at"`
}

// Provider implements protocol.SignatureProvider against an envelope-style
// HTTP signing API.
type Provider struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewProvider creates a signature provider adapter. The name is the stable
// identifier recorded on signature requests and matched on webhook routes.
func NewProvider(name, baseURL, apiKey string, logger *slog.Logger) *Provider {
	return &Provider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With("module", "signing", "provider", name),
	}
}

func (p *Provider) Name() string {
	return p.name
}

// SendForSignature submits one document as a new envelope and returns the
// vendor's handle for it.
func (p *Provider) SendForSignature(ctx context.Context, document *models.GeneratedDocument, signers []protocol.SignerParty, message string) (*protocol.SignatureSubmission, error) {
	payload := envelopePayload{
		Document: envelopeDocument{
			ID:     document.DocumentID,
			Name:   document.Name,
			URL:    document.URL,
			PDFID:  document.PDFID,
			PDFURL: document.PDFURL,
		},
		Message: message,
	}

	for _, signer := range signers {
		payload.Signers = append(payload.Signers, envelopeSigner{
			Name:  signer.Name,
			Email: signer.Email,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/envelopes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, protocol.NewProviderError(p.name, 0, "envelope request failed", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		errMessage := fmt.Sprintf("submitting envelope for document %s returned status %d: %s",
			document.DocumentID, resp.StatusCode, strings.TrimSpace(string(errBody)))

		return nil, protocol.NewProviderError(p.name, resp.StatusCode, errMessage, nil)
	}

	var envelope envelopeResponse

	err = json.NewDecoder(resp.Body).Decode(&envelope)
	if err != nil {
		return nil, protocol.NewProviderError(p.name, resp.StatusCode, "failed to decode envelope response", err)
	}

	if envelope.ID == "" {
		return nil, protocol.NewProviderError(p.name, resp.StatusCode, "envelope response missing id", nil)
	}

	p.logger.InfoContext(ctx, "Envelope submitted",
		"document_id", document.DocumentID, "external_id", envelope.ID)

	return &protocol.SignatureSubmission{
		ExternalID:  envelope.ID,
		ExternalURL: envelope.URL,
	}, nil
}

// ParseWebhookEvent normalizes one vendor webhook notification. Unknown
// event names are treated as signer progress updates, keeping the envelope
// pending.
func (p *Provider) ParseWebhookEvent(payload []byte) (*protocol.SignatureEvent, error) {
	var hook webhookPayload

	err := json.Unmarshal(payload, &hook)
	if err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	if hook.EnvelopeID == "" {
		return nil, fmt.Errorf("webhook payload missing envelope_id")
	}

	event := &protocol.SignatureEvent{
		ExternalID: hook.EnvelopeID,
		Status:     envelopeStatus(hook.Event),
		OccurredAt: parseOccurredAt(hook.OccurredAt),
	}

	if len(hook.Signers) > 0 {
		event.SignerStatuses = make(map[string]models.SignerStatus, len(hook.Signers))
		for _, signer := range hook.Signers {
			event.SignerStatuses[signer.Email] = signerStatus(signer.Status)
		}
	}

	return event, nil
}

func envelopeStatus(event string) models.SignatureStatus {
	switch strings.ToLower(event) {
	case "completed", "envelope_completed", "signed":
		return models.SignatureStatusCompleted
	case "declined", "envelope_declined", "rejected":
		return models.SignatureStatusDeclined
	case "expired", "voided":
		return models.SignatureStatusExpired
	default:
		return models.SignatureStatusPending
	}
}

func signerStatus(status string) models.SignerStatus {
	switch strings.ToLower(status) {
	case "signed", "completed":
		return models.SignerStatusSigned
	case "declined", "rejected":
		return models.SignerStatusDeclined
	default:
		return models.SignerStatusPending
	}
}

func parseOccurredAt(value string) time.Time {
	if value == "" {
		return time.Now().UTC()
	}

	occurredAt, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Now().UTC()
	}

	return occurredAt
}
