// Package mailer provides the HTTP client for the transactional mail
// service used by email steps.
package mailer

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

	"github.com/vessoa/paperwork/pkg/protocol"
)

const (
	providerName      = "mailer"
	defaultTimeout    = 30 * time.Second
	maxErrorBodyBytes = 512
)

type attachmentPayload struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`

	// Content is base64-encoded on the wire by encoding/json.
	Content []byte `json:"content"`
}

type messagePayload struct {
	To          []string            `json:"to"`
	CC          []string            `json:"cc,omitempty"`
	BCC         []string            `json:"bcc,omitempty"`
	Subject     string              `json:"subject"`
	Body        string              `json:"body"`
	BodyType    string              `json:"body_type"`
	Attachments []attachmentPayload `json:"attachments,omitempty"`
}

// Client implements protocol.Mailer against an HTTP mail API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a mailer client for the given API.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With("module", "mailer_client"),
	}
}

// Send submits one message for delivery.
func (c *Client) Send(ctx context.Context, message *protocol.MailMessage) error {
	payload := messagePayload{
		To:       message.To,
		CC:       message.CC,
		BCC:      message.BCC,
		Subject:  message.Subject,
		Body:     message.Body,
		BodyType: message.BodyType,
	}

	for _, attachment := range message.Attachments {
		payload.Attachments = append(payload.Attachments, attachmentPayload{
			Filename:    attachment.Filename,
			ContentType: attachment.ContentType,
			Content:     attachment.Content,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal mail message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return protocol.NewProviderError(providerName, 0, "mail request failed", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusMultipleChoices {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		errMessage := fmt.Sprintf("sending %q returned status %d: %s",
			message.Subject, resp.StatusCode, strings.TrimSpace(string(errBody)))

		return protocol.NewProviderError(providerName, resp.StatusCode, errMessage, nil)
	}

	c.logger.DebugContext(ctx, "Mail submitted",
		"subject", message.Subject, "recipients", len(message.To))

	return nil
}
