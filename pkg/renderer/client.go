// Package renderer provides the HTTP client for the document rendering
// service used by generation and email steps.
package renderer

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
	providerName      = "renderer"
	defaultTimeout    = 60 * time.Second
	maxErrorBodyBytes = 512
)

type renderPayload struct {
	TemplateRef string            `json:"template_ref"`
	Name        string            `json:"name"`
	Data        map[string]any    `json:"data"`
	TagMappings map[string]string `json:"tag_mappings,omitempty"`
	ExportPDF   bool              `json:"export_pdf"`
}

type renderResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	PDFID  string `json:"pdf_id"`
	PDFURL string `json:"pdf_url"`
}

// Client implements protocol.Renderer against an HTTP rendering service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a renderer client for the given service.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With("module", "renderer_client"),
	}
}

// Render asks the service for one rendered document and returns its handle.
func (c *Client) Render(ctx context.Context, request *protocol.RenderRequest) (*protocol.RenderedDocument, error) {
	payload := renderPayload{
		TemplateRef: request.TemplateRef,
		Name:        request.Name,
		Data:        request.Data,
		TagMappings: request.TagMappings,
		ExportPDF:   request.ExportPDF,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setAuth(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, protocol.NewProviderError(providerName, 0, "render request failed", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.statusError(resp, fmt.Sprintf("rendering %q", request.TemplateRef))
	}

	var rendered renderResponse

	err = json.NewDecoder(resp.Body).Decode(&rendered)
	if err != nil {
		return nil, protocol.NewProviderError(providerName, resp.StatusCode, "failed to decode render response", err)
	}

	c.logger.DebugContext(ctx, "Rendered document",
		"template_ref", request.TemplateRef, "document_id", rendered.ID)

	return &protocol.RenderedDocument{
		ID:     rendered.ID,
		Name:   rendered.Name,
		URL:    rendered.URL,
		PDFID:  rendered.PDFID,
		PDFURL: rendered.PDFURL,
	}, nil
}

// ExportPDF downloads the PDF rendition of a previously rendered document.
func (c *Client) ExportPDF(ctx context.Context, documentID string) ([]byte, error) {
	url := fmt.Sprintf("%s/documents/%s/pdf", c.baseURL, documentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setAuth(req)
	req.Header.Set("Accept", "application/pdf")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, protocol.NewProviderError(providerName, 0, "pdf download failed", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, fmt.Sprintf("downloading pdf for document %s", documentID))
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, protocol.NewProviderError(providerName, resp.StatusCode, "failed to read pdf body", err)
	}

	return content, nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) statusError(resp *http.Response, action string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	message := fmt.Sprintf("%s returned status %d: %s", action, resp.StatusCode, strings.TrimSpace(string(body)))

	return protocol.NewProviderError(providerName, resp.StatusCode, message, nil)
}
