// Package sources provides the HTTP client for the source-of-record API
// that trigger steps fetch entity snapshots from.
package sources

import (
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
	providerName      = "source"
	defaultTimeout    = 30 * time.Second
	maxErrorBodyBytes = 512
)

// Client implements protocol.SourceClient against an HTTP record API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a source record client for the given API.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With("module", "source_client"),
	}
}

// FetchEntity returns one entity snapshot in the provider's raw shape.
func (c *Client) FetchEntity(ctx context.Context, objectType, objectID string) (map[string]any, error) {
	url := fmt.Sprintf("%s/objects/%s/%s", c.baseURL, objectType, objectID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, protocol.NewProviderError(providerName, 0, "source request failed", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		message := fmt.Sprintf("fetching %s/%s returned status %d: %s",
			objectType, objectID, resp.StatusCode, strings.TrimSpace(string(body)))

		return nil, protocol.NewProviderError(providerName, resp.StatusCode, message, nil)
	}

	var entity map[string]any

	err = json.NewDecoder(resp.Body).Decode(&entity)
	if err != nil {
		return nil, protocol.NewProviderError(providerName, resp.StatusCode, "failed to decode entity", err)
	}

	c.logger.DebugContext(ctx, "Fetched source entity", "object_type", objectType, "object_id", objectID)

	return entity, nil
}
