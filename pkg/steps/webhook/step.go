// Package webhook notifies an external endpoint about a run. The default
// payload carries the full run state so receivers need no follow-up call;
// a body template replaces it entirely. Delivery is best effort and single
// shot: a failed call is recorded on the run without stopping it.
package webhook

import (
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
	"github.com/vessoa/paperwork/pkg/steps"
	"github.com/vessoa/paperwork/pkg/template"
)

const (
	defaultTimeoutSeconds = 30
	maxErrorBodyBytes     = 512
)

type Config struct {
	URL            string            `json:"url"    validate:"required"`
	Method         string            `json:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Headers        map[string]string `json:"headers"`
	Body           string            `json:"body"`
	TimeoutSeconds int               `json:"timeout_seconds" validate:"omitempty,min=1,max=120"`
}

type Step struct {
	step   *models.Step
	config *Config
}

func NewStep(step *models.Step) (*Step, error) {
	config := &Config{}

	err := steps.DecodeConfig(step, config)
	if err != nil {
		return nil, err
	}

	if config.Method == "" {
		config.Method = http.MethodPost
	}

	if config.TimeoutSeconds == 0 {
		config.TimeoutSeconds = defaultTimeoutSeconds
	}

	if config.Body != "" {
		_, err = template.Parse(config.Body)
		if err != nil {
			return nil, steps.NewConfigError(step, fmt.Errorf("invalid body template: %w", err))
		}
	}

	return &Step{step: step, config: config}, nil
}

func (s *Step) Kind() models.StepKind {
	return models.StepKindWebhook
}

func (s *Step) Classification() models.Classification {
	return models.ClassificationBestEffort
}

func (s *Step) Execute(ctx context.Context, execCtx *models.ExecutionContext, logger *slog.Logger) (*protocol.StepResult, error) {
	url, err := template.RenderString(s.config.URL, execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render webhook url: %w", err)
	}

	body, err := s.buildBody(execCtx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, s.config.Method, url, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range s.config.Headers {
		rendered, err := template.RenderString(value, execCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render header %q: %w", key, err)
		}

		req.Header.Set(key, rendered)
	}

	client := &http.Client{
		Timeout: time.Duration(s.config.TimeoutSeconds) * time.Second,
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, protocol.NewProviderError("webhook", 0, "webhook call failed", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		responseBody = nil
	}

	if resp.StatusCode >= http.StatusBadRequest {
		message := fmt.Sprintf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(responseBody)))

		return nil, protocol.NewProviderError("webhook", resp.StatusCode, message, nil)
	}

	logger.Info("Webhook delivered", "url", url, "status", resp.StatusCode)

	return &protocol.StepResult{Context: execCtx}, nil
}

func (s *Step) buildBody(execCtx *models.ExecutionContext) ([]byte, error) {
	if s.config.Body == "" {
		return json.Marshal(defaultPayload(execCtx))
	}

	rendered, err := template.RenderWithContext(s.config.Body, execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render body template: %w", err)
	}

	if str, ok := rendered.(string); ok {
		return []byte(str), nil
	}

	body, err := json.Marshal(rendered)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal body: %w", err)
	}

	return body, nil
}

// defaultPayload is the documented webhook body. Receivers integrate
// against these exact keys.
func defaultPayload(execCtx *models.ExecutionContext) map[string]any {
	return map[string]any{
		"workflow_id":         execCtx.WorkflowID,
		"execution_id":        execCtx.RunID,
		"source_data":         execCtx.SourceData,
		"generated_documents": execCtx.GeneratedDocuments,
		"signature_requests":  execCtx.SignatureRequests,
		"metadata":            execCtx.Metadata,
	}
}
