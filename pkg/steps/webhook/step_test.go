package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/protocol"
	"github.com/vessoa/paperwork/pkg/steps"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func webhookStep(config map[string]any) *models.Step {
	return &models.Step{
		ID:            "notify_crm",
		Kind:          models.StepKindWebhook,
		Name:          "Notify CRM",
		Position:      4,
		Enabled:       true,
		Configuration: config,
	}
}

func executionContext() *models.ExecutionContext {
	execCtx := models.NewExecutionContext("run-1", "wf-1", "deal", "8841")
	execCtx.SourceData = map[string]any{"name": "Acme"}
	execCtx.GeneratedDocuments = []models.GeneratedDocument{{
		ID: "gd-1", RunID: "run-1", StepID: "generate_contract", DocumentID: "doc-1", Name: "Contract",
	}}

	return execCtx
}

func TestWebhookStep_DefaultPayloadShape(t *testing.T) {
	var (
		capturedBody   []byte
		capturedMethod string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedMethod = r.Method
		capturedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	step, err := NewStep(webhookStep(map[string]any{"url": server.URL}))
	require.NoError(t, err)

	result, err := step.Execute(context.Background(), executionContext(), testLogger())
	require.NoError(t, err)
	require.Nil(t, result.Suspension)

	assert.Equal(t, http.MethodPost, capturedMethod)

	var payload map[string]any

	require.NoError(t, json.Unmarshal(capturedBody, &payload))

	// Receivers integrate against exactly these keys.
	assert.Len(t, payload, 6)
	assert.Equal(t, "wf-1", payload["workflow_id"])
	assert.Equal(t, "run-1", payload["execution_id"])
	assert.Contains(t, payload, "source_data")
	assert.Contains(t, payload, "generated_documents")
	assert.Contains(t, payload, "signature_requests")
	assert.Contains(t, payload, "metadata")

	documents, ok := payload["generated_documents"].([]any)
	require.True(t, ok)
	require.Len(t, documents, 1)
}

func TestWebhookStep_CustomBodyAndHeaders(t *testing.T) {
	var (
		capturedBody   []byte
		capturedHeader string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedHeader = r.Header.Get("X-Deal")
		capturedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	step, err := NewStep(webhookStep(map[string]any{
		"url":     server.URL,
		"method":  "PUT",
		"headers": map[string]any{"X-Deal": "{{ .run.source_object_id }}"},
		"body":    `{"deal": "{{ .source.name }}"}`,
	}))
	require.NoError(t, err)

	_, err = step.Execute(context.Background(), executionContext(), testLogger())
	require.NoError(t, err)

	assert.Equal(t, "8841", capturedHeader)
	assert.JSONEq(t, `{"deal": "Acme"}`, string(capturedBody))
}

func TestWebhookStep_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	step, err := NewStep(webhookStep(map[string]any{"url": server.URL}))
	require.NoError(t, err)

	_, err = step.Execute(context.Background(), executionContext(), testLogger())
	require.Error(t, err)

	var providerErr *protocol.ProviderError

	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, http.StatusServiceUnavailable, providerErr.StatusCode)
	assert.True(t, protocol.IsTransient(err))
}

func TestWebhookStep_ClientErrorStatusIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	step, err := NewStep(webhookStep(map[string]any{"url": server.URL}))
	require.NoError(t, err)

	_, err = step.Execute(context.Background(), executionContext(), testLogger())
	require.Error(t, err)
	assert.False(t, protocol.IsTransient(err))
}

func TestWebhookStep_EndpointDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	server.Close()

	step, err := NewStep(webhookStep(map[string]any{"url": server.URL}))
	require.NoError(t, err)

	_, err = step.Execute(context.Background(), executionContext(), testLogger())
	require.Error(t, err)
	assert.True(t, protocol.IsTransient(err))
}

func TestWebhookStep_ConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
	}{
		{
			name:   "missing url",
			config: map[string]any{"method": "POST"},
		},
		{
			name:   "invalid method",
			config: map[string]any{"url": "https://example.com", "method": "TRACE"},
		},
		{
			name:   "timeout out of range",
			config: map[string]any{"url": "https://example.com", "timeout_seconds": 600},
		},
		{
			name:   "malformed body template",
			config: map[string]any{"url": "https://example.com", "body": "{{ .source.name "},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStep(webhookStep(tt.config))
			require.Error(t, err)
			assert.True(t, steps.IsConfigError(err))
		})
	}
}

func TestWebhookFactory(t *testing.T) {
	factory := NewFactory()

	assert.Equal(t, models.StepKindWebhook, factory.Kind())
	assert.NotEmpty(t, factory.Description())

	executor, err := factory.Create(webhookStep(map[string]any{"url": "https://example.com/hook"}))
	require.NoError(t, err)
	assert.Equal(t, models.ClassificationBestEffort, executor.Classification())
}
