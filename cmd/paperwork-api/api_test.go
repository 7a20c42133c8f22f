package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vessoa/paperwork/pkg/channels/gochannel"
	"github.com/vessoa/paperwork/pkg/cmd"
	"github.com/vessoa/paperwork/pkg/eventbus"
	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/persistence"
	"github.com/vessoa/paperwork/pkg/persistence/file"
	"github.com/vessoa/paperwork/pkg/testutil"
)

func setupTestApp(t *testing.T) (*fiber.App, persistence.Persistence) {
	t.Helper()

	logger := slog.Default()

	persist, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	pub, sub, err := gochannel.CreateTestChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() {
		if err := bus.Close(); err != nil {
			t.Logf("Failed to close event bus: %v", err)
		}
	})

	collaborators := cmd.NewCollaborators(cmd.CollaboratorConfig{
		SourceURL:   "https://source.test",
		RendererURL: "https://renderer.test",
		MailerURL:   "https://mailer.test",
		SigningURL:  "https://signing.test",
	}, logger)
	reg := cmd.NewRegistry(persist, collaborators, logger)

	api := NewAPI(logger, persist, reg, collaborators, bus)

	return api.App(), persist
}

func TestAPI_RootEndpoint(t *testing.T) {
	app, _ := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Paperwork API", string(body))
}

func TestAPI_Liveness(t *testing.T) {
	app, _ := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_HealthEndpoint(t *testing.T) {
	app, _ := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_StartRunRoundTrip(t *testing.T) {
	app, persist := setupTestApp(t)

	workflow := testutil.CreateTestPublishedWorkflow()
	require.NoError(t, persist.WorkflowRepository().Save(t.Context(), workflow))

	payload, err := json.Marshal(map[string]string{
		"workflow_id":        workflow.ID,
		"source_object_type": "deal",
		"source_object_id":   "8841",
		"initiator":          "api-test",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var run models.Run

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	assert.Equal(t, workflow.ID, run.WorkflowID)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, 1, run.Position)

	getReq := httptest.NewRequest(http.MethodGet, "/runs/"+run.ID, nil)
	getResp, err := app.Test(getReq)
	require.NoError(t, err)

	defer func() {
		if err := getResp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, getResp.StatusCode)
}
