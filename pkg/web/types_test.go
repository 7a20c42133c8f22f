package web_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/web"
)

func TestTransformApprovalResponse(t *testing.T) {
	t.Parallel()

	decidedAt := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	request := &models.ApprovalRequest{
		ID:            "ap-1",
		RunID:         "run-1",
		StepID:        "approve",
		Token:         "tok-1",
		ApproverName:  "Legal",
		ApproverEmail: "legal@acme.test",
		Status:        models.ApprovalStatusApproved,
		Message:       "please review",
		EvidenceURLs:  []string{"https://render.test/docs/doc-1"},
		Comment:       "looks good",
		DecidedAt:     &decidedAt,
		ExpiresAt:     decidedAt.Add(48 * time.Hour),
		ContextSnapshot: &models.ExecutionContext{
			RunID:      "run-1",
			SourceData: map[string]any{"secret": "internal"},
		},
	}

	view := web.TransformApprovalResponse(request)

	assert.Equal(t, "approved", view.Status)
	assert.Equal(t, "Legal", view.ApproverName)
	assert.Equal(t, "legal@acme.test", view.ApproverEmail)
	assert.Equal(t, "looks good", view.Comment)
	assert.Equal(t, &decidedAt, view.DecidedAt)
}

func TestTransformSteps(t *testing.T) {
	t.Parallel()

	steps := web.TransformSteps([]web.StepRequest{
		{
			ID: "fetch", Name: "Fetch deal", Kind: "trigger", Position: 1, Enabled: true,
			Configuration: map[string]any{"mode": "fetch"},
		},
	})

	assert.Len(t, steps, 1)
	assert.Equal(t, models.StepKindTrigger, steps[0].Kind)
	assert.Equal(t, "fetch", steps[0].Configuration["mode"])

	assert.Nil(t, web.TransformSteps(nil))
}
