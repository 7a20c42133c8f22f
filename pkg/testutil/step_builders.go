// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/vessoa/paperwork/pkg/models"
)

// CreateTestStep creates a test Step with default values that can be overridden.
func CreateTestStep(overrides ...func(*models.Step)) *models.Step {
	step := &models.Step{
		ID:       uuid.New().String(),
		Kind:     models.StepKindWebhook,
		Name:     "Test Step",
		Position: 2,
		Enabled:  true,
		Configuration: map[string]any{
			"url":    "https://hooks.example.com/test",
			"method": "POST",
		},
	}

	for _, override := range overrides {
		override(step)
	}

	return step
}

// WithTriggerStep configures the step as the trigger at position 1.
func WithTriggerStep() func(*models.Step) {
	return func(s *models.Step) {
		s.Kind = models.StepKindTrigger
		s.Position = 1
		s.Name = "Fetch Source Record"
		s.Configuration = map[string]any{"mode": "fetch"}
	}
}

// WithKind sets the step kind.
func WithKind(kind models.StepKind) func(*models.Step) {
	return func(s *models.Step) {
		s.Kind = kind
	}
}

// WithConfiguration sets the step configuration.
func WithConfiguration(config map[string]any) func(*models.Step) {
	return func(s *models.Step) {
		s.Configuration = config
	}
}

// WithName sets the step name.
func WithName(name string) func(*models.Step) {
	return func(s *models.Step) {
		s.Name = name
	}
}

// WithPosition sets the step position.
func WithPosition(position int) func(*models.Step) {
	return func(s *models.Step) {
		s.Position = position
	}
}

// WithEnabled sets the step enabled flag.
func WithEnabled(enabled bool) func(*models.Step) {
	return func(s *models.Step) {
		s.Enabled = enabled
	}
}

// WithID sets the step ID.
func WithID(id string) func(*models.Step) {
	return func(s *models.Step) {
		s.ID = id
	}
}

// CreateTestWorkflow creates an empty draft workflow.
func CreateTestWorkflow() *models.Workflow {
	now := time.Now().UTC()

	return &models.Workflow{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Name:        "Test Workflow",
		Description: "A workflow for testing",
		Status:      models.WorkflowStatusDraft,
		Owner:       "test-user",
		Metadata:    map[string]any{"category": "test"},
		Steps:       []*models.Step{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CreateTestPublishedWorkflow creates an executable workflow with a trigger
// step followed by a document generation step.
func CreateTestPublishedWorkflow() *models.Workflow {
	workflow := CreateTestWorkflow()

	trigger := CreateTestStep(WithTriggerStep(), WithID("fetch"))
	generate := CreateTestStep(
		WithID("generate"),
		WithKind(models.StepKindDocumentGeneration),
		WithName("Generate Document"),
		WithPosition(2),
		WithConfiguration(map[string]any{"template_ref": "tpl-test"}),
	)

	workflow.Steps = []*models.Step{trigger, generate}
	workflow.Status = models.WorkflowStatusPublished
	publishedAt := time.Now().UTC()
	workflow.PublishedAt = &publishedAt

	return workflow
}

// CreateTestRun creates a running run for the given workflow, positioned at
// the trigger step with an initialized context snapshot.
func CreateTestRun(workflow *models.Workflow) *models.Run {
	now := time.Now().UTC()
	runID := uuid.Must(uuid.NewV7()).String()

	return &models.Run{
		ID:         runID,
		WorkflowID: workflow.ID,
		Status:     models.RunStatusRunning,
		Position:   1,
		Context: &models.ExecutionContext{
			RunID:            runID,
			WorkflowID:       workflow.ID,
			SourceObjectType: "deal",
			SourceObjectID:   "8841",
			Metadata: models.ContextMetadata{
				Position:  1,
				StartedAt: now,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
