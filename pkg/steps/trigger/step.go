// Package trigger provides the trigger step implementation that seeds a
// run's source data.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xeipuuv/gojsonschema"

	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/protocol"
	"github.com/vessoa/paperwork/pkg/steps"
)

const (
	ModeFetch   = "fetch"
	ModeInbound = "inbound"

	defaultEnvelope = "properties"
)

var (
	// ErrSourceObjectMissing is returned when the run carries no source object reference.
	ErrSourceObjectMissing = errors.New("run has no source object to fetch")
	// ErrInboundDataMissing is returned when an inbound trigger finds no seeded source data.
	ErrInboundDataMissing = errors.New("inbound trigger requires source data in the start payload")
	// ErrInboundDataInvalid is returned when seeded source data fails the configured schema.
	ErrInboundDataInvalid = errors.New("inbound payload does not match the configured schema")
)

// Config is the trigger step configuration.
type Config struct {
	// Mode selects between fetching the source record and validating an
	// inbound payload that arrived with the start request.
	Mode string `json:"mode" validate:"omitempty,oneof=fetch inbound"`

	// Envelope names the provider's nested property envelope to flatten
	// into the source data map.
	Envelope string `json:"envelope"`

	// PayloadSchema optionally validates inbound payloads.
	PayloadSchema map[string]any `json:"payload_schema"`
}

// Step fetches one entity snapshot, or validates a pushed one, and fills
// context.SourceData. It runs first in every workflow and is critical: a
// run without source data cannot proceed.
type Step struct {
	step   *models.Step
	config Config
	client protocol.SourceClient
	schema *gojsonschema.Schema
}

// NewStep builds a trigger step from its configuration.
func NewStep(step *models.Step, client protocol.SourceClient) (*Step, error) {
	config := Config{}
	if err := steps.DecodeConfig(step, &config); err != nil {
		return nil, err
	}

	if config.Mode == "" {
		config.Mode = ModeFetch
	}

	if config.Envelope == "" {
		config.Envelope = defaultEnvelope
	}

	var schema *gojsonschema.Schema

	if len(config.PayloadSchema) > 0 {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(config.PayloadSchema))
		if err != nil {
			return nil, steps.NewConfigError(step, fmt.Errorf("invalid payload schema: %w", err))
		}

		schema = compiled
	}

	return &Step{step: step, config: config, client: client, schema: schema}, nil
}

func (s *Step) Kind() models.StepKind {
	return models.StepKindTrigger
}

func (s *Step) Classification() models.Classification {
	return models.ClassificationCritical
}

func (s *Step) Execute(ctx context.Context, execCtx *models.ExecutionContext, logger *slog.Logger) (*protocol.StepResult, error) {
	logger = logger.With("module", "trigger_step", "mode", s.config.Mode)

	if s.config.Mode == ModeInbound {
		return s.executeInbound(ctx, execCtx, logger)
	}

	return s.executeFetch(ctx, execCtx, logger)
}

func (s *Step) executeFetch(ctx context.Context, execCtx *models.ExecutionContext, logger *slog.Logger) (*protocol.StepResult, error) {
	if execCtx.SourceObjectType == "" || execCtx.SourceObjectID == "" {
		return nil, ErrSourceObjectMissing
	}

	logger.InfoContext(ctx, "Fetching source entity",
		"object_type", execCtx.SourceObjectType,
		"object_id", execCtx.SourceObjectID)

	raw, err := s.client.FetchEntity(ctx, execCtx.SourceObjectType, execCtx.SourceObjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch source entity: %w", err)
	}

	execCtx.SourceData = s.flatten(raw)

	logger.InfoContext(ctx, "Source data seeded", "fields", len(execCtx.SourceData))

	return &protocol.StepResult{Context: execCtx}, nil
}

func (s *Step) executeInbound(ctx context.Context, execCtx *models.ExecutionContext, logger *slog.Logger) (*protocol.StepResult, error) {
	if len(execCtx.SourceData) == 0 {
		return nil, ErrInboundDataMissing
	}

	if s.schema != nil {
		result, err := s.schema.Validate(gojsonschema.NewGoLoader(execCtx.SourceData))
		if err != nil {
			return nil, fmt.Errorf("failed to validate inbound payload: %w", err)
		}

		if !result.Valid() {
			return nil, fmt.Errorf("%w: %v", ErrInboundDataInvalid, result.Errors())
		}
	}

	execCtx.SourceData = s.flatten(execCtx.SourceData)

	logger.InfoContext(ctx, "Inbound source data accepted", "fields", len(execCtx.SourceData))

	return &protocol.StepResult{Context: execCtx}, nil
}

// flatten lifts the provider's nested property envelope to the top level.
// Top-level fields outside the envelope are kept; on key collision the
// envelope value wins, since providers put the authoritative fields there.
func (s *Step) flatten(raw map[string]any) map[string]any {
	flat := make(map[string]any, len(raw))

	for key, value := range raw {
		if key == s.config.Envelope {
			continue
		}

		flat[key] = value
	}

	if envelope, ok := raw[s.config.Envelope].(map[string]any); ok {
		for key, value := range envelope {
			flat[key] = value
		}
	}

	return flat
}
