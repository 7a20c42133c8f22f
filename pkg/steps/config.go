package steps

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/vessoa/paperwork/pkg/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeConfig parses a step's raw configuration map into the executor's
// typed configuration struct and validates it. Executors call this exactly
// once, at load time, and never touch the raw map again.
func DecodeConfig(step *models.Step, out any) error {
	raw, err := json.Marshal(step.Configuration)
	if err != nil {
		return NewConfigError(step, fmt.Errorf("configuration is not serializable: %w", err))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return NewConfigError(step, fmt.Errorf("configuration does not match the %s shape: %w", step.Kind, err))
	}

	if err := validate.Struct(out); err != nil {
		return NewConfigError(step, err)
	}

	return nil
}
