// Package steps provides the shared contract pieces for the six step
// executor implementations.
package steps

import (
	"errors"
	"fmt"

	"github.com/vessoa/paperwork/pkg/models"
)

// ConfigError is a step configuration failure. It surfaces when a step is
// loaded, before any execution begins.
type ConfigError struct {
	StepID string
	Kind   models.StepKind
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration for %s step %q: %v", e.Kind, e.StepID, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError wraps a configuration failure with the step identity.
func NewConfigError(step *models.Step, err error) *ConfigError {
	return &ConfigError{StepID: step.ID, Kind: step.Kind, Err: err}
}

// IsConfigError checks whether an error is a step configuration failure.
func IsConfigError(err error) bool {
	var configErr *ConfigError

	return errors.As(err, &configErr)
}

// ExecutionError is a step failure carrying the step identity and the
// classification that decides the run's fate.
type ExecutionError struct {
	StepID         string
	Kind           models.StepKind
	Classification models.Classification
	Message        string
	Err            error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s step %q failed: %s", e.Kind, e.StepID, e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError builds an execution error from an executor failure.
func NewExecutionError(stepID string, kind models.StepKind, classification models.Classification, err error) *ExecutionError {
	return &ExecutionError{
		StepID:         stepID,
		Kind:           kind,
		Classification: classification,
		Message:        err.Error(),
		Err:            err,
	}
}

// IsCritical checks whether an error is a critical step failure.
func IsCritical(err error) bool {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Classification == models.ClassificationCritical
	}

	return false
}

// IsBestEffort checks whether an error is a best-effort step failure.
func IsBestEffort(err error) bool {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Classification == models.ClassificationBestEffort
	}

	return false
}
