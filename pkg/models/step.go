package models

// StepKind identifies one of the closed set of step implementations.
type StepKind string

const (
	StepKindTrigger            StepKind = "trigger"
	StepKindDocumentGeneration StepKind = "document_generation"
	StepKindEmail              StepKind = "email"
	StepKindWebhook            StepKind = "webhook"
	StepKindHumanApproval      StepKind = "human_approval"
	StepKindSignatureRequest   StepKind = "signature_request"
)

// Classification determines what a step failure does to the owning run.
type Classification string

const (
	// ClassificationCritical aborts the run on failure.
	ClassificationCritical Classification = "critical"
	// ClassificationBestEffort records the failure and continues.
	ClassificationBestEffort Classification = "best_effort"
)

// Valid reports whether the kind belongs to the closed set.
func (k StepKind) Valid() bool {
	switch k {
	case StepKindTrigger, StepKindDocumentGeneration, StepKindEmail,
		StepKindWebhook, StepKindHumanApproval, StepKindSignatureRequest:
		return true
	}

	return false
}

// Step is one configured unit within a workflow. Configuration is the raw
// per-kind object; executors parse it into a typed struct exactly once when
// the step is loaded.
type Step struct {
	ID            string         `json:"id"            validate:"required,lowercase"`
	Kind          StepKind       `json:"kind"          validate:"required"`
	Name          string         `json:"name"          validate:"required"`
	Position      int            `json:"position"      validate:"required,min=1"`
	Enabled       bool           `json:"enabled"`
	Configuration map[string]any `json:"configuration"`
}
