// Package events defines the event types that drive runs between services.
// Every state change of a run is an event on the bus; workers are stateless
// consumers of them.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/vessoa/paperwork/pkg/models"
)

type EventType string

// Topic is the single event stream. Messages are keyed by run id so one
// run's events are totally ordered.
const Topic = "paperwork.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Run lifecycle.
	RunStartedEvent   EventType = "run.started"
	RunPausedEvent    EventType = "run.paused"
	RunResumedEvent   EventType = "run.resumed"
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"

	// Step progression within a run.
	StepAvailableEvent EventType = "run.step.available"
	StepCompletedEvent EventType = "run.step.completed"
	StepFailedEvent    EventType = "run.step.failed"

	// Decisions and third-party signals.
	ApprovalDecidedEvent    EventType = "approval.decided"
	ApprovalExpiryDueEvent  EventType = "approval.expiry.due"
	SignatureUpdatedEvent   EventType = "signature.updated"
	SignatureExpiryDueEvent EventType = "signature.expiry.due"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent stamps a fresh event envelope.
func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

// RunStarted announces a new run. The worker reacts by making the first
// step available.
type RunStarted struct {
	BaseEvent

	ExecutionID      string `json:"execution_id"`
	SourceObjectType string `json:"source_object_type,omitempty"`
	SourceObjectID   string `json:"source_object_id,omitempty"`
	Initiator        string `json:"initiator,omitempty"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

// StepAvailable asks a worker to execute the step at the given position.
// Redelivery is expected; workers skip positions the run has moved past.
type StepAvailable struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Position    int    `json:"position"`
}

func (e StepAvailable) GetType() EventType {
	return StepAvailableEvent
}

type StepCompleted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	Position    int    `json:"position"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepFailed struct {
	BaseEvent

	ExecutionID    string                `json:"execution_id"`
	StepID         string                `json:"step_id"`
	Position       int                   `json:"position"`
	Classification models.Classification `json:"classification"`
	Error          string                `json:"error"`
	DurationMs     int64                 `json:"duration_ms"`

	// Recovered is true when the failure was recorded and the run moved
	// on, false when it ended the run.
	Recovered bool `json:"recovered"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedEvent
}

type RunPaused struct {
	BaseEvent

	ExecutionID        string   `json:"execution_id"`
	Position           int      `json:"position"`
	StepID             string   `json:"step_id"`
	Reason             string   `json:"reason"`
	ApprovalRequestIDs []string `json:"approval_request_ids,omitempty"`
	SignatureRequestID string   `json:"signature_request_id,omitempty"`
}

func (e RunPaused) GetType() EventType {
	return RunPausedEvent
}

type RunResumed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Position    int    `json:"position"`
	ResumedBy   string `json:"resumed_by,omitempty"`
}

func (e RunResumed) GetType() EventType {
	return RunResumedEvent
}

type RunCompleted struct {
	BaseEvent

	ExecutionID        string `json:"execution_id"`
	DurationMs         int64  `json:"duration_ms"`
	DocumentsGenerated int    `json:"documents_generated"`
	PrimaryDocumentID  string `json:"primary_document_id,omitempty"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id,omitempty"`
	Position    int    `json:"position"`
	Error       string `json:"error"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

// ApprovalDecided records one approver's decision. The worker checks
// whether the decision completes the gate and resumes or fails the run.
type ApprovalDecided struct {
	BaseEvent

	ExecutionID string                `json:"execution_id"`
	RequestID   string                `json:"request_id"`
	StepID      string                `json:"step_id"`
	Outcome     models.ApprovalStatus `json:"outcome"`
	DecidedBy   string                `json:"decided_by,omitempty"`
	Comment     string                `json:"comment,omitempty"`

	// AutoDecided marks decisions made by the expiry sweep rather than a
	// person.
	AutoDecided bool `json:"auto_decided,omitempty"`
}

func (e ApprovalDecided) GetType() EventType {
	return ApprovalDecidedEvent
}

// ApprovalExpiryDue is published by the timekeeper for each pending
// request whose deadline passed. Expiring an already decided request is a
// no-op, so redelivery is harmless.
type ApprovalExpiryDue struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	RequestID   string `json:"request_id"`
}

func (e ApprovalExpiryDue) GetType() EventType {
	return ApprovalExpiryDueEvent
}

// SignatureUpdated carries a provider webhook signal into the engine.
type SignatureUpdated struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	RequestID   string                 `json:"request_id"`
	Provider    string                 `json:"provider"`
	ExternalID  string                 `json:"external_id"`
	Status      models.SignatureStatus `json:"status"`

	// SignerStatuses maps signer email to the signer's new status, when
	// the provider reports per-signer detail.
	SignerStatuses map[string]models.SignerStatus `json:"signer_statuses,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

func (e SignatureUpdated) GetType() EventType {
	return SignatureUpdatedEvent
}

// SignatureExpiryDue is published by the timekeeper for each pending
// signature request whose deadline passed.
type SignatureExpiryDue struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	RequestID   string `json:"request_id"`
}

func (e SignatureExpiryDue) GetType() EventType {
	return SignatureExpiryDueEvent
}
