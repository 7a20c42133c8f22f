package models

import (
	"encoding/json"
	"time"
)

// ExecutionContext is the accumulating run state threaded through every
// step. It is owned by exactly one run, mutated only by the step currently
// executing, and must survive a serialize/deserialize round trip losslessly
// so a resumed run is indistinguishable from one that never paused.
type ExecutionContext struct {
	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`

	// SourceObjectType and SourceObjectID identify the record this run
	// operates on, e.g. ("deal", "8841").
	SourceObjectType string `json:"source_object_type,omitempty"`
	SourceObjectID   string `json:"source_object_id,omitempty"`

	// SourceData is the flat field map produced by the trigger step.
	SourceData map[string]any `json:"source_data,omitempty"`

	// GeneratedDocuments accumulates one descriptor per document
	// generation, in step order.
	GeneratedDocuments []GeneratedDocument `json:"generated_documents,omitempty"`

	// SignatureRequests accumulates one descriptor per signature request,
	// in step order.
	SignatureRequests []SignatureRef `json:"signature_requests,omitempty"`

	Metadata ContextMetadata `json:"metadata"`
}

// ContextMetadata carries run bookkeeping that steps may append to but
// never depend on for their own logic.
type ContextMetadata struct {
	Position   int               `json:"position"`
	StepErrors []StepErrorRecord `json:"step_errors,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
}

// StepErrorRecord is one recorded non-fatal or fatal step failure.
type StepErrorRecord struct {
	StepID     string    `json:"step_id"`
	StepKind   StepKind  `json:"step_kind"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SignatureRef is the context-side descriptor of a signature request. The
// authoritative, mutable record lives in persistence.
type SignatureRef struct {
	StepID      string `json:"step_id"`
	RequestID   string `json:"request_id"`
	Provider    string `json:"provider"`
	ExternalID  string `json:"external_id"`
	ExternalURL string `json:"external_url,omitempty"`
	Status      string `json:"status"`
}

// NewExecutionContext seeds a context for a new run.
func NewExecutionContext(runID, workflowID, sourceObjectType, sourceObjectID string) *ExecutionContext {
	return &ExecutionContext{
		RunID:            runID,
		WorkflowID:       workflowID,
		SourceObjectType: sourceObjectType,
		SourceObjectID:   sourceObjectID,
		SourceData:       make(map[string]any),
		Metadata: ContextMetadata{
			Position:  1,
			StartedAt: time.Now().UTC(),
		},
	}
}

// RecordError appends a step failure to metadata. It has no other side
// effects; classification of the failure happens in the orchestrator.
func (c *ExecutionContext) RecordError(stepID string, kind StepKind, message string) {
	c.Metadata.StepErrors = append(c.Metadata.StepErrors, StepErrorRecord{
		StepID:     stepID,
		StepKind:   kind,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	})
}

// DocumentByStep returns the generated document recorded for the given
// step id, if any.
func (c *ExecutionContext) DocumentByStep(stepID string) *GeneratedDocument {
	for i := range c.GeneratedDocuments {
		if c.GeneratedDocuments[i].StepID == stepID {
			return &c.GeneratedDocuments[i]
		}
	}

	return nil
}

// DocumentByID returns the generated document with the given document id,
// if any.
func (c *ExecutionContext) DocumentByID(documentID string) *GeneratedDocument {
	for i := range c.GeneratedDocuments {
		if c.GeneratedDocuments[i].DocumentID == documentID {
			return &c.GeneratedDocuments[i]
		}
	}

	return nil
}

// SignatureByStep returns the signature descriptor recorded for the given
// step id, if any.
func (c *ExecutionContext) SignatureByStep(stepID string) *SignatureRef {
	for i := range c.SignatureRequests {
		if c.SignatureRequests[i].StepID == stepID {
			return &c.SignatureRequests[i]
		}
	}

	return nil
}

// LastDocumentWithPDF returns the most recent generated document that has a
// derivable PDF, if any.
func (c *ExecutionContext) LastDocumentWithPDF() *GeneratedDocument {
	for i := len(c.GeneratedDocuments) - 1; i >= 0; i-- {
		if c.GeneratedDocuments[i].PDFID != "" || c.GeneratedDocuments[i].PDFURL != "" {
			return &c.GeneratedDocuments[i]
		}
	}

	return nil
}

// Clone returns a deep copy through the JSON encoding, the same path a
// persisted snapshot takes. Step executors receive clones so a failed or
// retried execution cannot leak partial mutations.
func (c *ExecutionContext) Clone() (*ExecutionContext, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}

	clone := &ExecutionContext{}
	if err := json.Unmarshal(raw, clone); err != nil {
		return nil, err
	}

	return clone, nil
}
