// Package persistence provides standardized error types for persistence
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowAlreadyExists indicates a workflow with the same identifier already exists.
	ErrWorkflowAlreadyExists = errors.New("workflow already exists")

	// ErrRunNotFound indicates a run was not found by the given identifier.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunNotPaused indicates a resume was attempted on a run that is not paused.
	ErrRunNotPaused = errors.New("run is not paused")

	// ErrApprovalNotFound indicates an approval request was not found.
	ErrApprovalNotFound = errors.New("approval request not found")

	// ErrSignatureNotFound indicates a signature request was not found.
	ErrSignatureNotFound = errors.New("signature request not found")

	// ErrDocumentNotFound indicates no generated document exists for the key.
	ErrDocumentNotFound = errors.New("generated document not found")

	// ErrDocumentAlreadyExists indicates a generated document already exists
	// for the (run id, step id) key.
	ErrDocumentAlreadyExists = errors.New("generated document already exists for step")
)

// WorkflowError wraps workflow storage errors with operation context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{Op: op, WorkflowID: workflowID, Err: err}
}

// RunError wraps run storage errors with operation context.
type RunError struct {
	Op    string
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a new run error with context.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, Err: err}
}

// ApprovalError wraps approval request storage errors.
type ApprovalError struct {
	Op        string
	RequestID string
	Err       error
}

func (e *ApprovalError) Error() string {
	return fmt.Sprintf("%s operation failed for approval request %s: %v", e.Op, e.RequestID, e.Err)
}

func (e *ApprovalError) Unwrap() error {
	return e.Err
}

func (e *ApprovalError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewApprovalError creates a new approval error with context.
func NewApprovalError(op, requestID string, err error) *ApprovalError {
	return &ApprovalError{Op: op, RequestID: requestID, Err: err}
}

// SignatureError wraps signature request storage errors.
type SignatureError struct {
	Op        string
	RequestID string
	Err       error
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("%s operation failed for signature request %s: %v", e.Op, e.RequestID, e.Err)
}

func (e *SignatureError) Unwrap() error {
	return e.Err
}

func (e *SignatureError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewSignatureError creates a new signature error with context.
func NewSignatureError(op, requestID string, err error) *SignatureError {
	return &SignatureError{Op: op, RequestID: requestID, Err: err}
}

// DocumentError wraps generated document storage errors.
type DocumentError struct {
	Op     string
	RunID  string
	StepID string
	Err    error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("%s operation failed for document of run %s step %s: %v", e.Op, e.RunID, e.StepID, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

func (e *DocumentError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewDocumentError creates a new document error with context.
func NewDocumentError(op, runID, stepID string, err error) *DocumentError {
	return &DocumentError{Op: op, RunID: runID, StepID: stepID, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsRunNotFound checks if an error indicates a run was not found.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsApprovalNotFound checks if an error indicates an approval request was not found.
func IsApprovalNotFound(err error) bool {
	return errors.Is(err, ErrApprovalNotFound)
}

// IsSignatureNotFound checks if an error indicates a signature request was not found.
func IsSignatureNotFound(err error) bool {
	return errors.Is(err, ErrSignatureNotFound)
}

// IsDocumentNotFound checks if an error indicates a generated document was not found.
func IsDocumentNotFound(err error) bool {
	return errors.Is(err, ErrDocumentNotFound)
}

// IsDocumentAlreadyExists checks if an error indicates a generated document
// already exists for the (run id, step id) key.
func IsDocumentAlreadyExists(err error) bool {
	return errors.Is(err, ErrDocumentAlreadyExists)
}
