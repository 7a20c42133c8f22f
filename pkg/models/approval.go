package models

import "time"

// ApprovalStatus represents the decision state of an approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusExpired  ApprovalStatus = "expired"
)

// ApprovalRequest is one approver's pending decision for one pausing step.
// The token is the only credential for the public decision endpoints and is
// single-use for state-changing calls: a request is decided exactly once.
type ApprovalRequest struct {
	ID     string `json:"id"`
	RunID  string `json:"run_id"  validate:"required"`
	StepID string `json:"step_id" validate:"required"`

	Token string `json:"token" validate:"required"`

	ApproverName  string `json:"approver_name"`
	ApproverEmail string `json:"approver_email" validate:"required,email"`

	Status  ApprovalStatus `json:"status" validate:"required"`
	Message string         `json:"message,omitempty"`

	// EvidenceURLs point at the documents generated before the pause, for
	// the approver to review.
	EvidenceURLs []string `json:"evidence_urls,omitempty"`

	// AutoApprove makes expiry count as an approval instead of failing
	// the run.
	AutoApprove bool `json:"auto_approve"`

	Comment   string     `json:"comment,omitempty"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	ExpiresAt time.Time  `json:"expires_at"`

	// ContextSnapshot is the execution context captured at pause time.
	// Resume reuses it verbatim.
	ContextSnapshot *ExecutionContext `json:"context_snapshot,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsPending reports whether the request still awaits a decision.
func (a *ApprovalRequest) IsPending() bool {
	return a.Status == ApprovalStatusPending
}

// ExpiredBy reports whether the request's expiry has passed at the given
// time. Status is not consulted; callers decide what an overdue pending
// request becomes.
func (a *ApprovalRequest) ExpiredBy(now time.Time) bool {
	return now.After(a.ExpiresAt)
}
