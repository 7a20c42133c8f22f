package models

import "time"

// SignatureStatus represents the overall state of a signature request.
type SignatureStatus string

const (
	SignatureStatusPending   SignatureStatus = "pending"
	SignatureStatusCompleted SignatureStatus = "completed"
	SignatureStatusDeclined  SignatureStatus = "declined"
	SignatureStatusExpired   SignatureStatus = "expired"
)

// SignerStatus represents one signer's progress.
type SignerStatus string

const (
	SignerStatusPending  SignerStatus = "pending"
	SignerStatusSigned   SignerStatus = "signed"
	SignerStatusDeclined SignerStatus = "declined"
)

// Signer is one party asked to sign a document.
type Signer struct {
	Name     string       `json:"name"`
	Email    string       `json:"email"  validate:"required,email"`
	Status   SignerStatus `json:"status"`
	SignedAt *time.Time   `json:"signed_at,omitempty"`
}

// SignatureRequest tracks one document sent for e-signature through a
// provider. The (RunID, StepID) pair is the idempotency key for replays.
type SignatureRequest struct {
	ID     string `json:"id"`
	RunID  string `json:"run_id"  validate:"required"`
	StepID string `json:"step_id" validate:"required"`

	Provider    string `json:"provider"     validate:"required"`
	ExternalID  string `json:"external_id"`
	ExternalURL string `json:"external_url,omitempty"`
	DocumentID  string `json:"document_id"  validate:"required"`

	Signers []Signer        `json:"signers"`
	Status  SignatureStatus `json:"status" validate:"required"`

	// Blocking records whether the owning step paused the run until the
	// provider reports completion.
	Blocking bool `json:"blocking"`

	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsPending reports whether the provider has not yet resolved the request.
func (s *SignatureRequest) IsPending() bool {
	return s.Status == SignatureStatusPending
}

// ExpiredBy reports whether the request's expiry has passed at the given
// time.
func (s *SignatureRequest) ExpiredBy(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ApplySignerStatuses merges per-signer statuses reported by the provider,
// keyed by signer email.
func (s *SignatureRequest) ApplySignerStatuses(statuses map[string]SignerStatus, at time.Time) {
	for i := range s.Signers {
		status, ok := statuses[s.Signers[i].Email]
		if !ok {
			continue
		}

		s.Signers[i].Status = status
		if status == SignerStatusSigned && s.Signers[i].SignedAt == nil {
			signedAt := at
			s.Signers[i].SignedAt = &signedAt
		}
	}

	s.UpdatedAt = at
}

// AllSigned reports whether every signer has signed.
func (s *SignatureRequest) AllSigned() bool {
	if len(s.Signers) == 0 {
		return false
	}

	for _, signer := range s.Signers {
		if signer.Status != SignerStatusSigned {
			return false
		}
	}

	return true
}

// Ref returns the context-side descriptor for this request.
func (s *SignatureRequest) Ref() SignatureRef {
	return SignatureRef{
		StepID:      s.StepID,
		RequestID:   s.ID,
		Provider:    s.Provider,
		ExternalID:  s.ExternalID,
		ExternalURL: s.ExternalURL,
		Status:      string(s.Status),
	}
}
