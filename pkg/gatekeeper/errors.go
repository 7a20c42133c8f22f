package gatekeeper

import (
	"errors"

	"github.com/vessoa/paperwork/pkg/persistence"
)

var (
	// ErrApprovalNotFound indicates no approval request matches the token.
	ErrApprovalNotFound = persistence.ErrApprovalNotFound

	// ErrAlreadyDecided indicates the request left the pending state
	// before this call. The first decision stands.
	ErrAlreadyDecided = errors.New("approval request already decided")

	// ErrDecisionExpired indicates the request's deadline passed before
	// the decision arrived.
	ErrDecisionExpired = errors.New("approval request expired")

	// ErrInvalidOutcome indicates an outcome other than approved or
	// rejected.
	ErrInvalidOutcome = errors.New("invalid decision outcome")
)

// IsApprovalNotFound checks if an error indicates an unknown decision token.
func IsApprovalNotFound(err error) bool {
	return errors.Is(err, ErrApprovalNotFound)
}

// IsAlreadyDecided checks if an error indicates the request was decided before.
func IsAlreadyDecided(err error) bool {
	return errors.Is(err, ErrAlreadyDecided)
}

// IsDecisionExpired checks if an error indicates the request expired undecided.
func IsDecisionExpired(err error) bool {
	return errors.Is(err, ErrDecisionExpired)
}
