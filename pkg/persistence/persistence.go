// Package persistence provides the data storage abstraction for workflows,
// runs, and decision records.
package persistence

import (
	"context"
	"time"

	"github.com/vessoa/paperwork/pkg/models"
)

// Persistence aggregates the repositories behind one storage backend.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	RunRepository() RunRepository
	ApprovalRepository() ApprovalRepository
	SignatureRepository() SignatureRepository
	DocumentRepository() DocumentRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error

	// Delete soft-deletes; runs referencing the workflow keep resolving.
	Delete(ctx context.Context, id string) error
}

// RunFilter narrows run listings.
type RunFilter struct {
	WorkflowID string
	Status     models.RunStatus
}

// RunRepository stores runs and their context snapshots. Implementations
// must provide per-run isolation: concurrent writes to different runs never
// interfere.
type RunRepository interface {
	GetByID(ctx context.Context, id string) (*models.Run, error)
	List(ctx context.Context, filter RunFilter) ([]*models.Run, error)
	Save(ctx context.Context, run *models.Run) error

	// UpdateProgress persists the position and context after one completed
	// step, so a host restart resumes at the last completed step.
	UpdateProgress(ctx context.Context, runID string, position int, execCtx *models.ExecutionContext) error

	// Pause commits the paused run together with its pending approval
	// requests in one atomic write. Partial persistence is not permitted:
	// either the run is paused with every request stored, or nothing
	// changed.
	Pause(ctx context.Context, run *models.Run, approvals []*models.ApprovalRequest) error

	// Resume flips a paused run back to running at the given position with
	// the given context snapshot.
	Resume(ctx context.Context, runID string, position int, execCtx *models.ExecutionContext) error
}

// ApprovalRepository stores approval requests.
type ApprovalRepository interface {
	GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error)
	GetByToken(ctx context.Context, token string) (*models.ApprovalRequest, error)
	ListByRunAndStep(ctx context.Context, runID, stepID string) ([]*models.ApprovalRequest, error)
	ListByRun(ctx context.Context, runID string) ([]*models.ApprovalRequest, error)

	// ListExpired returns pending requests whose expiry passed at the
	// given time, for the expiry sweep.
	ListExpired(ctx context.Context, now time.Time) ([]*models.ApprovalRequest, error)

	Save(ctx context.Context, approval *models.ApprovalRequest) error
}

// SignatureRepository stores signature requests.
type SignatureRepository interface {
	GetByID(ctx context.Context, id string) (*models.SignatureRequest, error)
	GetByRunAndStep(ctx context.Context, runID, stepID string) (*models.SignatureRequest, error)
	GetByExternalID(ctx context.Context, provider, externalID string) (*models.SignatureRequest, error)
	ListExpired(ctx context.Context, now time.Time) ([]*models.SignatureRequest, error)
	Save(ctx context.Context, signature *models.SignatureRequest) error
}

// DocumentRepository stores generated document records, unique per
// (run id, step id). That uniqueness is what makes document generation
// replay-safe.
type DocumentRepository interface {
	GetByRunAndStep(ctx context.Context, runID, stepID string) (*models.GeneratedDocument, error)
	ListByRun(ctx context.Context, runID string) ([]*models.GeneratedDocument, error)
	Save(ctx context.Context, document *models.GeneratedDocument) error
}
