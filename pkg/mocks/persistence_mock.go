package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/persistence"
)

// MockPersistence is a mock implementation of persistence.Persistence
// interface. The repository accessors return the embedded mock repositories,
// so expectations are set on those directly.
type MockPersistence struct {
	mock.Mock

	workflowRepo  *MockWorkflowRepository
	runRepo       *MockRunRepository
	approvalRepo  *MockApprovalRepository
	signatureRepo *MockSignatureRepository
	documentRepo  *MockDocumentRepository
}

// NewMockPersistence creates a new MockPersistence with all mock repositories.
func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		workflowRepo:  &MockWorkflowRepository{},
		runRepo:       &MockRunRepository{},
		approvalRepo:  &MockApprovalRepository{},
		signatureRepo: &MockSignatureRepository{},
		documentRepo:  &MockDocumentRepository{},
	}
}

// GetMockWorkflowRepository returns the underlying mock workflow repository for setting up expectations.
func (m *MockPersistence) GetMockWorkflowRepository() *MockWorkflowRepository {
	return m.workflowRepo
}

// GetMockRunRepository returns the underlying mock run repository for setting up expectations.
func (m *MockPersistence) GetMockRunRepository() *MockRunRepository {
	return m.runRepo
}

// GetMockApprovalRepository returns the underlying mock approval repository for setting up expectations.
func (m *MockPersistence) GetMockApprovalRepository() *MockApprovalRepository {
	return m.approvalRepo
}

// GetMockSignatureRepository returns the underlying mock signature repository for setting up expectations.
func (m *MockPersistence) GetMockSignatureRepository() *MockSignatureRepository {
	return m.signatureRepo
}

// GetMockDocumentRepository returns the underlying mock document repository for setting up expectations.
func (m *MockPersistence) GetMockDocumentRepository() *MockDocumentRepository {
	return m.documentRepo
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository {
	return m.workflowRepo
}

func (m *MockPersistence) RunRepository() persistence.RunRepository {
	return m.runRepo
}

func (m *MockPersistence) ApprovalRepository() persistence.ApprovalRepository {
	return m.approvalRepo
}

func (m *MockPersistence) SignatureRepository() persistence.SignatureRepository {
	return m.signatureRepo
}

func (m *MockPersistence) DocumentRepository() persistence.DocumentRepository {
	return m.documentRepo
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

// MockRunRepository is a mock implementation of persistence.RunRepository interface.
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Run), args.Error(1)
}

func (m *MockRunRepository) List(ctx context.Context, filter persistence.RunFilter) ([]*models.Run, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Run), args.Error(1)
}

func (m *MockRunRepository) Save(ctx context.Context, run *models.Run) error {
	args := m.Called(ctx, run)

	return args.Error(0)
}

func (m *MockRunRepository) UpdateProgress(ctx context.Context, runID string, position int, execCtx *models.ExecutionContext) error {
	args := m.Called(ctx, runID, position, execCtx)

	return args.Error(0)
}

func (m *MockRunRepository) Pause(ctx context.Context, run *models.Run, approvals []*models.ApprovalRequest) error {
	args := m.Called(ctx, run, approvals)

	return args.Error(0)
}

func (m *MockRunRepository) Resume(ctx context.Context, runID string, position int, execCtx *models.ExecutionContext) error {
	args := m.Called(ctx, runID, position, execCtx)

	return args.Error(0)
}

// MockApprovalRepository is a mock implementation of persistence.ApprovalRepository interface.
type MockApprovalRepository struct {
	mock.Mock
}

func (m *MockApprovalRepository) GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ApprovalRequest), args.Error(1)
}

func (m *MockApprovalRepository) GetByToken(ctx context.Context, token string) (*models.ApprovalRequest, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ApprovalRequest), args.Error(1)
}

func (m *MockApprovalRepository) ListByRunAndStep(ctx context.Context, runID, stepID string) ([]*models.ApprovalRequest, error) {
	args := m.Called(ctx, runID, stepID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ApprovalRequest), args.Error(1)
}

func (m *MockApprovalRepository) ListByRun(ctx context.Context, runID string) ([]*models.ApprovalRequest, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ApprovalRequest), args.Error(1)
}

func (m *MockApprovalRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.ApprovalRequest, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ApprovalRequest), args.Error(1)
}

func (m *MockApprovalRepository) Save(ctx context.Context, approval *models.ApprovalRequest) error {
	args := m.Called(ctx, approval)

	return args.Error(0)
}

// MockSignatureRepository is a mock implementation of persistence.SignatureRepository interface.
type MockSignatureRepository struct {
	mock.Mock
}

func (m *MockSignatureRepository) GetByID(ctx context.Context, id string) (*models.SignatureRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.SignatureRequest), args.Error(1)
}

func (m *MockSignatureRepository) GetByRunAndStep(ctx context.Context, runID, stepID string) (*models.SignatureRequest, error) {
	args := m.Called(ctx, runID, stepID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.SignatureRequest), args.Error(1)
}

func (m *MockSignatureRepository) GetByExternalID(ctx context.Context, provider, externalID string) (*models.SignatureRequest, error) {
	args := m.Called(ctx, provider, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.SignatureRequest), args.Error(1)
}

func (m *MockSignatureRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.SignatureRequest, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.SignatureRequest), args.Error(1)
}

func (m *MockSignatureRepository) Save(ctx context.Context, signature *models.SignatureRequest) error {
	args := m.Called(ctx, signature)

	return args.Error(0)
}

// MockDocumentRepository is a mock implementation of persistence.DocumentRepository interface.
type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) GetByRunAndStep(ctx context.Context, runID, stepID string) (*models.GeneratedDocument, error) {
	args := m.Called(ctx, runID, stepID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.GeneratedDocument), args.Error(1)
}

func (m *MockDocumentRepository) ListByRun(ctx context.Context, runID string) ([]*models.GeneratedDocument, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.GeneratedDocument), args.Error(1)
}

func (m *MockDocumentRepository) Save(ctx context.Context, document *models.GeneratedDocument) error {
	args := m.Called(ctx, document)

	return args.Error(0)
}
