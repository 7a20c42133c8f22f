package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/protocol"
)

// MockSourceClient is a mock implementation of protocol.SourceClient interface.
type MockSourceClient struct {
	mock.Mock
}

func (m *MockSourceClient) FetchEntity(ctx context.Context, objectType, objectID string) (map[string]any, error) {
	args := m.Called(ctx, objectType, objectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]any), args.Error(1)
}

// MockRenderer is a mock implementation of protocol.Renderer interface.
type MockRenderer struct {
	mock.Mock
}

func (m *MockRenderer) Render(ctx context.Context, request *protocol.RenderRequest) (*protocol.RenderedDocument, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*protocol.RenderedDocument), args.Error(1)
}

func (m *MockRenderer) ExportPDF(ctx context.Context, documentID string) ([]byte, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]byte), args.Error(1)
}

// MockMailer is a mock implementation of protocol.Mailer interface.
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, message *protocol.MailMessage) error {
	args := m.Called(ctx, message)

	return args.Error(0)
}

// MockSignatureProvider is a mock implementation of protocol.SignatureProvider interface.
type MockSignatureProvider struct {
	mock.Mock
}

func (m *MockSignatureProvider) Name() string {
	args := m.Called()

	return args.String(0)
}

func (m *MockSignatureProvider) SendForSignature(ctx context.Context, document *models.GeneratedDocument, signers []protocol.SignerParty, message string) (*protocol.SignatureSubmission, error) {
	args := m.Called(ctx, document, signers, message)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*protocol.SignatureSubmission), args.Error(1)
}

func (m *MockSignatureProvider) ParseWebhookEvent(payload []byte) (*protocol.SignatureEvent, error) {
	args := m.Called(payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*protocol.SignatureEvent), args.Error(1)
}
