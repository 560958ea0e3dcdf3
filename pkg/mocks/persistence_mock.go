package mocks

import (
	"context"

	"github.com/dukex/durable/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockEventStore is a mock implementation of persistence.EventStore interface.
type MockEventStore struct {
	mock.Mock
}

func (m *MockEventStore) Append(ctx context.Context, event *models.WorkflowEvent) (*models.WorkflowEvent, error) {
	args := m.Called(ctx, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowEvent), args.Error(1)
}

func (m *MockEventStore) ReadAll(ctx context.Context, workflowID string) ([]*models.WorkflowEvent, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowEvent), args.Error(1)
}

func (m *MockEventStore) NextSequence(ctx context.Context, workflowID string) (int64, error) {
	args := m.Called(ctx, workflowID)

	return args.Get(0).(int64), args.Error(1)
}

func (m *MockEventStore) SaveCheckpoint(ctx context.Context, checkpoint *models.WorkflowCheckpoint) error {
	args := m.Called(ctx, checkpoint)

	return args.Error(0)
}

func (m *MockEventStore) LoadCheckpoint(ctx context.Context, workflowID string) (*models.WorkflowCheckpoint, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowCheckpoint), args.Error(1)
}

func (m *MockEventStore) ListWorkflows(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]string), args.Error(1)
}

func (m *MockEventStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	args := m.Called(ctx, workflowID)

	return args.Error(0)
}

func (m *MockEventStore) ResumableWorkflows(ctx context.Context) ([]models.ResumeHandle, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.ResumeHandle), args.Error(1)
}

func (m *MockEventStore) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockEventStore) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
