package mocks

import (
	"context"

	"github.com/dukex/durable/pkg/events"
	"github.com/stretchr/testify/mock"
)

// MockNotifier is a mock implementation of eventbus.Notifier interface.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, notification events.Notification) error {
	args := m.Called(ctx, notification)

	return args.Error(0)
}
