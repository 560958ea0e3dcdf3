package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotificationType_Terminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ      NotificationType
		terminal bool
	}{
		{RunStarted, false},
		{StepStarted, false},
		{StepCompleted, false},
		{WorkflowPaused, false},
		{ResumeAvailable, true},
		{WorkflowCompleted, true},
		{WorkflowFailed, true},
		{WorkflowCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.terminal, tt.typ.Terminal())
		})
	}
}

func TestNotification_Progress(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.0, Notification{Type: StepStarted}.Progress(), 0.0001)
	assert.InDelta(t, 0.25, Notification{Type: StepStarted, StepIndex: 1, TotalSteps: 4}.Progress(), 0.0001)
	assert.InDelta(t, 0.5, Notification{Type: StepCompleted, StepIndex: 1, TotalSteps: 4}.Progress(), 0.0001)
	assert.InDelta(t, 1.0, Notification{Type: WorkflowCompleted, StepIndex: 3, TotalSteps: 4}.Progress(), 0.0001)
	assert.Equal(t, StepFailed, Notification{Type: StepFailed}.GetType())
}
