package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/durable/pkg/mocks"
	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestResumeCommand(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "durable resume wf-1", ResumeCommand("", "wf-1"))
	assert.Equal(t, "make resume ID=wf-1", ResumeCommand("make resume ID=%s", "wf-1"))
	assert.Equal(t, "./resume.sh wf-1", ResumeCommand("./resume.sh", "wf-1"))
}

func TestGetResumeInfo(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	info, err := GetResumeInfo(ctx, store, "missing", "")
	require.NoError(t, err)
	assert.False(t, info.CanResume)
	assert.Equal(t, "no checkpoint", info.Reason)
	assert.Equal(t, 0, info.NextStepIndex)

	wf := startedWorkflow(t, store, "wf")
	require.NoError(t, wf.StartStep(ctx, 0, "review"))
	require.NoError(t, wf.CompleteStep(ctx, "ok", nil))
	require.NoError(t, wf.Pause(ctx, ReasonWorkflowTimeout))

	info, err = GetResumeInfo(ctx, store, "wf", "tool resume %s --verbose")
	require.NoError(t, err)
	assert.True(t, info.CanResume)
	assert.Equal(t, models.WorkflowStatusPaused, info.Status)
	assert.Equal(t, 1, info.NextStepIndex)
	assert.Equal(t, "review", info.LastStepName)
	assert.Equal(t, ReasonWorkflowTimeout, info.Reason)
	assert.Equal(t, "tool resume wf --verbose", info.ResumeCommand)
}

func TestGetResumeInfo_CorruptCheckpoint(t *testing.T) {
	t.Parallel()

	store := new(mocks.MockEventStore)
	store.On("LoadCheckpoint", mock.Anything, "wf").
		Return(nil, persistence.NewWorkflowError("LoadCheckpoint", "wf", persistence.ErrCheckpointCorrupt))

	_, err := GetResumeInfo(context.Background(), store, "wf", "")
	require.True(t, persistence.IsCorrupt(err))
}

func TestResumeInfoFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkpoint models.WorkflowCheckpoint
		canResume  bool
		reason     string
	}{
		{
			name:       "running is resumable",
			checkpoint: models.WorkflowCheckpoint{WorkflowID: "wf", Status: models.WorkflowStatusRunning, StepIndex: 2},
			canResume:  true,
			reason:     "interrupted while running",
		},
		{
			name:       "failed",
			checkpoint: models.WorkflowCheckpoint{WorkflowID: "wf", Status: models.WorkflowStatusFailed, Error: "boom", FailedStep: "plan"},
			reason:     "workflow failed",
		},
		{
			name:       "completed",
			checkpoint: models.WorkflowCheckpoint{WorkflowID: "wf", Status: models.WorkflowStatusCompleted},
			reason:     "workflow completed",
		},
		{
			name:       "cancelled",
			checkpoint: models.WorkflowCheckpoint{WorkflowID: "wf", Status: models.WorkflowStatusCancelled},
			reason:     "workflow cancelled",
		},
		{
			name:       "pending",
			checkpoint: models.WorkflowCheckpoint{WorkflowID: "wf", Status: models.WorkflowStatusPending, StepIndex: models.NoStep},
			reason:     "workflow not started",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			info := ResumeInfoFor(&tt.checkpoint, "")

			assert.Equal(t, tt.canResume, info.CanResume)
			assert.Equal(t, tt.reason, info.Reason)
			assert.Equal(t, tt.checkpoint.StepIndex+1, info.NextStepIndex)

			if tt.canResume {
				assert.Equal(t, "durable resume wf", info.ResumeCommand)
			} else {
				assert.Empty(t, info.ResumeCommand)
			}

			if tt.checkpoint.Status == models.WorkflowStatusFailed {
				assert.Equal(t, "boom", info.Error)
				assert.Equal(t, "plan", info.FailedStep)
			}
		})
	}
}

func TestGetResumeInfo_PropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	store := new(mocks.MockEventStore)
	store.On("LoadCheckpoint", mock.Anything, "wf").Return(nil, errors.New("permission denied"))

	info, err := GetResumeInfo(context.Background(), store, "wf", "")
	require.Error(t, err)
	assert.Nil(t, info)
}
