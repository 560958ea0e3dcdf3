package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/dukex/durable/pkg/log"
	"github.com/dukex/durable/pkg/mocks"
	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestWorkflow_HappyPathRecordsEventsAndCheckpoints(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	wf := New(store, "wf-1", "demo", log.Discard())
	assert.Equal(t, models.WorkflowStatusPending, wf.Status())
	assert.Equal(t, 0, wf.NextStepIndex())

	require.NoError(t, wf.Start(ctx, map[string]any{"ticket": "T-1"}))

	cp := loadCheckpoint(t, store, "wf-1")
	assert.Equal(t, models.WorkflowStatusRunning, cp.Status)
	assert.Equal(t, models.NoStep, cp.StepIndex)
	assert.Equal(t, "T-1", cp.Metadata["ticket"])

	require.NoError(t, wf.StartStep(ctx, 0, "review"))
	require.NoError(t, wf.RecordArtifact(ctx, "review.md", "markdown"))
	require.NoError(t, wf.RecordQualityGate(ctx, "coverage", true, 0.91, 0.8))
	require.NoError(t, wf.CompleteStep(ctx, map[string]any{"issues": 2}, Score(0.9)))

	cp = loadCheckpoint(t, store, "wf-1")
	assert.Equal(t, 0, cp.StepIndex)
	assert.Equal(t, "review", cp.StepName)
	assert.Equal(t, map[string]any{"issues": json.Number("2")}, cp.Outputs["review"])
	assert.InDelta(t, 0.9, cp.QualityScores["review"], 0.0001)
	assert.Equal(t, []string{"review.md"}, cp.Artifacts)

	require.NoError(t, wf.StartStep(ctx, 1, "plan"))
	require.NoError(t, wf.CompleteStep(ctx, "plan v1", nil))
	require.NoError(t, wf.Complete(ctx, "done"))

	cp = loadCheckpoint(t, store, "wf-1")
	assert.Equal(t, models.WorkflowStatusCompleted, cp.Status)
	assert.Equal(t, 1, cp.StepIndex)
	assert.Equal(t, "done", cp.Outputs[FinalOutputKey])
	assert.Equal(t, wf.SequenceNumber(), cp.SequenceNumber)

	assert.Equal(t, []models.EventType{
		models.EventWorkflowStarted,
		models.EventStepStarted,
		models.EventArtifactCreated,
		models.EventQualityGatePassed,
		models.EventStepCompleted,
		models.EventStepStarted,
		models.EventStepCompleted,
		models.EventWorkflowCompleted,
	}, eventTypes(t, store, "wf-1"))
}

func TestWorkflow_StartStepDoesNotCheckpoint(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	wf := startedWorkflow(t, store, "wf")

	before := loadCheckpoint(t, store, "wf")

	require.NoError(t, wf.StartStep(context.Background(), 0, "review"))

	after := loadCheckpoint(t, store, "wf")
	assert.Equal(t, before.SequenceNumber, after.SequenceNumber)
	assert.Equal(t, models.NoStep, after.StepIndex)

	index, name, ok := wf.CurrentStep()
	assert.True(t, ok)
	assert.Equal(t, 0, index)
	assert.Equal(t, "review", name)
}

func TestWorkflow_PausedWorkflowCanBeClosedOut(t *testing.T) {
	t.Parallel()

	for _, status := range []models.WorkflowStatus{
		models.WorkflowStatusCompleted,
		models.WorkflowStatusFailed,
		models.WorkflowStatusCancelled,
	} {
		t.Run(string(status), func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			store := newTestStore(t)
			wf := startedWorkflow(t, store, "wf")
			require.NoError(t, wf.Pause(ctx, "manual"))

			switch status {
			case models.WorkflowStatusCompleted:
				require.NoError(t, wf.Complete(ctx, "accepted as is"))
			case models.WorkflowStatusFailed:
				require.NoError(t, wf.Fail(ctx, errors.New("abandoned")))
			default:
				require.NoError(t, wf.Cancel(ctx, "superseded"))
			}

			cp := loadCheckpoint(t, store, "wf")
			assert.Equal(t, status, cp.Status)

			replayed, err := Replay("wf", readEvents(t, store, "wf"))
			require.NoError(t, err)
			assert.Empty(t, Diff(cp, replayed))
		})
	}
}

func TestWorkflow_IllegalTransitionsAreNotRecorded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T, wf *Workflow)
		op    func(wf *Workflow) error
	}{
		{
			name: "resume while running",
			op:   func(wf *Workflow) error { return wf.Resume(context.Background()) },
		},
		{
			name:  "resume a completed workflow",
			setup: func(t *testing.T, wf *Workflow) { require.NoError(t, wf.Complete(context.Background(), nil)) },
			op:    func(wf *Workflow) error { return wf.Resume(context.Background()) },
		},
		{
			name:  "start twice",
			setup: func(t *testing.T, wf *Workflow) {},
			op:    func(wf *Workflow) error { return wf.Start(context.Background(), nil) },
		},
		{
			name: "complete step without a step in progress",
			op:   func(wf *Workflow) error { return wf.CompleteStep(context.Background(), "x", nil) },
		},
		{
			name: "fail step without a step in progress",
			op:   func(wf *Workflow) error { return wf.FailStep(context.Background(), errors.New("x")) },
		},
		{
			name:  "start step while paused",
			setup: func(t *testing.T, wf *Workflow) { require.NoError(t, wf.Pause(context.Background(), "manual")) },
			op:    func(wf *Workflow) error { return wf.StartStep(context.Background(), 0, "review") },
		},
		{
			name:  "complete a cancelled workflow",
			setup: func(t *testing.T, wf *Workflow) { require.NoError(t, wf.Cancel(context.Background(), "stop")) },
			op:    func(wf *Workflow) error { return wf.Complete(context.Background(), nil) },
		},
		{
			name:  "cancel a cancelled workflow",
			setup: func(t *testing.T, wf *Workflow) { require.NoError(t, wf.Cancel(context.Background(), "stop")) },
			op:    func(wf *Workflow) error { return wf.Cancel(context.Background(), "again") },
		},
		{
			name:  "pause a failed workflow",
			setup: func(t *testing.T, wf *Workflow) { require.NoError(t, wf.Fail(context.Background(), errors.New("boom"))) },
			op:    func(wf *Workflow) error { return wf.Pause(context.Background(), "late") },
		},
		{
			name: "skip backwards",
			setup: func(t *testing.T, wf *Workflow) {
				require.NoError(t, wf.StartStep(context.Background(), 0, "review"))
				require.NoError(t, wf.CompleteStep(context.Background(), nil, nil))
			},
			op: func(wf *Workflow) error { return wf.SkipStep(context.Background(), 0, "review", "again") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newTestStore(t)
			wf := startedWorkflow(t, store, "wf")

			if tt.setup != nil {
				tt.setup(t, wf)
			}

			before := len(readEvents(t, store, "wf"))
			status := wf.Status()

			err := tt.op(wf)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrIllegalTransition)
			assert.True(t, IsIllegalTransition(err))

			var transitionErr *TransitionError
			require.ErrorAs(t, err, &transitionErr)
			assert.Equal(t, status, transitionErr.From)

			assert.Len(t, readEvents(t, store, "wf"), before)
			assert.Equal(t, status, wf.Status())
		})
	}
}

func TestWorkflow_OperationsBeforeStartAreIllegal(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	wf := New(store, "wf", "demo", log.Discard())
	ctx := context.Background()

	assert.ErrorIs(t, wf.StartStep(ctx, 0, "review"), ErrIllegalTransition)
	assert.ErrorIs(t, wf.RecordArtifact(ctx, "a", "b"), ErrIllegalTransition)
	assert.ErrorIs(t, wf.Pause(ctx, "x"), ErrIllegalTransition)
	assert.ErrorIs(t, wf.Cancel(ctx, "x"), ErrIllegalTransition)
	assert.Empty(t, readEvents(t, store, "wf"))
}

func TestWorkflow_FailStepLeavesStatusToCaller(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	wf := startedWorkflow(t, store, "wf")
	ctx := context.Background()

	require.NoError(t, wf.StartStep(ctx, 0, "review"))
	require.NoError(t, wf.FailStep(ctx, errors.New("flaky")))

	assert.Equal(t, models.WorkflowStatusRunning, wf.Status())
	assert.Equal(t, "flaky", wf.LastError())

	// Retry the same step.
	require.NoError(t, wf.StartStep(ctx, 0, "review"))
	require.NoError(t, wf.CompleteStep(ctx, "ok", nil))
	assert.Equal(t, 0, wf.StepIndex())
}

func TestWorkflow_FailSurfacesErrorAndStep(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	wf := startedWorkflow(t, store, "wf")
	ctx := context.Background()

	require.NoError(t, wf.StartStep(ctx, 0, "review"))
	require.NoError(t, wf.CompleteStep(ctx, "ok", nil))
	require.NoError(t, wf.StartStep(ctx, 1, "plan"))
	require.NoError(t, wf.FailStep(ctx, errors.New("planner crashed")))
	require.NoError(t, wf.Fail(ctx, errors.New("planner crashed")))

	cp := loadCheckpoint(t, store, "wf")
	assert.Equal(t, models.WorkflowStatusFailed, cp.Status)
	assert.Equal(t, "planner crashed", cp.Error)
	assert.Equal(t, "plan", cp.FailedStep)
	assert.Equal(t, 0, cp.StepIndex)
}

func TestWorkflow_PauseResumeCancel(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	wf := startedWorkflow(t, store, "wf")
	ctx := context.Background()

	require.NoError(t, wf.StartStep(ctx, 0, "review"))
	require.NoError(t, wf.CompleteStep(ctx, "ok", nil))
	require.NoError(t, wf.Pause(ctx, "manual"))

	cp := loadCheckpoint(t, store, "wf")
	assert.Equal(t, models.WorkflowStatusPaused, cp.Status)
	assert.Equal(t, "manual", cp.PauseReason)
	assert.Equal(t, 1, cp.NextStepIndex())

	require.NoError(t, wf.Resume(ctx))
	assert.Equal(t, models.WorkflowStatusRunning, wf.Status())
	assert.Empty(t, wf.PauseReason())
	assert.Equal(t, models.WorkflowStatusRunning, loadCheckpoint(t, store, "wf").Status)

	require.NoError(t, wf.Pause(ctx, "again"))
	require.NoError(t, wf.Cancel(ctx, "not needed"))
	assert.Equal(t, models.WorkflowStatusCancelled, loadCheckpoint(t, store, "wf").Status)

	events := readEvents(t, store, "wf")
	last := events[len(events)-1]
	assert.Equal(t, models.EventWorkflowCancelled, last.EventType)
	assert.Equal(t, "not needed", last.String(models.DataReason))
}

func TestWorkflow_SkipStepAdvancesResumePoint(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	wf := startedWorkflow(t, store, "wf")

	require.NoError(t, wf.SkipStep(context.Background(), 0, "review", "nothing to review"))

	cp := loadCheckpoint(t, store, "wf")
	assert.Equal(t, 0, cp.StepIndex)
	assert.Equal(t, "review", cp.StepName)
	assert.NotContains(t, cp.Outputs, "review")
}

func TestWorkflow_CheckpointEvents(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	wf := startedWorkflow(t, store, "wf", WithCheckpointEvents(true))

	require.NoError(t, wf.StartStep(context.Background(), 0, "review"))
	require.NoError(t, wf.CompleteStep(context.Background(), "ok", nil))

	assert.Equal(t, []models.EventType{
		models.EventWorkflowStarted,
		models.EventCheckpointCreated,
		models.EventStepStarted,
		models.EventStepCompleted,
		models.EventCheckpointCreated,
	}, eventTypes(t, store, "wf"))
}

func TestLoadFromCheckpoint(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	ctx := context.Background()

	first := newStoreAt(root)
	wf := startedWorkflow(t, first, "wf")
	require.NoError(t, wf.StartStep(ctx, 0, "review"))
	require.NoError(t, wf.CompleteStep(ctx, "ok", Score(0.7)))
	require.NoError(t, wf.RecordArtifact(ctx, "review.md", "markdown"))
	require.NoError(t, wf.Pause(ctx, ReasonStepTimeout))

	// Another process picks the workflow up.
	second := newStoreAt(root)

	loaded, err := LoadFromCheckpoint(ctx, second, "wf", log.Discard())
	require.NoError(t, err)

	assert.Equal(t, "demo", loaded.Name())
	assert.Equal(t, models.WorkflowStatusPaused, loaded.Status())
	assert.Equal(t, 0, loaded.StepIndex())
	assert.Equal(t, "review", loaded.StepName())
	assert.Equal(t, 1, loaded.NextStepIndex())
	assert.Equal(t, map[string]any{"review": "ok"}, loaded.Outputs())
	assert.Equal(t, map[string]float64{"review": 0.7}, loaded.QualityScores())
	assert.Equal(t, []string{"review.md"}, loaded.Artifacts())
	assert.Equal(t, ReasonStepTimeout, loaded.PauseReason())
	assert.Equal(t, wf.SequenceNumber(), loaded.SequenceNumber())

	require.NoError(t, loaded.Resume(ctx))

	events := readEvents(t, second, "wf")
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.SequenceNumber)
	}

	assert.Equal(t, models.EventWorkflowResumed, events[len(events)-1].EventType)
}

func TestLoadFromCheckpoint_NotResumableWithoutCheckpoint(t *testing.T) {
	t.Parallel()

	_, err := LoadFromCheckpoint(context.Background(), newTestStore(t), "missing", log.Discard())
	require.ErrorIs(t, err, ErrNotResumable)
}

func TestLoadFromCheckpoint_CorruptCheckpointIsNotAbsence(t *testing.T) {
	t.Parallel()

	store := new(mocks.MockEventStore)
	corrupt := persistence.NewWorkflowError("LoadCheckpoint", "wf", persistence.ErrCheckpointCorrupt)
	store.On("LoadCheckpoint", mock.Anything, "wf").Return(nil, corrupt)

	_, err := LoadFromCheckpoint(context.Background(), store, "wf", log.Discard())
	require.ErrorIs(t, err, persistence.ErrCheckpointCorrupt)
	assert.NotErrorIs(t, err, ErrNotResumable)

	store.AssertExpectations(t)
}

func TestWorkflow_AppendFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	store := new(mocks.MockEventStore)
	store.On("Append", mock.Anything, mock.Anything).Return(nil, errors.New("disk full"))

	wf := New(store, "wf", "demo", log.Discard())

	err := wf.Start(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, models.WorkflowStatusPending, wf.Status())

	store.AssertNotCalled(t, "SaveCheckpoint", mock.Anything, mock.Anything)
}
