package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplay_MatchesEveryCheckpoint(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	wf := startedWorkflow(t, store, "wf")

	var checkpoints []*models.WorkflowCheckpoint

	snapshot := func() {
		checkpoints = append(checkpoints, loadCheckpoint(t, store, "wf"))
	}

	snapshot()

	require.NoError(t, wf.StartStep(ctx, 0, "review"))
	require.NoError(t, wf.RecordArtifact(ctx, "review.md", "markdown"))
	require.NoError(t, wf.CompleteStep(ctx, map[string]any{"issues": []any{"a", "b"}}, Score(0.75)))
	snapshot()

	require.NoError(t, wf.StartStep(ctx, 1, "plan"))
	require.NoError(t, wf.FailStep(ctx, errors.New("timeout")))
	require.NoError(t, wf.Pause(ctx, ReasonStepTimeout))
	snapshot()

	require.NoError(t, wf.Resume(ctx))
	snapshot()

	require.NoError(t, wf.SkipStep(ctx, 1, "plan", "covered by review"))
	snapshot()

	require.NoError(t, wf.StartStep(ctx, 2, "implement"))
	require.NoError(t, wf.RecordQualityGate(ctx, "lint", false, 0.4, 0.6))
	require.NoError(t, wf.CompleteStep(ctx, 42, nil))
	require.NoError(t, wf.Complete(ctx, "shipped"))
	snapshot()

	events := readEvents(t, store, "wf")

	for _, cp := range checkpoints {
		replayed, err := ReplayUntil("wf", events, cp.SequenceNumber)
		require.NoError(t, err)
		assert.Empty(t, Diff(cp, replayed), "checkpoint at sequence %d", cp.SequenceNumber)
		assert.Equal(t, cp.SequenceNumber, replayed.SequenceNumber)
	}

	full, err := Replay("wf", events)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, full.Status)
	assert.Equal(t, "demo", full.WorkflowName)
	assert.Equal(t, "shipped", full.Outputs[FinalOutputKey])
	assert.Empty(t, Diff(checkpoints[len(checkpoints)-1], full))
}

func TestReplay_LargeIntegersMatchLiveState(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	wf := startedWorkflow(t, store, "wf")

	require.NoError(t, wf.StartStep(ctx, 0, "review"))
	require.NoError(t, wf.CompleteStep(ctx, map[string]any{"id": int64(9007199254740993)}, nil))

	replayed, err := Replay("wf", readEvents(t, store, "wf"))
	require.NoError(t, err)

	assert.Empty(t, Diff(wf.Checkpoint(), replayed))
	assert.Empty(t, Diff(loadCheckpoint(t, store, "wf"), replayed))
}

func TestReplay_FailedWorkflowCarriesError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	wf := startedWorkflow(t, store, "wf")

	require.NoError(t, wf.StartStep(ctx, 0, "review"))
	require.NoError(t, wf.FailStep(ctx, errors.New("bad input")))
	require.NoError(t, wf.Fail(ctx, errors.New("bad input")))

	replayed, err := Replay("wf", readEvents(t, store, "wf"))
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusFailed, replayed.Status)
	assert.Equal(t, "bad input", replayed.Error)
	assert.Equal(t, "review", replayed.FailedStep)
	assert.Equal(t, models.NoStep, replayed.StepIndex)
}

func TestReplay_SortsAndFiltersEvents(t *testing.T) {
	t.Parallel()

	events := []*models.WorkflowEvent{
		{WorkflowID: "wf", EventType: models.EventStepCompleted, SequenceNumber: 3, Data: map[string]any{
			models.DataStepIndex: 0.0, models.DataStepName: "review", models.DataOutput: "ok",
		}},
		{WorkflowID: "other", EventType: models.EventWorkflowCancelled, SequenceNumber: 4, Data: map[string]any{}},
		{WorkflowID: "wf", EventType: models.EventStepStarted, SequenceNumber: 2, Data: map[string]any{
			models.DataStepIndex: 0.0, models.DataStepName: "review",
		}},
		{WorkflowID: "wf", EventType: models.EventWorkflowStarted, SequenceNumber: 1, Data: map[string]any{
			models.DataWorkflowName: "demo",
		}},
	}

	cp, err := Replay("wf", events)
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusRunning, cp.Status)
	assert.Equal(t, 0, cp.StepIndex)
	assert.Equal(t, "review", cp.StepName)
	assert.Equal(t, "ok", cp.Outputs["review"])
	assert.Equal(t, int64(3), cp.SequenceNumber)
}

func TestReplay_NoEvents(t *testing.T) {
	t.Parallel()

	_, err := Replay("wf", nil)
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	_, err = Replay("wf", []*models.WorkflowEvent{{WorkflowID: "other", EventType: models.EventWorkflowStarted, SequenceNumber: 1}})
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestDiff(t *testing.T) {
	t.Parallel()

	base := func() *models.WorkflowCheckpoint {
		cp := &models.WorkflowCheckpoint{
			WorkflowID:    "wf",
			Status:        models.WorkflowStatusRunning,
			StepIndex:     1,
			StepName:      "plan",
			Outputs:       map[string]any{"review": map[string]any{"n": 1}},
			QualityScores: map[string]float64{"review": 0.5},
			Artifacts:     []string{"a.md"},
		}
		cp.Normalize()

		return cp
	}

	t.Run("equal through json", func(t *testing.T) {
		t.Parallel()

		other := base()
		other.Outputs = map[string]any{"review": map[string]any{"n": 1.0}}

		assert.Empty(t, Diff(base(), other))
	})

	t.Run("reports every differing field", func(t *testing.T) {
		t.Parallel()

		other := base()
		other.Status = models.WorkflowStatusPaused
		other.StepIndex = 0
		other.StepName = "review"
		other.Artifacts = nil

		assert.Equal(t, []string{
			"artifacts differ",
			"status: running != paused",
			"stepIndex: 1 != 0",
			`stepName: "plan" != "review"`,
		}, Diff(base(), other))
	})
}
