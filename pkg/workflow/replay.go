package workflow

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"

	"github.com/dukex/durable/pkg/fileio"
	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/persistence"
)

// apply folds one event into the state. Live operations and Replay share it, so a
// checkpoint and the replay of its log prefix cannot drift apart.
func (w *Workflow) apply(event *models.WorkflowEvent) {
	index, _ := event.Int(models.DataStepIndex)
	name := event.String(models.DataStepName)

	switch event.EventType {
	case models.EventWorkflowStarted:
		w.status = models.WorkflowStatusRunning

		if n := event.String(models.DataWorkflowName); n != "" {
			w.name = n
		}

		if metadata, ok := event.Data[models.DataMetadata].(map[string]any); ok {
			w.metadata = metadata
		}
	case models.EventStepStarted:
		w.current, w.currentName = index, name
	case models.EventStepCompleted:
		w.outputs[name] = event.Data[models.DataOutput]

		if score, ok := event.Float(models.DataQualityScore); ok {
			w.qualityScores[name] = score
		}

		w.advance(index, name)
	case models.EventStepSkipped:
		w.advance(index, name)
	case models.EventStepFailed:
		w.lastError = event.String(models.DataError)
		w.failedStep = name
	case models.EventArtifactCreated:
		w.artifacts = append(w.artifacts, event.String(models.DataPath))
	case models.EventWorkflowPaused:
		w.status = models.WorkflowStatusPaused
		w.pauseReason = event.String(models.DataReason)
		w.clearCurrent()
	case models.EventWorkflowResumed:
		w.status = models.WorkflowStatusRunning
		w.pauseReason = ""
	case models.EventWorkflowCompleted:
		w.status = models.WorkflowStatusCompleted

		if output, ok := event.Data[models.DataOutput]; ok {
			w.outputs[FinalOutputKey] = output
		}

		w.clearCurrent()
	case models.EventWorkflowFailed:
		w.status = models.WorkflowStatusFailed
		w.lastError = event.String(models.DataError)
		w.failedStep = name
		w.clearCurrent()
	case models.EventWorkflowCancelled:
		w.status = models.WorkflowStatusCancelled
		w.clearCurrent()
	case models.EventQualityGatePassed, models.EventQualityGateFailed, models.EventCheckpointCreated:
	}

	w.lastSeq = event.SequenceNumber
	w.updatedAt = event.Timestamp
}

func (w *Workflow) advance(index int, name string) {
	w.stepIndex = index
	w.stepName = name
	w.clearCurrent()
}

func (w *Workflow) clearCurrent() {
	w.current = models.NoStep
	w.currentName = ""
}

// Replay rebuilds the checkpoint implied by the whole event log.
func Replay(workflowID string, events []*models.WorkflowEvent) (*models.WorkflowCheckpoint, error) {
	return ReplayUntil(workflowID, events, 0)
}

// ReplayUntil rebuilds the checkpoint implied by the events with a sequence number up
// to upTo (all events when upTo <= 0). Events of other workflows are ignored.
func ReplayUntil(workflowID string, events []*models.WorkflowEvent, upTo int64) (*models.WorkflowCheckpoint, error) {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b *models.WorkflowEvent) int {
		return cmp.Compare(a.SequenceNumber, b.SequenceNumber)
	})

	state := newState(workflowID, "")
	applied := 0

	for _, event := range sorted {
		if event.WorkflowID != workflowID {
			continue
		}

		if upTo > 0 && event.SequenceNumber > upTo {
			break
		}

		state.apply(event)
		applied++
	}

	if applied == 0 {
		return nil, persistence.NewWorkflowErrorf("Replay", workflowID, persistence.ErrWorkflowNotFound, "no events")
	}

	cp := state.Checkpoint()
	cp.CreatedAt = state.updatedAt

	return cp, nil
}

// Diff lists the fields in which two checkpoints of the same workflow disagree.
// Values are compared through canonical JSON, so a checkpoint read from disk and one
// built in memory compare equal when they hold the same data.
func Diff(a, b *models.WorkflowCheckpoint) []string {
	var diffs []string

	if a.Status != b.Status {
		diffs = append(diffs, fmt.Sprintf("status: %s != %s", a.Status, b.Status))
	}

	if a.StepIndex != b.StepIndex {
		diffs = append(diffs, fmt.Sprintf("stepIndex: %d != %d", a.StepIndex, b.StepIndex))
	}

	if a.StepName != b.StepName {
		diffs = append(diffs, fmt.Sprintf("stepName: %q != %q", a.StepName, b.StepName))
	}

	for field, pair := range map[string][2]any{
		"outputs":       {a.Outputs, b.Outputs},
		"qualityScores": {a.QualityScores, b.QualityScores},
		"artifacts":     {a.Artifacts, b.Artifacts},
	} {
		if !sameJSON(pair[0], pair[1]) {
			diffs = append(diffs, field+" differ")
		}
	}

	slices.Sort(diffs)

	return diffs
}

func sameJSON(a, b any) bool {
	left, err := fileio.CanonicalJSON(a)
	if err != nil {
		return false
	}

	right, err := fileio.CanonicalJSON(b)
	if err != nil {
		return false
	}

	return bytes.Equal(left, right)
}
