// Package workflow implements the durable workflow state machine, event replay and the
// timeout-aware step executor.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/persistence"
)

// FinalOutputKey is the outputs entry holding the value passed to Complete.
const FinalOutputKey = "_final"

var transitions = map[models.WorkflowStatus][]models.WorkflowStatus{
	models.WorkflowStatusPending: {models.WorkflowStatusRunning},
	models.WorkflowStatusRunning: {
		models.WorkflowStatusPaused,
		models.WorkflowStatusCompleted,
		models.WorkflowStatusFailed,
		models.WorkflowStatusCancelled,
	},
	models.WorkflowStatusPaused: {
		models.WorkflowStatusRunning,
		models.WorkflowStatusCompleted,
		models.WorkflowStatusFailed,
		models.WorkflowStatusCancelled,
	},
}

// Workflow is the in-memory state of one workflow. Every operation appends its event
// first and then applies it, the same way Replay does. Step completions, skips and
// lifecycle transitions also replace the checkpoint.
//
// A Workflow is not safe for concurrent use.
type Workflow struct {
	id     string
	name   string
	store  persistence.EventStore
	logger *slog.Logger

	checkpointEvents bool

	status        models.WorkflowStatus
	stepIndex     int
	stepName      string
	current       int
	currentName   string
	outputs       map[string]any
	qualityScores map[string]float64
	artifacts     []string
	metadata      map[string]any
	lastSeq       int64
	lastError     string
	failedStep    string
	pauseReason   string
	updatedAt     string
}

type Option func(*Workflow)

// WithCheckpointEvents records a CheckpointCreated event after every checkpoint write.
func WithCheckpointEvents(enabled bool) Option {
	return func(w *Workflow) {
		w.checkpointEvents = enabled
	}
}

// New creates a Pending workflow. Nothing is persisted until Start.
func New(store persistence.EventStore, id, name string, logger *slog.Logger, opts ...Option) *Workflow {
	w := newState(id, name)
	w.store = store
	w.logger = logger.With("module", "workflow", "workflow_id", id)

	for _, opt := range opts {
		opt(w)
	}

	return w
}

func newState(id, name string) *Workflow {
	return &Workflow{
		id:            id,
		name:          name,
		status:        models.WorkflowStatusPending,
		stepIndex:     models.NoStep,
		current:       models.NoStep,
		outputs:       map[string]any{},
		qualityScores: map[string]float64{},
		artifacts:     []string{},
		metadata:      map[string]any{},
	}
}

// LoadFromCheckpoint rehydrates a workflow from its checkpoint. The event log is only
// read to continue the sequence numbering. A workflow without checkpoint is reported
// as ErrNotResumable; a corrupt checkpoint is returned as is.
func LoadFromCheckpoint(ctx context.Context, store persistence.EventStore, id string, logger *slog.Logger, opts ...Option) (*Workflow, error) {
	cp, err := store.LoadCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}

	if cp == nil {
		return nil, fmt.Errorf("%w: no checkpoint for workflow %s", ErrNotResumable, id)
	}

	w := New(store, id, cp.WorkflowName, logger, opts...)
	w.status = cp.Status
	w.stepIndex = cp.StepIndex
	w.stepName = cp.StepName
	w.outputs = cp.Outputs
	w.qualityScores = cp.QualityScores
	w.artifacts = cp.Artifacts
	w.metadata = cp.Metadata
	w.pauseReason = cp.PauseReason
	w.lastError = cp.Error
	w.failedStep = cp.FailedStep
	w.updatedAt = cp.CreatedAt

	next, err := store.NextSequence(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("recover sequence number: %w", err)
	}

	w.lastSeq = next - 1

	return w, nil
}

func (w *Workflow) ID() string {
	return w.id
}

func (w *Workflow) Name() string {
	return w.name
}

func (w *Workflow) Status() models.WorkflowStatus {
	return w.status
}

func (w *Workflow) StepIndex() int {
	return w.stepIndex
}

func (w *Workflow) StepName() string {
	return w.stepName
}

func (w *Workflow) NextStepIndex() int {
	return w.stepIndex + 1
}

func (w *Workflow) LastError() string {
	return w.lastError
}

func (w *Workflow) FailedStep() string {
	return w.failedStep
}

func (w *Workflow) PauseReason() string {
	return w.pauseReason
}

func (w *Workflow) SequenceNumber() int64 {
	return w.lastSeq
}

// UpdatedAt is when the last checkpoint was written.
func (w *Workflow) UpdatedAt() string {
	return w.updatedAt
}

// CurrentStep returns the step in progress, if any.
func (w *Workflow) CurrentStep() (int, string, bool) {
	return w.current, w.currentName, w.current != models.NoStep
}

func (w *Workflow) Outputs() map[string]any {
	return maps.Clone(w.outputs)
}

func (w *Workflow) QualityScores() map[string]float64 {
	return maps.Clone(w.qualityScores)
}

func (w *Workflow) Artifacts() []string {
	return slices.Clone(w.artifacts)
}

func (w *Workflow) Metadata() map[string]any {
	return maps.Clone(w.metadata)
}

// Start moves a Pending workflow to Running and writes its first checkpoint.
func (w *Workflow) Start(ctx context.Context, metadata map[string]any) error {
	if err := w.allow("Start", models.WorkflowStatusRunning); err != nil {
		return err
	}

	if metadata == nil {
		metadata = map[string]any{}
	}

	if err := w.record(ctx, models.EventWorkflowStarted, map[string]any{
		models.DataWorkflowName: w.name,
		models.DataMetadata:     metadata,
	}); err != nil {
		return err
	}

	return w.checkpoint(ctx)
}

// StartStep records the step in progress. No checkpoint is written until it completes.
func (w *Workflow) StartStep(ctx context.Context, index int, name string) error {
	if err := w.requireRunning("StartStep"); err != nil {
		return err
	}

	if index < 0 {
		return &TransitionError{Op: "StartStep", From: w.status, Detail: fmt.Sprintf("negative step index %d", index)}
	}

	return w.record(ctx, models.EventStepStarted, map[string]any{
		models.DataStepIndex: index,
		models.DataStepName:  name,
	})
}

// CompleteStep stores the step output (and optional quality score) under the step name
// and writes the checkpoint the workflow resumes from.
func (w *Workflow) CompleteStep(ctx context.Context, output any, qualityScore *float64) error {
	if err := w.requireStep("CompleteStep"); err != nil {
		return err
	}

	data := map[string]any{
		models.DataStepIndex: w.current,
		models.DataStepName:  w.currentName,
		models.DataOutput:    output,
	}

	if qualityScore != nil {
		data[models.DataQualityScore] = *qualityScore
	}

	if err := w.record(ctx, models.EventStepCompleted, data); err != nil {
		return err
	}

	return w.checkpoint(ctx)
}

// FailStep records the failure of the step in progress. The workflow status is left
// alone: the caller decides whether to retry, skip, pause or fail.
func (w *Workflow) FailStep(ctx context.Context, stepErr error) error {
	if err := w.requireStep("FailStep"); err != nil {
		return err
	}

	return w.record(ctx, models.EventStepFailed, map[string]any{
		models.DataStepIndex: w.current,
		models.DataStepName:  w.currentName,
		models.DataError:     errorMessage(stepErr),
	})
}

// SkipStep marks a step as passed over. Execution continues after it, so the
// checkpoint is replaced.
func (w *Workflow) SkipStep(ctx context.Context, index int, name, reason string) error {
	if err := w.requireRunning("SkipStep"); err != nil {
		return err
	}

	if index <= w.stepIndex {
		return &TransitionError{Op: "SkipStep", From: w.status, Detail: fmt.Sprintf("step %d is not after step %d", index, w.stepIndex)}
	}

	if err := w.record(ctx, models.EventStepSkipped, map[string]any{
		models.DataStepIndex: index,
		models.DataStepName:  name,
		models.DataReason:    reason,
	}); err != nil {
		return err
	}

	return w.checkpoint(ctx)
}

// RecordQualityGate records a gate evaluation. It never changes the workflow status.
func (w *Workflow) RecordQualityGate(ctx context.Context, gate string, passed bool, score, threshold float64) error {
	if err := w.requireActive("RecordQualityGate"); err != nil {
		return err
	}

	eventType := models.EventQualityGateFailed
	if passed {
		eventType = models.EventQualityGatePassed
	}

	return w.record(ctx, eventType, map[string]any{
		models.DataGate:      gate,
		models.DataPassed:    passed,
		models.DataScore:     score,
		models.DataThreshold: threshold,
	})
}

// RecordArtifact appends path to the workflow's artifact list.
func (w *Workflow) RecordArtifact(ctx context.Context, path, artifactType string) error {
	if err := w.requireActive("RecordArtifact"); err != nil {
		return err
	}

	return w.record(ctx, models.EventArtifactCreated, map[string]any{
		models.DataPath: path,
		models.DataType: artifactType,
	})
}

// Complete finishes the workflow. A non-nil finalOutput is kept under FinalOutputKey.
func (w *Workflow) Complete(ctx context.Context, finalOutput any) error {
	if err := w.allow("Complete", models.WorkflowStatusCompleted); err != nil {
		return err
	}

	data := map[string]any{}
	if finalOutput != nil {
		data[models.DataOutput] = finalOutput
	}

	return w.transition(ctx, models.EventWorkflowCompleted, data)
}

// Fail terminates the workflow, naming the step in progress (or the last failed step)
// as the failure point.
func (w *Workflow) Fail(ctx context.Context, cause error) error {
	if err := w.allow("Fail", models.WorkflowStatusFailed); err != nil {
		return err
	}

	index, name := w.current, w.currentName
	if index == models.NoStep && w.failedStep != "" {
		name = w.failedStep
	}

	return w.transition(ctx, models.EventWorkflowFailed, map[string]any{
		models.DataError:     errorMessage(cause),
		models.DataStepIndex: index,
		models.DataStepName:  name,
	})
}

// Pause stops the workflow at its last checkpointed step. Reason is surfaced to
// whoever resumes it.
func (w *Workflow) Pause(ctx context.Context, reason string) error {
	if err := w.allow("Pause", models.WorkflowStatusPaused); err != nil {
		return err
	}

	return w.transition(ctx, models.EventWorkflowPaused, map[string]any{models.DataReason: reason})
}

// Cancel terminates a Running or Paused workflow.
func (w *Workflow) Cancel(ctx context.Context, reason string) error {
	if err := w.allow("Cancel", models.WorkflowStatusCancelled); err != nil {
		return err
	}

	return w.transition(ctx, models.EventWorkflowCancelled, map[string]any{models.DataReason: reason})
}

// Resume moves a Paused workflow back to Running at NextStepIndex.
func (w *Workflow) Resume(ctx context.Context) error {
	if w.status != models.WorkflowStatusPaused {
		return &TransitionError{Op: "Resume", From: w.status, To: models.WorkflowStatusRunning}
	}

	return w.transition(ctx, models.EventWorkflowResumed, map[string]any{
		models.DataStepIndex: w.NextStepIndex(),
	})
}

// Checkpoint snapshots the current state.
func (w *Workflow) Checkpoint() *models.WorkflowCheckpoint {
	cp := &models.WorkflowCheckpoint{
		WorkflowID:     w.id,
		WorkflowName:   w.name,
		StepIndex:      w.stepIndex,
		StepName:       w.stepName,
		Status:         w.status,
		CreatedAt:      models.Now(),
		Outputs:        maps.Clone(w.outputs),
		QualityScores:  maps.Clone(w.qualityScores),
		Artifacts:      slices.Clone(w.artifacts),
		Metadata:       maps.Clone(w.metadata),
		SequenceNumber: w.lastSeq,
	}

	switch w.status {
	case models.WorkflowStatusPaused:
		cp.PauseReason = w.pauseReason
	case models.WorkflowStatusFailed:
		cp.Error = w.lastError
		cp.FailedStep = w.failedStep
	}

	cp.Normalize()

	return cp
}

func (w *Workflow) transition(ctx context.Context, eventType models.EventType, data map[string]any) error {
	if err := w.record(ctx, eventType, data); err != nil {
		return err
	}

	w.logger.Info("Workflow transitioned", "status", w.status, "step_index", w.stepIndex, "step_name", w.stepName)

	return w.checkpoint(ctx)
}

func (w *Workflow) record(ctx context.Context, eventType models.EventType, data map[string]any) error {
	event, err := w.store.Append(ctx, models.NewWorkflowEvent(w.id, eventType, data))
	if err != nil {
		return fmt.Errorf("record %s: %w", eventType, err)
	}

	w.apply(event)

	w.logger.Debug("Recorded event", "event_type", eventType, "sequence_number", event.SequenceNumber)

	return nil
}

func (w *Workflow) checkpoint(ctx context.Context) error {
	cp := w.Checkpoint()

	if err := w.store.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	w.updatedAt = cp.CreatedAt

	if !w.checkpointEvents {
		return nil
	}

	return w.record(ctx, models.EventCheckpointCreated, map[string]any{
		models.DataStepIndex: cp.StepIndex,
		models.DataStepName:  cp.StepName,
		models.DataStatus:    string(cp.Status),
	})
}

// observeCancelled adopts a cancellation written by another process. Nothing is
// recorded: the cancelling process already appended the event and the checkpoint.
func (w *Workflow) observeCancelled(cp *models.WorkflowCheckpoint) {
	w.status = models.WorkflowStatusCancelled
	w.current = models.NoStep
	w.currentName = ""
	w.lastSeq = max(w.lastSeq, cp.SequenceNumber)
}

func (w *Workflow) allow(op string, to models.WorkflowStatus) error {
	if slices.Contains(transitions[w.status], to) {
		return nil
	}

	return &TransitionError{Op: op, From: w.status, To: to}
}

func (w *Workflow) requireRunning(op string) error {
	if w.status != models.WorkflowStatusRunning {
		return &TransitionError{Op: op, From: w.status}
	}

	return nil
}

func (w *Workflow) requireStep(op string) error {
	if err := w.requireRunning(op); err != nil {
		return err
	}

	if w.current == models.NoStep {
		return &TransitionError{Op: op, From: w.status, Detail: "no step in progress"}
	}

	return nil
}

func (w *Workflow) requireActive(op string) error {
	if w.status == models.WorkflowStatusPending || w.status.IsTerminal() {
		return &TransitionError{Op: op, From: w.status}
	}

	return nil
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}

	return err.Error()
}
