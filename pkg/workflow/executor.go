package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/durable/pkg/checkpoint"
	"github.com/dukex/durable/pkg/eventbus"
	"github.com/dukex/durable/pkg/events"
	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/otelhelper"
	"github.com/dukex/durable/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultStepTimeout bounds a step when no other timeout is configured.
const DefaultStepTimeout = 10 * time.Minute

// Pause reasons recorded by the executor.
const (
	ReasonStepTimeout     = "step_timeout"
	ReasonWorkflowTimeout = "workflow_timeout"
	ReasonInterrupted     = "interrupted"
)

// Result summarizes how a run ended. A paused run is a normal outcome, not an error.
type Result struct {
	WorkflowID    string
	Status        models.WorkflowStatus
	NextStepIndex int
	StepsRun      int
	Elapsed       time.Duration
	PauseReason   string
	ResumeCommand string
	Error         string
	FailedStep    string
}

// Executor drives workflows step by step under a per-step and a total time budget.
// Running out of either budget pauses the workflow with resume instructions.
type Executor struct {
	store            persistence.EventStore
	logger           *slog.Logger
	notifier         eventbus.Notifier
	tracer           trace.Tracer
	stepTimeout      time.Duration
	totalTimeout     time.Duration
	resumeTemplate   string
	checkpointEvents bool
	stepStateDir     string
	artifactRoot     string
}

type ExecutorOption func(*Executor)

func WithNotifier(notifier eventbus.Notifier) ExecutorOption {
	return func(e *Executor) {
		e.notifier = notifier
	}
}

func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

// WithStepTimeout sets the default per-step budget. Zero disables it.
func WithStepTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.stepTimeout = d
	}
}

// WithTotalTimeout sets the wall-clock budget of one run. Zero disables it.
func WithTotalTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.totalTimeout = d
	}
}

// WithResumeCommand sets the template of the resume instruction, see ResumeCommand.
func WithResumeCommand(template string) ExecutorOption {
	return func(e *Executor) {
		e.resumeTemplate = template
	}
}

// WithCheckpointNotifications emits a CheckpointCreated notification, and records a
// CheckpointCreated event, after every checkpoint.
func WithCheckpointNotifications(enabled bool) ExecutorOption {
	return func(e *Executor) {
		e.checkpointEvents = enabled
	}
}

// WithStepCheckpoints also persists every completed step as a checksummed step
// checkpoint under stateDir. Relative artifact paths are resolved against artifactRoot.
func WithStepCheckpoints(stateDir, artifactRoot string) ExecutorOption {
	return func(e *Executor) {
		e.stepStateDir = stateDir
		e.artifactRoot = artifactRoot
	}
}

func NewExecutor(store persistence.EventStore, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:       store,
		logger:      logger.With("module", "workflow_executor"),
		notifier:    eventbus.Nop(),
		tracer:      otelhelper.Tracer(),
		stepTimeout: DefaultStepTimeout,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// WorkflowOptions are the options workflows driven by this executor need.
func (e *Executor) WorkflowOptions() []Option {
	return []Option{WithCheckpointEvents(e.checkpointEvents)}
}

// Run starts a Pending workflow and executes steps from the first one.
func (e *Executor) Run(ctx context.Context, wf *Workflow, steps []Step, metadata map[string]any) (*Result, error) {
	if err := validateSteps(steps); err != nil {
		return nil, err
	}

	if err := wf.Start(ctx, metadata); err != nil {
		return nil, err
	}

	e.logger.Info("Starting workflow", "workflow_id", wf.ID(), "workflow_name", wf.Name(), "total_steps", len(steps))

	return e.execute(ctx, wf, steps, 0)
}

// Resume continues a Paused workflow, or one whose checkpoint was left Running by a
// process that died, from the step after its last checkpointed one.
func (e *Executor) Resume(ctx context.Context, workflowID string, steps []Step) (*Result, error) {
	if err := validateSteps(steps); err != nil {
		return nil, err
	}

	wf, err := LoadFromCheckpoint(ctx, e.store, workflowID, e.logger, e.WorkflowOptions()...)
	if err != nil {
		return nil, err
	}

	if wf.NextStepIndex() > len(steps) {
		return nil, fmt.Errorf("%w: workflow %s resumes at step %d but only %d steps are defined",
			ErrNotResumable, workflowID, wf.NextStepIndex(), len(steps))
	}

	switch wf.Status() {
	case models.WorkflowStatusPaused:
		if err := wf.Resume(ctx); err != nil {
			return nil, err
		}
	case models.WorkflowStatusRunning:
		e.logger.Warn("Workflow was left running, continuing from its checkpoint",
			"workflow_id", workflowID, "step_index", wf.NextStepIndex())
	default:
		return nil, fmt.Errorf("%w: workflow %s is %s", ErrNotResumable, workflowID, wf.Status())
	}

	e.logger.Info("Resuming workflow", "workflow_id", workflowID, "step_index", wf.NextStepIndex())

	return e.execute(ctx, wf, steps, wf.NextStepIndex())
}

func (e *Executor) execute(ctx context.Context, wf *Workflow, steps []Step, from int) (*Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.run",
		attribute.String(otelhelper.WorkflowIDKey, wf.ID()),
		attribute.String(otelhelper.WorkflowNameKey, wf.Name()),
		attribute.Int(otelhelper.TotalStepsKey, len(steps)),
		attribute.Int(otelhelper.StepIndexKey, from),
	)
	defer span.End()

	p := &progress{
		notifier: e.notifier,
		logger:   e.logger,
		wf:       wf,
		total:    len(steps),
		started:  time.Now(),
	}

	p.emit(ctx, events.Notification{Type: events.RunStarted, StepIndex: from, StepName: stepName(steps, from)})

	for i := from; i < len(steps); i++ {
		if ctx.Err() != nil {
			return e.pause(ctx, span, wf, p, ReasonInterrupted)
		}

		if e.totalTimeout > 0 && time.Since(p.started) >= e.totalTimeout {
			return e.pause(ctx, span, wf, p, ReasonWorkflowTimeout)
		}

		if e.cancelledElsewhere(ctx, wf) {
			return e.cancelled(ctx, span, wf, p)
		}

		res, err := e.runStep(ctx, wf, p, steps[i], i)
		if err != nil || res != nil {
			if err != nil {
				otelhelper.SetError(span, err)
			}

			return res, err
		}
	}

	if err := wf.Complete(ctx, nil); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	p.emit(ctx, events.Notification{Type: events.WorkflowCompleted, StepIndex: wf.StepIndex(), StepName: wf.StepName()})

	e.logger.Info("Workflow completed", "workflow_id", wf.ID(), "elapsed", time.Since(p.started))

	span.SetAttributes(attribute.String(otelhelper.StatusKey, string(wf.Status())))

	return e.result(wf, p), nil
}

// runStep executes one step. It returns a nil result when the run should continue.
func (e *Executor) runStep(ctx context.Context, wf *Workflow, p *progress, step Step, index int) (*Result, error) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.stepTimeout
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.step",
		attribute.String(otelhelper.WorkflowIDKey, wf.ID()),
		attribute.Int(otelhelper.StepIndexKey, index),
		attribute.String(otelhelper.StepNameKey, step.Name),
		attribute.Int64(otelhelper.StepTimeoutKey, timeout.Milliseconds()),
	)
	defer span.End()

	logger := e.logger.With("workflow_id", wf.ID(), "step_index", index, "step_name", step.Name)

	if err := wf.StartStep(ctx, index, step.Name); err != nil {
		return nil, err
	}

	p.emit(ctx, events.Notification{Type: events.StepStarted, StepIndex: index, StepName: step.Name})

	logger.Info("Step started", "timeout", timeout)

	input := StepInput{
		WorkflowID:   wf.ID(),
		WorkflowName: wf.Name(),
		Index:        index,
		Name:         step.Name,
		Outputs:      wf.Outputs(),
		Metadata:     wf.Metadata(),
	}

	res, stepErr := invoke(ctx, step, input, timeout)

	if stepErr != nil {
		otelhelper.SetError(span, stepErr)

		persistCtx := context.WithoutCancel(ctx)

		if err := wf.FailStep(persistCtx, stepErr); err != nil {
			return nil, err
		}

		p.emit(ctx, events.Notification{Type: events.StepFailed, StepIndex: index, StepName: step.Name, Error: stepErr.Error()})

		switch {
		case errors.Is(stepErr, ErrStepTimeout):
			logger.Warn("Step timed out, pausing workflow", "timeout", timeout)

			return e.pause(ctx, span, wf, p, ReasonStepTimeout)
		case ctx.Err() != nil:
			logger.Warn("Run interrupted during step, pausing workflow", "error", stepErr)

			return e.pause(ctx, span, wf, p, ReasonInterrupted)
		default:
			logger.Error("Step failed, failing workflow", "error", stepErr)

			return e.fail(ctx, wf, p, &StepError{StepIndex: index, StepName: step.Name, Err: stepErr})
		}
	}

	if e.cancelledElsewhere(ctx, wf) {
		logger.Warn("Workflow cancelled while the step ran, discarding its result")

		return e.cancelled(ctx, span, wf, p)
	}

	if res.Skipped {
		if err := wf.SkipStep(ctx, index, step.Name, res.SkipReason); err != nil {
			return nil, err
		}

		p.completed++
		p.emit(ctx, events.Notification{Type: events.StepSkipped, StepIndex: index, StepName: step.Name, Reason: res.SkipReason})

		return nil, nil
	}

	if err := e.recordFindings(ctx, wf, res); err != nil {
		return nil, err
	}

	if err := wf.CompleteStep(ctx, res.Output, res.QualityScore); err != nil {
		return nil, err
	}

	e.saveStepCheckpoint(ctx, wf, step, index, res)

	p.completed++
	p.emit(ctx, events.Notification{Type: events.StepCompleted, StepIndex: index, StepName: step.Name, QualityScore: res.QualityScore})

	if e.checkpointEvents {
		p.emit(ctx, events.Notification{Type: events.CheckpointCreated, StepIndex: index, StepName: step.Name})
	}

	logger.Info("Step completed")

	return nil, nil
}

func (e *Executor) recordFindings(ctx context.Context, wf *Workflow, res StepResult) error {
	for _, artifact := range res.Artifacts {
		if err := wf.RecordArtifact(ctx, artifact.Path, artifact.Type); err != nil {
			return err
		}
	}

	for _, gate := range res.QualityGates {
		if err := wf.RecordQualityGate(ctx, gate.Name, gate.Passed, gate.Score, gate.Threshold); err != nil {
			return err
		}
	}

	return nil
}

func (e *Executor) saveStepCheckpoint(ctx context.Context, wf *Workflow, step Step, index int, res StepResult) {
	if e.stepStateDir == "" {
		return
	}

	manager, err := checkpoint.NewManager(e.stepStateDir, wf.ID(), e.logger, checkpoint.WithArtifactRoot(e.artifactRoot))
	if err != nil {
		e.logger.Warn("Step checkpoints unavailable", "workflow_id", wf.ID(), "error", err)

		return
	}

	artifacts := make(map[string]models.Artifact, len(res.Artifacts))
	for _, artifact := range res.Artifacts {
		artifacts[artifact.Path] = artifact
	}

	metadata := map[string]any{}
	if res.QualityScore != nil {
		metadata[models.DataQualityScore] = *res.QualityScore
	}

	if _, err := manager.Save(ctx, checkpoint.Step{
		ID:        step.Name,
		Number:    index + 1,
		Name:      step.Name,
		Output:    res.Output,
		Artifacts: artifacts,
		Metadata:  metadata,
	}); err != nil {
		e.logger.Warn("Failed to save step checkpoint", "workflow_id", wf.ID(), "step_name", step.Name, "error", err)
	}
}

// cancelledElsewhere re-reads the checkpoint and adopts a cancellation written by
// another process.
func (e *Executor) cancelledElsewhere(ctx context.Context, wf *Workflow) bool {
	cp, err := e.store.LoadCheckpoint(ctx, wf.ID())
	if err != nil {
		e.logger.Warn("Could not re-read checkpoint for cancellation", "workflow_id", wf.ID(), "error", err)

		return false
	}

	if cp == nil || cp.Status != models.WorkflowStatusCancelled {
		return false
	}

	wf.observeCancelled(cp)

	return true
}

func (e *Executor) pause(ctx context.Context, span trace.Span, wf *Workflow, p *progress, reason string) (*Result, error) {
	if err := wf.Pause(context.WithoutCancel(ctx), reason); err != nil {
		return nil, err
	}

	otelhelper.SetPaused(span, reason)

	command := ResumeCommand(e.resumeTemplate, wf.ID())
	next := wf.NextStepIndex()

	p.emit(ctx, events.Notification{Type: events.WorkflowPaused, StepIndex: next, StepName: wf.StepName(), Reason: reason})
	p.emit(ctx, events.Notification{
		Type:          events.ResumeAvailable,
		StepIndex:     next,
		StepName:      wf.StepName(),
		Reason:        reason,
		ResumeCommand: command,
		Message:       "resume with: " + command,
	})

	e.logger.Warn("Workflow paused", "workflow_id", wf.ID(), "reason", reason, "next_step_index", next, "resume_command", command)

	return e.result(wf, p), nil
}

func (e *Executor) fail(ctx context.Context, wf *Workflow, p *progress, stepErr *StepError) (*Result, error) {
	if err := wf.Fail(context.WithoutCancel(ctx), stepErr); err != nil {
		return nil, err
	}

	p.emit(ctx, events.Notification{Type: events.WorkflowFailed, StepIndex: stepErr.StepIndex, StepName: stepErr.StepName, Error: stepErr.Error()})

	return e.result(wf, p), stepErr
}

func (e *Executor) cancelled(ctx context.Context, span trace.Span, wf *Workflow, p *progress) (*Result, error) {
	span.SetAttributes(attribute.String(otelhelper.StatusKey, string(models.WorkflowStatusCancelled)))

	p.emit(ctx, events.Notification{Type: events.WorkflowCancelled, StepIndex: wf.NextStepIndex(), StepName: wf.StepName()})

	e.logger.Warn("Workflow cancelled", "workflow_id", wf.ID())

	return e.result(wf, p), nil
}

func (e *Executor) result(wf *Workflow, p *progress) *Result {
	res := &Result{
		WorkflowID:    wf.ID(),
		Status:        wf.Status(),
		NextStepIndex: wf.NextStepIndex(),
		StepsRun:      p.completed,
		Elapsed:       time.Since(p.started),
	}

	switch wf.Status() {
	case models.WorkflowStatusPaused:
		res.PauseReason = wf.PauseReason()
		res.ResumeCommand = ResumeCommand(e.resumeTemplate, wf.ID())
	case models.WorkflowStatusFailed:
		res.Error = wf.LastError()
		res.FailedStep = wf.FailedStep()
	}

	return res
}

type stepOutcome struct {
	result StepResult
	err    error
}

// invoke runs the step function under timeout. A step that does not return in time
// is abandoned: its goroutine is left to finish on its own.
func invoke(ctx context.Context, step Step, input StepInput, timeout time.Duration) (StepResult, error) {
	var (
		stepCtx context.Context
		cancel  context.CancelFunc
	)

	if timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		stepCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan stepOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stepOutcome{err: fmt.Errorf("step panicked: %v", r)}
			}
		}()

		res, err := step.Run(stepCtx, input)
		done <- stepOutcome{result: res, err: err}
	}()

	timedOut := func() error {
		return fmt.Errorf("%w: %s exceeded %s", ErrStepTimeout, step.Name, timeout)
	}

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			return StepResult{}, timedOut()
		}

		return out.result, out.err
	case <-stepCtx.Done():
		if ctx.Err() != nil {
			return StepResult{}, ctx.Err()
		}

		return StepResult{}, timedOut()
	}
}

func validateSteps(steps []Step) error {
	seen := make(map[string]struct{}, len(steps))

	for i, step := range steps {
		if step.Name == "" {
			return fmt.Errorf("step %d has no name", i)
		}

		if step.Run == nil {
			return fmt.Errorf("step %d (%s) has no function", i, step.Name)
		}

		if _, dup := seen[step.Name]; dup {
			return fmt.Errorf("step name %q is used twice", step.Name)
		}

		seen[step.Name] = struct{}{}
	}

	return nil
}

func stepName(steps []Step, index int) string {
	if index >= 0 && index < len(steps) {
		return steps[index].Name
	}

	return ""
}

// progress numbers and delivers the notifications of one run.
type progress struct {
	notifier  eventbus.Notifier
	logger    *slog.Logger
	wf        *Workflow
	total     int
	started   time.Time
	seq       int64
	completed int
}

func (p *progress) emit(ctx context.Context, n events.Notification) {
	p.seq++

	n.ID = uuid.NewString()
	n.Seq = p.seq
	n.Timestamp = time.Now().UTC()
	n.WorkflowID = p.wf.ID()
	n.WorkflowName = p.wf.Name()
	n.TotalSteps = p.total
	n.Elapsed = time.Since(p.started)

	if err := p.notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		p.logger.Warn("Failed to deliver progress notification", "workflow_id", n.WorkflowID, "type", n.Type, "seq", n.Seq, "error", err)
	}
}
