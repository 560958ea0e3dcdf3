package marker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/workflow"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultWaitTimeout  = 30 * time.Minute
)

// ErrWaitTimeout is returned when no marker appeared within the dispatcher timeout.
// It wraps workflow.ErrStepTimeout, so a dispatch step that runs out of time pauses
// its workflow instead of failing it.
var ErrWaitTimeout = fmt.Errorf("timed out waiting for completion marker: %w", workflow.ErrStepTimeout)

// ErrPartialCompletion marks a worker that reported success without producing every
// expected artifact.
var ErrPartialCompletion = errors.New("partial completion")

// Dispatcher waits for workers to signal the end of their step.
type Dispatcher struct {
	protocol *Protocol
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewDispatcher polls every interval for at most timeout. Zero values select
// DefaultPollInterval and DefaultWaitTimeout.
func NewDispatcher(protocol *Protocol, interval, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	return &Dispatcher{
		protocol: protocol,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("module", "marker_dispatcher"),
	}
}

// Wait polls for the step's markers until one resolves the step, the dispatcher
// timeout elapses (ErrWaitTimeout) or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context, workflowID, stepID string) (*Resolution, error) {
	deadline := time.NewTimer(d.timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Debug("Waiting for completion marker", "workflow_id", workflowID, "step_id", stepID, "timeout", d.timeout)

	for {
		if d.protocol.Exists(workflowID, stepID, models.MarkerStatusCompleted) ||
			d.protocol.Exists(workflowID, stepID, models.MarkerStatusFailed) {
			res, err := d.protocol.Resolve(ctx, workflowID, stepID)
			if err != nil {
				return nil, err
			}

			if res != nil {
				return res, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w: step %s of workflow %s after %s", ErrWaitTimeout, stepID, workflowID, d.timeout)
		case <-ticker.C:
		}
	}
}

// LaunchFunc starts the worker of a dispatched step. It must not wait for the worker
// to finish: completion is observed through the markers.
type LaunchFunc func(ctx context.Context, input workflow.StepInput, stepID string) error

// Dispatch configures a step executed by a separate worker process.
type Dispatch struct {
	// StepID keys the markers. It defaults to the step name.
	StepID string
	// Launch starts the worker. Without it the worker is expected to be started by
	// someone else.
	Launch LaunchFunc
}

// Step returns a step function that hands the step to a worker and waits for its
// markers. Markers left by a previous attempt are adopted instead of launching again,
// so a resumed workflow picks up a worker that finished while nobody was waiting.
// A DONE marker missing expected artifacts is a partial completion and fails the step.
func (d *Dispatcher) Step(dispatch Dispatch) workflow.StepFunc {
	return func(ctx context.Context, input workflow.StepInput) (workflow.StepResult, error) {
		stepID := dispatch.StepID
		if stepID == "" {
			stepID = input.Name
		}

		logger := d.logger.With("workflow_id", input.WorkflowID, "step_id", stepID)

		existing, err := d.protocol.Resolve(ctx, input.WorkflowID, stepID)
		if err != nil {
			return workflow.StepResult{}, err
		}

		res := existing

		if res == nil {
			if dispatch.Launch != nil {
				logger.Info("Launching worker")

				if err := dispatch.Launch(ctx, input, stepID); err != nil {
					return workflow.StepResult{}, fmt.Errorf("launch worker: %w", err)
				}
			}

			res, err = d.Wait(ctx, input.WorkflowID, stepID)
			if err != nil {
				return workflow.StepResult{}, err
			}
		} else {
			logger.Info("Adopting existing completion marker", "status", res.Status)
		}

		return resultFromMarker(res)
	}
}

func resultFromMarker(res *Resolution) (workflow.StepResult, error) {
	m := res.Marker

	if res.Status == models.MarkerStatusFailed {
		return workflow.StepResult{}, fmt.Errorf("worker failed step %s: %s (%s)", m.StepID, m.Error, m.ErrorType)
	}

	if missing := m.MissingArtifacts(); len(missing) > 0 {
		return workflow.StepResult{}, fmt.Errorf("%w: step %s is missing %s", ErrPartialCompletion, m.StepID, strings.Join(missing, ", "))
	}

	artifacts := make([]models.Artifact, 0, len(m.FoundArtifacts))
	found := make([]any, 0, len(m.FoundArtifacts))

	for _, path := range m.FoundArtifacts {
		if !filepath.IsAbs(path) && m.WorkingCopyPath != "" {
			path = filepath.Join(m.WorkingCopyPath, path)
		}

		artifacts = append(artifacts, models.Artifact{Path: path, Type: "worker"})
		found = append(found, path)
	}

	return workflow.StepResult{
		Output: map[string]any{
			"agent":           m.Agent,
			"action":          m.Action,
			"completedAt":     m.CompletedAt,
			"durationSeconds": m.DurationSeconds,
			"artifacts":       found,
			"workingCopy":     m.WorkingCopyName,
		},
		Artifacts: artifacts,
	}, nil
}
