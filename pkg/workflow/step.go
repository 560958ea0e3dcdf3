package workflow

import (
	"context"
	"time"

	"github.com/dukex/durable/pkg/models"
)

// StepFunc performs the work of one step. ctx is cancelled when the step exceeds its
// timeout or the run is interrupted; a step that ignores ctx keeps running in the
// background but its result is discarded.
type StepFunc func(ctx context.Context, input StepInput) (StepResult, error)

// Step is one entry of a workflow's ordered step list.
type Step struct {
	Name    string
	Run     StepFunc
	Timeout time.Duration // overrides the executor step timeout when positive
}

// StepInput is what a step function sees of the workflow.
type StepInput struct {
	WorkflowID   string
	WorkflowName string
	Index        int
	Name         string
	Outputs      map[string]any // outputs of the steps completed so far, by step name
	Metadata     map[string]any
}

// QualityGate is an evaluation reported by a step.
type QualityGate struct {
	Name      string
	Passed    bool
	Score     float64
	Threshold float64
}

// StepResult is what a successful step reports.
type StepResult struct {
	Output       any
	QualityScore *float64
	Artifacts    []models.Artifact
	QualityGates []QualityGate
	Skipped      bool
	SkipReason   string
}

// Skip builds the result of a step that decided not to run.
func Skip(reason string) StepResult {
	return StepResult{Skipped: true, SkipReason: reason}
}

// Score returns a pointer suitable for StepResult.QualityScore.
func Score(v float64) *float64 {
	return &v
}
