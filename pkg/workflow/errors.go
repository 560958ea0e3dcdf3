package workflow

import (
	"errors"
	"fmt"

	"github.com/dukex/durable/pkg/models"
)

var (
	// ErrIllegalTransition indicates a lifecycle operation not allowed from the current status.
	// Illegal transitions are never recorded in the event log.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrNotResumable indicates a workflow has no checkpoint or is not Paused/Running.
	ErrNotResumable = errors.New("workflow not resumable")

	// ErrStepTimeout indicates a step exceeded its time budget. The executor pauses the
	// workflow instead of failing it.
	ErrStepTimeout = errors.New("step timeout")
)

// TransitionError describes a rejected lifecycle operation.
type TransitionError struct {
	Op     string
	From   models.WorkflowStatus
	To     models.WorkflowStatus
	Detail string
}

func (e *TransitionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (workflow is %s)", e.Op, e.Detail, e.From)
	}

	if e.To == "" {
		return fmt.Sprintf("%s: not allowed while workflow is %s", e.Op, e.From)
	}

	return fmt.Sprintf("%s: cannot move workflow from %s to %s", e.Op, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// StepError is a failure raised by a step function.
type StepError struct {
	StepIndex int
	StepName  string
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.StepIndex, e.StepName, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// IsIllegalTransition checks if an error is a rejected lifecycle operation.
func IsIllegalTransition(err error) bool {
	return errors.Is(err, ErrIllegalTransition)
}
