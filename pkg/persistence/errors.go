// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow has no state directory.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrCheckpointNotFound indicates no checkpoint exists for the requested workflow or step.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrCheckpointCorrupt indicates a checkpoint exists but cannot be trusted
	// (unparseable, truncated or failing checksum validation).
	ErrCheckpointCorrupt = errors.New("checkpoint corrupt")

	// ErrEventLogCorrupt indicates the event log could not be read at all.
	ErrEventLogCorrupt = errors.New("event log corrupt")

	// ErrMarkerNotFound indicates no completion marker exists for a step.
	ErrMarkerNotFound = errors.New("marker not found")

	// ErrMarkerCorrupt indicates a completion marker exists but is unparseable or invalid.
	ErrMarkerCorrupt = errors.New("marker corrupt")

	// ErrInvalidID indicates an identifier is unsafe to use as a path component.
	ErrInvalidID = errors.New("invalid identifier")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "Append", "LoadCheckpoint")
	WorkflowID string // Workflow ID if applicable
	Err        error  // Underlying error
	Message    string // Additional context message
}

func (e *WorkflowError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for workflow %s: %s (%v)", e.Op, e.WorkflowID, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for workflow errors.
func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// NewWorkflowErrorf creates a new workflow error carrying a formatted message.
func NewWorkflowErrorf(op, workflowID string, err error, format string, args ...any) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
		Message:    fmt.Sprintf(format, args...),
	}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsCheckpointNotFound checks if an error indicates a checkpoint was not found.
func IsCheckpointNotFound(err error) bool {
	return errors.Is(err, ErrCheckpointNotFound)
}

// IsCorrupt checks if an error indicates persisted state that exists but cannot be trusted.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCheckpointCorrupt) ||
		errors.Is(err, ErrEventLogCorrupt) ||
		errors.Is(err, ErrMarkerCorrupt)
}

// IsMarkerNotFound checks if an error indicates a marker was not found.
func IsMarkerNotFound(err error) bool {
	return errors.Is(err, ErrMarkerNotFound)
}

// IsInvalidID checks if an error indicates an identifier was rejected as a path component.
func IsInvalidID(err error) bool {
	return errors.Is(err, ErrInvalidID)
}
