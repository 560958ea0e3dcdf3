// Package models defines the persisted records of the durable workflow engine.
package models

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"   // Created, not started
	WorkflowStatusRunning   WorkflowStatus = "running"   // A process is driving the steps
	WorkflowStatusPaused    WorkflowStatus = "paused"    // Stopped at a checkpoint, resumable
	WorkflowStatusCompleted WorkflowStatus = "completed" // Terminal
	WorkflowStatusFailed    WorkflowStatus = "failed"    // Terminal
	WorkflowStatusCancelled WorkflowStatus = "cancelled" // Terminal
)

// Valid reports whether s is one of the known statuses.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusPending, WorkflowStatusRunning, WorkflowStatusPaused,
		WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible from s.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusFailed || s == WorkflowStatusCancelled
}

// IsResumable reports whether a workflow in status s can be picked up again.
// Running counts: a checkpoint left in Running means the driving process died.
func (s WorkflowStatus) IsResumable() bool {
	return s == WorkflowStatusPaused || s == WorkflowStatusRunning
}
