// Package persistence provides the storage abstraction for workflow event logs and checkpoints.
package persistence

import (
	"context"

	"github.com/dukex/durable/pkg/models"
)

// EventStore persists a workflow's append-only event log and its latest checkpoint.
//
// Absence is never an error: LoadCheckpoint returns nil, nil and ReadAll an empty slice
// for unknown workflows. Corruption and I/O failures that survive retries are errors.
type EventStore interface {
	// Append assigns the next sequence number of the event's workflow and appends it.
	Append(ctx context.Context, event *models.WorkflowEvent) (*models.WorkflowEvent, error)
	// ReadAll returns the workflow's events ordered by sequence number.
	ReadAll(ctx context.Context, workflowID string) ([]*models.WorkflowEvent, error)
	// NextSequence recomputes the next sequence number from the log itself.
	NextSequence(ctx context.Context, workflowID string) (int64, error)

	SaveCheckpoint(ctx context.Context, checkpoint *models.WorkflowCheckpoint) error
	LoadCheckpoint(ctx context.Context, workflowID string) (*models.WorkflowCheckpoint, error)

	ListWorkflows(ctx context.Context) ([]string, error)
	DeleteWorkflow(ctx context.Context, workflowID string) error
	// ResumableWorkflows lists every workflow whose checkpoint is Paused or Running.
	ResumableWorkflows(ctx context.Context) ([]models.ResumeHandle, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
