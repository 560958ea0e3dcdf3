// Package events defines the progress notifications emitted while a workflow runs.
package events

import (
	"time"
)

type NotificationType string

// Topic carries every progress notification.
const Topic = "durable.progress"

// Message metadata keys.
const (
	NotificationTypeMetadataKey = "notification_type"
	WorkflowIDMetadataKey       = "workflow_id"
	SeqMetadataKey              = "seq"
)

const (
	// Run lifecycle notifications.
	RunStarted        NotificationType = "run.started"
	WorkflowCompleted NotificationType = "workflow.completed"
	WorkflowFailed    NotificationType = "workflow.failed"
	WorkflowPaused    NotificationType = "workflow.paused"
	WorkflowCancelled NotificationType = "workflow.cancelled"
	ResumeAvailable   NotificationType = "workflow.resume_available"

	// Step notifications.
	StepStarted       NotificationType = "step.started"
	StepCompleted     NotificationType = "step.completed"
	StepFailed        NotificationType = "step.failed"
	StepSkipped       NotificationType = "step.skipped"
	CheckpointCreated NotificationType = "checkpoint.created"
)

// Terminal reports whether no further notification follows for this run.
func (t NotificationType) Terminal() bool {
	switch t {
	case WorkflowCompleted, WorkflowFailed, WorkflowCancelled, ResumeAvailable:
		return true
	default:
		return false
	}
}

// Notification is one entry of the progress stream. Seq orders notifications of one run;
// together with the step and elapsed fields an observer can render progress without
// reading persisted state.
type Notification struct {
	ID            string           `json:"id"`
	Type          NotificationType `json:"type"`
	Seq           int64            `json:"seq"`
	Timestamp     time.Time        `json:"timestamp"`
	WorkflowID    string           `json:"workflow_id"`
	WorkflowName  string           `json:"workflow_name,omitempty"`
	StepIndex     int              `json:"step_index"`
	StepName      string           `json:"step_name,omitempty"`
	TotalSteps    int              `json:"total_steps"`
	Elapsed       time.Duration    `json:"elapsed"`
	Message       string           `json:"message,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Error         string           `json:"error,omitempty"`
	ResumeCommand string           `json:"resume_command,omitempty"`
	QualityScore  *float64         `json:"quality_score,omitempty"`
}

func (n Notification) GetType() NotificationType {
	return n.Type
}

// Progress is the fraction of steps finished when the notification was emitted.
func (n Notification) Progress() float64 {
	if n.TotalSteps == 0 {
		return 0
	}

	done := n.StepIndex
	if n.Type == StepCompleted || n.Type == StepSkipped || n.Type == CheckpointCreated {
		done++
	}

	if n.Type == WorkflowCompleted {
		done = n.TotalSteps
	}

	return float64(done) / float64(n.TotalSteps)
}
