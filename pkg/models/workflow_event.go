package models

import "encoding/json"

// EventType enumerates the facts recorded in a workflow's event log.
type EventType string

const (
	// Workflow lifecycle events.
	EventWorkflowStarted   EventType = "WorkflowStarted"
	EventWorkflowCompleted EventType = "WorkflowCompleted"
	EventWorkflowFailed    EventType = "WorkflowFailed"
	EventWorkflowPaused    EventType = "WorkflowPaused"
	EventWorkflowResumed   EventType = "WorkflowResumed"
	EventWorkflowCancelled EventType = "WorkflowCancelled"

	// Step events.
	EventStepStarted   EventType = "StepStarted"
	EventStepCompleted EventType = "StepCompleted"
	EventStepFailed    EventType = "StepFailed"
	EventStepSkipped   EventType = "StepSkipped"

	// Observational events.
	EventCheckpointCreated EventType = "CheckpointCreated"
	EventQualityGatePassed EventType = "QualityGatePassed"
	EventQualityGateFailed EventType = "QualityGateFailed"
	EventArtifactCreated   EventType = "ArtifactCreated"
)

// Payload keys shared by the writers and the replayer of the event log.
const (
	DataWorkflowName = "workflowName"
	DataMetadata     = "metadata"
	DataStepIndex    = "stepIndex"
	DataStepName     = "stepName"
	DataOutput       = "output"
	DataQualityScore = "qualityScore"
	DataError        = "error"
	DataReason       = "reason"
	DataStatus       = "status"
	DataGate         = "gate"
	DataPassed       = "passed"
	DataScore        = "score"
	DataThreshold    = "threshold"
	DataPath         = "path"
	DataType         = "type"
)

// WorkflowEvent is an immutable fact. It is never rewritten once appended.
type WorkflowEvent struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflowId"`
	EventType      EventType      `json:"eventType"`
	Timestamp      string         `json:"timestamp"`
	Data           map[string]any `json:"data"`
	SequenceNumber int64          `json:"sequenceNumber"`
}

// NewWorkflowEvent builds an event that has not been appended yet: the store assigns
// its id (when empty), timestamp (when empty) and sequence number.
func NewWorkflowEvent(workflowID string, eventType EventType, data map[string]any) *WorkflowEvent {
	if data == nil {
		data = map[string]any{}
	}

	return &WorkflowEvent{
		WorkflowID: workflowID,
		EventType:  eventType,
		Data:       data,
	}
}

// String reads a string payload value.
func (e *WorkflowEvent) String(key string) string {
	v, _ := e.Data[key].(string)

	return v
}

// Int reads an integer payload value. Events read back from the log hold json.Number,
// in-memory events hold ints.
func (e *WorkflowEvent) Int(key string) (int, bool) {
	switch v := e.Data[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}

		return int(n), true
	default:
		return 0, false
	}
}

// Float reads a numeric payload value.
func (e *WorkflowEvent) Float(key string) (float64, bool) {
	switch v := e.Data[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}
