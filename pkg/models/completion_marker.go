package models

import (
	"slices"
	"time"
)

// MarkerStatus is the terminal state a worker reports for a step.
type MarkerStatus string

const (
	MarkerStatusCompleted MarkerStatus = "completed"
	MarkerStatusFailed    MarkerStatus = "failed"
)

// FileName is the marker file a status is signalled with.
func (s MarkerStatus) FileName() string {
	if s == MarkerStatusFailed {
		return "FAILED.json"
	}

	return "DONE.json"
}

// CompletionMarker is written by a worker process once its step is over. Its existence
// is the signal; the content lets the dispatcher check the outcome.
type CompletionMarker struct {
	WorkflowID        string       `json:"workflowId"                validate:"required"`
	StepID            string       `json:"stepId"                    validate:"required"`
	Agent             string       `json:"agent"`
	Action            string       `json:"action"`
	Status            MarkerStatus `json:"status"                    validate:"required,oneof=completed failed"`
	Timestamp         string       `json:"timestamp"                 validate:"required"`
	WorkingCopyName   string       `json:"workingCopyName,omitempty"`
	WorkingCopyPath   string       `json:"workingCopyPath,omitempty"`
	ExpectedArtifacts []string     `json:"expectedArtifacts"`
	FoundArtifacts    []string     `json:"foundArtifacts"`
	DurationSeconds   float64      `json:"durationSeconds"           validate:"gte=0"`
	StartedAt         string       `json:"startedAt,omitempty"`
	CompletedAt       string       `json:"completedAt,omitempty"`
	FailedAt          string       `json:"failedAt,omitempty"`
	Error             string       `json:"error,omitempty"`
	ErrorType         string       `json:"errorType,omitempty"`
}

// Time parses the marker timestamp.
func (m *CompletionMarker) Time() (time.Time, error) {
	return ParseTime(m.Timestamp)
}

// MissingArtifacts lists expected artifacts the worker did not find.
func (m *CompletionMarker) MissingArtifacts() []string {
	var missing []string

	for _, expected := range m.ExpectedArtifacts {
		if !slices.Contains(m.FoundArtifacts, expected) {
			missing = append(missing, expected)
		}
	}

	return missing
}
