// Package web provides a JSON API over the state directory, for observers that
// cannot read it directly.
package web

import "github.com/dukex/durable/pkg/models"

// CancelWorkflowRequest represents the request body for cancelling a workflow.
type CancelWorkflowRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// WorkflowResponse is a workflow's checkpoint together with what resuming it takes.
type WorkflowResponse struct {
	Checkpoint *models.WorkflowCheckpoint `json:"checkpoint"`
	Resume     *models.ResumeInfo         `json:"resume"`
}

// VerifyResponse reports whether a checkpoint agrees with the events it covers.
type VerifyResponse struct {
	WorkflowID string   `json:"workflow_id"`
	Events     int      `json:"events"`
	Consistent bool     `json:"consistent"`
	Diffs      []string `json:"diffs"`
}

// MarkerResponse is the outcome of a dispatched step as signalled by its markers.
type MarkerResponse struct {
	Status     models.MarkerStatus      `json:"status"`
	Marker     *models.CompletionMarker `json:"marker"`
	Superseded *models.CompletionMarker `json:"superseded,omitempty"`
}
