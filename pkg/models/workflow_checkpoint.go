package models

// NoStep is the StepIndex of a checkpoint written before any step completed.
const NoStep = -1

// WorkflowCheckpoint is the replaceable snapshot of where a workflow is. StepIndex and
// StepName name the last completed (or skipped) step; execution resumes at StepIndex+1.
type WorkflowCheckpoint struct {
	WorkflowID     string             `json:"workflowId"`
	WorkflowName   string             `json:"workflowName,omitempty"`
	StepIndex      int                `json:"stepIndex"`
	StepName       string             `json:"stepName"`
	Status         WorkflowStatus     `json:"status"`
	CreatedAt      string             `json:"createdAt"`
	Outputs        map[string]any     `json:"outputs"`
	QualityScores  map[string]float64 `json:"qualityScores"`
	Artifacts      []string           `json:"artifacts"`
	Metadata       map[string]any     `json:"metadata"`
	SequenceNumber int64              `json:"sequenceNumber"`
	PauseReason    string             `json:"pauseReason,omitempty"`
	Error          string             `json:"error,omitempty"`
	FailedStep     string             `json:"failedStep,omitempty"`
}

// Normalize replaces nil collections so the persisted shape is stable.
func (c *WorkflowCheckpoint) Normalize() {
	if c.Outputs == nil {
		c.Outputs = map[string]any{}
	}

	if c.QualityScores == nil {
		c.QualityScores = map[string]float64{}
	}

	if c.Artifacts == nil {
		c.Artifacts = []string{}
	}

	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
}

// NextStepIndex is the index execution continues from.
func (c *WorkflowCheckpoint) NextStepIndex() int {
	return c.StepIndex + 1
}

// Handle projects the checkpoint onto the resume listing shape.
func (c *WorkflowCheckpoint) Handle() ResumeHandle {
	return ResumeHandle{
		WorkflowID:   c.WorkflowID,
		WorkflowName: c.WorkflowName,
		Status:       c.Status,
		StepIndex:    c.StepIndex,
		StepName:     c.StepName,
		CreatedAt:    c.CreatedAt,
	}
}
