package models

// ResumeHandle is everything external tooling needs to offer a resume command.
type ResumeHandle struct {
	WorkflowID   string         `json:"workflowId"`
	WorkflowName string         `json:"workflowName"`
	Status       WorkflowStatus `json:"status"`
	StepIndex    int            `json:"stepIndex"`
	StepName     string         `json:"stepName"`
	CreatedAt    string         `json:"createdAt"`
}

// ResumeInfo describes whether and how a workflow can continue.
type ResumeInfo struct {
	WorkflowID    string         `json:"workflowId"`
	CanResume     bool           `json:"canResume"`
	Status        WorkflowStatus `json:"status,omitempty"`
	NextStepIndex int            `json:"nextStepIndex"`
	LastStepName  string         `json:"lastStepName,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	ResumeCommand string         `json:"resumeCommand,omitempty"`
	Error         string         `json:"error,omitempty"`
	FailedStep    string         `json:"failedStep,omitempty"`
}
