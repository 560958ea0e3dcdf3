package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/persistence"
)

// DefaultResumeCommand is used when no resume command template is configured.
const DefaultResumeCommand = "durable resume %s"

// ResumeCommand renders a copy-pasteable resume instruction. The template's %s is
// replaced by the workflow id; a template without %s gets the id appended.
func ResumeCommand(template, workflowID string) string {
	if template == "" {
		template = DefaultResumeCommand
	}

	if strings.Contains(template, "%s") {
		return strings.ReplaceAll(template, "%s", workflowID)
	}

	return template + " " + workflowID
}

// GetResumeInfo reports whether a workflow can continue and from where. A missing
// checkpoint is a normal "cannot resume" answer; a corrupt one is returned as an error.
func GetResumeInfo(ctx context.Context, store persistence.EventStore, workflowID, resumeTemplate string) (*models.ResumeInfo, error) {
	cp, err := store.LoadCheckpoint(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if cp == nil {
		return &models.ResumeInfo{
			WorkflowID:    workflowID,
			NextStepIndex: 0,
			Reason:        "no checkpoint",
		}, nil
	}

	return ResumeInfoFor(cp, resumeTemplate), nil
}

// ResumeInfoFor derives resume information from a loaded checkpoint.
func ResumeInfoFor(cp *models.WorkflowCheckpoint, resumeTemplate string) *models.ResumeInfo {
	info := &models.ResumeInfo{
		WorkflowID:    cp.WorkflowID,
		Status:        cp.Status,
		NextStepIndex: cp.NextStepIndex(),
		LastStepName:  cp.StepName,
	}

	switch cp.Status {
	case models.WorkflowStatusPaused:
		info.CanResume = true
		info.Reason = cp.PauseReason
	case models.WorkflowStatusRunning:
		info.CanResume = true
		info.Reason = "interrupted while running"
	case models.WorkflowStatusFailed:
		info.Reason = "workflow failed"
		info.Error = cp.Error
		info.FailedStep = cp.FailedStep
	case models.WorkflowStatusPending:
		info.Reason = "workflow not started"
	default:
		info.Reason = fmt.Sprintf("workflow %s", cp.Status)
	}

	if info.CanResume {
		info.ResumeCommand = ResumeCommand(resumeTemplate, cp.WorkflowID)
	}

	return info
}
