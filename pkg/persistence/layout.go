package persistence

import (
	"path/filepath"
	"strings"
)

// Layout maps workflows onto the state directory:
//
//	<root>/<workflow>/events.jsonl
//	<root>/<workflow>/checkpoint.json
//	<root>/<workflow>/steps/step<N>-<step>.json
//	<root>/<workflow>/markers/<step>/{DONE,FAILED}.json
type Layout struct {
	Root string
}

// NewLayout accepts a plain directory or a file:// URL.
func NewLayout(root string) Layout {
	return Layout{Root: filepath.Clean(strings.TrimPrefix(root, "file://"))}
}

func (l Layout) WorkflowDir(workflowID string) string {
	return filepath.Join(l.Root, workflowID)
}

func (l Layout) EventLogPath(workflowID string) string {
	return filepath.Join(l.WorkflowDir(workflowID), "events.jsonl")
}

func (l Layout) CheckpointPath(workflowID string) string {
	return filepath.Join(l.WorkflowDir(workflowID), "checkpoint.json")
}

func (l Layout) StepCheckpointDir(workflowID string) string {
	return filepath.Join(l.WorkflowDir(workflowID), "steps")
}

func (l Layout) MarkerDir(workflowID, stepID string) string {
	return filepath.Join(l.WorkflowDir(workflowID), "markers", stepID)
}
