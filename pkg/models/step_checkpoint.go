package models

import (
	"fmt"

	"github.com/dukex/durable/pkg/fileio"
)

// Artifact describes a file produced by a step.
type Artifact struct {
	Path     string `json:"path"`
	Type     string `json:"type,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Checksum string `json:"checksum,omitempty"`
}

// StepCheckpoint is the integrity-checked record of one completed step.
type StepCheckpoint struct {
	WorkflowID  string              `json:"workflowId"`
	StepID      string              `json:"stepId"`
	StepNumber  int                 `json:"stepNumber"`
	StepName    string              `json:"stepName"`
	CompletedAt string              `json:"completedAt"`
	StepOutput  any                 `json:"stepOutput"`
	Artifacts   map[string]Artifact `json:"artifacts"`
	Metadata    map[string]any      `json:"metadata"`
	Checksum    string              `json:"checksum,omitempty"`
}

// StepCheckpointFileName is the file a step checkpoint is persisted under.
func StepCheckpointFileName(stepNumber int, stepID string) string {
	return fmt.Sprintf("step%d-%s.json", stepNumber, stepID)
}

// FileName returns the file this checkpoint is persisted under.
func (c *StepCheckpoint) FileName() string {
	return StepCheckpointFileName(c.StepNumber, c.StepID)
}

// ComputeChecksum hashes every field except Checksum using canonical JSON.
func (c *StepCheckpoint) ComputeChecksum() (string, error) {
	unsealed := *c
	unsealed.Checksum = ""

	return fileio.Checksum(unsealed)
}

// Seal stores the checksum of the current content.
func (c *StepCheckpoint) Seal() error {
	sum, err := c.ComputeChecksum()
	if err != nil {
		return err
	}

	c.Checksum = sum

	return nil
}

// Validate reports whether Checksum matches the record's content.
func (c *StepCheckpoint) Validate() bool {
	if c.Checksum == "" {
		return false
	}

	sum, err := c.ComputeChecksum()
	if err != nil {
		return false
	}

	return sum == c.Checksum
}
