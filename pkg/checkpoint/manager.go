// Package checkpoint persists integrity-checked, step-granular checkpoints next to the
// workflow-level checkpoint.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/dukex/durable/pkg/fileio"
	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/persistence"
)

// DefaultRetentionDays is how long step checkpoints are kept by default.
const DefaultRetentionDays = 30

var fileNamePattern = regexp.MustCompile(`^step(\d+)-(.+)\.json$`)

// Step is the content of one step checkpoint.
type Step struct {
	ID        string
	Number    int // 1-based
	Name      string
	Output    any
	Artifacts map[string]models.Artifact
	Metadata  map[string]any
}

// Manager reads and writes the step checkpoints of one workflow.
type Manager struct {
	dir          string
	workflowID   string
	artifactRoot string
	readOptions  fileio.ReadOptions
	logger       *slog.Logger
	now          func() time.Time
}

type Option func(*Manager)

// WithReadOptions overrides how checkpoint files are read.
func WithReadOptions(opts fileio.ReadOptions) Option {
	return func(m *Manager) {
		m.readOptions = opts
	}
}

// WithArtifactRoot resolves relative artifact paths against dir when computing their
// size and checksum.
func WithArtifactRoot(dir string) Option {
	return func(m *Manager) {
		m.artifactRoot = dir
	}
}

// NewManager creates a manager for workflowID under the state directory stateDir.
func NewManager(stateDir, workflowID string, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if err := fileio.ValidateName("workflow id", workflowID); err != nil {
		return nil, fmt.Errorf("%w: %w", persistence.ErrInvalidID, err)
	}

	m := &Manager{
		dir:         persistence.NewLayout(stateDir).StepCheckpointDir(workflowID),
		workflowID:  workflowID,
		readOptions: fileio.DefaultReadOptions(),
		logger:      logger.With("module", "step_checkpoint", "workflow_id", workflowID),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Dir returns the directory holding this workflow's step checkpoints.
func (m *Manager) Dir() string {
	return m.dir
}

// Save seals and atomically writes step{N}-{id}.json, replacing any previous file for
// the same step.
func (m *Manager) Save(_ context.Context, step Step) (*models.StepCheckpoint, error) {
	if err := fileio.ValidateName("step id", step.ID); err != nil {
		return nil, fmt.Errorf("%w: %w", persistence.ErrInvalidID, err)
	}

	if step.Number < 1 {
		return nil, fmt.Errorf("step number must be 1 or more, got %d", step.Number)
	}

	name := step.Name
	if name == "" {
		name = step.ID
	}

	metadata := step.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	record := &models.StepCheckpoint{
		WorkflowID:  m.workflowID,
		StepID:      step.ID,
		StepNumber:  step.Number,
		StepName:    name,
		CompletedAt: models.FormatTime(m.now()),
		StepOutput:  step.Output,
		Artifacts:   m.describeArtifacts(step.Artifacts),
		Metadata:    metadata,
	}

	if err := record.Seal(); err != nil {
		return nil, fmt.Errorf("seal step checkpoint: %w", err)
	}

	if err := fileio.AtomicWrite(filepath.Join(m.dir, record.FileName()), record); err != nil {
		return nil, fmt.Errorf("write step checkpoint: %w", err)
	}

	m.logger.Debug("Saved step checkpoint", "step_id", step.ID, "step_number", step.Number)

	return record, nil
}

// describeArtifacts fills in size and checksum for artifacts that exist on disk.
func (m *Manager) describeArtifacts(artifacts map[string]models.Artifact) map[string]models.Artifact {
	described := make(map[string]models.Artifact, len(artifacts))

	for name, artifact := range artifacts {
		if artifact.Checksum == "" && artifact.Path != "" {
			path := artifact.Path
			if !filepath.IsAbs(path) && m.artifactRoot != "" {
				path = filepath.Join(m.artifactRoot, path)
			}

			if filepath.IsAbs(path) {
				if sum, size, err := fileio.FileChecksum(path); err == nil {
					artifact.Checksum = sum
					artifact.Size = size
				}
			}
		}

		described[name] = artifact
	}

	return described
}

// Load reads one step checkpoint. With both stepID and stepNumber it reads that file;
// with only one of them it picks the highest-numbered match; with neither it loads the
// highest step number. Absence yields ErrCheckpointNotFound and a record that fails to
// parse or validate yields ErrCheckpointCorrupt.
func (m *Manager) Load(ctx context.Context, stepID string, stepNumber int) (*models.StepCheckpoint, error) {
	files, err := m.files()
	if err != nil {
		return nil, err
	}

	var match *checkpointFile

	for i := len(files) - 1; i >= 0; i-- {
		f := files[i]
		if (stepID == "" || f.stepID == stepID) && (stepNumber <= 0 || f.number == stepNumber) {
			match = &files[i]

			break
		}
	}

	if match == nil {
		return nil, fmt.Errorf("%w: workflow %s step %q number %d", persistence.ErrCheckpointNotFound, m.workflowID, stepID, stepNumber)
	}

	return m.read(ctx, match.name)
}

// List returns every valid step checkpoint, ascending by step number. Files that do
// not parse or fail checksum validation are skipped with a warning.
func (m *Manager) List(ctx context.Context) ([]*models.StepCheckpoint, error) {
	files, err := m.files()
	if err != nil {
		return nil, err
	}

	checkpoints := make([]*models.StepCheckpoint, 0, len(files))

	for _, f := range files {
		cp, err := m.read(ctx, f.name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			m.logger.Warn("Skipping invalid step checkpoint", "file", f.name, "error", err)

			continue
		}

		checkpoints = append(checkpoints, cp)
	}

	return checkpoints, nil
}

// CleanupOldCheckpoints removes checkpoint files last modified more than retentionDays
// ago and returns how many were removed.
func (m *Manager) CleanupOldCheckpoints(_ context.Context, retentionDays int) (int, error) {
	if retentionDays < 0 {
		return 0, fmt.Errorf("retention days must not be negative, got %d", retentionDays)
	}

	files, err := m.files()
	if err != nil {
		return 0, err
	}

	cutoff := m.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	removed := 0

	for _, f := range files {
		if !f.modTime.Before(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(m.dir, f.name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", f.name, err)
		}

		removed++
	}

	if removed > 0 {
		m.logger.Info("Removed old step checkpoints", "count", removed, "retention_days", retentionDays)
	}

	return removed, nil
}

func (m *Manager) read(ctx context.Context, name string) (*models.StepCheckpoint, error) {
	var cp models.StepCheckpoint

	res := fileio.SafeRead(ctx, filepath.Join(m.dir, name), &cp, m.readOptions)

	switch res.Outcome {
	case fileio.Available:
	case fileio.Missing:
		return nil, fmt.Errorf("%w: %s", persistence.ErrCheckpointNotFound, name)
	case fileio.Truncated, fileio.Corrupt:
		return nil, fmt.Errorf("%w: %s is %s: %w", persistence.ErrCheckpointCorrupt, name, res.Outcome, res.Err)
	default:
		return nil, fmt.Errorf("read %s: %w", name, res.Err)
	}

	if !cp.Validate() {
		return nil, fmt.Errorf("%w: %s fails checksum validation", persistence.ErrCheckpointCorrupt, name)
	}

	return &cp, nil
}

type checkpointFile struct {
	name    string
	stepID  string
	number  int
	modTime time.Time
}

// files lists checkpoint files ascending by step number, then name.
func (m *Manager) files() ([]checkpointFile, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("read step checkpoint directory: %w", err)
	}

	files := make([]checkpointFile, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		parts := fileNamePattern.FindStringSubmatch(entry.Name())
		if parts == nil {
			continue
		}

		number, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, checkpointFile{
			name:    entry.Name(),
			stepID:  parts[2],
			number:  number,
			modTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].number != files[j].number {
			return files[i].number < files[j].number
		}

		return files[i].name < files[j].name
	})

	return files, nil
}
