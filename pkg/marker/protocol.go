// Package marker implements the completion-marker handshake between an orchestrating
// process and a worker running a step in its own working copy. The worker atomically
// writes DONE.json or FAILED.json; the dispatcher polls for their existence.
package marker

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dukex/durable/pkg/fileio"
	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

// Protocol reads and writes the markers of every workflow under one state directory.
type Protocol struct {
	layout      persistence.Layout
	readOptions fileio.ReadOptions
	validate    *validator.Validate
	schema      *gojsonschema.Schema
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Protocol)

func WithReadOptions(opts fileio.ReadOptions) Option {
	return func(p *Protocol) {
		p.readOptions = opts
	}
}

// WithClock replaces the clock used to stamp markers.
func WithClock(now func() time.Time) Option {
	return func(p *Protocol) {
		p.now = now
	}
}

func New(stateDir string, logger *slog.Logger, opts ...Option) (*Protocol, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("compile marker schema: %w", err)
	}

	p := &Protocol{
		layout:      persistence.NewLayout(stateDir),
		readOptions: fileio.DefaultReadOptions(),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		schema:      schema,
		logger:      logger.With("module", "marker"),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Report is what a worker knows about the step it ran.
type Report struct {
	WorkflowID        string
	StepID            string
	Agent             string
	Action            string
	WorkingCopyName   string
	WorkingCopyPath   string
	ExpectedArtifacts []string
	StartedAt         time.Time
	// ErrorType classifies a failure. It defaults to the Go type of the cause.
	ErrorType string
}

// Path is the file a marker of the given status lives in.
func (p *Protocol) Path(workflowID, stepID string, status models.MarkerStatus) string {
	return filepath.Join(p.layout.MarkerDir(workflowID, stepID), status.FileName())
}

// WriteDone atomically writes DONE.json. Expected artifacts are looked up relative to
// the working copy so the dispatcher can tell a partial completion apart.
func (p *Protocol) WriteDone(_ context.Context, r Report) (*models.CompletionMarker, error) {
	m := p.build(r, models.MarkerStatusCompleted)
	m.CompletedAt = m.Timestamp

	return m, p.write(m)
}

// WriteFailed atomically writes FAILED.json carrying the cause.
func (p *Protocol) WriteFailed(_ context.Context, r Report, cause error) (*models.CompletionMarker, error) {
	m := p.build(r, models.MarkerStatusFailed)
	m.FailedAt = m.Timestamp
	m.Error = "unknown error"
	m.ErrorType = r.ErrorType

	if cause != nil {
		m.Error = cause.Error()

		if m.ErrorType == "" {
			m.ErrorType = errorType(cause)
		}
	}

	return m, p.write(m)
}

func (p *Protocol) build(r Report, status models.MarkerStatus) *models.CompletionMarker {
	now := p.now()

	expected := r.ExpectedArtifacts
	if expected == nil {
		expected = []string{}
	}

	m := &models.CompletionMarker{
		WorkflowID:        r.WorkflowID,
		StepID:            r.StepID,
		Agent:             r.Agent,
		Action:            r.Action,
		Status:            status,
		Timestamp:         models.FormatTime(now),
		WorkingCopyName:   r.WorkingCopyName,
		WorkingCopyPath:   r.WorkingCopyPath,
		ExpectedArtifacts: expected,
		FoundArtifacts:    findArtifacts(r.WorkingCopyPath, expected),
	}

	if !r.StartedAt.IsZero() {
		m.StartedAt = models.FormatTime(r.StartedAt)
		m.DurationSeconds = max(now.Sub(r.StartedAt).Seconds(), 0)
	}

	return m
}

func (p *Protocol) write(m *models.CompletionMarker) error {
	if err := p.validate.Struct(m); err != nil {
		return fmt.Errorf("invalid marker: %w", err)
	}

	if err := checkIDs(m.WorkflowID, m.StepID); err != nil {
		return err
	}

	path := p.Path(m.WorkflowID, m.StepID, m.Status)

	if err := fileio.AtomicWrite(path, m); err != nil {
		return persistence.NewWorkflowErrorf("WriteMarker", m.WorkflowID, err, "step %s", m.StepID)
	}

	p.logger.Info("Wrote completion marker",
		"workflow_id", m.WorkflowID, "step_id", m.StepID, "status", m.Status, "missing_artifacts", len(m.MissingArtifacts()))

	return nil
}

// Exists is the poll primitive: a stat, no read and no parse.
func (p *Protocol) Exists(workflowID, stepID string, status models.MarkerStatus) bool {
	if checkIDs(workflowID, stepID) != nil {
		return false
	}

	_, err := os.Stat(p.Path(workflowID, stepID, status))

	return err == nil
}

// Read parses and validates a marker whose existence was observed. A missing marker
// is ErrMarkerNotFound; one that does not decode or match the marker schema is
// ErrMarkerCorrupt.
func (p *Protocol) Read(ctx context.Context, workflowID, stepID string, status models.MarkerStatus) (*models.CompletionMarker, error) {
	if err := checkIDs(workflowID, stepID); err != nil {
		return nil, err
	}

	var raw json.RawMessage

	res := fileio.SafeRead(ctx, p.Path(workflowID, stepID, status), &raw, p.readOptions)

	switch res.Outcome {
	case fileio.Available:
	case fileio.Missing:
		return nil, persistence.NewWorkflowErrorf("ReadMarker", workflowID, persistence.ErrMarkerNotFound, "%s for step %s", status.FileName(), stepID)
	case fileio.Truncated, fileio.Corrupt:
		return nil, persistence.NewWorkflowErrorf("ReadMarker", workflowID, persistence.ErrMarkerCorrupt, "%s for step %s is %s: %v", status.FileName(), stepID, res.Outcome, res.Err)
	default:
		return nil, persistence.NewWorkflowErrorf("ReadMarker", workflowID, res.Err, "%s for step %s", status.FileName(), stepID)
	}

	result, err := p.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, persistence.NewWorkflowErrorf("ReadMarker", workflowID, persistence.ErrMarkerCorrupt, "%s: %v", status.FileName(), err)
	}

	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}

		return nil, persistence.NewWorkflowErrorf("ReadMarker", workflowID, persistence.ErrMarkerCorrupt,
			"%s fails schema validation: %s", status.FileName(), strings.Join(problems, "; "))
	}

	var m models.CompletionMarker
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, persistence.NewWorkflowErrorf("ReadMarker", workflowID, persistence.ErrMarkerCorrupt, "%s: %v", status.FileName(), err)
	}

	if m.WorkflowID != workflowID || m.StepID != stepID || m.Status != status {
		return nil, persistence.NewWorkflowErrorf("ReadMarker", workflowID, persistence.ErrMarkerCorrupt,
			"%s belongs to %s/%s (%s)", status.FileName(), m.WorkflowID, m.StepID, m.Status)
	}

	if _, err := m.Time(); err != nil {
		return nil, persistence.NewWorkflowErrorf("ReadMarker", workflowID, persistence.ErrMarkerCorrupt, "%s timestamp: %v", status.FileName(), err)
	}

	return &m, nil
}

// Resolution is the outcome of a step as signalled by its markers.
type Resolution struct {
	Status models.MarkerStatus
	Marker *models.CompletionMarker
	// Superseded is the losing marker when both DONE and FAILED exist.
	Superseded *models.CompletionMarker
}

// Resolve reads whatever markers exist for the step and decides its outcome. It
// returns nil, nil while no usable marker exists. When both exist, DONE wins only if
// its timestamp is strictly later than FAILED's; otherwise the step failed. Corrupt
// markers are logged and treated as absent.
func (p *Protocol) Resolve(ctx context.Context, workflowID, stepID string) (*Resolution, error) {
	done, err := p.readUsable(ctx, workflowID, stepID, models.MarkerStatusCompleted)
	if err != nil {
		return nil, err
	}

	failed, err := p.readUsable(ctx, workflowID, stepID, models.MarkerStatusFailed)
	if err != nil {
		return nil, err
	}

	switch {
	case done == nil && failed == nil:
		return nil, nil
	case failed == nil:
		return &Resolution{Status: models.MarkerStatusCompleted, Marker: done}, nil
	case done == nil:
		return &Resolution{Status: models.MarkerStatusFailed, Marker: failed}, nil
	}

	// Both parsed, so both timestamps are valid.
	doneAt, _ := done.Time()
	failedAt, _ := failed.Time()

	p.logger.Warn("Both DONE and FAILED markers exist",
		"workflow_id", workflowID, "step_id", stepID, "done_at", done.Timestamp, "failed_at", failed.Timestamp)

	if doneAt.After(failedAt) {
		return &Resolution{Status: models.MarkerStatusCompleted, Marker: done, Superseded: failed}, nil
	}

	return &Resolution{Status: models.MarkerStatusFailed, Marker: failed, Superseded: done}, nil
}

func (p *Protocol) readUsable(ctx context.Context, workflowID, stepID string, status models.MarkerStatus) (*models.CompletionMarker, error) {
	m, err := p.Read(ctx, workflowID, stepID, status)

	switch {
	case err == nil:
		return m, nil
	case persistence.IsMarkerNotFound(err):
		return nil, nil
	case persistence.IsCorrupt(err):
		p.logger.Warn("Ignoring invalid completion marker", "workflow_id", workflowID, "step_id", stepID, "status", status, "error", err)

		return nil, nil
	default:
		return nil, err
	}
}

// Clear removes both markers of a step, e.g. before a worker is launched again.
func (p *Protocol) Clear(workflowID, stepID string) error {
	if err := checkIDs(workflowID, stepID); err != nil {
		return err
	}

	if err := os.RemoveAll(p.layout.MarkerDir(workflowID, stepID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return persistence.NewWorkflowErrorf("ClearMarkers", workflowID, err, "step %s", stepID)
	}

	return nil
}

func checkIDs(workflowID, stepID string) error {
	if err := fileio.ValidateName("workflow id", workflowID); err != nil {
		return fmt.Errorf("%w: %w", persistence.ErrInvalidID, err)
	}

	if err := fileio.ValidateName("step id", stepID); err != nil {
		return fmt.Errorf("%w: %w", persistence.ErrInvalidID, err)
	}

	return nil
}

func findArtifacts(base string, expected []string) []string {
	found := []string{}

	for _, artifact := range expected {
		path := artifact
		if !filepath.IsAbs(path) && base != "" {
			path = filepath.Join(base, path)
		}

		if _, err := os.Stat(path); err == nil {
			found = append(found, artifact)
		}
	}

	return found
}

func errorType(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}

		err = next
	}
}
