package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/durable/pkg/fileio"
	"github.com/dukex/durable/pkg/log"
	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()

	opts = append([]Option{WithReadOptions(fileio.ReadOptions{MinSize: 1})}, opts...)

	m, err := NewManager(t.TempDir(), "wf-1", log.Discard(), opts...)
	require.NoError(t, err)

	return m
}

func save(t *testing.T, m *Manager, id string, number int, output any) *models.StepCheckpoint {
	t.Helper()

	cp, err := m.Save(context.Background(), Step{ID: id, Number: number, Output: output})
	require.NoError(t, err)

	return cp
}

func TestNewManager_RejectsUnsafeWorkflowID(t *testing.T) {
	t.Parallel()

	_, err := NewManager(t.TempDir(), "../etc", log.Discard())
	require.ErrorIs(t, err, persistence.ErrInvalidID)
}

func TestManager_SaveWritesSealedFile(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	cp, err := m.Save(context.Background(), Step{
		ID:       "review",
		Number:   1,
		Name:     "Review code",
		Output:   map[string]any{"issues": 2},
		Metadata: map[string]any{"agent": "reviewer"},
	})
	require.NoError(t, err)

	assert.Equal(t, "wf-1", cp.WorkflowID)
	assert.Equal(t, "Review code", cp.StepName)
	assert.NotEmpty(t, cp.Checksum)
	assert.True(t, cp.Validate())

	path := filepath.Join(m.Dir(), "step1-review.json")
	require.FileExists(t, path)

	var onDisk models.StepCheckpoint

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.True(t, onDisk.Validate())
}

func TestManager_LargeIntegersSurviveValidation(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := context.Background()

	save(t, m, "plan", 1, map[string]any{"id": int64(9007199254740993), "ns": uint64(1767225600123456789)})

	cp, err := m.Load(ctx, "", 0)
	require.NoError(t, err)
	assert.True(t, cp.Validate())
	assert.Equal(t, map[string]any{
		"id": json.Number("9007199254740993"),
		"ns": json.Number("1767225600123456789"),
	}, cp.StepOutput)

	listed, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestManager_SaveValidatesInput(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	_, err := m.Save(context.Background(), Step{ID: "a/b", Number: 1})
	require.ErrorIs(t, err, persistence.ErrInvalidID)

	_, err = m.Save(context.Background(), Step{ID: "review", Number: 0})
	require.Error(t, err)
}

func TestManager_Load(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := context.Background()

	save(t, m, "review", 1, "r1")
	save(t, m, "plan", 2, "p2")
	save(t, m, "implement", 3, "i3")
	save(t, m, "review", 4, "r4")

	tests := []struct {
		name       string
		stepID     string
		stepNumber int
		wantOutput any
	}{
		{"latest when nothing given", "", 0, "r4"},
		{"exact file", "plan", 2, "p2"},
		{"by number", "", 3, "i3"},
		{"highest number for an id", "review", 0, "r4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp, err := m.Load(ctx, tt.stepID, tt.stepNumber)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutput, cp.StepOutput)
		})
	}
}

func TestManager_LoadDistinguishesMissingFromCorrupt(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Load(ctx, "", 0)
	require.ErrorIs(t, err, persistence.ErrCheckpointNotFound)

	save(t, m, "review", 1, "ok")

	_, err = m.Load(ctx, "plan", 0)
	require.ErrorIs(t, err, persistence.ErrCheckpointNotFound)

	tamper(t, filepath.Join(m.Dir(), "step1-review.json"), func(cp *models.StepCheckpoint) {
		cp.StepOutput = "tampered"
	})

	_, err = m.Load(ctx, "review", 1)
	require.ErrorIs(t, err, persistence.ErrCheckpointCorrupt)
	assert.False(t, persistence.IsCheckpointNotFound(err))

	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), "step2-plan.json"), []byte("{\"stepId\":"), 0o600))

	_, err = m.Load(ctx, "plan", 2)
	require.ErrorIs(t, err, persistence.ErrCheckpointCorrupt)
}

func TestManager_ListSkipsInvalidAndSortsByNumber(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := context.Background()

	checkpoints, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, checkpoints)

	save(t, m, "implement", 3, "i")
	save(t, m, "review", 1, "r")
	save(t, m, "plan", 2, "p")
	save(t, m, "test", 10, "t")

	tamper(t, filepath.Join(m.Dir(), "step2-plan.json"), func(cp *models.StepCheckpoint) {
		cp.StepNumber = 7
	})

	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), "notes.txt"), []byte("ignored"), 0o600))

	checkpoints, err = m.List(ctx)
	require.NoError(t, err)
	require.Len(t, checkpoints, 3)

	assert.Equal(t, 1, checkpoints[0].StepNumber)
	assert.Equal(t, 3, checkpoints[1].StepNumber)
	assert.Equal(t, 10, checkpoints[2].StepNumber)
}

func TestManager_CleanupOldCheckpoints(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	save(t, m, "review", 1, "old")
	save(t, m, "plan", 2, "fresh")

	old := now.Add(-40 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(m.Dir(), "step1-review.json"), old, old))

	fresh := now.Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(m.Dir(), "step2-plan.json"), fresh, fresh))

	removed, err := m.CleanupOldCheckpoints(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, filepath.Join(m.Dir(), "step1-review.json"))
	assert.FileExists(t, filepath.Join(m.Dir(), "step2-plan.json"))

	_, err = m.CleanupOldCheckpoints(context.Background(), -1)
	require.Error(t, err)
}

func TestManager_DescribesArtifactsOnDisk(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "plan.md"), []byte("# plan\n"), 0o600))

	m := newTestManager(t, WithArtifactRoot(root))

	cp, err := m.Save(context.Background(), Step{
		ID:     "plan",
		Number: 1,
		Artifacts: map[string]models.Artifact{
			"plan":    {Path: "plan.md", Type: "markdown"},
			"missing": {Path: "nowhere.md"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(7), cp.Artifacts["plan"].Size)
	assert.Len(t, cp.Artifacts["plan"].Checksum, 64)
	assert.Empty(t, cp.Artifacts["missing"].Checksum)
}

func tamper(t *testing.T, path string, mutate func(*models.StepCheckpoint)) {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var cp models.StepCheckpoint
	require.NoError(t, json.Unmarshal(data, &cp))

	mutate(&cp)

	data, err = json.Marshal(cp)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}
