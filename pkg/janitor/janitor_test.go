package janitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/durable/pkg/checkpoint"
	"github.com/dukex/durable/pkg/log"
	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, store *file.EventStore, stateDir, workflowID string, ageDays int) string {
	t.Helper()

	ctx := context.Background()

	_, err := store.Append(ctx, &models.WorkflowEvent{WorkflowID: workflowID, EventType: models.EventWorkflowStarted})
	require.NoError(t, err)

	manager, err := checkpoint.NewManager(stateDir, workflowID, log.Discard())
	require.NoError(t, err)

	cp, err := manager.Save(ctx, checkpoint.Step{ID: "review", Number: 1, Output: "ok"})
	require.NoError(t, err)

	path := filepath.Join(manager.Dir(), cp.FileName())
	modTime := time.Now().Add(-time.Duration(ageDays) * 24 * time.Hour)
	require.NoError(t, os.Chtimes(path, modTime, modTime))

	return path
}

func TestJanitor_SweepRemovesExpiredCheckpoints(t *testing.T) {
	t.Parallel()

	stateDir := t.TempDir()
	store := file.NewEventStore(stateDir, log.Discard())

	old := seed(t, store, stateDir, "wf-old", 45)
	fresh := seed(t, store, stateDir, "wf-fresh", 2)

	j, err := New(store, stateDir, 30, 4, log.Discard())
	require.NoError(t, err)

	removed, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, int64(1), j.Removed())

	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)

	removed, err = j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestJanitor_SweepWithoutWorkflows(t *testing.T) {
	t.Parallel()

	stateDir := t.TempDir()

	j, err := New(file.NewEventStore(stateDir, log.Discard()), stateDir, 30, 0, log.Discard())
	require.NoError(t, err)

	removed, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestJanitor_RejectsNegativeRetention(t *testing.T) {
	t.Parallel()

	stateDir := t.TempDir()

	_, err := New(file.NewEventStore(stateDir, log.Discard()), stateDir, -1, 1, log.Discard())
	require.Error(t, err)
}

func TestJanitor_StartAndStop(t *testing.T) {
	t.Parallel()

	stateDir := t.TempDir()

	j, err := New(file.NewEventStore(stateDir, log.Discard()), stateDir, 30, 1, log.Discard())
	require.NoError(t, err)

	require.Error(t, j.Start(context.Background(), "not a schedule"))
	require.NoError(t, j.Stop(context.Background()))

	require.NoError(t, j.Start(context.Background(), "@daily"))
	require.Error(t, j.Start(context.Background(), "@daily"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, j.Stop(ctx))
}
