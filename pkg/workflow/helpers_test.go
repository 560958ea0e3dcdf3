package workflow

import (
	"context"
	"testing"

	"github.com/dukex/durable/pkg/fileio"
	"github.com/dukex/durable/pkg/log"
	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/persistence/file"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *file.EventStore {
	t.Helper()

	return newStoreAt(t.TempDir())
}

func newStoreAt(root string) *file.EventStore {
	return file.NewEventStore(root, log.Discard(), file.WithReadOptions(fileio.ReadOptions{MinSize: 1}))
}

func readEvents(t *testing.T, store *file.EventStore, workflowID string) []*models.WorkflowEvent {
	t.Helper()

	events, err := store.ReadAll(context.Background(), workflowID)
	require.NoError(t, err)

	return events
}

func eventTypes(t *testing.T, store *file.EventStore, workflowID string) []models.EventType {
	t.Helper()

	var types []models.EventType
	for _, e := range readEvents(t, store, workflowID) {
		types = append(types, e.EventType)
	}

	return types
}

func loadCheckpoint(t *testing.T, store *file.EventStore, workflowID string) *models.WorkflowCheckpoint {
	t.Helper()

	cp, err := store.LoadCheckpoint(context.Background(), workflowID)
	require.NoError(t, err)
	require.NotNil(t, cp)

	return cp
}

func startedWorkflow(t *testing.T, store *file.EventStore, id string, opts ...Option) *Workflow {
	t.Helper()

	wf := New(store, id, "demo", log.Discard(), opts...)
	require.NoError(t, wf.Start(context.Background(), map[string]any{"ticket": "T-1"}))

	return wf
}
