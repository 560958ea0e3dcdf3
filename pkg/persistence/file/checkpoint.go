package file

import (
	"context"
	"sort"
	"sync"

	"github.com/dukex/durable/pkg/fileio"
	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/persistence"
	"golang.org/x/sync/errgroup"
)

// SaveCheckpoint atomically replaces the workflow's checkpoint.
func (s *EventStore) SaveCheckpoint(_ context.Context, checkpoint *models.WorkflowCheckpoint) error {
	if err := s.validateID("SaveCheckpoint", checkpoint.WorkflowID); err != nil {
		return err
	}

	checkpoint.Normalize()

	if err := fileio.AtomicWrite(s.layout.CheckpointPath(checkpoint.WorkflowID), checkpoint); err != nil {
		return persistence.NewWorkflowError("SaveCheckpoint", checkpoint.WorkflowID, err)
	}

	return nil
}

// LoadCheckpoint reads the workflow's checkpoint. It returns nil, nil when none exists
// and an ErrCheckpointCorrupt error when one exists but cannot be trusted. A checkpoint
// below the minimum size counts as corrupt: checkpoints are only ever written by rename.
func (s *EventStore) LoadCheckpoint(ctx context.Context, workflowID string) (*models.WorkflowCheckpoint, error) {
	if err := s.validateID("LoadCheckpoint", workflowID); err != nil {
		return nil, err
	}

	var checkpoint models.WorkflowCheckpoint

	res := fileio.SafeRead(ctx, s.layout.CheckpointPath(workflowID), &checkpoint, s.readOptions)

	switch res.Outcome {
	case fileio.Available:
	case fileio.Missing:
		return nil, nil
	case fileio.Truncated, fileio.Corrupt:
		return nil, persistence.NewWorkflowErrorf("LoadCheckpoint", workflowID, persistence.ErrCheckpointCorrupt,
			"%s after %d attempts: %v", res.Outcome, res.Attempts, res.Err)
	default:
		return nil, persistence.NewWorkflowErrorf("LoadCheckpoint", workflowID, res.Err, "%s", res.Outcome)
	}

	if checkpoint.WorkflowID != workflowID || !checkpoint.Status.Valid() {
		return nil, persistence.NewWorkflowErrorf("LoadCheckpoint", workflowID, persistence.ErrCheckpointCorrupt,
			"checkpoint names workflow %q with status %q", checkpoint.WorkflowID, checkpoint.Status)
	}

	checkpoint.Normalize()

	return &checkpoint, nil
}

// ResumableWorkflows loads every checkpoint with bounded concurrency and returns the
// Paused and Running ones, oldest first. Unreadable checkpoints are logged and skipped.
func (s *EventStore) ResumableWorkflows(ctx context.Context) ([]models.ResumeHandle, error) {
	ids, err := s.ListWorkflows(ctx)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex

	handles := make([]models.ResumeHandle, 0, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, id := range ids {
		g.Go(func() error {
			checkpoint, err := s.LoadCheckpoint(gctx, id)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}

				s.logger.Warn("Skipping workflow with unreadable checkpoint", "workflow_id", id, "error", err)

				return nil
			}

			if checkpoint == nil || !checkpoint.Status.IsResumable() {
				return nil
			}

			mu.Lock()
			handles = append(handles, checkpoint.Handle())
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(handles, func(i, j int) bool {
		if handles[i].CreatedAt != handles[j].CreatedAt {
			return handles[i].CreatedAt < handles[j].CreatedAt
		}

		return handles[i].WorkflowID < handles[j].WorkflowID
	})

	return handles, nil
}
