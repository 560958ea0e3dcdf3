// Package janitor removes expired step checkpoints across every workflow in a state
// directory, once or on a cron schedule.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/dukex/durable/pkg/checkpoint"
	"github.com/dukex/durable/pkg/persistence"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Janitor applies the step checkpoint retention policy.
type Janitor struct {
	store         persistence.EventStore
	stateDir      string
	retentionDays int
	concurrency   int
	logger        *slog.Logger
	cron          *cron.Cron
	removed       atomic.Int64
}

// New returns a janitor for the workflows of store, whose step checkpoints live under
// stateDir. Checkpoints older than retentionDays are removed.
func New(store persistence.EventStore, stateDir string, retentionDays, concurrency int, logger *slog.Logger) (*Janitor, error) {
	if retentionDays < 0 {
		return nil, fmt.Errorf("retention days must not be negative, got %d", retentionDays)
	}

	if concurrency < 1 {
		concurrency = 1
	}

	return &Janitor{
		store:         store,
		stateDir:      stateDir,
		retentionDays: retentionDays,
		concurrency:   concurrency,
		logger:        logger.With("module", "janitor", "retention_days", retentionDays),
	}, nil
}

// Sweep runs one cleanup pass and returns the number of removed files. A workflow
// whose checkpoints cannot be cleaned is logged and does not stop the pass.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	ids, err := j.store.ListWorkflows(ctx)
	if err != nil {
		return 0, fmt.Errorf("list workflows: %w", err)
	}

	var removed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)

	for _, id := range ids {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			manager, err := checkpoint.NewManager(j.stateDir, id, j.logger)
			if err != nil {
				j.logger.Warn("Skipping workflow", "workflow_id", id, "error", err)

				return nil
			}

			n, err := manager.CleanupOldCheckpoints(gctx, j.retentionDays)
			removed.Add(int64(n))

			if err != nil {
				j.logger.Warn("Failed to clean step checkpoints", "workflow_id", id, "error", err)
			}

			return nil
		})
	}

	err = g.Wait()
	total := int(removed.Load())
	j.removed.Add(int64(total))

	j.logger.Info("Checkpoint sweep finished", "workflows", len(ids), "removed", total)

	return total, err
}

// Removed is the number of files removed since the janitor was created.
func (j *Janitor) Removed() int64 {
	return j.removed.Load()
}

// Start sweeps on the given standard cron schedule until Stop. Overlapping runs are
// skipped.
func (j *Janitor) Start(ctx context.Context, schedule string) error {
	if j.cron != nil {
		return errors.New("janitor already started")
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(j.logger.Handler(), slog.LevelWarn))

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	))

	id, err := c.AddFunc(schedule, func() {
		if _, err := j.Sweep(ctx); err != nil {
			j.logger.Error("Checkpoint sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	j.logger.Info("Starting janitor", "schedule", schedule, "entry_id", id)

	j.cron = c
	j.cron.Start()

	return nil
}

// Stop prevents further sweeps and waits for a running one to finish or ctx to end.
func (j *Janitor) Stop(ctx context.Context) error {
	if j.cron == nil {
		return nil
	}

	j.logger.Info("Stopping janitor")

	select {
	case <-j.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
