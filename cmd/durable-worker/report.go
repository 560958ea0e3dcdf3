package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dukex/durable/pkg/log"
	"github.com/dukex/durable/pkg/marker"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

// worker carries what both subcommands need to write a marker.
type worker struct {
	id       string
	protocol *marker.Protocol
	report   marker.Report
	logger   *slog.Logger
}

func newWorker(command *cli.Command, action string) (*worker, error) {
	workflowID := command.String("workflow-id")
	stepID := command.String("step-id")

	if workflowID == "" || stepID == "" {
		return nil, errors.New("--workflow-id and --step-id are required (or DURABLE_WORKFLOW_ID and DURABLE_STEP_ID)")
	}

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	workingCopy := command.String("working-copy")
	if workingCopy == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working copy: %w", err)
		}

		workingCopy = wd
	}

	workingCopy, err := filepath.Abs(workingCopy)
	if err != nil {
		return nil, fmt.Errorf("resolve working copy: %w", err)
	}

	logger := log.WithModule("durable-worker").With("worker_id", workerID, "workflow_id", workflowID, "step_id", stepID)

	protocol, err := marker.New(command.String("state-dir"), logger)
	if err != nil {
		return nil, err
	}

	return &worker{
		id:       workerID,
		protocol: protocol,
		logger:   logger,
		report: marker.Report{
			WorkflowID:        workflowID,
			StepID:            stepID,
			Agent:             workerID,
			Action:            action,
			WorkingCopyName:   filepath.Base(workingCopy),
			WorkingCopyPath:   workingCopy,
			ExpectedArtifacts: command.StringSlice("artifact"),
			StartedAt:         time.Now(),
		},
	}, nil
}

func (w *worker) done(ctx context.Context) error {
	m, err := w.protocol.WriteDone(ctx, w.report)
	if err != nil {
		return err
	}

	if missing := m.MissingArtifacts(); len(missing) > 0 {
		w.logger.WarnContext(ctx, "Step finished without every expected artifact", "missing", missing)
	}

	return nil
}

func (w *worker) failed(ctx context.Context, cause error) error {
	_, err := w.protocol.WriteFailed(ctx, w.report, cause)

	return err
}
