package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dukex/durable/pkg/cmd"
	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/steps"
	"github.com/dukex/durable/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

// definitionMetadataKey records the definition file a workflow was started from, so
// it can be resumed without naming the file again.
const definitionMetadataKey = "durable.definition"

func executionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "file",
			Aliases: []string{"f"},
			Usage:   "Workflow definition file (YAML)",
		},
		&cli.BoolFlag{
			Name:  "follow",
			Usage: "Print progress notifications as they are emitted",
		},
		&cli.DurationFlag{
			Name:    "step-timeout",
			Usage:   "Default time budget of one step (0 disables it)",
			Sources: cli.EnvVars("DURABLE_STEP_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "total-timeout",
			Usage:   "Time budget of this run; the workflow pauses when it runs out (0 disables it)",
			Sources: cli.EnvVars("DURABLE_TOTAL_TIMEOUT"),
		},
	}
}

func newRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start a workflow from a definition file",
		Flags: append(executionFlags(),
			&cli.StringFlag{
				Name:  "id",
				Usage: "Workflow id (derived from the definition name when empty)",
			},
			&cli.StringSliceFlag{
				Name:    "meta",
				Aliases: []string{"m"},
				Usage:   "Workflow metadata as key=value, repeatable",
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			return withEngine(ctx, command, func(ctx context.Context, e *engine) error {
				path := command.String("file")
				if path == "" {
					return fmt.Errorf("usage: %s run -f <definition.yaml>", command.Root().Name)
				}

				def, err := steps.LoadDefinition(path)
				if err != nil {
					return err
				}

				metadata, err := parseMetadata(command.StringSlice("meta"))
				if err != nil {
					return err
				}

				if abs, err := filepath.Abs(path); err == nil {
					metadata[definitionMetadataKey] = abs
				}

				id := command.String("id")
				if id == "" {
					id = newWorkflowID(def.Name)
				}

				return e.drive(ctx, command, def, path, id, func(ctx context.Context, exec *workflow.Executor, stepList []workflow.Step) (*workflow.Result, error) {
					wf := workflow.New(e.store, id, def.Name, e.logger, exec.WorkflowOptions()...)

					return exec.Run(ctx, wf, stepList, metadata)
				})
			})
		},
	}
}

func newResumeCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "Continue a paused workflow from its last checkpoint",
		ArgsUsage: "<workflow-id>",
		Flags:     executionFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			return withEngine(ctx, command, func(ctx context.Context, e *engine) error {
				args, err := requireArgs(command, "workflow-id")
				if err != nil {
					return err
				}

				id := args[0]

				path := command.String("file")
				if path == "" {
					path, err = e.definitionOf(ctx, id)
					if err != nil {
						return err
					}
				}

				def, err := steps.LoadDefinition(path)
				if err != nil {
					return err
				}

				return e.drive(ctx, command, def, path, id, func(ctx context.Context, exec *workflow.Executor, stepList []workflow.Step) (*workflow.Result, error) {
					return exec.Resume(ctx, id, stepList)
				})
			})
		},
	}
}

// definitionOf finds the definition file a workflow was started from.
func (e *engine) definitionOf(ctx context.Context, workflowID string) (string, error) {
	cp, err := e.store.LoadCheckpoint(ctx, workflowID)
	if err != nil {
		return "", err
	}

	if cp == nil {
		return "", fmt.Errorf("%w: no checkpoint for workflow %s", workflow.ErrNotResumable, workflowID)
	}

	path, _ := cp.Metadata[definitionMetadataKey].(string)
	if path == "" {
		return "", fmt.Errorf("workflow %s does not record its definition file, pass it with --file", workflowID)
	}

	return path, nil
}

type startFunc func(ctx context.Context, exec *workflow.Executor, steps []workflow.Step) (*workflow.Result, error)

// drive wires the executor for one run. SIGINT and SIGTERM interrupt the run, which
// pauses the workflow at its last checkpoint.
func (e *engine) drive(ctx context.Context, command *cli.Command, def *steps.Definition, path, workflowID string, start startFunc) error {
	flush, err := cmd.SetupTracing(ctx, e.cfg, "durable", e.logger)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer flush(context.WithoutCancel(ctx))

	progress, err := cmd.NewProgress(e.cfg, e.logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := progress.Close(); err != nil {
			e.logger.ErrorContext(ctx, "Failed to close progress transport", "error", err)
		}
	}()

	dispatcher, err := cmd.NewDispatcher(e.cfg, e.logger)
	if err != nil {
		return err
	}

	stepList, err := steps.Build(def, steps.BuildOptions{
		Dispatcher: dispatcher,
		StateDir:   cmd.StateDir(e.cfg),
		Logger:     e.logger,
	})
	if err != nil {
		return err
	}

	out := command.Root().Writer

	if command.Bool("follow") {
		if err := progress.Follow(ctx, workflowID, printNotification(out), e.logger); err != nil {
			return fmt.Errorf("failed to follow progress: %w", err)
		}
	}

	exec := cmd.NewExecutor(e.cfg, e.store, progress.Notifier, filepath.Dir(path), e.logger)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := start(runCtx, exec, stepList)
	if result != nil {
		printResult(out, result)
	}

	if err != nil {
		return err
	}

	if result.Status == models.WorkflowStatusCancelled {
		return cli.Exit("workflow was cancelled", 3)
	}

	if result.Status == models.WorkflowStatusPaused {
		return cli.Exit("", 2)
	}

	return nil
}
