package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/attribute"
)

// killGrace is how long an interrupted command may take to exit.
const killGrace = 10 * time.Second

func newExecCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "Run a command in the working copy, then write DONE.json or FAILED.json",
		ArgsUsage: "-- <command> [args...]",
		Action: func(ctx context.Context, command *cli.Command) error {
			args := command.Args().Slice()
			if len(args) == 0 {
				return errors.New("usage: durable-worker exec -- <command> [args...]")
			}

			w, err := newWorker(command, strings.Join(args, " "))
			if err != nil {
				return err
			}

			if command.Bool("tracing") {
				tp, err := otelhelper.NewTracerProvider(ctx, "durable-worker")
				if err != nil {
					return fmt.Errorf("failed to set up tracing: %w", err)
				}

				defer func() {
					if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
						w.logger.Error("Failed to flush traces", "error", err)
					}
				}()
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return w.run(ctx, args)
		},
	}
}

// run executes the command and reports its outcome. An interrupted command leaves no
// marker: the step was not finished, and the orchestrator keeps waiting for one.
func (w *worker) run(ctx context.Context, args []string) error {
	ctx, span := otelhelper.StartSpan(ctx, otelhelper.Tracer(), "worker.exec",
		attribute.String(otelhelper.WorkflowIDKey, w.report.WorkflowID),
		attribute.String(otelhelper.StepNameKey, w.report.StepID),
		attribute.String(otelhelper.WorkerIDKey, w.id),
	)
	defer span.End()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) // #nosec G204 -- the command is the worker's argument
	cmd.Dir = w.report.WorkingCopyPath
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.WaitDelay = killGrace

	w.logger.InfoContext(ctx, "Running step", "args", args, "working_copy", cmd.Dir)

	runErr := cmd.Run()

	if ctx.Err() != nil {
		w.logger.WarnContext(ctx, "Step interrupted, no marker written")
		otelhelper.SetError(span, ctx.Err())

		return ctx.Err()
	}

	if runErr != nil {
		span.SetAttributes(attribute.String(otelhelper.MarkerStatusKey, string(models.MarkerStatusFailed)))
		otelhelper.SetError(span, runErr)

		if err := w.failed(ctx, runErr); err != nil {
			return errors.Join(runErr, err)
		}

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return cli.Exit(fmt.Sprintf("%s: %v", args[0], runErr), exitErr.ExitCode())
		}

		return runErr
	}

	span.SetAttributes(attribute.String(otelhelper.MarkerStatusKey, string(models.MarkerStatusCompleted)))

	return w.done(ctx)
}
