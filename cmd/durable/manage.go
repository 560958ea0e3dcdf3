package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/durable/pkg/cmd"
	"github.com/dukex/durable/pkg/eventbus"
	"github.com/dukex/durable/pkg/janitor"
	"github.com/dukex/durable/pkg/marker"
	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/persistence"
	"github.com/dukex/durable/pkg/workflow"
	"github.com/jedib0t/go-pretty/v6/table"
	cli "github.com/urfave/cli/v3"
)

func newCancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel a running or paused workflow",
		ArgsUsage: "<workflow-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "reason",
				Usage: "Reason recorded with the cancellation",
				Value: "cancelled by operator",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return withEngine(ctx, command, func(ctx context.Context, e *engine) error {
				args, err := requireArgs(command, "workflow-id")
				if err != nil {
					return err
				}

				wf, err := workflow.LoadFromCheckpoint(ctx, e.store, args[0], e.logger)
				if err != nil {
					return err
				}

				if err := wf.Cancel(ctx, command.String("reason")); err != nil {
					return err
				}

				fmt.Fprintf(command.Root().Writer, "Workflow %s cancelled; a process still driving it stops before its next step\n", wf.ID())

				return nil
			})
		},
	}
}

func newDeleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Delete every persisted file of a workflow",
		ArgsUsage: "<workflow-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Delete even if the workflow is still running",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return withEngine(ctx, command, func(ctx context.Context, e *engine) error {
				args, err := requireArgs(command, "workflow-id")
				if err != nil {
					return err
				}

				id := args[0]

				cp, err := e.store.LoadCheckpoint(ctx, id)
				if err != nil && !persistence.IsCorrupt(err) {
					return err
				}

				if cp != nil && cp.Status == models.WorkflowStatusRunning && !command.Bool("force") {
					return fmt.Errorf("workflow %s is running, cancel it first or pass --force", id)
				}

				if err := e.store.DeleteWorkflow(ctx, id); err != nil {
					return err
				}

				fmt.Fprintf(command.Root().Writer, "Workflow %s deleted\n", id)

				return nil
			})
		},
	}
}

func newCleanupCommand() *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Remove step checkpoints older than the retention period",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "retention-days",
				Usage:   "Keep step checkpoints modified within this many days",
				Sources: cli.EnvVars("DURABLE_CHECKPOINT_RETENTION_DAYS"),
			},
			&cli.BoolFlag{
				Name:  "daemon",
				Usage: "Keep running and clean up on the configured schedule",
			},
			&cli.StringFlag{
				Name:  "schedule",
				Usage: "Cron schedule used with --daemon (defaults to cleanup_schedule)",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return withEngine(ctx, command, func(ctx context.Context, e *engine) error {
				retention := e.cfg.CheckpointRetentionDays
				if command.IsSet("retention-days") {
					retention = command.Int("retention-days")
				}

				j, err := janitor.New(e.store, cmd.StateDir(e.cfg), retention, e.cfg.Concurrency, e.logger)
				if err != nil {
					return err
				}

				if !command.Bool("daemon") {
					removed, err := j.Sweep(ctx)
					if err != nil {
						return err
					}

					fmt.Fprintf(command.Root().Writer, "Removed %d step checkpoints older than %d days\n", removed, retention)

					return nil
				}

				schedule := e.cfg.CleanupSchedule
				if command.IsSet("schedule") {
					schedule = command.String("schedule")
				}

				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				if err := j.Start(ctx, schedule); err != nil {
					return err
				}

				<-ctx.Done()

				return j.Stop(context.WithoutCancel(ctx))
			})
		},
	}
}

func newWaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "wait",
		Usage:     "Wait for the completion marker of a dispatched step",
		ArgsUsage: "<workflow-id> <step-id>",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up after this long (defaults to marker_timeout)",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return withEngine(ctx, command, func(ctx context.Context, e *engine) error {
				args, err := requireArgs(command, "workflow-id", "step-id")
				if err != nil {
					return err
				}

				protocol, err := cmd.NewMarkerProtocol(e.cfg, e.logger)
				if err != nil {
					return err
				}

				timeout := e.cfg.MarkerTimeout
				if command.IsSet("timeout") {
					timeout = command.Duration("timeout")
				}

				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				res, err := marker.NewDispatcher(protocol, e.cfg.PollInterval, timeout, e.logger).Wait(ctx, args[0], args[1])
				if err != nil {
					return err
				}

				printResolution(command, res)

				if res.Status == models.MarkerStatusFailed {
					return cli.Exit("", 1)
				}

				return nil
			})
		},
	}
}

func printResolution(command *cli.Command, res *marker.Resolution) {
	m := res.Marker

	tw := newTable(command.Root().Writer)
	tw.AppendRow(table.Row{"Step", m.StepID})
	tw.AppendRow(table.Row{"Status", m.Status})
	tw.AppendRow(table.Row{"At", m.Timestamp})
	tw.AppendRow(table.Row{"Agent", m.Agent})
	tw.AppendRow(table.Row{"Working copy", m.WorkingCopyName})
	tw.AppendRow(table.Row{"Duration", fmt.Sprintf("%.1fs", m.DurationSeconds)})
	tw.AppendRow(table.Row{"Artifacts", fmt.Sprintf("%d/%d", len(m.FoundArtifacts), len(m.ExpectedArtifacts))})

	if m.Error != "" {
		tw.AppendRow(table.Row{"Error", fmt.Sprintf("%s (%s)", m.Error, m.ErrorType)})
	}

	if res.Superseded != nil {
		tw.AppendRow(table.Row{"Superseded", fmt.Sprintf("%s at %s", res.Superseded.Status, res.Superseded.Timestamp)})
	}

	tw.Render()
}

func newWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Print progress notifications published to Kafka by other processes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "workflow",
				Usage: "Only show notifications of this workflow",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return withEngine(ctx, command, func(ctx context.Context, e *engine) error {
				sub, err := cmd.NewRemoteSubscriber(e.cfg, e.logger)
				if err != nil {
					return err
				}

				defer func() {
					if err := sub.Close(); err != nil {
						e.logger.ErrorContext(ctx, "Failed to close subscriber", "error", err)
					}
				}()

				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				var handler eventbus.NotificationHandler = printNotification(command.Root().Writer)

				if err := eventbus.Subscribe(ctx, sub, command.String("workflow"), handler, e.logger); err != nil {
					return err
				}

				<-ctx.Done()

				return nil
			})
		},
	}
}
