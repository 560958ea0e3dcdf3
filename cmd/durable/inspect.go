package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/dukex/durable/pkg/checkpoint"
	"github.com/dukex/durable/pkg/cmd"
	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/persistence"
	"github.com/dukex/durable/pkg/workflow"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	cli "github.com/urfave/cli/v3"
)

func newListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List resumable workflows",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "all",
				Aliases: []string{"a"},
				Usage:   "Include completed, failed and cancelled workflows",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print JSON instead of a table",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return withEngine(ctx, command, func(ctx context.Context, e *engine) error {
				handles, err := e.handles(ctx, command.Bool("all"))
				if err != nil {
					return err
				}

				out := command.Root().Writer

				if command.Bool("json") {
					return printJSON(out, handles)
				}

				tw := newTable(out, "ID", "Name", "Status", "Last step", "Next", "Updated")

				for _, h := range handles {
					tw.AppendRow(table.Row{
						h.WorkflowID, h.WorkflowName, colorStatus(h.Status),
						stepLabel(h.StepIndex, h.StepName), h.StepIndex + 1, ago(h.CreatedAt),
					})
				}

				tw.AppendFooter(table.Row{"", "", "", "", "Total", len(handles)})
				tw.Render()

				return nil
			})
		},
	}
}

func (e *engine) handles(ctx context.Context, all bool) ([]models.ResumeHandle, error) {
	if !all {
		return e.store.ResumableWorkflows(ctx)
	}

	ids, err := e.store.ListWorkflows(ctx)
	if err != nil {
		return nil, err
	}

	handles := make([]models.ResumeHandle, 0, len(ids))

	for _, id := range ids {
		cp, err := e.store.LoadCheckpoint(ctx, id)
		if err != nil {
			e.logger.WarnContext(ctx, "Skipping workflow with unreadable checkpoint", "workflow_id", id, "error", err)

			continue
		}

		if cp != nil {
			handles = append(handles, cp.Handle())
		}
	}

	sort.SliceStable(handles, func(i, j int) bool {
		return handles[i].CreatedAt > handles[j].CreatedAt
	})

	return handles, nil
}

func newStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the checkpointed state of a workflow",
		ArgsUsage: "<workflow-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verify",
				Usage: "Replay the event log and compare it with the checkpoint",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the checkpoint as JSON",
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
				if err != nil {
					return err
				}

				if cp == nil {
					return persistence.NewWorkflowError("Status", id, persistence.ErrWorkflowNotFound)
				}

				out := command.Root().Writer

				if command.Bool("json") {
					if err := printJSON(out, cp); err != nil {
						return err
					}
				} else {
					e.printStatus(ctx, command, cp)
				}

				if command.Bool("verify") {
					return e.verify(ctx, command, cp)
				}

				return nil
			})
		},
	}
}

func (e *engine) printStatus(ctx context.Context, command *cli.Command, cp *models.WorkflowCheckpoint) {
	out := command.Root().Writer
	info := workflow.ResumeInfoFor(cp, e.cfg.ResumeCommand)

	tw := newTable(out)
	tw.AppendRow(table.Row{"Workflow", cp.WorkflowID})
	tw.AppendRow(table.Row{"Name", cp.WorkflowName})
	tw.AppendRow(table.Row{"Status", colorStatus(cp.Status)})
	tw.AppendRow(table.Row{"Last step", stepLabel(cp.StepIndex, cp.StepName)})
	tw.AppendRow(table.Row{"Updated", ago(cp.CreatedAt)})
	tw.AppendRow(table.Row{"Events", cp.SequenceNumber})
	tw.AppendRow(table.Row{"Outputs", len(cp.Outputs)})
	tw.AppendRow(table.Row{"Artifacts", len(cp.Artifacts)})

	if cp.PauseReason != "" {
		tw.AppendRow(table.Row{"Paused", cp.PauseReason})
	}

	if cp.Error != "" {
		tw.AppendRow(table.Row{"Failed step", cp.FailedStep})
		tw.AppendRow(table.Row{"Error", cp.Error})
	}

	if info.CanResume {
		tw.AppendRow(table.Row{"Next step", info.NextStepIndex})
		tw.AppendRow(table.Row{"Resume with", info.ResumeCommand})
	} else {
		tw.AppendRow(table.Row{"Resumable", info.Reason})
	}

	tw.Render()

	manager, err := checkpoint.NewManager(cmd.StateDir(e.cfg), cp.WorkflowID, e.logger, checkpoint.WithReadOptions(e.cfg.Read.Options()))
	if err != nil {
		return
	}

	stepCheckpoints, err := manager.List(ctx)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to list step checkpoints", "workflow_id", cp.WorkflowID, "error", err)

		return
	}

	if len(stepCheckpoints) == 0 {
		return
	}

	fmt.Fprintln(out)

	steps := newTable(out, "#", "Step", "Completed", "Artifacts", "Size")

	for _, sc := range stepCheckpoints {
		var size int64
		for _, artifact := range sc.Artifacts {
			size += artifact.Size
		}

		steps.AppendRow(table.Row{sc.StepNumber, sc.StepName, ago(sc.CompletedAt), len(sc.Artifacts), humanize.Bytes(uint64(size))}) // #nosec G115 -- sizes are never negative
	}

	steps.Render()
}

// verify rebuilds the checkpoint from the events it covers and reports any field in
// which the two disagree.
func (e *engine) verify(ctx context.Context, command *cli.Command, cp *models.WorkflowCheckpoint) error {
	events, err := e.store.ReadAll(ctx, cp.WorkflowID)
	if err != nil {
		return err
	}

	replayed, err := workflow.ReplayUntil(cp.WorkflowID, events, cp.SequenceNumber)
	if err != nil {
		return err
	}

	out := command.Root().Writer

	diffs := workflow.Diff(cp, replayed)
	if len(diffs) == 0 {
		fmt.Fprintf(out, "\nCheckpoint matches %d replayed events\n", len(events))

		return nil
	}

	fmt.Fprintln(out, "\nCheckpoint differs from the event log:")

	for _, diff := range diffs {
		fmt.Fprintln(out, "  -", diff)
	}

	return cli.Exit("checkpoint verification failed", 4)
}

func newEventsCommand() *cli.Command {
	return &cli.Command{
		Name:      "events",
		Usage:     "Print the event log of a workflow",
		ArgsUsage: "<workflow-id>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "Only show events of these types, e.g. StepCompleted",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the events as JSON",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return withEngine(ctx, command, func(ctx context.Context, e *engine) error {
				args, err := requireArgs(command, "workflow-id")
				if err != nil {
					return err
				}

				all, err := e.store.ReadAll(ctx, args[0])
				if err != nil {
					return err
				}

				if len(all) == 0 {
					return persistence.NewWorkflowError("Events", args[0], persistence.ErrWorkflowNotFound)
				}

				filtered := filterEvents(all, command.StringSlice("type"))
				out := command.Root().Writer

				if command.Bool("json") {
					return printJSON(out, filtered)
				}

				tw := newTable(out, "Seq", "When", "Event", "Step", "Detail")

				for _, event := range filtered {
					step := "-"
					if index, ok := event.Int(models.DataStepIndex); ok {
						step = stepLabel(index, event.String(models.DataStepName))
					}

					tw.AppendRow(table.Row{event.SequenceNumber, ago(event.Timestamp), event.EventType, step, eventDetail(event)})
				}

				tw.Render()

				return nil
			})
		},
	}
}

func filterEvents(events []*models.WorkflowEvent, types []string) []*models.WorkflowEvent {
	if len(types) == 0 {
		return events
	}

	wanted := make(map[models.EventType]bool, len(types))
	for _, t := range types {
		wanted[models.EventType(t)] = true
	}

	filtered := make([]*models.WorkflowEvent, 0, len(events))

	for _, event := range events {
		if wanted[event.EventType] {
			filtered = append(filtered, event)
		}
	}

	return filtered
}
