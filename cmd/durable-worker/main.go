package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/durable/pkg/log"
	"github.com/dukex/durable/pkg/steps"
	cli "github.com/urfave/cli/v3"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:                  "durable-worker",
		EnableShellCompletion: true,
		Usage:                 "Run a dispatched workflow step and report it with a completion marker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "state-dir",
				Usage:   "State directory of the orchestrator",
				Value:   ".durable",
				Sources: cli.EnvVars(steps.EnvStateDir),
			},
			&cli.StringFlag{
				Name:    "workflow-id",
				Usage:   "Workflow the step belongs to",
				Sources: cli.EnvVars(steps.EnvWorkflowID),
			},
			&cli.StringFlag{
				Name:    "step-id",
				Usage:   "Step to report on",
				Sources: cli.EnvVars(steps.EnvStepID),
			},
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Worker ID recorded as the marker's agent (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:    "working-copy",
				Aliases: []string{"w"},
				Usage:   "Directory the step works in (defaults to the current directory)",
				Sources: cli.EnvVars("DURABLE_WORKING_COPY"),
			},
			&cli.StringSliceFlag{
				Name:    "artifact",
				Aliases: []string{"a"},
				Usage:   "File the step is expected to produce, relative to the working copy; repeatable",
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("DURABLE_TRACING"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			newExecCommand(),
			newMarkCommand(),
		},
	}
}
