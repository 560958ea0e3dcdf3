package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/durable/pkg/log"
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
		Name:                  "durable",
		EnableShellCompletion: true,
		Usage:                 "Run multi-step workflows that survive crashes, timeouts and restarts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the engine configuration file",
				Sources: cli.EnvVars("DURABLE_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "state-dir",
				Usage:   "Directory holding event logs, checkpoints and markers",
				Sources: cli.EnvVars("DURABLE_STATE_DIR"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Also publish progress notifications to these Kafka brokers",
				Sources: cli.EnvVars("DURABLE_KAFKA_BROKERS"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP (configured by OTEL_EXPORTER_OTLP_* variables)",
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
			newRunCommand(),
			newResumeCommand(),
			newListCommand(),
			newStatusCommand(),
			newEventsCommand(),
			newCancelCommand(),
			newDeleteCommand(),
			newCleanupCommand(),
			newWaitCommand(),
			newWatchCommand(),
			newServeCommand(),
		},
	}
}
