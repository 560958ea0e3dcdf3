package main

import (
	"context"
	"errors"
	"fmt"

	cli "github.com/urfave/cli/v3"
)

func newMarkCommand() *cli.Command {
	return &cli.Command{
		Name:  "mark",
		Usage: "Write a completion marker for a step performed by other means",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "status",
				Usage:    "done or failed",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "error",
				Usage: "Failure message, with --status failed",
			},
			&cli.StringFlag{
				Name:  "error-type",
				Usage: "Failure classification, with --status failed",
				Value: "manual",
			},
			&cli.StringFlag{
				Name:  "action",
				Usage: "What the step did",
				Value: "manual",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			w, err := newWorker(command, command.String("action"))
			if err != nil {
				return err
			}

			switch command.String("status") {
			case "done":
				return w.done(ctx)
			case "failed":
				w.report.ErrorType = command.String("error-type")

				var cause error
				if msg := command.String("error"); msg != "" {
					cause = errors.New(msg)
				}

				return w.failed(ctx, cause)
			default:
				return fmt.Errorf("unknown status %q, expected done or failed", command.String("status"))
			}
		},
	}
}
