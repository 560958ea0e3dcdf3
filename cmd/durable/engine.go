package main

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"strings"

	"github.com/dukex/durable/pkg/cmd"
	"github.com/dukex/durable/pkg/config"
	"github.com/dukex/durable/pkg/log"
	"github.com/dukex/durable/pkg/persistence/file"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

// engine is what every subcommand works with.
type engine struct {
	cfg    config.Engine
	logger *slog.Logger
	store  *file.EventStore
}

// loadConfig reads the configuration file and applies the global flags on top.
func loadConfig(command *cli.Command) (config.Engine, error) {
	cfg, err := config.LoadEngineOrDefault(command.String("config"))
	if err != nil {
		return cfg, err
	}

	if command.IsSet("state-dir") {
		cfg.StateDir = command.String("state-dir")
	}

	if command.IsSet("kafka-brokers") {
		cfg.Kafka.Brokers = command.StringSlice("kafka-brokers")
	}

	if command.IsSet("tracing") {
		cfg.Tracing = command.Bool("tracing")
	}

	if command.IsSet("step-timeout") {
		cfg.StepTimeout = command.Duration("step-timeout")
	}

	if command.IsSet("total-timeout") {
		cfg.TotalTimeout = command.Duration("total-timeout")
	}

	return cfg, cfg.Validate()
}

func withEngine(ctx context.Context, command *cli.Command, fn func(ctx context.Context, e *engine) error) error {
	cfg, err := loadConfig(command)
	if err != nil {
		return err
	}

	logger := log.WithModule("durable")
	store := cmd.NewEventStore(cfg, logger)

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close event store", "error", err)
		}
	}()

	return fn(ctx, &engine{cfg: cfg, logger: logger, store: store})
}

// requireArgs returns the first n positional arguments or a usage error.
func requireArgs(command *cli.Command, names ...string) ([]string, error) {
	if command.NArg() < len(names) {
		return nil, fmt.Errorf("usage: %s %s <%s>", command.Root().Name, command.Name, strings.Join(names, "> <"))
	}

	return command.Args().Slice()[:len(names)], nil
}

// parseMetadata turns repeated key=value flags into workflow metadata.
func parseMetadata(pairs []string) (map[string]any, error) {
	metadata := make(map[string]any, len(pairs))

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid metadata %q, expected key=value", pair)
		}

		metadata[strings.TrimSpace(key)] = value
	}

	return metadata, nil
}

func mergeMetadata(base map[string]any, extra map[string]any) map[string]any {
	merged := maps.Clone(base)
	if merged == nil {
		merged = map[string]any{}
	}

	maps.Copy(merged, extra)

	return merged
}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// newWorkflowID derives a unique workflow id from a definition name.
func newWorkflowID(name string) string {
	slug := strings.Trim(unsafeIDChars.ReplaceAllString(name, "-"), "-.")
	if slug == "" {
		slug = "workflow"
	}

	return slug + "-" + uuid.New().String()[:8]
}
