package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/durable/pkg/config"
	"github.com/dukex/durable/pkg/eventbus"
	"github.com/dukex/durable/pkg/marker"
	"github.com/dukex/durable/pkg/otelhelper"
	"github.com/dukex/durable/pkg/persistence"
	"github.com/dukex/durable/pkg/workflow"
)

func NewMarkerProtocol(cfg config.Engine, logger *slog.Logger) (*marker.Protocol, error) {
	return marker.New(StateDir(cfg), logger, marker.WithReadOptions(cfg.Read.Options()))
}

func NewDispatcher(cfg config.Engine, logger *slog.Logger) (*marker.Dispatcher, error) {
	protocol, err := NewMarkerProtocol(cfg, logger)
	if err != nil {
		return nil, err
	}

	return marker.NewDispatcher(protocol, cfg.PollInterval, cfg.MarkerTimeout, logger), nil
}

// NewExecutor builds an executor from the configuration. Step artifacts are resolved
// against artifactRoot.
func NewExecutor(cfg config.Engine, store persistence.EventStore, notifier eventbus.Notifier, artifactRoot string, logger *slog.Logger) *workflow.Executor {
	return workflow.NewExecutor(store, logger,
		workflow.WithNotifier(notifier),
		workflow.WithStepTimeout(cfg.StepTimeout),
		workflow.WithTotalTimeout(cfg.TotalTimeout),
		workflow.WithResumeCommand(cfg.ResumeCommand),
		workflow.WithCheckpointNotifications(cfg.EmitCheckpointEvents),
		workflow.WithStepCheckpoints(StateDir(cfg), artifactRoot),
	)
}

// SetupTracing installs an exporting tracer provider when tracing is enabled. The
// returned function flushes it.
func SetupTracing(ctx context.Context, cfg config.Engine, serviceName string, logger *slog.Logger) (func(context.Context), error) {
	if !cfg.Tracing {
		return func(context.Context) {}, nil
	}

	tp, err := otelhelper.NewTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Failed to flush traces", "error", err)
		}
	}, nil
}
