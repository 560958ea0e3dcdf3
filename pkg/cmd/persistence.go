// Package cmd provides common initialization functions for the command-line applications.
package cmd

import (
	"log/slog"
	"strings"

	"github.com/dukex/durable/pkg/config"
	"github.com/dukex/durable/pkg/persistence/file"
)

var supportedStateProviders = []string{"file"}

// NewEventStore opens the file event store under the configured state directory.
// The directory may be given as a plain path or as a file:// URL.
func NewEventStore(cfg config.Engine, logger *slog.Logger) *file.EventStore {
	return file.NewEventStore(
		StateDir(cfg),
		logger,
		file.WithReadOptions(cfg.Read.Options()),
		file.WithConcurrency(cfg.Concurrency),
	)
}

// StateDir strips a supported provider prefix from the configured state directory.
func StateDir(cfg config.Engine) string {
	parts := strings.SplitN(cfg.StateDir, "://", 2)
	if len(parts) != 2 {
		return cfg.StateDir
	}

	for _, supported := range supportedStateProviders {
		if parts[0] == supported {
			return parts[1]
		}
	}

	return cfg.StateDir
}
