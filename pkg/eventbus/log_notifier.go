package eventbus

import (
	"context"
	"log/slog"

	"github.com/dukex/durable/pkg/events"
)

// LogNotifier writes every notification as a structured log record.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "progress")}
}

func (n *LogNotifier) Notify(ctx context.Context, notification events.Notification) error {
	level := slog.LevelInfo

	switch notification.Type {
	case events.StepFailed, events.WorkflowFailed:
		level = slog.LevelError
	case events.WorkflowPaused, events.ResumeAvailable, events.WorkflowCancelled:
		level = slog.LevelWarn
	case events.CheckpointCreated:
		level = slog.LevelDebug
	}

	attrs := []any{
		"workflow_id", notification.WorkflowID,
		"seq", notification.Seq,
		"step_index", notification.StepIndex,
		"step_name", notification.StepName,
		"total_steps", notification.TotalSteps,
		"elapsed", notification.Elapsed,
	}

	if notification.Reason != "" {
		attrs = append(attrs, "reason", notification.Reason)
	}

	if notification.Error != "" {
		attrs = append(attrs, "error", notification.Error)
	}

	if notification.ResumeCommand != "" {
		attrs = append(attrs, "resume_command", notification.ResumeCommand)
	}

	n.logger.Log(ctx, level, string(notification.Type), attrs...)

	return nil
}
