package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dukex/durable/pkg/eventbus"
	"github.com/dukex/durable/pkg/events"
	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/workflow"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func newTable(out io.Writer, header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleLight)
	tw.Style().Options.DrawBorder = false
	tw.Style().Options.SeparateColumns = false

	if len(header) > 0 {
		tw.AppendHeader(header)
	}

	return tw
}

// printNotification renders each progress notification as one line.
func printNotification(out io.Writer) eventbus.NotificationHandler {
	return func(_ context.Context, n events.Notification) error {
		var b strings.Builder

		fmt.Fprintf(&b, "%s [%3.0f%%] %-26s", n.Timestamp.Local().Format("15:04:05"), n.Progress()*100, n.Type)

		if n.StepName != "" {
			fmt.Fprintf(&b, " step %d/%d %s", n.StepIndex+1, n.TotalSteps, n.StepName)
		}

		if n.Reason != "" {
			fmt.Fprintf(&b, " reason=%s", n.Reason)
		}

		if n.Error != "" {
			fmt.Fprintf(&b, " error=%q", n.Error)
		}

		if n.Message != "" {
			fmt.Fprintf(&b, " (%s)", n.Message)
		}

		_, err := fmt.Fprintln(out, b.String())

		return err
	}
}

func printResult(out io.Writer, res *workflow.Result) {
	tw := newTable(out)

	tw.AppendRow(table.Row{"Workflow", res.WorkflowID})
	tw.AppendRow(table.Row{"Status", colorStatus(res.Status)})
	tw.AppendRow(table.Row{"Steps run", res.StepsRun})
	tw.AppendRow(table.Row{"Elapsed", res.Elapsed.Round(time.Millisecond)})

	if res.PauseReason != "" {
		tw.AppendRow(table.Row{"Paused", res.PauseReason})
		tw.AppendRow(table.Row{"Resume with", res.ResumeCommand})
	}

	if res.Error != "" {
		tw.AppendRow(table.Row{"Failed step", res.FailedStep})
		tw.AppendRow(table.Row{"Error", res.Error})
	}

	tw.Render()
}

func colorStatus(status models.WorkflowStatus) string {
	switch status {
	case models.WorkflowStatusCompleted:
		return text.FgGreen.Sprint(status)
	case models.WorkflowStatusFailed, models.WorkflowStatusCancelled:
		return text.FgRed.Sprint(status)
	case models.WorkflowStatusPaused:
		return text.FgYellow.Sprint(status)
	default:
		return string(status)
	}
}

// ago renders a persisted timestamp relative to now, or the raw value when it does
// not parse.
func ago(timestamp string) string {
	t, err := models.ParseTime(timestamp)
	if err != nil {
		return timestamp
	}

	return humanize.Time(t)
}

func stepLabel(index int, name string) string {
	if index == models.NoStep {
		return "-"
	}

	if name == "" {
		return fmt.Sprintf("#%d", index)
	}

	return fmt.Sprintf("#%d %s", index, name)
}

// eventDetail summarizes the payload of an event for tabular output.
func eventDetail(event *models.WorkflowEvent) string {
	var parts []string

	for _, key := range []string{
		models.DataWorkflowName, models.DataReason, models.DataError, models.DataGate,
		models.DataPath, models.DataType, models.DataStatus,
	} {
		if v := event.String(key); v != "" {
			parts = append(parts, key+"="+v)
		}
	}

	if score, ok := event.Float(models.DataScore); ok {
		parts = append(parts, fmt.Sprintf("score=%.2f", score))
	}

	if output, ok := event.Data[models.DataOutput]; ok && output != nil {
		parts = append(parts, "output="+truncate(compactJSON(output), 60))
	}

	return strings.Join(parts, " ")
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}

	return string(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n-3] + "..."
}

func printJSON(out io.Writer, v any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}
