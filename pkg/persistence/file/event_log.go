package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"sort"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/durable/pkg/fileio"
	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/persistence"
	"github.com/google/uuid"
)

// Append assigns the next sequence number and appends the event as one JSON line.
// The first append for a workflow in this process recovers the last sequence number
// from the log, so a resuming process continues the numbering. A failed fsync is
// logged and ignored: the write already reached the OS.
func (s *EventStore) Append(ctx context.Context, event *models.WorkflowEvent) (*models.WorkflowEvent, error) {
	if err := s.validateID("Append", event.WorkflowID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last, known := s.sequences[event.WorkflowID]
	if !known {
		events, err := s.ReadAll(ctx, event.WorkflowID)
		if err != nil {
			return nil, err
		}

		last = maxSequence(events)
	}

	stored := *event
	stored.SequenceNumber = last + 1

	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}

	if stored.Timestamp == "" {
		stored.Timestamp = models.Now()
	}

	if stored.Data == nil {
		stored.Data = map[string]any{}
	}

	line, err := json.Marshal(stored)
	if err != nil {
		return nil, persistence.NewWorkflowErrorf("Append", event.WorkflowID, err, "marshal %s", stored.EventType)
	}

	if err := s.appendLine(ctx, event.WorkflowID, line); err != nil {
		return nil, err
	}

	s.sequences[event.WorkflowID] = stored.SequenceNumber

	return &stored, nil
}

// appendLine writes one line to the log, retrying transient failures. A failed
// attempt truncates the log back to its previous size so a retry never duplicates
// or tears a line.
func (s *EventStore) appendLine(ctx context.Context, workflowID string, line []byte) error {
	path := s.layout.EventLogPath(workflowID)
	data := append(line, '\n')

	err := fileio.RetryWrite(ctx, func() error {
		if err := os.MkdirAll(s.layout.WorkflowDir(workflowID), fileio.DirPerm); err != nil {
			return err
		}

		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, fileio.FilePerm) // #nosec G304 -- path built from a validated id
		if err != nil {
			return err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return err
		}

		if _, err := f.Write(data); err != nil {
			if truncErr := f.Truncate(info.Size()); truncErr != nil {
				return backoff.Permanent(errors.Join(err, truncErr))
			}

			s.logger.Warn("Event log append failed, retrying", "workflow_id", workflowID, "error", err)

			return err
		}

		if err := f.Sync(); err != nil {
			s.logger.Warn("Event log fsync failed, continuing", "workflow_id", workflowID, "error", err)
		}

		return nil
	})
	if err != nil {
		return persistence.NewWorkflowError("Append", workflowID, err)
	}

	return nil
}

// ReadAll parses the log line by line. Malformed lines, including a torn final line
// left by a crash, are skipped with a warning.
func (s *EventStore) ReadAll(ctx context.Context, workflowID string) ([]*models.WorkflowEvent, error) {
	if err := s.validateID("ReadAll", workflowID); err != nil {
		return nil, err
	}

	f, err := os.Open(s.layout.EventLogPath(workflowID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*models.WorkflowEvent{}, nil
		}

		return nil, persistence.NewWorkflowError("ReadAll", workflowID, err)
	}
	defer f.Close()

	var events []*models.WorkflowEvent

	reader := bufio.NewReader(f)
	lineNo := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++

			if event := s.parseLine(workflowID, lineNo, line); event != nil {
				events = append(events, event)
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}

			return nil, persistence.NewWorkflowErrorf("ReadAll", workflowID, persistence.ErrEventLogCorrupt, "%v", readErr)
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].SequenceNumber < events[j].SequenceNumber
	})

	if events == nil {
		events = []*models.WorkflowEvent{}
	}

	return events, nil
}

func (s *EventStore) parseLine(workflowID string, lineNo int, line []byte) *models.WorkflowEvent {
	trimmed := trimLine(line)
	if len(trimmed) == 0 {
		return nil
	}

	var event models.WorkflowEvent
	if err := fileio.DecodeJSON(trimmed, &event); err != nil {
		s.logger.Warn("Skipping malformed event line", "workflow_id", workflowID, "line", lineNo, "error", err)

		return nil
	}

	if event.SequenceNumber <= 0 || event.EventType == "" {
		s.logger.Warn("Skipping incomplete event line", "workflow_id", workflowID, "line", lineNo)

		return nil
	}

	return &event
}

// NextSequence rescans the log and returns max(sequenceNumber)+1. It also resets the
// cached counter, so this process never trusts a count kept across a pause.
func (s *EventStore) NextSequence(ctx context.Context, workflowID string) (int64, error) {
	events, err := s.ReadAll(ctx, workflowID)
	if err != nil {
		return 0, err
	}

	last := maxSequence(events)

	s.mu.Lock()
	s.sequences[workflowID] = last
	s.mu.Unlock()

	return last + 1, nil
}

func maxSequence(events []*models.WorkflowEvent) int64 {
	var last int64

	for _, e := range events {
		if e.SequenceNumber > last {
			last = e.SequenceNumber
		}
	}

	return last
}

func trimLine(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r' || line[len(line)-1] == ' ') {
		line = line[:len(line)-1]
	}

	return line
}
