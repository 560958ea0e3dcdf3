// Package file provides the file-based event store: one directory per workflow holding
// an append-only JSON-lines event log and an atomically replaced checkpoint.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/dukex/durable/pkg/fileio"
	"github.com/dukex/durable/pkg/persistence"
)

const defaultConcurrency = 8

// EventStore implements persistence.EventStore on the local filesystem.
//
// The store does not lock files. Only the process currently driving a workflow may
// append to its log or write its checkpoint.
type EventStore struct {
	layout      persistence.Layout
	logger      *slog.Logger
	readOptions fileio.ReadOptions
	concurrency int

	mu        sync.Mutex
	sequences map[string]int64 // last sequence number appended by this process
}

// Option customizes an EventStore.
type Option func(*EventStore)

// WithReadOptions overrides how checkpoints are read.
func WithReadOptions(opts fileio.ReadOptions) Option {
	return func(s *EventStore) {
		s.readOptions = opts
	}
}

// WithConcurrency bounds how many checkpoints are loaded at once when listing.
func WithConcurrency(n int) Option {
	return func(s *EventStore) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewEventStore creates a store rooted at root (a directory or a file:// URL).
func NewEventStore(root string, logger *slog.Logger, opts ...Option) *EventStore {
	s := &EventStore{
		layout:      persistence.NewLayout(root),
		logger:      logger.With("module", "event_store"),
		readOptions: fileio.DefaultReadOptions(),
		concurrency: defaultConcurrency,
		sequences:   make(map[string]int64),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Layout exposes the paths used by this store.
func (s *EventStore) Layout() persistence.Layout {
	return s.layout
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (s *EventStore) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the state directory exists and is a directory.
func (s *EventStore) HealthCheck(_ context.Context) error {
	info, err := os.Stat(s.layout.Root)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("state root %s is not a directory", s.layout.Root)
	}

	return nil
}

// ListWorkflows enumerates the per-workflow directories.
func (s *EventStore) ListWorkflows(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.layout.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}

		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			ids = append(ids, entry.Name())
		}
	}

	sort.Strings(ids)

	return ids, nil
}

// DeleteWorkflow removes every file of a workflow. It is an explicit operator action.
func (s *EventStore) DeleteWorkflow(_ context.Context, workflowID string) error {
	if err := s.validateID("DeleteWorkflow", workflowID); err != nil {
		return err
	}

	dir := s.layout.WorkflowDir(workflowID)

	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return persistence.NewWorkflowError("DeleteWorkflow", workflowID, persistence.ErrWorkflowNotFound)
	}

	if err := os.RemoveAll(dir); err != nil {
		return persistence.NewWorkflowError("DeleteWorkflow", workflowID, err)
	}

	s.mu.Lock()
	delete(s.sequences, workflowID)
	s.mu.Unlock()

	s.logger.Info("Deleted workflow state", "workflow_id", workflowID)

	return nil
}

func (s *EventStore) validateID(op, workflowID string) error {
	if err := fileio.ValidateName("workflow id", workflowID); err != nil {
		return persistence.NewWorkflowErrorf(op, workflowID, persistence.ErrInvalidID, "%v", err)
	}

	return nil
}
