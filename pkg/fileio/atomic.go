package fileio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DirPerm is used for every directory created by the durable components.
	DirPerm = 0o750
	// FilePerm is used for every file created by the durable components.
	FilePerm = 0o600
)

// AtomicWrite serializes payload as indented JSON and atomically replaces path with it.
func AtomicWrite(path string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	return WriteFileAtomic(path, append(data, '\n'))
}

// writeRetry bounds how often a failed write is attempted again.
var writeRetry = ReadOptions{
	Retries:    3,
	Backoff:    50 * time.Millisecond,
	MaxBackoff: time.Second,
}

// RetryWrite runs op until it succeeds, the retries run out or ctx is done.
// Permission errors are returned at once. op must leave no partial output behind
// when it fails, since it is simply called again.
func RetryWrite(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if errors.Is(err, fs.ErrPermission) {
			return backoff.Permanent(err)
		}

		return err
	}, retryPolicy(ctx, writeRetry))
}

// WriteFileAtomic writes data to a sibling temp file and renames it onto path.
// Readers observe either the previous complete file or the new one. On failure the
// temp file is removed and path is left untouched. Missing parent directories are created.
// Transient I/O errors are retried with bounded backoff.
func WriteFileAtomic(path string, data []byte) error {
	return RetryWrite(context.Background(), func() error {
		return writeOnce(path, data)
	})
}

func writeOnce(path string, data []byte) (err error) {
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}

	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file for %s: %w", path, err)
	}

	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file for %s: %w", path, err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file for %s: %w", path, err)
	}

	if err = os.Chmod(tmpPath, FilePerm); err != nil {
		return fmt.Errorf("failed to chmod temp file for %s: %w", path, err)
	}

	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	syncDir(dir)

	return nil
}

// syncDir makes the rename itself durable where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir) // #nosec G304 -- dir is the parent of a path we just wrote
	if err != nil {
		return
	}

	_ = d.Sync()
	_ = d.Close()
}

// ErrUnsafeName is returned for identifiers that cannot be used as a single path component.
var ErrUnsafeName = errors.New("unsafe path component")

// ValidateName checks that name is safe to use as one path component.
func ValidateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty: %w", kind, ErrUnsafeName)
	}

	if name == "." || name == ".." || filepath.Base(name) != name || containsSeparator(name) {
		return fmt.Errorf("%s %q contains invalid characters: %w", kind, name, ErrUnsafeName)
	}

	return nil
}

func containsSeparator(name string) bool {
	for _, r := range name {
		if r == '/' || r == '\\' || r == 0 {
			return true
		}
	}

	return false
}
