package fileio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Outcome classifies the result of a SafeRead.
type Outcome int

const (
	// Available means the file was read and decoded.
	Available Outcome = iota
	// Missing means the file does not exist. This is a normal state, not an error.
	Missing
	// Truncated means the file is smaller than the configured minimum size,
	// typically a writer that has not finished yet.
	Truncated
	// Corrupt means the file exists but never decoded, across every attempt.
	Corrupt
	// Unreadable means an I/O error persisted past every retry, or the wait was interrupted.
	Unreadable
)

func (o Outcome) String() string {
	switch o {
	case Available:
		return "available"
	case Missing:
		return "missing"
	case Truncated:
		return "truncated"
	case Corrupt:
		return "corrupt"
	case Unreadable:
		return "unreadable"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ReadOptions tune SafeRead.
//
// SafeRead blocks: a file younger than MinAge is waited on synchronously before the
// first attempt, and parse failures are retried with exponential backoff starting at
// Backoff. The worst case is therefore about MinAge plus the sum of the retry delays,
// always bounded by ctx.
type ReadOptions struct {
	Retries    int           // attempts after the first failed one
	Backoff    time.Duration // delay before the first retry, doubled afterwards
	MaxBackoff time.Duration // cap on a single retry delay, 0 means uncapped
	MinAge     time.Duration // files modified more recently than this are waited on
	MinSize    int64         // files smaller than this are reported Truncated
}

// DefaultReadOptions suit files written with WriteFileAtomic on a local filesystem.
func DefaultReadOptions() ReadOptions {
	return ReadOptions{
		Retries:    3,
		Backoff:    50 * time.Millisecond,
		MaxBackoff: time.Second,
		MinSize:    1,
	}
}

// ReadResult reports what SafeRead observed.
type ReadResult struct {
	Outcome  Outcome
	Attempts int
	Err      error // last underlying error for Corrupt and Unreadable outcomes
}

// OK reports whether the value was decoded.
func (r ReadResult) OK() bool {
	return r.Outcome == Available
}

// SafeRead decodes the JSON file at path into v. It never returns an error: callers
// inspect the outcome and decide whether absence or corruption matters to them.
func SafeRead(ctx context.Context, path string, v any, opts ReadOptions) ReadResult {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ReadResult{Outcome: Missing}
		}

		return ReadResult{Outcome: Unreadable, Err: err}
	}

	if info.Size() < opts.MinSize {
		return ReadResult{
			Outcome: Truncated,
			Err:     fmt.Errorf("%s is %d bytes, want at least %d", path, info.Size(), opts.MinSize),
		}
	}

	if wait := opts.MinAge - time.Since(info.ModTime()); wait > 0 {
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()

			return ReadResult{Outcome: Unreadable, Err: ctx.Err()}
		case <-timer.C:
		}
	}

	result := ReadResult{}

	operation := func() error {
		result.Attempts++

		data, err := os.ReadFile(path) // #nosec G304 -- path is built by the calling store
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				result.Outcome = Missing

				return backoff.Permanent(err)
			}

			result.Outcome = Unreadable

			return err
		}

		if err := DecodeJSON(data, v); err != nil {
			result.Outcome = Corrupt

			return err
		}

		result.Outcome = Available

		return nil
	}

	err = backoff.Retry(operation, retryPolicy(ctx, opts))
	if err != nil {
		result.Err = err

		if result.Outcome == Available {
			result.Outcome = Unreadable
		}

		if result.Outcome == Missing {
			result.Err = nil
		}
	}

	return result
}

func retryPolicy(ctx context.Context, opts ReadOptions) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.Backoff
	b.MaxInterval = opts.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Hour
	}

	b.Reset()

	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}
