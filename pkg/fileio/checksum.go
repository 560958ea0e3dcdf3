package fileio

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// DecodeJSON decodes a single JSON value from data into v. Numbers inside untyped
// values are kept as json.Number, so integers beyond 2^53 survive a round trip and
// re-encode to the bytes they were persisted as.
func DecodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}

		return err
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON value")
	}

	return nil
}

// CanonicalJSON renders v as JSON with every object's keys sorted, so the same
// logical value yields the same bytes in any process. Numbers keep their literal form.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}

	return json.Marshal(generic)
}

// Checksum returns the hex SHA-256 of v's canonical JSON form.
func Checksum(v any) (string, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}

	return ChecksumBytes(data), nil
}

// ChecksumBytes returns the hex SHA-256 of data.
func ChecksumBytes(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}

// FileChecksum streams path through SHA-256 and returns the digest and the file size.
func FileChecksum(path string) (string, int64, error) {
	f, err := os.Open(path) // #nosec G304 -- callers pass artifact paths they own
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()

	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), n, nil
}
