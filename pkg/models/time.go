package models

import "time"

// TimeLayout is the fixed UTC layout of every timestamp the engine persists.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a timestamp written with FormatTime. RFC 3339 input is accepted too,
// since markers may be written by tools outside this module.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err == nil {
		return t, nil
	}

	return time.Parse(time.RFC3339Nano, s)
}

// Now returns the current time formatted with TimeLayout.
func Now() string {
	return FormatTime(time.Now())
}
