package repository

import "time"

// timeLayout is RFC 3339 with a fixed-width fractional second so stored
// timestamps sort lexicographically (DeleteExpired compares them in SQL).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders a timestamp the way repositories store it. Zero times
// round-trip as the empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func formatTime(t time.Time) string {
	return FormatTime(t)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Tolerate rows written by other tooling
		if t, err = time.Parse(time.RFC3339Nano, s); err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}
