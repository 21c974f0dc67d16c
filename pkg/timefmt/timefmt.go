// Package timefmt renders log-store timestamps for chart consumers. The store
// always returns UTC ISO-8601 with millisecond precision; the frontend wants a
// plain space-separated date time, also UTC.
package timefmt

import "time"

const (
	storeLayout  = "2006-01-02T15:04:05.000Z"
	outputLayout = "2006-01-02 15:04:05"

	// IndexDayLayout is the daily index naming convention used by the log
	// pipeline, e.g. connectors-2023.01.02.
	IndexDayLayout = "2006.01.02"
)

// Format renders t in the output layout, in UTC.
func Format(t time.Time) string {
	return t.UTC().Format(outputLayout)
}

// Reformat parses a store timestamp and renders it in the output layout.
func Reformat(s string) (string, error) {
	t, err := time.ParseInLocation(storeLayout, s, time.UTC)
	if err != nil {
		return "", err
	}
	return Format(t), nil
}
