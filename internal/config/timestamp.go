package config

import "time"

const (
	runTimestampLayout    = "2006-01-02-15-04-05"
	exportTimestampLayout = "20060102150405"
)

// RunTimestamp identifies one pipeline run and is used as a path segment.
// Two runs started within the same second share a timestamp.
type RunTimestamp string

// NewRunTimestamp formats t as YYYY-MM-DD-HH-MM-SS.
func NewRunTimestamp(t time.Time) RunTimestamp {
	return RunTimestamp(t.Format(runTimestampLayout))
}

func (ts RunTimestamp) String() string { return string(ts) }

func exportStamp(t time.Time) string {
	return t.Format(exportTimestampLayout)
}
