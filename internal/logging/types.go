package logging

import "time"

// Level orders daemon log severity from debug up to error.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// LogEntry is the record held in the ring buffer and served over
// /api/logs and /api/logs/stream. Context carries structured fields
// such as ctxsync.category and component names.
type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}
