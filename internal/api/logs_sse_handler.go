package api

import (
	"net/http"

	"ctxsync/internal/logging"
)

// LogsSSEHandler streams structured log entries as server-sent events.
type LogsSSEHandler struct {
	Logger    *logging.Logger
	AuthToken string
}

func (h *LogsSSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !validateToken(r, h.AuthToken) {
		writeJSONError(w, &apiError{Status: http.StatusUnauthorized, Message: "unauthorized"})
		return
	}
	if h.Logger == nil {
		writeJSONError(w, &apiError{Status: http.StatusServiceUnavailable, Message: "log stream unavailable"})
		return
	}

	output, cancel := h.Logger.Subscribe()
	if output == nil {
		writeJSONError(w, &apiError{Status: http.StatusServiceUnavailable, Message: "log stream closed"})
		return
	}
	defer cancel()

	writer, err := startSSEWriter(w)
	if err != nil {
		return
	}

	minLevel := logging.LevelDebug
	if levelParam := r.URL.Query().Get("level"); levelParam != "" {
		if parsed, ok := logging.ParseLevel(levelParam); ok {
			minLevel = parsed
		}
	}

	runSSEStream(r, writer, sseStreamConfig[logging.LogEntry]{
		Output:    output,
		EventName: "log",
		BuildPayload: func(entry logging.LogEntry) (any, bool) {
			if !logging.LevelAtLeast(entry.Level, minLevel) {
				return nil, false
			}
			return entry, true
		},
	})
}
