package api

import (
	"net/http"

	"ctxsync/internal/event"
	"ctxsync/internal/logging"
)

// EventsSSEHandler streams sync events as server-sent events for clients
// that cannot hold a websocket.
type EventsSSEHandler struct {
	Bus       *event.Bus[event.Event]
	Logger    *logging.Logger
	AuthToken string
}

func (h *EventsSSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !validateToken(r, h.AuthToken) {
		writeJSONError(w, &apiError{Status: http.StatusUnauthorized, Message: "unauthorized"})
		return
	}
	if h.Bus == nil {
		writeJSONError(w, &apiError{Status: http.StatusServiceUnavailable, Message: "event bus unavailable"})
		return
	}

	output, cancel := h.Bus.Subscribe()
	if output == nil {
		writeJSONError(w, &apiError{Status: http.StatusServiceUnavailable, Message: "event bus closed"})
		return
	}
	defer cancel()

	writer, err := startSSEWriter(w)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("sse stream unavailable", map[string]string{
				"ctxsync.category": "api",
				"error":            err.Error(),
			})
		}
		return
	}

	runSSEStream(r, writer, sseStreamConfig[event.Event]{
		Output:       output,
		Replay:       recentEvents(h.Bus),
		BuildPayload: buildEventPayload,
		EventName:    "sync",
	})
}
