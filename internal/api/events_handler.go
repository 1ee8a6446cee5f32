package api

import (
	"net/http"
	"time"

	"ctxsync/internal/event"
	"ctxsync/internal/logging"

	"github.com/gorilla/websocket"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
	wsWriteTimeout    = 10 * time.Second
)

// EventsHandler streams sync events over a websocket connection.
type EventsHandler struct {
	Bus            *event.Bus[event.Event]
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, h.AllowedOrigins)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("websocket upgrade failed", map[string]string{
				"ctxsync.category": "api",
				"error":            err.Error(),
			})
		}
		return
	}
	defer conn.Close()

	for _, value := range recentEvents(h.Bus) {
		payload, ok := buildEventPayload(value)
		if !ok {
			continue
		}
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return
		}
		if err := conn.WriteJSON(payload); err != nil {
			return
		}
	}

	// Reader goroutine surfaces client disconnects; inbound frames are
	// otherwise ignored.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	for {
		select {
		case value, ok := <-output:
			if !ok {
				return
			}
			payload, ok := buildEventPayload(value)
			if !ok {
				continue
			}
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteJSON(payload); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
