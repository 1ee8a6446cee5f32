package api

import (
	"time"

	"ctxsync/internal/event"
)

// streamReplayLimit bounds how much bus history a fresh stream client gets.
const streamReplayLimit = 32

func recentEvents(bus *event.Bus[event.Event]) []event.Event {
	if bus == nil {
		return nil
	}
	history := bus.DumpHistory()
	if len(history) > streamReplayLimit {
		history = history[len(history)-streamReplayLimit:]
	}
	return history
}

type eventPayload struct {
	Type      string    `json:"type"`
	Component string    `json:"component,omitempty"`
	Direction string    `json:"direction,omitempty"`
	Message   string    `json:"message,omitempty"`
	Path      string    `json:"path,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func buildEventPayload(value event.Event) (any, bool) {
	switch concrete := value.(type) {
	case event.SyncEvent:
		return eventPayload{
			Type:      concrete.EventType,
			Component: concrete.Component,
			Direction: concrete.Direction,
			Message:   concrete.Message,
			Timestamp: concrete.OccurredAt,
		}, true
	case event.FileEvent:
		return eventPayload{
			Type:      concrete.EventType,
			Path:      concrete.Path,
			Operation: concrete.Operation,
			Timestamp: concrete.OccurredAt,
		}, true
	case event.IntegrityEvent:
		return eventPayload{
			Type:      concrete.EventType,
			Path:      concrete.Path,
			Reason:    concrete.Reason,
			Timestamp: concrete.OccurredAt,
		}, true
	case nil:
		return nil, false
	default:
		return eventPayload{
			Type:      value.Type(),
			Timestamp: value.Timestamp(),
		}, true
	}
}
