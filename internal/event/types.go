package event

import "time"

// Event represents a typed event with an occurrence timestamp.
type Event interface {
	Type() string
	Timestamp() time.Time
}

const (
	TypeComponentSynced   = "component_synced"
	TypeComponentFailed   = "component_failed"
	TypeExternalEdit      = "external_edit"
	TypeFileChanged       = "file_changed"
	TypeIntegrityRepaired = "integrity_repaired"
)

// Sync direction for a component flow.
const (
	DirectionSourceToMerged = "source_to_merged"
	DirectionMergedToSource = "merged_to_source"
)

// SyncEvent captures a completed or failed component synchronization.
type SyncEvent struct {
	EventType  string
	Component  string
	Direction  string
	Message    string
	OccurredAt time.Time
}

func NewSyncEvent(eventType, component, direction string) SyncEvent {
	return SyncEvent{
		EventType:  eventType,
		Component:  component,
		Direction:  direction,
		OccurredAt: time.Now().UTC(),
	}
}

func (e SyncEvent) Type() string {
	return e.EventType
}

func (e SyncEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// FileEvent represents a filesystem change observed by the watch layer.
type FileEvent struct {
	EventType  string
	Path       string
	Operation  string
	OccurredAt time.Time
}

func NewFileEvent(path, operation string) FileEvent {
	return FileEvent{
		EventType:  TypeFileChanged,
		Path:       path,
		Operation:  operation,
		OccurredAt: time.Now().UTC(),
	}
}

func (e FileEvent) Type() string {
	return e.EventType
}

func (e FileEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// IntegrityEvent records a wholesale repair of the merged document.
type IntegrityEvent struct {
	EventType  string
	Path       string
	Reason     string
	OccurredAt time.Time
}

func NewIntegrityEvent(path, reason string) IntegrityEvent {
	return IntegrityEvent{
		EventType:  TypeIntegrityRepaired,
		Path:       path,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}

func (e IntegrityEvent) Type() string {
	return e.EventType
}

func (e IntegrityEvent) Timestamp() time.Time {
	return e.OccurredAt
}
