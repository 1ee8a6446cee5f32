package logging

import "sync"

const defaultSubscriberBuffer = 100

// LogHub fans log entries out to live subscribers, primarily the
// /api/logs/stream handler. Delivery is best effort: a subscriber whose
// buffer is full misses the entry rather than stalling the daemon's
// logging path.
type LogHub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan LogEntry
	closed bool
}

func NewLogHub() *LogHub {
	return &LogHub{
		subs: make(map[uint64]chan LogEntry),
	}
}

// Subscribe registers a listener and returns its channel along with a
// cancel function. Subscribing to a closed hub yields an already-closed
// channel so stream handlers terminate cleanly during shutdown.
func (hub *LogHub) Subscribe(buffer int) (<-chan LogEntry, func()) {
	if hub == nil {
		return nil, func() {}
	}
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.closed {
		done := make(chan LogEntry)
		close(done)
		return done, func() {}
	}
	hub.nextID++
	id := hub.nextID
	entries := make(chan LogEntry, buffer)
	hub.subs[id] = entries
	return entries, func() {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		if existing, ok := hub.subs[id]; ok {
			delete(hub.subs, id)
			close(existing)
		}
	}
}

// Broadcast offers the entry to every subscriber without blocking.
func (hub *LogHub) Broadcast(entry LogEntry) {
	if hub == nil {
		return
	}
	hub.mu.Lock()
	if hub.closed {
		hub.mu.Unlock()
		return
	}
	listeners := make([]chan LogEntry, 0, len(hub.subs))
	for _, entries := range hub.subs {
		listeners = append(listeners, entries)
	}
	hub.mu.Unlock()

	for _, entries := range listeners {
		select {
		case entries <- entry:
		default:
		}
	}
}

// Close drops all subscribers and closes their channels. Further
// broadcasts are discarded.
func (hub *LogHub) Close() {
	if hub == nil {
		return
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.closed {
		return
	}
	hub.closed = true
	for id, entries := range hub.subs {
		delete(hub.subs, id)
		close(entries)
	}
}
