package watcher

import (
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

type debounceEntry struct {
	timer *time.Timer
	event Event
}

type debouncer struct {
	duration time.Duration
	entries  map[string]debounceEntry
}

func newDebouncer(duration time.Duration) *debouncer {
	return &debouncer{
		duration: duration,
		entries:  make(map[string]debounceEntry),
	}
}

// schedule coalesces events sharing a (path, kind) key; the stored event is
// replaced on every call so the flushed event is always the last one seen.
func (debouncer *debouncer) schedule(key string, event Event, flush func(string)) bool {
	if debouncer == nil {
		return false
	}
	entry := debouncer.entries[key]
	dropped := entry.timer != nil
	entry.event = event
	if entry.timer == nil {
		entry.timer = time.AfterFunc(debouncer.duration, func() {
			flush(key)
		})
	} else {
		entry.timer.Reset(debouncer.duration)
	}
	debouncer.entries[key] = entry
	return dropped
}

func (debouncer *debouncer) pop(key string) (Event, bool) {
	if debouncer == nil {
		return Event{}, false
	}
	entry, ok := debouncer.entries[key]
	if !ok {
		return Event{}, false
	}
	delete(debouncer.entries, key)
	return entry.event, true
}

func (debouncer *debouncer) stop() {
	if debouncer == nil {
		return
	}
	for _, entry := range debouncer.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	debouncer.entries = nil
}

func debounceKey(event Event) string {
	return event.Path + "|" + event.Kind()
}

func (watcher *Watcher) handleEvent(raw fsnotify.Event) {
	path := filepath.Clean(raw.Name)

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return
	}
	if len(watcher.callbacks[path]) == 0 {
		ignored := watcher.matchesIgnoreLocked(path)
		watcher.mutex.Unlock()
		if ignored {
			atomic.AddUint64(&watcher.eventsDropped, 1)
		}
		return
	}

	entry := Event{
		Path:      path,
		Op:        raw.Op,
		Timestamp: time.Now().UTC(),
	}
	if watcher.debouncer != nil {
		dropped := watcher.debouncer.schedule(debounceKey(entry), entry, watcher.flush)
		if dropped {
			atomic.AddUint64(&watcher.eventsDropped, 1)
		}
	}
	watcher.mutex.Unlock()
}

func (watcher *Watcher) flush(key string) {
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return
	}
	if watcher.debouncer == nil {
		watcher.mutex.Unlock()
		return
	}
	event, ok := watcher.debouncer.pop(key)
	if !ok {
		watcher.mutex.Unlock()
		return
	}
	entries := watcher.callbacks[event.Path]
	callbacks := make([]func(Event), 0, len(entries))
	for _, entry := range entries {
		callbacks = append(callbacks, entry.callback)
	}
	watcher.mutex.Unlock()

	for _, callback := range callbacks {
		callback(event)
		atomic.AddUint64(&watcher.eventsDelivered, 1)
	}
}

func (watcher *Watcher) matchesIgnoreLocked(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range watcher.ignorePatterns {
		if matched, err := filepath.Match(pattern, base); err == nil && matched {
			return true
		}
	}
	return false
}
