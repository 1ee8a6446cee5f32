package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestDebouncerCoalescesEvents(t *testing.T) {
	debouncer := newDebouncer(25 * time.Millisecond)
	defer debouncer.stop()

	received := make(chan string, 2)
	flush := func(key string) {
		received <- key
	}

	first := Event{Path: "path", Op: fsnotify.Write}
	dropped := debouncer.schedule(debounceKey(first), first, flush)
	if dropped {
		t.Fatalf("expected first event not to be dropped")
	}
	dropped = debouncer.schedule(debounceKey(first), first, flush)
	if !dropped {
		t.Fatalf("expected second event to be coalesced")
	}

	count := 0
	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case <-received:
			count++
		case <-deadline:
			if count != 1 {
				t.Fatalf("expected 1 flush, got %d", count)
			}
			return
		}
	}
}

func TestDebouncerKeysByKind(t *testing.T) {
	created := Event{Path: "path", Op: fsnotify.Create}
	modified := Event{Path: "path", Op: fsnotify.Write}
	if debounceKey(created) == debounceKey(modified) {
		t.Fatal("expected distinct keys for distinct kinds")
	}
}

func TestWatcherCollapsesRapidWrites(t *testing.T) {
	watcher, err := NewWithOptions(Options{Debounce: 150 * time.Millisecond})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()

	path := filepath.Join(t.TempDir(), "tasks.md")
	if err := os.WriteFile(path, []byte("seed"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	events := make(chan Event, 16)
	handle, err := watcher.Watch(path, func(event Event) {
		events <- event
	})
	if err != nil {
		t.Fatalf("watch path: %v", err)
	}
	defer handle.Close()

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("burst"), 0o600); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, ok := waitForEvent(events); !ok {
		t.Fatal("timed out waiting for collapsed event")
	}

	select {
	case event := <-events:
		if event.Kind() == KindModified {
			t.Fatalf("expected rapid writes to collapse, got extra %+v", event)
		}
	case <-time.After(400 * time.Millisecond):
	}
}
