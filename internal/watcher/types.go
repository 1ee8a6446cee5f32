package watcher

import (
	"sync"
	"time"

	"ctxsync/internal/logging"
	"ctxsync/internal/metrics"
	"github.com/fsnotify/fsnotify"
)

// Event represents a single filesystem change on a registered path.
type Event struct {
	Path      string
	Op        fsnotify.Op
	Timestamp time.Time
}

// Event kinds derived from the underlying operation.
const (
	KindCreated  = "created"
	KindModified = "modified"
	KindDeleted  = "deleted"
)

// Kind maps the raw operation onto the coarse change kinds consumers care about.
func (event Event) Kind() string {
	switch {
	case event.Op.Has(fsnotify.Create):
		return KindCreated
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		return KindDeleted
	default:
		return KindModified
	}
}

// Handle releases watcher resources for a registration.
type Handle interface {
	Close() error
}

// Watch registers a callback for filesystem events on a path.
type Watch interface {
	Watch(path string, callback func(Event)) (Handle, error)
}

// Options controls watcher behavior.
type Options struct {
	Logger *logging.Logger
	// Registry receives restart and delivery counters.
	Registry *metrics.Registry
	Debounce time.Duration
	// IgnorePatterns are glob patterns matched against event base names.
	// Events on unregistered paths that match are dropped; registered paths
	// always deliver, so the merged document can share a directory with
	// ignored temp files.
	IgnorePatterns []string
	MaxWatches     int
	ErrorHandler   func(error)
}

// Watcher is the concrete fsnotify-backed implementation.
type Watcher struct {
	watcher         *fsnotify.Watcher
	mutex           sync.Mutex
	callbacks       map[string][]callbackEntry
	dirRefs         map[string]int
	debouncer       *debouncer
	events          chan fsnotify.Event
	errors          chan error
	done            chan struct{}
	closed          bool
	logger          *logging.Logger
	registry        *metrics.Registry
	ignorePatterns  []string
	maxWatches      int
	activeWatches   int
	nextID          uint64
	errorHandler    func(error)
	restartMutex    sync.Mutex
	restartTimer    *time.Timer
	restartAttempts int
	eventsDelivered uint64
	eventsDropped   uint64
	errorCount      uint64
}

// Metrics reports current watcher stats.
type Metrics struct {
	ActiveWatches   int
	EventsDelivered uint64
	EventsDropped   uint64
	Errors          uint64
	RestartAttempts int
}
