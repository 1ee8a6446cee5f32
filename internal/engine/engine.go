package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ctxsync/internal/event"
	"ctxsync/internal/logging"
	"ctxsync/internal/metrics"
	"ctxsync/internal/pathset"
	"ctxsync/internal/watcher"
)

// Engine wires the watch layer, the update serializer, the reconciler, and
// the integrity monitor into one lifecycle. Start is idempotent; Stop drains
// pending work before the file watches come down.
type Engine struct {
	paths    *pathset.Set
	logger   *logging.Logger
	registry *metrics.Registry
	bus      *event.Bus[event.Event]

	debounce          time.Duration
	enqueueTimeout    time.Duration
	integrityInterval time.Duration
	ignorePatterns    []string
	queueSize         int

	mu         sync.Mutex
	started    bool
	watcher    *watcher.Watcher
	handles    []watcher.Handle
	serializer *Serializer
	reconciler *Reconciler
	monitor    *IntegrityMonitor
}

type Options struct {
	PathSet  *pathset.Set
	Logger   *logging.Logger
	Registry *metrics.Registry
	Bus      *event.Bus[event.Event]

	Debounce          time.Duration
	EnqueueTimeout    time.Duration
	IntegrityInterval time.Duration
	IgnorePatterns    []string
	QueueSize         int
}

func New(options Options) (*Engine, error) {
	if options.PathSet == nil {
		return nil, fmt.Errorf("engine: path set is required")
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}
	registry := options.Registry
	if registry == nil {
		registry = metrics.Default
	}
	return &Engine{
		paths:             options.PathSet,
		logger:            logger.With(map[string]string{"ctxsync.category": "engine"}),
		registry:          registry,
		bus:               options.Bus,
		debounce:          options.Debounce,
		enqueueTimeout:    options.EnqueueTimeout,
		integrityInterval: options.IntegrityInterval,
		ignorePatterns:    options.IgnorePatterns,
		queueSize:         options.QueueSize,
	}, nil
}

// Start brings up all components and performs the initial full sync. Calling
// Start on a running engine is a no-op.
func (engine *Engine) Start(ctx context.Context) error {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if engine.started {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	mergedDir := filepath.Dir(engine.paths.MergedPath())
	if err := os.MkdirAll(mergedDir, 0o755); err != nil {
		return fmt.Errorf("engine: create merged document directory: %w", err)
	}

	engine.serializer = NewSerializer(SerializerOptions{
		PathSet:   engine.paths,
		Logger:    engine.logger,
		Registry:  engine.registry,
		Bus:       engine.bus,
		Timeout:   engine.enqueueTimeout,
		QueueSize: engine.queueSize,
	})
	engine.reconciler = NewReconciler(ReconcilerOptions{
		PathSet:         engine.paths,
		Serializer:      engine.serializer,
		Logger:          engine.logger,
		Registry:        engine.registry,
		Bus:             engine.bus,
		SelfWriteWindow: engine.debounce + 500*time.Millisecond,
		QueueSize:       engine.queueSize,
	})
	engine.monitor = NewIntegrityMonitor(IntegrityMonitorOptions{
		PathSet:    engine.paths,
		Serializer: engine.serializer,
		Logger:     engine.logger,
		Registry:   engine.registry,
		Bus:        engine.bus,
		Interval:   engine.integrityInterval,
	})

	fileWatcher, err := watcher.NewWithOptions(watcher.Options{
		Logger:         engine.logger,
		Registry:       engine.registry,
		Debounce:       engine.debounce,
		IgnorePatterns: engine.ignorePatterns,
	})
	if err != nil {
		return fmt.Errorf("engine: start watcher: %w", err)
	}
	fileWatcher.SetErrorHandler(func(watchErr error) {
		engine.logger.Error("watch layer error", map[string]string{
			"error": watchErr.Error(),
		})
	})

	watchPaths := make([]string, 0, len(engine.paths.Files())+1)
	for _, file := range engine.paths.Files() {
		watchPaths = append(watchPaths, file.Path)
	}
	watchPaths = append(watchPaths, engine.paths.MergedPath())

	handles := make([]watcher.Handle, 0, len(watchPaths))
	for _, path := range watchPaths {
		handle, watchErr := fileWatcher.Watch(path, engine.reconciler.HandleWatchEvent)
		if watchErr != nil {
			for _, open := range handles {
				open.Close()
			}
			fileWatcher.Close()
			return fmt.Errorf("engine: watch %s: %w", path, watchErr)
		}
		handles = append(handles, handle)
	}

	engine.watcher = fileWatcher
	engine.handles = handles
	engine.serializer.Start()
	engine.reconciler.Start()
	engine.monitor.Start()
	engine.started = true

	engine.logger.Info("engine started", map[string]string{
		"merged_path": engine.paths.MergedPath(),
		"components":  fmt.Sprintf("%d", len(engine.paths.Files())),
	})

	engine.reconciler.SyncAll(ctx)
	return nil
}

// Stop shuts components down in dependency order: watches first so no new
// work arrives, then the reconciler, then the serializer so queued updates
// drain, and the integrity monitor last.
func (engine *Engine) Stop(ctx context.Context) error {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if !engine.started {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for _, handle := range engine.handles {
		handle.Close()
	}
	engine.handles = nil
	watchErr := engine.watcher.Close()
	engine.watcher = nil

	engine.reconciler.Stop()
	drainErr := engine.serializer.Stop(ctx)
	engine.monitor.Stop()
	engine.started = false

	engine.logger.Info("engine stopped", nil)
	if watchErr != nil {
		return watchErr
	}
	return drainErr
}

// Running reports whether Start has completed without a matching Stop.
func (engine *Engine) Running() bool {
	if engine == nil {
		return false
	}
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.started
}

// Enqueue submits a programmatic update for one component and blocks until
// the write is verified or fails.
func (engine *Engine) Enqueue(ctx context.Context, component, content string) error {
	engine.mu.Lock()
	serializer := engine.serializer
	started := engine.started
	engine.mu.Unlock()
	if !started || serializer == nil {
		return ErrSerializerClosed
	}
	return serializer.Enqueue(ctx, component, content)
}

// Components returns the current verified component contents.
func (engine *Engine) Components() map[string]string {
	engine.mu.Lock()
	serializer := engine.serializer
	engine.mu.Unlock()
	if serializer == nil {
		return map[string]string{}
	}
	snapshot := serializer.Snapshot()
	out := make(map[string]string, len(snapshot.Components))
	for component, content := range snapshot.Components {
		out[component] = content
	}
	return out
}

// PathSet exposes the tracked file layout for the observation surface.
func (engine *Engine) PathSet() *pathset.Set {
	return engine.paths
}

// WatcherMetrics reports watch-layer counters, zero-valued when stopped.
func (engine *Engine) WatcherMetrics() watcher.Metrics {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if engine.watcher == nil {
		return watcher.Metrics{}
	}
	return engine.watcher.Metrics()
}

// BridgeDropped reports events dropped on the watcher-to-reconciler queue.
func (engine *Engine) BridgeDropped() uint64 {
	engine.mu.Lock()
	reconciler := engine.reconciler
	engine.mu.Unlock()
	return reconciler.QueueDropped()
}
