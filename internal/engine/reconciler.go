package engine

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"ctxsync/internal/event"
	"ctxsync/internal/logging"
	"ctxsync/internal/mergeddoc"
	"ctxsync/internal/metrics"
	"ctxsync/internal/pathset"
	"ctxsync/internal/watcher"
)

const (
	defaultBridgeQueueSize = 64
	syncAllRetryDelay      = 250 * time.Millisecond
)

// Reconciler decides, per change event, which direction content flows. It
// owns the bridge queue: watcher callbacks only enqueue here and never touch
// engine state directly.
type Reconciler struct {
	paths      *pathset.Set
	serializer *Serializer
	logger     *logging.Logger
	registry   *metrics.Registry
	bus        *event.Bus[event.Event]

	queue   chan watcher.Event
	rediff  chan struct{}
	quit    chan struct{}
	stopped chan struct{}

	selfWriteWindow time.Duration
	queueDropped    atomic.Uint64
}

type ReconcilerOptions struct {
	PathSet    *pathset.Set
	Serializer *Serializer
	Logger     *logging.Logger
	Registry   *metrics.Registry
	Bus        *event.Bus[event.Event]
	// SelfWriteWindow suppresses merged-document events arriving this soon
	// after one of this process's own renames.
	SelfWriteWindow time.Duration
	QueueSize       int
}

func NewReconciler(options ReconcilerOptions) *Reconciler {
	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}
	registry := options.Registry
	if registry == nil {
		registry = metrics.Default
	}
	queueSize := options.QueueSize
	if queueSize <= 0 {
		queueSize = defaultBridgeQueueSize
	}
	window := options.SelfWriteWindow
	if window <= 0 {
		window = 500 * time.Millisecond
	}

	reconciler := &Reconciler{
		paths:           options.PathSet,
		serializer:      options.Serializer,
		logger:          logger.With(map[string]string{"ctxsync.category": "reconciler"}),
		registry:        registry,
		bus:             options.Bus,
		queue:           make(chan watcher.Event, queueSize),
		rediff:          make(chan struct{}, 1),
		quit:            make(chan struct{}),
		stopped:         make(chan struct{}),
		selfWriteWindow: window,
	}

	if options.Serializer != nil {
		options.Serializer.SetResolvedHook(reconciler.onUpdateResolved)
	}
	return reconciler
}

// Start launches the reconcile loop.
func (reconciler *Reconciler) Start() {
	go reconciler.run()
}

// Stop terminates the reconcile loop.
func (reconciler *Reconciler) Stop() {
	if reconciler == nil {
		return
	}
	select {
	case <-reconciler.quit:
	default:
		close(reconciler.quit)
	}
	<-reconciler.stopped
}

// HandleWatchEvent crosses the thread boundary from the watcher callback into
// the reconcile loop. It never blocks; under sustained overload events are
// dropped and counted, and the next merged-document diff catches up.
func (reconciler *Reconciler) HandleWatchEvent(change watcher.Event) {
	if reconciler == nil {
		return
	}
	select {
	case reconciler.queue <- change:
	default:
		reconciler.queueDropped.Add(1)
		reconciler.logger.Warn("bridge queue full, dropping event", map[string]string{
			"path": change.Path,
		})
	}
}

// QueueDropped reports how many events overflowed the bridge queue.
func (reconciler *Reconciler) QueueDropped() uint64 {
	if reconciler == nil {
		return 0
	}
	return reconciler.queueDropped.Load()
}

func (reconciler *Reconciler) run() {
	defer close(reconciler.stopped)
	for {
		select {
		case change := <-reconciler.queue:
			reconciler.dispatch(change)
		case <-reconciler.rediff:
			reconciler.reconcileMerged()
		case <-reconciler.quit:
			return
		}
	}
}

func (reconciler *Reconciler) dispatch(change watcher.Event) {
	merged := change.Path == reconciler.paths.MergedPath()
	component, tracked := reconciler.paths.ComponentFor(change.Path)
	if !merged && !tracked {
		return
	}

	if reconciler.bus != nil {
		reconciler.bus.Publish(event.NewFileEvent(change.Path, change.Kind()))
	}

	if merged {
		if reconciler.serializer.WroteWithin(reconciler.selfWriteWindow) {
			// The event is probably our own rename, but an external edit can
			// land in the same window; re-diff once the window closes so it
			// is not stranded.
			reconciler.logger.Debug("skipping own merged-document write", map[string]string{
				"path": change.Path,
			})
			time.AfterFunc(reconciler.selfWriteWindow, reconciler.requestRediff)
			return
		}
		reconciler.reconcileMerged()
		return
	}

	reconciler.syncSource(component, change.Path)
}

// syncSource pushes a source file's current content into the merged document.
// A deleted source file mirrors as empty content rather than a stale value.
func (reconciler *Reconciler) syncSource(component, path string) {
	content, err := readSourceFile(path)
	if err != nil {
		reconciler.logger.Warn("source file unreadable, skipping", map[string]string{
			"component": component,
			"path":      path,
			"error":     err.Error(),
		})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := reconciler.serializer.Enqueue(ctx, component, content); err != nil {
		reconciler.logger.Warn("source sync failed", map[string]string{
			"component": component,
			"error":     err.Error(),
		})
	}
}

// reconcileMerged diffs the on-disk document against the snapshot and flows
// externally edited components back to their source files. Components with an
// in-flight update are deferred and re-diffed once the update resolves.
func (reconciler *Reconciler) reconcileMerged() {
	path := reconciler.paths.MergedPath()
	disk, err := mergeddoc.Load(path, reconciler.paths.Components())
	if err != nil {
		// Corruption is the integrity monitor's job.
		reconciler.logger.Warn("merged document unreadable during reconcile", map[string]string{
			"error": err.Error(),
		})
		return
	}

	snapshot := reconciler.serializer.Snapshot()
	changed := make(map[string]struct{})
	for _, component := range snapshot.DiffComponents(disk) {
		changed[component] = struct{}{}
	}
	reconciler.serializer.AbsorbExtras(disk)
	if len(changed) == 0 {
		return
	}

	for _, component := range reconciler.paths.Components() {
		if _, ok := changed[component]; !ok {
			continue
		}
		if reconciler.serializer.InFlight(component) {
			reconciler.serializer.MarkDeferred(component)
			reconciler.registry.IncExternalEditDeferred()
			reconciler.logger.Debug("external edit deferred behind in-flight update", map[string]string{
				"component": component,
			})
			continue
		}

		content, _ := disk.Get(component)
		sourcePath, ok := reconciler.paths.PathFor(component)
		if !ok {
			continue
		}
		if err := os.WriteFile(sourcePath, []byte(content), 0o644); err != nil {
			reconciler.logger.Warn("source write-back failed", map[string]string{
				"component": component,
				"path":      sourcePath,
				"error":     err.Error(),
			})
			continue
		}

		// The document on disk is already correct; only the snapshot moves.
		reconciler.serializer.PatchSnapshot(component, content)
		reconciler.registry.IncExternalEditApplied()
		if reconciler.bus != nil {
			reconciler.bus.Publish(event.NewSyncEvent(event.TypeExternalEdit, component, event.DirectionMergedToSource))
		}
		reconciler.logger.Info("external edit merged back", map[string]string{
			"component": component,
		})
	}
}

// SyncAll performs the startup push of every tracked file into the merged
// document, in the path set's fixed order. Verification failures get one
// retry; individual component failures never block the rest.
func (reconciler *Reconciler) SyncAll(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	for _, file := range reconciler.paths.Files() {
		content, err := readSourceFile(file.Path)
		if err != nil {
			reconciler.logger.Warn("bootstrap read failed, skipping component", map[string]string{
				"component": file.Component,
				"path":      file.Path,
				"error":     err.Error(),
			})
			continue
		}

		err = reconciler.serializer.Enqueue(ctx, file.Component, content)
		if err == nil {
			continue
		}
		reconciler.logger.Warn("bootstrap sync failed, retrying once", map[string]string{
			"component": file.Component,
			"error":     err.Error(),
		})

		select {
		case <-time.After(syncAllRetryDelay):
		case <-ctx.Done():
			return
		}
		if err := reconciler.serializer.Enqueue(ctx, file.Component, content); err != nil {
			reconciler.logger.Error("bootstrap sync failed after retry", map[string]string{
				"component": file.Component,
				"error":     err.Error(),
			})
		}
	}
}

// onUpdateResolved re-diffs the merged document when an external edit was
// deferred behind the update that just settled.
func (reconciler *Reconciler) onUpdateResolved(component string, deferredExternal bool) {
	if !deferredExternal {
		return
	}
	reconciler.requestRediff()
}

// requestRediff schedules one merged-document diff on the reconcile loop.
// Requests coalesce while one is already pending.
func (reconciler *Reconciler) requestRediff() {
	select {
	case reconciler.rediff <- struct{}{}:
	default:
	}
}

func readSourceFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}
