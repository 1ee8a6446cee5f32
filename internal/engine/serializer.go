package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ctxsync/internal/event"
	"ctxsync/internal/logging"
	"ctxsync/internal/mergeddoc"
	"ctxsync/internal/metrics"
	"ctxsync/internal/pathset"
)

var (
	ErrUnknownComponent = errors.New("unknown component")
	ErrUpdateTimeout    = errors.New("update timed out")
	ErrSerializerClosed = errors.New("serializer is closed")
	ErrVerification     = errors.New("verification mismatch after write")
)

const defaultUpdateQueueSize = 64

type pendingUpdate struct {
	component  string
	content    string
	done       chan error
	enqueuedAt time.Time
}

// Serializer is the single writer of the merged document. Requests are
// processed strictly in arrival order by one drain goroutine; each request
// resolves its completion channel exactly once.
type Serializer struct {
	paths    *pathset.Set
	logger   *logging.Logger
	registry *metrics.Registry
	bus      *event.Bus[event.Event]
	timeout  time.Duration

	queue   chan *pendingUpdate
	quit    chan struct{}
	stopped chan struct{}

	closeOnce sync.Once
	forceFail atomic.Bool

	mu          sync.Mutex
	closed      bool
	snapshot    *mergeddoc.Document
	inFlight    map[string]int
	deferred    map[string]struct{}
	lastWriteAt time.Time

	onResolved func(component string, deferredExternal bool)
}

type SerializerOptions struct {
	PathSet   *pathset.Set
	Logger    *logging.Logger
	Registry  *metrics.Registry
	Bus       *event.Bus[event.Event]
	Timeout   time.Duration
	QueueSize int
}

func NewSerializer(options SerializerOptions) *Serializer {
	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}
	registry := options.Registry
	if registry == nil {
		registry = metrics.Default
	}
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	queueSize := options.QueueSize
	if queueSize <= 0 {
		queueSize = defaultUpdateQueueSize
	}

	return &Serializer{
		paths:    options.PathSet,
		logger:   logger.With(map[string]string{"ctxsync.category": "serializer"}),
		registry: registry,
		bus:      options.Bus,
		timeout:  timeout,
		queue:    make(chan *pendingUpdate, queueSize),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		inFlight: make(map[string]int),
		deferred: make(map[string]struct{}),
	}
}

// Start launches the drain goroutine.
func (serializer *Serializer) Start() {
	go serializer.run()
}

// SetResolvedHook registers a callback fired after every processed update.
// deferredExternal reports whether an external edit to the same component was
// parked behind the update.
func (serializer *Serializer) SetResolvedHook(hook func(component string, deferredExternal bool)) {
	if serializer == nil {
		return
	}
	serializer.mu.Lock()
	serializer.onResolved = hook
	serializer.mu.Unlock()
}

// Enqueue requests that a component be set to content in the merged document.
// It blocks until the write completes and verifies, the context is canceled,
// or the bounded timeout elapses. A timed-out request is dropped, not retried.
func (serializer *Serializer) Enqueue(ctx context.Context, component, content string) error {
	if serializer == nil {
		return ErrSerializerClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if serializer.paths == nil || !serializer.paths.Has(component) {
		return fmt.Errorf("%w: %q", ErrUnknownComponent, component)
	}

	update := &pendingUpdate{
		component:  component,
		content:    content,
		done:       make(chan error, 1),
		enqueuedAt: time.Now().UTC(),
	}

	serializer.mu.Lock()
	if serializer.closed {
		serializer.mu.Unlock()
		return ErrSerializerClosed
	}
	serializer.inFlight[component]++
	serializer.mu.Unlock()

	serializer.registry.IncUpdateEnqueued()

	select {
	case serializer.queue <- update:
	case <-ctx.Done():
		serializer.abandon(component)
		return ctx.Err()
	case <-serializer.quit:
		serializer.abandon(component)
		return ErrSerializerClosed
	}

	timer := time.NewTimer(serializer.timeout)
	defer timer.Stop()

	select {
	case err := <-update.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		serializer.logger.Warn("update timed out", map[string]string{
			"component": component,
		})
		return fmt.Errorf("%w: component %q after %s", ErrUpdateTimeout, component, serializer.timeout)
	}
}

// Stop drains outstanding updates within the context's deadline, then
// force-resolves whatever remains as failed.
func (serializer *Serializer) Stop(ctx context.Context) error {
	if serializer == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	serializer.closeOnce.Do(func() {
		serializer.mu.Lock()
		serializer.closed = true
		serializer.mu.Unlock()
		close(serializer.quit)
	})

	select {
	case <-serializer.stopped:
		return nil
	case <-ctx.Done():
		serializer.forceFail.Store(true)
		<-serializer.stopped
		return fmt.Errorf("serializer shutdown grace expired: %w", ctx.Err())
	}
}

// Snapshot returns a deep copy of the last successfully written document.
func (serializer *Serializer) Snapshot() *mergeddoc.Document {
	if serializer == nil {
		return mergeddoc.New()
	}
	serializer.mu.Lock()
	defer serializer.mu.Unlock()
	return serializer.snapshot.Clone()
}

// InFlight reports whether an update currently targets the component.
func (serializer *Serializer) InFlight(component string) bool {
	if serializer == nil {
		return false
	}
	serializer.mu.Lock()
	defer serializer.mu.Unlock()
	return serializer.inFlight[component] > 0
}

// MarkDeferred parks an external edit to a component behind its in-flight
// update; the resolved hook reports it once the update settles.
func (serializer *Serializer) MarkDeferred(component string) {
	if serializer == nil {
		return
	}
	serializer.mu.Lock()
	serializer.deferred[component] = struct{}{}
	serializer.mu.Unlock()
}

// PatchSnapshot records an externally observed component value without a
// merged-document write; the document on disk is already correct.
func (serializer *Serializer) PatchSnapshot(component, content string) {
	if serializer == nil {
		return
	}
	serializer.mu.Lock()
	if serializer.snapshot == nil {
		serializer.snapshot = mergeddoc.New()
	}
	serializer.snapshot.Set(component, content)
	serializer.mu.Unlock()
}

// AbsorbExtras copies sibling keys observed on disk into the snapshot so a
// later repair from snapshot does not drop them.
func (serializer *Serializer) AbsorbExtras(document *mergeddoc.Document) {
	if serializer == nil || document == nil {
		return
	}
	serializer.mu.Lock()
	if serializer.snapshot == nil {
		serializer.snapshot = mergeddoc.New()
	}
	for key, value := range document.Extra {
		serializer.snapshot.Extra[key] = value
	}
	serializer.mu.Unlock()
}

// NoteSelfWrite records that this process just replaced the merged document,
// so the watcher event for the rename can be told apart from an external edit.
func (serializer *Serializer) NoteSelfWrite() {
	if serializer == nil {
		return
	}
	serializer.mu.Lock()
	serializer.lastWriteAt = time.Now()
	serializer.mu.Unlock()
}

// WroteWithin reports whether this process replaced the merged document inside
// the given window.
func (serializer *Serializer) WroteWithin(window time.Duration) bool {
	if serializer == nil {
		return false
	}
	serializer.mu.Lock()
	defer serializer.mu.Unlock()
	if serializer.lastWriteAt.IsZero() {
		return false
	}
	return time.Since(serializer.lastWriteAt) < window
}

func (serializer *Serializer) run() {
	defer close(serializer.stopped)
	for {
		select {
		case update := <-serializer.queue:
			serializer.process(update)
		case <-serializer.quit:
			serializer.drainRemaining()
			return
		}
	}
}

func (serializer *Serializer) drainRemaining() {
	for {
		select {
		case update := <-serializer.queue:
			if serializer.forceFail.Load() {
				serializer.resolve(update, ErrSerializerClosed)
				continue
			}
			serializer.process(update)
		default:
			return
		}
	}
}

func (serializer *Serializer) process(update *pendingUpdate) {
	if update == nil {
		return
	}
	if serializer.forceFail.Load() {
		serializer.resolve(update, ErrSerializerClosed)
		return
	}

	err := serializer.write(update.component, update.content)
	if err != nil {
		serializer.registry.IncUpdateFailed()
		serializer.logger.Warn("update failed", map[string]string{
			"component": update.component,
			"error":     err.Error(),
		})
		if serializer.bus != nil {
			failure := event.NewSyncEvent(event.TypeComponentFailed, update.component, event.DirectionSourceToMerged)
			failure.Message = err.Error()
			serializer.bus.Publish(event.Event(failure))
		}
	} else {
		serializer.registry.IncUpdateCompleted()
		if serializer.bus != nil {
			serializer.bus.Publish(event.Event(event.NewSyncEvent(event.TypeComponentSynced, update.component, event.DirectionSourceToMerged)))
		}
	}
	serializer.resolve(update, err)
}

// write performs one serialized read-modify-write-verify cycle.
func (serializer *Serializer) write(component, content string) error {
	path := serializer.paths.MergedPath()
	components := serializer.paths.Components()

	current, err := mergeddoc.Load(path, components)
	if err != nil {
		// Corrupted on disk: build on the last known-good state instead.
		serializer.logger.Warn("merged document unreadable, using snapshot", map[string]string{
			"error": err.Error(),
		})
		current = serializer.Snapshot()
	}

	current.Set(component, content)

	started := time.Now()
	serializer.NoteSelfWrite()
	if err := current.WriteAtomic(path); err != nil {
		return err
	}
	serializer.registry.RecordWrite(time.Since(started))

	verified, err := mergeddoc.Load(path, components)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerification, err)
	}
	got, ok := verified.Get(component)
	if !ok || got != content {
		return fmt.Errorf("%w: component %q", ErrVerification, component)
	}

	serializer.mu.Lock()
	serializer.snapshot = verified
	serializer.lastWriteAt = time.Now()
	serializer.mu.Unlock()
	return nil
}

func (serializer *Serializer) resolve(update *pendingUpdate, err error) {
	select {
	case update.done <- err:
	default:
	}
	hadDeferred := serializer.finishInFlight(update.component)

	serializer.mu.Lock()
	hook := serializer.onResolved
	serializer.mu.Unlock()
	if hook != nil {
		hook(update.component, hadDeferred)
	}
}

// abandon releases bookkeeping for a request that never reached the queue,
// still reporting any deferred external edit so it is not lost.
func (serializer *Serializer) abandon(component string) {
	hadDeferred := serializer.finishInFlight(component)
	if !hadDeferred {
		return
	}
	serializer.mu.Lock()
	hook := serializer.onResolved
	serializer.mu.Unlock()
	if hook != nil {
		hook(component, true)
	}
}

// finishInFlight decrements the component's pending count and reports whether
// a deferred external edit was waiting on it.
func (serializer *Serializer) finishInFlight(component string) bool {
	serializer.mu.Lock()
	defer serializer.mu.Unlock()
	if serializer.inFlight[component] > 0 {
		serializer.inFlight[component]--
	}
	if serializer.inFlight[component] > 0 {
		return false
	}
	delete(serializer.inFlight, component)
	if _, ok := serializer.deferred[component]; ok {
		delete(serializer.deferred, component)
		return true
	}
	return false
}
