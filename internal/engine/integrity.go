package engine

import (
	"os"
	"time"

	"ctxsync/internal/event"
	"ctxsync/internal/logging"
	"ctxsync/internal/mergeddoc"
	"ctxsync/internal/metrics"
	"ctxsync/internal/pathset"
)

const defaultIntegrityInterval = time.Second

// IntegrityMonitor periodically verifies that the merged document still
// parses. Corruption is repaired wholesale from the in-memory snapshot; no
// attempt is made to salvage fragments of a broken file.
type IntegrityMonitor struct {
	paths      *pathset.Set
	serializer *Serializer
	logger     *logging.Logger
	registry   *metrics.Registry
	bus        *event.Bus[event.Event]

	interval time.Duration
	quit     chan struct{}
	stopped  chan struct{}
}

type IntegrityMonitorOptions struct {
	PathSet    *pathset.Set
	Serializer *Serializer
	Logger     *logging.Logger
	Registry   *metrics.Registry
	Bus        *event.Bus[event.Event]
	Interval   time.Duration
}

func NewIntegrityMonitor(options IntegrityMonitorOptions) *IntegrityMonitor {
	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}
	registry := options.Registry
	if registry == nil {
		registry = metrics.Default
	}
	interval := options.Interval
	if interval <= 0 {
		interval = defaultIntegrityInterval
	}
	return &IntegrityMonitor{
		paths:      options.PathSet,
		serializer: options.Serializer,
		logger:     logger.With(map[string]string{"ctxsync.category": "integrity"}),
		registry:   registry,
		bus:        options.Bus,
		interval:   interval,
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Start launches the periodic check.
func (monitor *IntegrityMonitor) Start() {
	go monitor.run()
}

// Stop terminates the periodic check.
func (monitor *IntegrityMonitor) Stop() {
	if monitor == nil {
		return
	}
	select {
	case <-monitor.quit:
	default:
		close(monitor.quit)
	}
	<-monitor.stopped
}

func (monitor *IntegrityMonitor) run() {
	defer close(monitor.stopped)
	ticker := time.NewTicker(monitor.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			monitor.Check()
		case <-monitor.quit:
			return
		}
	}
}

// Check runs one integrity pass. Exported so startup and tests can force a
// check without waiting for the ticker.
func (monitor *IntegrityMonitor) Check() {
	path := monitor.paths.MergedPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			monitor.repair("missing")
			return
		}
		monitor.logger.Warn("merged document unreadable", map[string]string{
			"path":  path,
			"error": err.Error(),
		})
		monitor.repair(err.Error())
		return
	}

	if _, err := mergeddoc.Parse(data, monitor.paths.Components()); err != nil {
		monitor.logger.Warn("merged document corrupt", map[string]string{
			"path":  path,
			"error": err.Error(),
		})
		monitor.repair(err.Error())
	}
}

func (monitor *IntegrityMonitor) repair(reason string) {
	path := monitor.paths.MergedPath()
	snapshot := monitor.serializer.Snapshot()

	monitor.serializer.NoteSelfWrite()
	if err := snapshot.WriteAtomic(path); err != nil {
		monitor.logger.Error("merged document repair failed", map[string]string{
			"path":  path,
			"error": err.Error(),
		})
		return
	}

	monitor.registry.IncIntegrityRepair()
	if monitor.bus != nil {
		monitor.bus.Publish(event.NewIntegrityEvent(path, reason))
	}
	monitor.logger.Warn("merged document rebuilt from snapshot", map[string]string{
		"path":   path,
		"reason": reason,
	})
}
