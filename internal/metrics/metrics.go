package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Registry struct {
	updatesEnqueued       atomic.Int64
	updatesCompleted      atomic.Int64
	updatesFailed         atomic.Int64
	externalEditsApplied  atomic.Int64
	externalEditsDeferred atomic.Int64
	integrityRepairs      atomic.Int64
	watchRestarts         atomic.Int64
	writeNanos            atomic.Int64
	writeCount            atomic.Int64
	busCounters           sync.Map
	busSubscribers        sync.Map
}

type busStats struct {
	published atomic.Int64
	dropped   atomic.Int64
}

var Default = &Registry{}

func (r *Registry) IncUpdateEnqueued() {
	if r == nil {
		return
	}
	r.updatesEnqueued.Add(1)
}

func (r *Registry) IncUpdateCompleted() {
	if r == nil {
		return
	}
	r.updatesCompleted.Add(1)
}

func (r *Registry) IncUpdateFailed() {
	if r == nil {
		return
	}
	r.updatesFailed.Add(1)
}

func (r *Registry) IncExternalEditApplied() {
	if r == nil {
		return
	}
	r.externalEditsApplied.Add(1)
}

func (r *Registry) IncExternalEditDeferred() {
	if r == nil {
		return
	}
	r.externalEditsDeferred.Add(1)
}

func (r *Registry) IncIntegrityRepair() {
	if r == nil {
		return
	}
	r.integrityRepairs.Add(1)
}

func (r *Registry) IncWatchRestart() {
	if r == nil {
		return
	}
	r.watchRestarts.Add(1)
}

// RecordWrite accumulates merged-document write latency.
func (r *Registry) RecordWrite(duration time.Duration) {
	if r == nil {
		return
	}
	r.writeCount.Add(1)
	r.writeNanos.Add(duration.Nanoseconds())
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.busStats(bus, eventType).published.Add(1)
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	r.busStats(bus, eventType).dropped.Add(1)
}

func (r *Registry) SetBusSubscribers(bus string, count int) {
	if r == nil {
		return
	}
	if strings.TrimSpace(bus) == "" {
		bus = "unknown"
	}
	r.busSubscribers.Store(bus, int64(count))
}

func (r *Registry) busStats(bus, eventType string) *busStats {
	if strings.TrimSpace(bus) == "" {
		bus = "unknown"
	}
	if strings.TrimSpace(eventType) == "" {
		eventType = "unknown"
	}
	key := bus + "|" + eventType
	if existing, ok := r.busCounters.Load(key); ok {
		return existing.(*busStats)
	}
	created, _ := r.busCounters.LoadOrStore(key, &busStats{})
	return created.(*busStats)
}

type Snapshot struct {
	UpdatesEnqueued       int64 `json:"updates_enqueued"`
	UpdatesCompleted      int64 `json:"updates_completed"`
	UpdatesFailed         int64 `json:"updates_failed"`
	ExternalEditsApplied  int64 `json:"external_edits_applied"`
	ExternalEditsDeferred int64 `json:"external_edits_deferred"`
	IntegrityRepairs      int64 `json:"integrity_repairs"`
	WatchRestarts         int64 `json:"watch_restarts"`
}

func (r *Registry) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		UpdatesEnqueued:       r.updatesEnqueued.Load(),
		UpdatesCompleted:      r.updatesCompleted.Load(),
		UpdatesFailed:         r.updatesFailed.Load(),
		ExternalEditsApplied:  r.externalEditsApplied.Load(),
		ExternalEditsDeferred: r.externalEditsDeferred.Load(),
		IntegrityRepairs:      r.integrityRepairs.Load(),
		WatchRestarts:         r.watchRestarts.Load(),
	}
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeCounter(writer, "ctxsync_updates_enqueued_total", "Total update requests enqueued", r.updatesEnqueued.Load())
	writeCounter(writer, "ctxsync_updates_completed_total", "Total update requests completed", r.updatesCompleted.Load())
	writeCounter(writer, "ctxsync_updates_failed_total", "Total update requests failed", r.updatesFailed.Load())
	writeCounter(writer, "ctxsync_external_edits_applied_total", "External edits merged back to source files", r.externalEditsApplied.Load())
	writeCounter(writer, "ctxsync_external_edits_deferred_total", "External edits deferred behind in-flight updates", r.externalEditsDeferred.Load())
	writeCounter(writer, "ctxsync_integrity_repairs_total", "Merged document repairs from snapshot", r.integrityRepairs.Load())
	writeCounter(writer, "ctxsync_watch_restarts_total", "Filesystem watcher restarts", r.watchRestarts.Load())

	writeHelp(writer, "ctxsync_document_write_seconds", "Merged document write latency")
	fmt.Fprintln(writer, "# TYPE ctxsync_document_write_seconds summary")
	writeSeconds := float64(r.writeNanos.Load()) / float64(time.Second)
	fmt.Fprintf(writer, "ctxsync_document_write_seconds_sum %.6f\n", writeSeconds)
	fmt.Fprintf(writer, "ctxsync_document_write_seconds_count %d\n", r.writeCount.Load())

	keys := make([]string, 0)
	r.busCounters.Range(func(key, _ any) bool {
		keys = append(keys, key.(string))
		return true
	})
	sort.Strings(keys)

	writeHelp(writer, "ctxsync_events_published_total", "Events published per bus and type")
	fmt.Fprintln(writer, "# TYPE ctxsync_events_published_total counter")
	writeHelp(writer, "ctxsync_events_dropped_total", "Events dropped per bus and type")
	fmt.Fprintln(writer, "# TYPE ctxsync_events_dropped_total counter")

	for _, key := range keys {
		value, ok := r.busCounters.Load(key)
		if !ok {
			continue
		}
		stats := value.(*busStats)
		bus, eventType, found := strings.Cut(key, "|")
		if !found {
			continue
		}
		labels := fmt.Sprintf("{bus=%s,type=%s}", formatLabel(bus), formatLabel(eventType))
		fmt.Fprintf(writer, "ctxsync_events_published_total%s %d\n", labels, stats.published.Load())
		fmt.Fprintf(writer, "ctxsync_events_dropped_total%s %d\n", labels, stats.dropped.Load())
	}

	buses := make([]string, 0)
	r.busSubscribers.Range(func(key, _ any) bool {
		buses = append(buses, key.(string))
		return true
	})
	sort.Strings(buses)

	writeHelp(writer, "ctxsync_bus_subscribers", "Active subscribers per bus")
	fmt.Fprintln(writer, "# TYPE ctxsync_bus_subscribers gauge")
	for _, bus := range buses {
		value, ok := r.busSubscribers.Load(bus)
		if !ok {
			continue
		}
		fmt.Fprintf(writer, "ctxsync_bus_subscribers{bus=%s} %d\n", formatLabel(bus), value.(int64))
	}

	return nil
}

func writeCounter(writer io.Writer, name, help string, value int64) {
	writeHelp(writer, name, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", name)
	fmt.Fprintf(writer, "%s %d\n", name, value)
}

func writeHelp(writer io.Writer, name, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", name, help)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, `"`, `\"`)
	return `"` + escaped + `"`
}
