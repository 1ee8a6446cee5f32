// Package watcher provides filesystem event watching for tracked context files.
//
// Watches are registered per file but attached to the parent directory, so a
// temp-write-then-rename replacement of a tracked file keeps delivering events.
// Callers should assume events can be coalesced under load: rapid writes within
// the debounce window collapse to the last observed event.
package watcher
