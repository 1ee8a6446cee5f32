package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

type callbackEntry struct {
	id       uint64
	callback func(Event)
	dir      string
}

type watchHandle struct {
	watcher *Watcher
	path    string
	id      uint64
	once    sync.Once
}

func (handle *watchHandle) Close() error {
	if handle == nil || handle.watcher == nil {
		return nil
	}
	var err error
	handle.once.Do(func() {
		err = handle.watcher.removeCallback(handle.path, handle.id)
	})
	return err
}

// Watch registers a callback for filesystem events on a file path. The watch
// is attached to the parent directory so atomic renames over the file keep
// delivering events. Missing files get an empty placeholder; tracked files
// are created lazily by users.
func (watcher *Watcher) Watch(path string, callback func(Event)) (Handle, error) {
	if watcher == nil {
		return nil, errors.New("watcher is nil")
	}
	if path == "" {
		return nil, errors.New("path is required")
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}

	path = filepath.Clean(path)
	if err := ensurePlaceholder(path); err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil, errors.New("watcher is closed")
	}

	needsAdd := watcher.dirRefs[dir] == 0
	if needsAdd && watcher.activeWatches >= watcher.maxWatches {
		watcher.mutex.Unlock()
		return nil, ErrMaxWatchesExceeded
	}
	watcher.nextID++
	entry := callbackEntry{callback: callback, id: watcher.nextID, dir: dir}
	watcher.callbacks[path] = append(watcher.callbacks[path], entry)
	watcher.dirRefs[dir]++
	if needsAdd {
		watcher.activeWatches++
	}
	activeCount := watcher.activeWatches
	watcher.mutex.Unlock()

	if needsAdd {
		if err := watcher.watcher.Add(dir); err != nil {
			watcher.dropCallback(path, entry.id)
			watcher.logWarn("watch add failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			return nil, err
		}
		watcher.logDebug("watch added", path, activeCount)
	}

	return &watchHandle{watcher: watcher, path: path, id: entry.id}, nil
}

func ensurePlaceholder(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create watch directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return fmt.Errorf("create placeholder %s: %w", path, err)
	}
	return nil
}

func (watcher *Watcher) removeCallback(path string, id uint64) error {
	if watcher == nil {
		return nil
	}

	dirToRemove := ""
	activeCount := 0
	watcher.mutex.Lock()
	callbacks := watcher.callbacks[path]
	for index, candidate := range callbacks {
		if candidate.id != id {
			continue
		}
		callbacks = append(callbacks[:index], callbacks[index+1:]...)
		watcher.dirRefs[candidate.dir]--
		if watcher.dirRefs[candidate.dir] <= 0 {
			delete(watcher.dirRefs, candidate.dir)
			dirToRemove = candidate.dir
			if watcher.activeWatches > 0 {
				watcher.activeWatches--
			}
		}
		break
	}
	if len(callbacks) == 0 {
		delete(watcher.callbacks, path)
	} else {
		watcher.callbacks[path] = callbacks
	}
	activeCount = watcher.activeWatches
	watcher.mutex.Unlock()

	if dirToRemove != "" && watcher.watcher != nil {
		if err := watcher.watcher.Remove(dirToRemove); err != nil {
			watcher.logWarn("watch remove failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			return err
		}
		watcher.logDebug("watch removed", path, activeCount)
	}
	return nil
}

func (watcher *Watcher) dropCallback(path string, id uint64) {
	if watcher == nil {
		return
	}

	watcher.mutex.Lock()
	callbacks := watcher.callbacks[path]
	for index, candidate := range callbacks {
		if candidate.id != id {
			continue
		}
		callbacks = append(callbacks[:index], callbacks[index+1:]...)
		watcher.dirRefs[candidate.dir]--
		if watcher.dirRefs[candidate.dir] <= 0 {
			delete(watcher.dirRefs, candidate.dir)
			if watcher.activeWatches > 0 {
				watcher.activeWatches--
			}
		}
		break
	}
	if len(callbacks) == 0 {
		delete(watcher.callbacks, path)
	} else {
		watcher.callbacks[path] = callbacks
	}
	watcher.mutex.Unlock()
}
