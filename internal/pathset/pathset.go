// Package pathset resolves the fixed set of tracked context files and the
// merged document they mirror into. The set is built once at startup and
// never mutated; the engine treats it as an injected collaborator.
package pathset

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Default component keys mirrored into the merged document.
const (
	ComponentArchitecture = "architecture"
	ComponentProgress     = "progress"
	ComponentTasks        = "tasks"
)

// TrackedFile maps one source file to one component key.
type TrackedFile struct {
	Path      string
	Component string
}

// Set holds the ordered tracked files plus the merged-document path.
type Set struct {
	files      []TrackedFile
	mergedPath string
	byPath     map[string]string
	byKey      map[string]string
}

// New validates and freezes a tracked-file set. Order is preserved: sync_all
// processes components in the order given here.
func New(mergedPath string, files []TrackedFile) (*Set, error) {
	if strings.TrimSpace(mergedPath) == "" {
		return nil, errors.New("merged document path is required")
	}
	if len(files) == 0 {
		return nil, errors.New("at least one tracked file is required")
	}

	mergedPath = filepath.Clean(mergedPath)
	set := &Set{
		files:      make([]TrackedFile, 0, len(files)),
		mergedPath: mergedPath,
		byPath:     make(map[string]string, len(files)),
		byKey:      make(map[string]string, len(files)),
	}

	for _, file := range files {
		component := strings.TrimSpace(file.Component)
		if component == "" {
			return nil, fmt.Errorf("tracked file %q has no component key", file.Path)
		}
		if strings.TrimSpace(file.Path) == "" {
			return nil, fmt.Errorf("component %q has no path", component)
		}
		path := filepath.Clean(file.Path)
		if path == mergedPath {
			return nil, fmt.Errorf("component %q points at the merged document", component)
		}
		if _, exists := set.byKey[component]; exists {
			return nil, fmt.Errorf("duplicate component %q", component)
		}
		if _, exists := set.byPath[path]; exists {
			return nil, fmt.Errorf("duplicate path %q", path)
		}
		set.files = append(set.files, TrackedFile{Path: path, Component: component})
		set.byPath[path] = component
		set.byKey[component] = path
	}

	return set, nil
}

// Files returns the tracked files in their fixed order.
func (set *Set) Files() []TrackedFile {
	if set == nil {
		return nil
	}
	out := make([]TrackedFile, len(set.files))
	copy(out, set.files)
	return out
}

// Components returns the component keys in their fixed order.
func (set *Set) Components() []string {
	if set == nil {
		return nil
	}
	out := make([]string, 0, len(set.files))
	for _, file := range set.files {
		out = append(out, file.Component)
	}
	return out
}

// MergedPath returns the merged-document path.
func (set *Set) MergedPath() string {
	if set == nil {
		return ""
	}
	return set.mergedPath
}

// ComponentFor resolves a source-file path to its component key.
func (set *Set) ComponentFor(path string) (string, bool) {
	if set == nil {
		return "", false
	}
	component, ok := set.byPath[filepath.Clean(path)]
	return component, ok
}

// PathFor resolves a component key to its source-file path.
func (set *Set) PathFor(component string) (string, bool) {
	if set == nil {
		return "", false
	}
	path, ok := set.byKey[component]
	return path, ok
}

// Has reports whether the component key is part of the set.
func (set *Set) Has(component string) bool {
	_, ok := set.PathFor(component)
	return ok
}
