// Package mergeddoc models the single JSON document the IDE assistant reads.
// Component keys carry raw text content; any sibling keys written by external
// tooling round-trip untouched through every rewrite.
package mergeddoc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Document is the merged view of all tracked components.
type Document struct {
	Components map[string]string
	Extra      map[string]json.RawMessage
}

// New returns an empty document.
func New() *Document {
	return &Document{
		Components: make(map[string]string),
		Extra:      make(map[string]json.RawMessage),
	}
}

// Parse decodes a document, splitting known component keys from sibling keys.
// An empty payload decodes to an empty document so a freshly created
// placeholder file is not treated as corruption.
func Parse(data []byte, components []string) (*Document, error) {
	document := New()
	if len(strings.TrimSpace(string(data))) == 0 {
		return document, nil
	}

	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse merged document: %w", err)
	}

	known := make(map[string]struct{}, len(components))
	for _, component := range components {
		known[component] = struct{}{}
	}

	for key, value := range raw {
		if _, ok := known[key]; !ok {
			document.Extra[key] = value
			continue
		}
		var content string
		if err := json.Unmarshal(value, &content); err != nil {
			return nil, fmt.Errorf("component %q is not a string: %w", key, err)
		}
		document.Components[key] = content
	}

	return document, nil
}

// Load reads and parses the document at path. A missing file loads as empty.
func Load(path string, components []string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("read merged document: %w", err)
	}
	return Parse(data, components)
}

// Marshal renders the document as one indented JSON object with stable key order.
func (document *Document) Marshal() ([]byte, error) {
	if document == nil {
		return []byte("{}"), nil
	}

	combined := make(map[string]json.RawMessage, len(document.Components)+len(document.Extra))
	for key, value := range document.Extra {
		combined[key] = value
	}
	for key, content := range document.Components {
		encoded, err := json.Marshal(content)
		if err != nil {
			return nil, fmt.Errorf("encode component %q: %w", key, err)
		}
		combined[key] = encoded
	}

	data, err := json.MarshalIndent(combined, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode merged document: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteAtomic persists the document via temp-file-then-rename so readers never
// observe a partial write. On any failure the previous file is left untouched.
func (document *Document) WriteAtomic(path string) error {
	data, err := document.Marshal()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create merged document directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := temp.Sync(); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0o644); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("replace merged document: %w", err)
	}
	return nil
}

// Clone returns a deep copy.
func (document *Document) Clone() *Document {
	if document == nil {
		return New()
	}
	clone := New()
	for key, content := range document.Components {
		clone.Components[key] = content
	}
	for key, value := range document.Extra {
		copied := make(json.RawMessage, len(value))
		copy(copied, value)
		clone.Extra[key] = copied
	}
	return clone
}

// Get returns a component's content.
func (document *Document) Get(component string) (string, bool) {
	if document == nil {
		return "", false
	}
	content, ok := document.Components[component]
	return content, ok
}

// Set replaces a component's content.
func (document *Document) Set(component, content string) {
	if document == nil {
		return
	}
	if document.Components == nil {
		document.Components = make(map[string]string)
	}
	document.Components[component] = content
}

// DiffComponents returns the component keys whose content differs between the
// two documents, considering keys present in either.
func (document *Document) DiffComponents(other *Document) []string {
	changed := make([]string, 0)
	seen := make(map[string]struct{})

	compare := func(key string) {
		if _, done := seen[key]; done {
			return
		}
		seen[key] = struct{}{}
		mine, mineOK := document.Get(key)
		theirs, theirsOK := other.Get(key)
		if mineOK != theirsOK || mine != theirs {
			changed = append(changed, key)
		}
	}

	if document != nil {
		for key := range document.Components {
			compare(key)
		}
	}
	if other != nil {
		for key := range other.Components {
			compare(key)
		}
	}
	return changed
}
