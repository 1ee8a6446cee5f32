package mergeddoc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

var testComponents = []string{"architecture", "progress", "tasks"}

func TestParseSplitsKnownAndSiblingKeys(t *testing.T) {
	payload := `{"architecture":"arch text","tasks":"todo","generator":{"name":"ide","version":2}}`

	document, err := Parse([]byte(payload), testComponents)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if document.Components["architecture"] != "arch text" || document.Components["tasks"] != "todo" {
		t.Fatalf("unexpected components %v", document.Components)
	}
	if _, ok := document.Components["generator"]; ok {
		t.Fatal("sibling key leaked into components")
	}
	if _, ok := document.Extra["generator"]; !ok {
		t.Fatal("sibling key not preserved in extra")
	}
}

func TestParseEmptyPayload(t *testing.T) {
	document, err := Parse(nil, testComponents)
	if err != nil {
		t.Fatalf("parse empty: %v", err)
	}
	if len(document.Components) != 0 || len(document.Extra) != 0 {
		t.Fatalf("expected empty document, got %+v", document)
	}
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	if _, err := Parse([]byte(`{"tasks": "unterminated`), testComponents); err == nil {
		t.Fatal("expected malformed JSON to be rejected")
	}
}

func TestParseRejectsNonStringComponent(t *testing.T) {
	if _, err := Parse([]byte(`{"tasks": 42}`), testComponents); err == nil {
		t.Fatal("expected non-string component to be rejected")
	}
}

func TestMarshalRoundTripsSiblingKeys(t *testing.T) {
	original := `{"architecture":"x","vendor":{"custom":[1,2,3]}}`
	document, err := Parse([]byte(original), testComponents)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	document.Set("tasks", "buy milk")
	data, err := document.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	reparsed, err := Parse(data, testComponents)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if reparsed.Components["architecture"] != "x" || reparsed.Components["tasks"] != "buy milk" {
		t.Fatalf("unexpected components %v", reparsed.Components)
	}

	var vendor map[string]any
	if err := json.Unmarshal(reparsed.Extra["vendor"], &vendor); err != nil {
		t.Fatalf("vendor key corrupted: %v", err)
	}
}

func TestWriteAtomicThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".context", "context.json")

	document := New()
	document.Set("architecture", "layers")
	document.Set("progress", "")
	if err := document.WriteAtomic(path); err != nil {
		t.Fatalf("write: %v", err)
	}

	loaded, err := Load(path, testComponents)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Components["architecture"] != "layers" {
		t.Fatalf("unexpected content %v", loaded.Components)
	}
	if content, ok := loaded.Get("progress"); !ok || content != "" {
		t.Fatalf("expected empty progress component, got %q (%v)", content, ok)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Fatalf("temp file %q left behind", entry.Name())
		}
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	document, err := Load(filepath.Join(t.TempDir(), "absent.json"), testComponents)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(document.Components) != 0 {
		t.Fatalf("expected empty document, got %v", document.Components)
	}
}

func TestCloneIsDeep(t *testing.T) {
	document := New()
	document.Set("tasks", "original")
	document.Extra["vendor"] = json.RawMessage(`"v1"`)

	clone := document.Clone()
	clone.Set("tasks", "changed")
	clone.Extra["vendor"] = json.RawMessage(`"v2"`)

	if document.Components["tasks"] != "original" {
		t.Fatal("clone mutation leaked into component map")
	}
	if string(document.Extra["vendor"]) != `"v1"` {
		t.Fatal("clone mutation leaked into extra map")
	}
}

func TestDiffComponents(t *testing.T) {
	left := New()
	left.Set("architecture", "a")
	left.Set("tasks", "t")

	right := New()
	right.Set("architecture", "a")
	right.Set("tasks", "changed")
	right.Set("progress", "new")

	changed := left.DiffComponents(right)
	sort.Strings(changed)
	if len(changed) != 2 || changed[0] != "progress" || changed[1] != "tasks" {
		t.Fatalf("expected [progress tasks], got %v", changed)
	}

	if diff := left.DiffComponents(left.Clone()); len(diff) != 0 {
		t.Fatalf("expected no diff against clone, got %v", diff)
	}
}

func TestCrashBeforeRenameLeavesPreviousDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "context.json")

	document := New()
	document.Set("tasks", "stable")
	if err := document.WriteAtomic(path); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Simulate a crash mid-write: the temp file exists but the rename never ran.
	orphan := filepath.Join(dir, "context.json.orphan.tmp")
	if err := os.WriteFile(orphan, []byte(`{"tasks":"half-writ`), 0o600); err != nil {
		t.Fatalf("write orphan: %v", err)
	}

	loaded, err := Load(path, testComponents)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Components["tasks"] != "stable" {
		t.Fatalf("previous document damaged: %v", loaded.Components)
	}
}
