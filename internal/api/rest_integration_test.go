package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ctxsync/internal/engine"
	"ctxsync/internal/event"
	"ctxsync/internal/logging"
	"ctxsync/internal/metrics"
	"ctxsync/internal/pathset"
)

type apiFixture struct {
	Engine   *engine.Engine
	Paths    *pathset.Set
	Bus      *event.Bus[event.Event]
	Logger   *logging.Logger
	Registry *metrics.Registry
	Server   *httptest.Server
}

func newAPIFixture(t *testing.T, authToken string) *apiFixture {
	t.Helper()

	dir := t.TempDir()
	paths, err := pathset.New(filepath.Join(dir, "context.json"), []pathset.TrackedFile{
		{Component: pathset.ComponentArchitecture, Path: filepath.Join(dir, "architecture.md")},
		{Component: pathset.ComponentProgress, Path: filepath.Join(dir, "progress.md")},
		{Component: pathset.ComponentTasks, Path: filepath.Join(dir, "tasks.md")},
	})
	if err != nil {
		t.Fatalf("pathset.New failed: %v", err)
	}

	registry := &metrics.Registry{}
	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), logging.LevelDebug, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	bus := event.NewBus[event.Event](ctx, event.BusOptions{
		Name:        "sync",
		HistorySize: 64,
		Registry:    registry,
	})

	eng, err := engine.New(engine.Options{
		PathSet:           paths,
		Logger:            logger,
		Registry:          registry,
		Bus:               bus,
		Debounce:          10 * time.Millisecond,
		IntegrityInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("engine.Start failed: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer stopCancel()
		eng.Stop(stopCtx)
	})

	mux := http.NewServeMux()
	RegisterRoutes(mux, RoutesConfig{
		Engine:    eng,
		Bus:       bus,
		Registry:  registry,
		Logger:    logger,
		AuthToken: authToken,
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &apiFixture{
		Engine:   eng,
		Paths:    paths,
		Bus:      bus,
		Logger:   logger,
		Registry: registry,
		Server:   server,
	}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	response, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer response.Body.Close()
	if out != nil && response.StatusCode == http.StatusOK {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", url, err)
		}
	}
	return response.StatusCode
}

func TestStatusEndpoint(t *testing.T) {
	fixture := newAPIFixture(t, "")

	var status statusResponse
	if code := getJSON(t, fixture.Server.URL+"/api/status", &status); code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", code)
	}
	if !status.Running {
		t.Error("status reports engine not running")
	}
	if len(status.Components) != 3 {
		t.Errorf("components = %v, want 3 entries", status.Components)
	}
	if status.MergedPath != fixture.Paths.MergedPath() {
		t.Errorf("merged path = %q, want %q", status.MergedPath, fixture.Paths.MergedPath())
	}
}

func TestComponentUpdateRoundTrip(t *testing.T) {
	fixture := newAPIFixture(t, "")

	body, _ := json.Marshal(updateRequest{Content: "buy milk"})
	response, err := http.Post(fixture.Server.URL+"/api/components/tasks", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, want 200", response.StatusCode)
	}

	var component map[string]string
	if code := getJSON(t, fixture.Server.URL+"/api/components/tasks", &component); code != http.StatusOK {
		t.Fatalf("get component status = %d, want 200", code)
	}
	if component["content"] != "buy milk" {
		t.Errorf("content = %q, want %q", component["content"], "buy milk")
	}

	var all map[string]string
	if code := getJSON(t, fixture.Server.URL+"/api/components", &all); code != http.StatusOK {
		t.Fatalf("list components status = %d, want 200", code)
	}
	if all["tasks"] != "buy milk" {
		t.Errorf("components list tasks = %q, want %q", all["tasks"], "buy milk")
	}
}

func TestComponentUpdateUnknownComponent(t *testing.T) {
	fixture := newAPIFixture(t, "")

	body, _ := json.Marshal(updateRequest{Content: "x"})
	response, err := http.Post(fixture.Server.URL+"/api/components/notes", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", response.StatusCode)
	}
	var errBody errorResponse
	if err := json.NewDecoder(response.Body).Decode(&errBody); err != nil {
		t.Fatalf("error body not JSON: %v", err)
	}
	if errBody.Code != "not_found" {
		t.Errorf("error code = %q, want %q", errBody.Code, "not_found")
	}
}

func TestComponentUpdateRejectsBadJSON(t *testing.T) {
	fixture := newAPIFixture(t, "")

	response, err := http.Post(fixture.Server.URL+"/api/components/tasks", "application/json", strings.NewReader("{broken"))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", response.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	fixture := newAPIFixture(t, "")

	response, err := http.Get(fixture.Server.URL + "/api/metrics")
	if err != nil {
		t.Fatalf("GET metrics failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", response.StatusCode)
	}
	body, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("read metrics body: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, "ctxsync_updates_enqueued_total") {
		t.Errorf("metrics output missing update counter:\n%s", text)
	}
	if !strings.Contains(text, "ctxsync_document_write_seconds") {
		t.Errorf("metrics output missing write latency summary:\n%s", text)
	}
}

func TestLogsEndpoint(t *testing.T) {
	fixture := newAPIFixture(t, "")

	fixture.Logger.Info("fixture log line", map[string]string{"marker": "logs-endpoint"})

	var entries []logging.LogEntry
	if code := getJSON(t, fixture.Server.URL+"/api/logs?limit=50", &entries); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	found := false
	for _, entry := range entries {
		if entry.Context["marker"] == "logs-endpoint" {
			found = true
		}
	}
	if !found {
		t.Error("logs endpoint did not return the fixture entry")
	}
}

func TestAuthTokenRequiredAcrossSurface(t *testing.T) {
	fixture := newAPIFixture(t, "s3cret")

	paths := []string{"/api/status", "/api/components", "/api/metrics", "/api/logs", "/api/events/stream"}
	for _, path := range paths {
		if code := getJSON(t, fixture.Server.URL+path, nil); code != http.StatusUnauthorized {
			t.Errorf("%s without token = %d, want 401", path, code)
		}
	}

	request, err := http.NewRequest(http.MethodGet, fixture.Server.URL+"/api/status", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer s3cret")
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("GET with token failed: %v", err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Errorf("authorized status = %d, want 200", response.StatusCode)
	}
}
