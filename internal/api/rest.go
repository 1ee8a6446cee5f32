package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ctxsync/internal/engine"
	"ctxsync/internal/logging"
	"ctxsync/internal/metrics"
	"ctxsync/internal/version"
)

const maxUpdateBodyBytes = 1 << 20

type RestHandler struct {
	Engine   *engine.Engine
	Registry *metrics.Registry
	Logger   *logging.Logger
}

type statusResponse struct {
	Version       version.VersionInfo `json:"version"`
	Running       bool                `json:"running"`
	MergedPath    string              `json:"merged_path"`
	Components    []string            `json:"components"`
	Metrics       metrics.Snapshot    `json:"metrics"`
	Watcher       watcherStats        `json:"watcher"`
	BridgeDropped uint64              `json:"bridge_dropped"`
	ServerTime    time.Time           `json:"server_time"`
}

type watcherStats struct {
	ActiveWatches   int    `json:"active_watches"`
	EventsDelivered uint64 `json:"events_delivered"`
	EventsDropped   uint64 `json:"events_dropped"`
	Errors          uint64 `json:"errors"`
	RestartAttempts int    `json:"restart_attempts"`
}

type updateRequest struct {
	Content string `json:"content"`
}

type updateResponse struct {
	Component string `json:"component"`
	Status    string `json:"status"`
}

func (h *RestHandler) requireEngine() *apiError {
	if h.Engine == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "sync engine unavailable"}
	}
	return nil
}

func (h *RestHandler) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if err := h.requireEngine(); err != nil {
		return err
	}

	watcherMetrics := h.Engine.WatcherMetrics()
	response := statusResponse{
		Version:    version.GetVersionInfo(),
		Running:    h.Engine.Running(),
		MergedPath: h.Engine.PathSet().MergedPath(),
		Components: h.Engine.PathSet().Components(),
		Metrics:    h.Registry.Snapshot(),
		Watcher: watcherStats{
			ActiveWatches:   watcherMetrics.ActiveWatches,
			EventsDelivered: watcherMetrics.EventsDelivered,
			EventsDropped:   watcherMetrics.EventsDropped,
			Errors:          watcherMetrics.Errors,
			RestartAttempts: watcherMetrics.RestartAttempts,
		},
		BridgeDropped: h.Engine.BridgeDropped(),
		ServerTime:    time.Now().UTC(),
	}
	writeJSON(w, http.StatusOK, response)
	return nil
}

func (h *RestHandler) handleComponents(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if err := h.requireEngine(); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, h.Engine.Components())
	return nil
}

func (h *RestHandler) handleComponent(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireEngine(); err != nil {
		return err
	}

	component := strings.TrimPrefix(r.URL.Path, "/api/components/")
	if component == "" || strings.Contains(component, "/") {
		return &apiError{Status: http.StatusNotFound, Message: "unknown component"}
	}

	switch r.Method {
	case http.MethodGet:
		content, ok := h.Engine.Components()[component]
		if !ok {
			return &apiError{Status: http.StatusNotFound, Message: "unknown component"}
		}
		writeJSON(w, http.StatusOK, map[string]string{"component": component, "content": content})
		return nil
	case http.MethodPut, http.MethodPost:
		return h.updateComponent(w, r, component)
	default:
		return methodNotAllowed(w, "GET, PUT, POST")
	}
}

func (h *RestHandler) updateComponent(w http.ResponseWriter, r *http.Request, component string) *apiError {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBodyBytes+1))
	if err != nil {
		return &apiError{Status: http.StatusBadRequest, Message: "unreadable request body"}
	}
	if len(body) > maxUpdateBodyBytes {
		return &apiError{Status: http.StatusBadRequest, Message: "request body too large"}
	}

	var request updateRequest
	if err := json.Unmarshal(body, &request); err != nil {
		return &apiError{Status: http.StatusBadRequest, Message: "invalid JSON body"}
	}

	if err := h.Engine.Enqueue(r.Context(), component, request.Content); err != nil {
		switch {
		case errors.Is(err, engine.ErrUnknownComponent):
			return &apiError{Status: http.StatusNotFound, Message: "unknown component"}
		case errors.Is(err, engine.ErrUpdateTimeout):
			return &apiError{Status: http.StatusServiceUnavailable, Message: "update timed out"}
		case errors.Is(err, engine.ErrSerializerClosed):
			return &apiError{Status: http.StatusServiceUnavailable, Message: "sync engine stopped"}
		default:
			return &apiError{Status: http.StatusInternalServerError, Message: err.Error()}
		}
	}

	writeJSON(w, http.StatusOK, updateResponse{Component: component, Status: "synced"})
	return nil
}

func (h *RestHandler) handleMetrics(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if err := h.Registry.WritePrometheus(w); err != nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "metrics rendering failed"}
	}
	return nil
}

func (h *RestHandler) handleLogs(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if h.Logger == nil || h.Logger.Buffer() == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "log buffer unavailable"}
	}

	limit := logging.DefaultBufferSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return &apiError{Status: http.StatusBadRequest, Message: "limit must be a positive integer"}
		}
		limit = parsed
	}

	entries := h.Logger.Buffer().Last(limit)
	if levelParam := r.URL.Query().Get("level"); levelParam != "" {
		level, ok := logging.ParseLevel(levelParam)
		if !ok {
			return &apiError{Status: http.StatusBadRequest, Message: "unknown log level"}
		}
		filtered := entries[:0]
		for _, entry := range entries {
			if entry.Level == level {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}

	writeJSON(w, http.StatusOK, entries)
	return nil
}
