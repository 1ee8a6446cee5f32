package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDebounce          = 100 * time.Millisecond
	DefaultEnqueueTimeout    = 5 * time.Second
	DefaultIntegrityInterval = time.Second
	DefaultShutdownGrace     = 3 * time.Second
	DefaultPort              = 7421
)

type TrackedFileSetting struct {
	Component string `yaml:"component"`
	Path      string `yaml:"path"`
}

type Settings struct {
	MergedPath     string               `yaml:"merged_path"`
	TrackedFiles   []TrackedFileSetting `yaml:"tracked_files"`
	IgnorePatterns []string             `yaml:"ignore_patterns"`

	DebounceMS          int64 `yaml:"debounce_ms"`
	EnqueueTimeoutMS    int64 `yaml:"enqueue_timeout_ms"`
	IntegrityIntervalMS int64 `yaml:"integrity_interval_ms"`
	ShutdownGraceMS     int64 `yaml:"shutdown_grace_ms"`

	HTTP HTTPSettings `yaml:"http"`
	Log  LogSettings  `yaml:"log"`
}

type HTTPSettings struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

type LogSettings struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Load reads settings from a YAML file, applies environment overrides, and
// fills in defaults. A missing file is not an error; defaults plus the
// environment form the effective configuration.
func Load(path string) (Settings, error) {
	settings := Settings{}

	if strings.TrimSpace(path) != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Settings{}, fmt.Errorf("read settings %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(payload, &settings); err != nil {
			return Settings{}, fmt.Errorf("parse settings %s: %w", path, err)
		}
	}

	settings.applyEnv(os.Getenv)
	settings.applyDefaults()
	return settings, nil
}

func (settings *Settings) applyEnv(getenv func(string) string) {
	if settings == nil || getenv == nil {
		return
	}
	if value := strings.TrimSpace(getenv("CTXSYNC_MERGED_PATH")); value != "" {
		settings.MergedPath = value
	}
	if value := strings.TrimSpace(getenv("CTXSYNC_DEBOUNCE_MS")); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
			settings.DebounceMS = parsed
		}
	}
	if value := strings.TrimSpace(getenv("CTXSYNC_ENQUEUE_TIMEOUT_MS")); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
			settings.EnqueueTimeoutMS = parsed
		}
	}
	if value := strings.TrimSpace(getenv("CTXSYNC_INTEGRITY_INTERVAL_MS")); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
			settings.IntegrityIntervalMS = parsed
		}
	}
	if value := strings.TrimSpace(getenv("CTXSYNC_SHUTDOWN_GRACE_MS")); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
			settings.ShutdownGraceMS = parsed
		}
	}
	if value := strings.TrimSpace(getenv("CTXSYNC_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			settings.HTTP.Port = parsed
		}
	}
	if value := getenv("CTXSYNC_AUTH_TOKEN"); value != "" {
		settings.HTTP.AuthToken = value
	}
	if value := strings.TrimSpace(getenv("CTXSYNC_LOG_LEVEL")); value != "" {
		settings.Log.Level = value
	}
	if value := strings.TrimSpace(getenv("CTXSYNC_LOG_FILE")); value != "" {
		settings.Log.File = value
	}
}

func (settings *Settings) applyDefaults() {
	if settings == nil {
		return
	}
	if strings.TrimSpace(settings.MergedPath) == "" {
		settings.MergedPath = "context.json"
	}
	if len(settings.TrackedFiles) == 0 {
		settings.TrackedFiles = []TrackedFileSetting{
			{Component: "architecture", Path: "architecture.md"},
			{Component: "progress", Path: "progress.md"},
			{Component: "tasks", Path: "tasks.md"},
		}
	}
	if settings.DebounceMS <= 0 {
		settings.DebounceMS = DefaultDebounce.Milliseconds()
	}
	if settings.EnqueueTimeoutMS <= 0 {
		settings.EnqueueTimeoutMS = DefaultEnqueueTimeout.Milliseconds()
	}
	if settings.IntegrityIntervalMS <= 0 {
		settings.IntegrityIntervalMS = DefaultIntegrityInterval.Milliseconds()
	}
	if settings.ShutdownGraceMS <= 0 {
		settings.ShutdownGraceMS = DefaultShutdownGrace.Milliseconds()
	}
	if settings.HTTP.Port <= 0 {
		settings.HTTP.Port = DefaultPort
	}
	if strings.TrimSpace(settings.Log.Level) == "" {
		settings.Log.Level = "info"
	}
	if settings.Log.MaxSizeMB <= 0 {
		settings.Log.MaxSizeMB = 20
	}
	if settings.Log.MaxBackups <= 0 {
		settings.Log.MaxBackups = 3
	}
	if len(settings.IgnorePatterns) == 0 {
		settings.IgnorePatterns = []string{"*.tmp", ".#*", "*~"}
	}
}

func (settings Settings) Debounce() time.Duration {
	return time.Duration(settings.DebounceMS) * time.Millisecond
}

func (settings Settings) EnqueueTimeout() time.Duration {
	return time.Duration(settings.EnqueueTimeoutMS) * time.Millisecond
}

func (settings Settings) IntegrityInterval() time.Duration {
	return time.Duration(settings.IntegrityIntervalMS) * time.Millisecond
}

func (settings Settings) ShutdownGrace() time.Duration {
	return time.Duration(settings.ShutdownGraceMS) * time.Millisecond
}
