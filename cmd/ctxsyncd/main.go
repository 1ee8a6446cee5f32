package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"ctxsync/internal/api"
	"ctxsync/internal/config"
	"ctxsync/internal/engine"
	"ctxsync/internal/event"
	"ctxsync/internal/logging"
	"ctxsync/internal/metrics"
	"ctxsync/internal/pathset"
	"ctxsync/internal/version"

	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	configPath := flag.String("config", "ctxsync.yaml", "path to the YAML settings file")
	mergedPath := flag.String("merged", "", "override merged document path")
	port := flag.Int("port", 0, "override HTTP listen port")
	logLevel := flag.String("log-level", "", "override log level (debug, info, warning, error)")
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *mergedPath != "" {
		settings.MergedPath = *mergedPath
	}
	if *port > 0 {
		settings.HTTP.Port = *port
	}
	if *logLevel != "" {
		settings.Log.Level = *logLevel
	}

	logger := buildLogger(settings)
	registry := metrics.Default

	paths, err := buildPathSet(settings)
	if err != nil {
		logger.Error("invalid tracked file configuration", map[string]string{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	busCtx, busCancel := context.WithCancel(context.Background())
	defer busCancel()
	bus := event.NewBus[event.Event](busCtx, event.BusOptions{
		Name:        "sync",
		HistorySize: 64,
		Registry:    registry,
	})

	syncEngine, err := engine.New(engine.Options{
		PathSet:           paths,
		Logger:            logger,
		Registry:          registry,
		Bus:               bus,
		Debounce:          settings.Debounce(),
		EnqueueTimeout:    settings.EnqueueTimeout(),
		IntegrityInterval: settings.IntegrityInterval(),
		IgnorePatterns:    settings.IgnorePatterns,
	})
	if err != nil {
		logger.Error("engine construction failed", map[string]string{
			"error": err.Error(),
		})
		os.Exit(1)
	}
	if err := syncEngine.Start(context.Background()); err != nil {
		logger.Error("engine start failed", map[string]string{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.RoutesConfig{
		Engine:    syncEngine,
		Bus:       bus,
		Registry:  registry,
		Logger:    logger,
		AuthToken: settings.HTTP.AuthToken,
	})
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(settings.HTTP.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()
	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	stopSignalWatcher := watchShutdownSignals(logger, shutdownCancel, signalCh)
	defer stopSignalWatcher()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()
	logger.Info("ctxsync listening", map[string]string{
		"addr":        server.Addr,
		"merged_path": paths.MergedPath(),
		"version":     version.GetVersionInfo().Version,
	})

	select {
	case <-shutdownCtx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", map[string]string{
				"error": err.Error(),
			})
		}
	}

	coordinator := newShutdownCoordinator(logger)
	coordinator.Add("http", server.Shutdown)
	coordinator.Add("engine", syncEngine.Stop)
	coordinator.Add("bus", func(context.Context) error {
		bus.Close()
		return nil
	})

	graceCtx, graceCancel := context.WithTimeout(context.Background(), settings.ShutdownGrace())
	defer graceCancel()
	if err := coordinator.Run(graceCtx); err != nil {
		logger.Warn("shutdown finished with errors", map[string]string{
			"error": err.Error(),
		})
		os.Exit(1)
	}
	logger.Info("shutdown complete", nil)
}

func buildLogger(settings config.Settings) *logging.Logger {
	level, ok := logging.ParseLevel(settings.Log.Level)
	if !ok {
		level = logging.LevelInfo
	}

	var output io.Writer = os.Stdout
	if settings.Log.File != "" {
		output = &lumberjack.Logger{
			Filename:   settings.Log.File,
			MaxSize:    settings.Log.MaxSizeMB,
			MaxBackups: settings.Log.MaxBackups,
			Compress:   true,
		}
	}
	return logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), level, output)
}

func buildPathSet(settings config.Settings) (*pathset.Set, error) {
	files := make([]pathset.TrackedFile, 0, len(settings.TrackedFiles))
	for _, tracked := range settings.TrackedFiles {
		files = append(files, pathset.TrackedFile{
			Component: tracked.Component,
			Path:      tracked.Path,
		})
	}
	return pathset.New(settings.MergedPath, files)
}
