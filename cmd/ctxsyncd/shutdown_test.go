package main

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"ctxsync/internal/config"
	"ctxsync/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), logging.LevelDebug, nil)
}

func settingsForTest() config.Settings {
	return config.Settings{
		MergedPath: "/work/.context/context.json",
		TrackedFiles: []config.TrackedFileSetting{
			{Component: "architecture", Path: "/work/architecture.md"},
			{Component: "progress", Path: "/work/progress.md"},
			{Component: "tasks", Path: "/work/tasks.md"},
		},
	}
}

func TestShutdownCoordinatorRunsPhasesInOrder(t *testing.T) {
	coordinator := newShutdownCoordinator(testLogger())

	var order []string
	coordinator.Add("first", func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	coordinator.Add("second", func(context.Context) error {
		order = append(order, "second")
		return nil
	})

	if err := coordinator.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("phase order = %v, want [first second]", order)
	}
}

func TestShutdownCoordinatorJoinsErrorsAndContinues(t *testing.T) {
	coordinator := newShutdownCoordinator(testLogger())

	failure := errors.New("phase broke")
	ran := false
	coordinator.Add("failing", func(context.Context) error {
		return failure
	})
	coordinator.Add("after", func(context.Context) error {
		ran = true
		return nil
	})

	err := coordinator.Run(context.Background())
	if !errors.Is(err, failure) {
		t.Errorf("Run error = %v, want wrapped %v", err, failure)
	}
	if !ran {
		t.Error("phase after a failure did not run")
	}
}

func TestShutdownCoordinatorRunsOnce(t *testing.T) {
	coordinator := newShutdownCoordinator(testLogger())

	count := 0
	coordinator.Add("counted", func(context.Context) error {
		count++
		return nil
	})

	coordinator.Run(context.Background())
	coordinator.Run(context.Background())
	if count != 1 {
		t.Errorf("phase ran %d times, want 1", count)
	}
}

func TestWatchShutdownSignalsCancelsOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	signalCh := make(chan os.Signal, 2)

	stop := watchShutdownSignals(testLogger(), cancel, signalCh)
	defer stop()

	signalCh <- syscall.SIGTERM
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after signal")
	}

	// A repeat signal must not panic or block.
	signalCh <- syscall.SIGINT
	time.Sleep(50 * time.Millisecond)
}

func TestBuildPathSetFromSettings(t *testing.T) {
	settings := settingsForTest()
	paths, err := buildPathSet(settings)
	if err != nil {
		t.Fatalf("buildPathSet failed: %v", err)
	}
	if paths.MergedPath() != settings.MergedPath {
		t.Errorf("merged path = %q, want %q", paths.MergedPath(), settings.MergedPath)
	}
	if len(paths.Components()) != len(settings.TrackedFiles) {
		t.Errorf("components = %v, want %d entries", paths.Components(), len(settings.TrackedFiles))
	}
}
