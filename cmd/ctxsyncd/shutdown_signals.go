package main

import (
	"context"
	"os"
	"sync/atomic"

	"ctxsync/internal/logging"
)

// watchShutdownSignals cancels the shutdown context on the first signal and
// swallows repeats while the drain is in progress.
func watchShutdownSignals(logger *logging.Logger, shutdownCancel context.CancelFunc, signalCh <-chan os.Signal) func() {
	if signalCh == nil {
		return func() {}
	}

	done := make(chan struct{})
	var shutdownStarted atomic.Bool

	go func() {
		for {
			select {
			case <-done:
				return
			case sig, ok := <-signalCh:
				if !ok {
					return
				}
				fields := map[string]string{}
				if sig != nil {
					fields["signal"] = sig.String()
				}
				if shutdownStarted.CompareAndSwap(false, true) {
					if logger != nil {
						logger.Info("shutdown signal received", fields)
					}
					if shutdownCancel != nil {
						shutdownCancel()
					}
					continue
				}
				if logger != nil {
					logger.Debug("shutdown already in progress, ignoring signal", fields)
				}
			}
		}
	}()

	return func() {
		close(done)
	}
}
