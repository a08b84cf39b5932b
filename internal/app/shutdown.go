package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"eduapp/pkg/logger"
	"eduapp/pkg/telemetry"
)

// Shutdown stops the components in reverse start order. ctx bounds the HTTP
// drain.
func (a *App) Shutdown(ctx context.Context) error {
	a.state = "shutting_down"
	logger.Info("shutdown: requested")
	var errs []error

	if a.srvFast != nil {
		logger.Info("shutdown: stopping http server")
		done := make(chan error, 1)
		go func() { done <- a.srvFast.Shutdown() }()
		select {
		case err := <-done:
			if err != nil {
				logger.Error("shutdown: http shutdown error", "error", err)
				errs = append(errs, err)
			}
		case <-ctx.Done():
			logger.Error("shutdown: http drain timed out", "error", ctx.Err())
			errs = append(errs, ctx.Err())
		}
	}
	if a.compactionStop != nil {
		logger.Info("shutdown: stopping compaction scheduler")
		a.compactionStop()
	}
	a.api.Close()

	logger.Info("shutdown: closing store")
	if err := a.server.Close(); err != nil {
		logger.Error("shutdown: store close error", "error", err)
		errs = append(errs, err)
	}

	logger.Info("shutdown: closing telemetry")
	telemetry.Close()

	err := errors.Join(errs...)
	if err == nil {
		a.state = "stopped"
	}
	logger.Info("shutdown: complete", "state", a.state)
	return err
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigc:
			logger.Info("signal_received", "signal", s.String(), "msg", "shutdown requested")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigc)
	}()
	return ctx, cancel
}
