package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"
)

// shutdownGrace bounds the whole teardown. It sits slightly above the
// per-service stop timeout so a single stuck service still produces
// orderly logs before the process gives up.
const shutdownGrace = 35 * time.Second

// Run starts the services under a Supervisor and blocks until a
// SIGINT or SIGTERM arrives or one of them fails, then waits for the
// orderly teardown.
func Run(ctx context.Context, services ...Service) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := NewSupervisor(services...)

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case err := <-done:
		// Startup failure or a service death; teardown already ran.
		return err
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	}

	select {
	case err := <-done:
		return err
	case <-time.After(shutdownGrace):
		slog.Error("Shutdown timed out", "grace", shutdownGrace)
		return errors.New("shutdown timed out")
	}
}
