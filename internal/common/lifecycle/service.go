// Package lifecycle ties payrelay's long-running components to one
// process lifetime. The executor loop and the HTTP surface implement
// Service; a Supervisor starts them in dependency order, stops them in
// reverse, and Run binds the whole arrangement to process signals.
// Initialize covers the step before any of that: loading configuration
// and opening the store, the two things nothing else can run without.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Service is one long-running component under supervision.
type Service interface {
	// Name identifies the service in logs.
	Name() string

	// Start runs the service. Implementations block until ctx is
	// cancelled, or return early with an error when they cannot run.
	Start(ctx context.Context) error

	// Stop shuts the service down within ctx's deadline.
	Stop(ctx context.Context) error

	// Health reports nil while the service can do its work.
	Health() error
}

// HTTPService runs an http.Server under the Service contract.
type HTTPService struct {
	name    string
	server  *http.Server
	serving atomic.Bool
}

// NewHTTPService wraps server so a Supervisor can manage it.
func NewHTTPService(name string, server *http.Server) *HTTPService {
	return &HTTPService{name: name, server: server}
}

func (h *HTTPService) Name() string { return h.name }

// Start serves until ctx is cancelled. A listen error (a busy port,
// usually) surfaces whenever it happens, not only during startup.
func (h *HTTPService) Start(ctx context.Context) error {
	slog.Info("HTTP server listening", "addr", h.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		err := h.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	h.serving.Store(true)
	defer h.serving.Store(false)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Stop drains in-flight requests within ctx's deadline.
func (h *HTTPService) Stop(ctx context.Context) error {
	slog.Info("HTTP server draining", "addr", h.server.Addr)
	return h.server.Shutdown(ctx)
}

func (h *HTTPService) Health() error {
	if !h.serving.Load() {
		return errors.New("not serving")
	}
	return nil
}
