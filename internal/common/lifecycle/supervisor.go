package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// startProbe is how long a service gets to fail fast before the
	// Supervisor concludes it is up and moves to the next one.
	startProbe = 100 * time.Millisecond

	// stopTimeout bounds each service's Stop during teardown.
	stopTimeout = 30 * time.Second
)

// Supervisor starts services in order, watches them while they run,
// and stops them in reverse order on shutdown or failure.
type Supervisor struct {
	services []Service
	failed   chan serviceFailure

	mu      sync.Mutex
	started []Service
	running bool
}

type serviceFailure struct {
	name string
	err  error
}

// NewSupervisor builds a Supervisor over services. Order matters: it
// is the start order, and teardown walks it backwards.
func NewSupervisor(services ...Service) *Supervisor {
	return &Supervisor{
		services: services,
		failed:   make(chan serviceFailure, 1),
	}
}

// Run starts every service and blocks until ctx is cancelled or one of
// them dies, then unwinds the started services newest-first. A startup
// failure unwinds the services already running and returns.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("supervisor already running")
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for _, svc := range s.services {
		if err := s.launch(ctx, svc); err != nil {
			s.unwind()
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
	}

	select {
	case <-ctx.Done():
		slog.Info("Stopping services")
	case fail := <-s.failed:
		slog.Error("Service died, stopping the rest", "service", fail.name, "error", fail.err)
		s.unwind()
		return fmt.Errorf("service %s: %w", fail.name, fail.err)
	}

	s.unwind()
	return nil
}

// launch starts svc in its own goroutine and waits startProbe for a
// fast failure. Services that keep running get a watcher so a later
// death still reaches Run.
func (s *Supervisor) launch(ctx context.Context, svc Service) error {
	slog.Info("Starting service", "service", svc.Name())

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-time.After(startProbe):
		go s.watch(ctx, svc.Name(), errCh)
	}

	s.mu.Lock()
	s.started = append(s.started, svc)
	s.mu.Unlock()

	slog.Info("Service started", "service", svc.Name())
	return nil
}

// watch forwards a failure that happens after the start probe, so a
// service dying mid-flight takes the process down instead of leaving a
// zombie. Errors returned during shutdown are not failures.
func (s *Supervisor) watch(ctx context.Context, name string, errCh <-chan error) {
	err := <-errCh
	if err == nil || ctx.Err() != nil {
		return
	}
	select {
	case s.failed <- serviceFailure{name: name, err: err}:
	default:
	}
}

// unwind stops started services newest-first, each under its own
// timeout.
func (s *Supervisor) unwind() {
	s.mu.Lock()
	started := s.started
	s.started = nil
	s.mu.Unlock()

	for i := len(started) - 1; i >= 0; i-- {
		svc := started[i]
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		if err := svc.Stop(stopCtx); err != nil {
			slog.Error("Service stop failed", "service", svc.Name(), "error", err)
		} else {
			slog.Info("Service stopped", "service", svc.Name())
		}
		cancel()
	}
}

// Health reports the first unhealthy service, or nil when every
// service is healthy. The service list is fixed at construction, so no
// locking is needed here.
func (s *Supervisor) Health() error {
	for _, svc := range s.services {
		if err := svc.Health(); err != nil {
			return fmt.Errorf("%s: %w", svc.Name(), err)
		}
	}
	return nil
}
