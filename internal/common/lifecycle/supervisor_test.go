package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

// journal records lifecycle events across goroutines.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) record(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, fmt.Sprintf(format, args...))
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

// fakeService blocks in Start until the context is cancelled or Stop
// is called, the way the real services do, unless told to fail fast or
// die later.
type fakeService struct {
	name    string
	journal *journal
	stopCh  chan struct{}
	stopped sync.Once

	startErr  error         // returned from Start immediately
	dieAfter  time.Duration // Start returns dieErr after this delay
	dieErr    error
	healthErr error
}

func newFakeService(name string, j *journal) *fakeService {
	return &fakeService{name: name, journal: j, stopCh: make(chan struct{})}
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start(ctx context.Context) error {
	f.journal.record("start %s", f.name)
	if f.startErr != nil {
		return f.startErr
	}
	if f.dieAfter > 0 {
		select {
		case <-time.After(f.dieAfter):
			return f.dieErr
		case <-ctx.Done():
			return nil
		case <-f.stopCh:
			return nil
		}
	}
	select {
	case <-ctx.Done():
	case <-f.stopCh:
	}
	return nil
}

func (f *fakeService) Stop(ctx context.Context) error {
	f.journal.record("stop %s", f.name)
	f.stopped.Do(func() { close(f.stopCh) })
	return nil
}

func (f *fakeService) Health() error { return f.healthErr }

func TestSupervisorStartsInOrderStopsInReverse(t *testing.T) {
	j := &journal{}
	a := newFakeService("a", j)
	b := newFakeService("b", j)
	c := newFakeService("c", j)

	sup := NewSupervisor(a, b, c)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// Three start probes plus slack.
	time.Sleep(600 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	want := []string{"start a", "start b", "start c", "stop c", "stop b", "stop a"}
	got := j.snapshot()
	if len(got) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Event %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSupervisorStartFailureUnwindsStartedServices(t *testing.T) {
	j := &journal{}
	errBoom := errors.New("boom")
	a := newFakeService("a", j)
	b := newFakeService("b", j)
	b.startErr = errBoom
	c := newFakeService("c", j)

	sup := NewSupervisor(a, b, c)

	err := sup.Run(context.Background())
	if err == nil {
		t.Fatal("Expected Run to fail")
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("Expected wrapped start error, got %v", err)
	}
	if !strings.Contains(err.Error(), "start b") {
		t.Errorf("Expected error to name service b, got %v", err)
	}

	want := []string{"start a", "start b", "stop a"}
	got := j.snapshot()
	if len(got) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Event %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSupervisorServiceDeathStopsEverything(t *testing.T) {
	j := &journal{}
	errDead := errors.New("connection lost")
	a := newFakeService("a", j)
	b := newFakeService("b", j)
	b.dieAfter = 250 * time.Millisecond
	b.dieErr = errDead

	sup := NewSupervisor(a, b)

	done := make(chan error, 1)
	go func() { done <- sup.Run(context.Background()) }()

	var err error
	select {
	case err = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after service death")
	}

	if !errors.Is(err, errDead) {
		t.Fatalf("Expected wrapped death error, got %v", err)
	}
	if !strings.Contains(err.Error(), "service b") {
		t.Errorf("Expected error to name service b, got %v", err)
	}

	got := j.snapshot()
	if len(got) != 4 || got[2] != "stop b" || got[3] != "stop a" {
		t.Errorf("Expected reverse-order teardown after death, got %v", got)
	}
}

func TestSupervisorRejectsConcurrentRun(t *testing.T) {
	j := &journal{}
	a := newFakeService("a", j)

	sup := NewSupervisor(a)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)

	if err := sup.Run(ctx); err == nil {
		t.Error("Expected second Run to be rejected")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("First Run did not return after cancel")
	}
}

func TestSupervisorHealth(t *testing.T) {
	j := &journal{}
	errSick := errors.New("tick loop stalled")
	healthy := newFakeService("a", j)
	sick := newFakeService("b", j)
	sick.healthErr = errSick

	if err := NewSupervisor(healthy).Health(); err != nil {
		t.Errorf("Expected healthy supervisor, got %v", err)
	}

	err := NewSupervisor(healthy, sick).Health()
	if !errors.Is(err, errSick) {
		t.Fatalf("Expected wrapped health error, got %v", err)
	}
	if !strings.Contains(err.Error(), "b") {
		t.Errorf("Expected error to name service b, got %v", err)
	}
}

func TestHTTPServiceStartReportsBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	svc := NewHTTPService("http", &http.Server{Addr: ln.Addr().String()})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := svc.Start(ctx); err == nil {
		t.Error("Expected Start to fail on an occupied port")
	}
	if err := svc.Health(); err == nil {
		t.Error("Expected Health to fail after Start returned")
	}
}

func TestHTTPServiceServesUntilCancelled(t *testing.T) {
	svc := NewHTTPService("http", &http.Server{Addr: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	time.Sleep(150 * time.Millisecond)

	if err := svc.Health(); err != nil {
		t.Errorf("Expected serving service to be healthy, got %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := svc.Stop(stopCtx); err != nil {
		t.Errorf("Stop returned error: %v", err)
	}
}
