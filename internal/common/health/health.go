// Package health serves the /q/health endpoints. The wire format is
// the MicroProfile convention: an aggregate UP or DOWN plus one entry
// per named check, with the aggregate DOWN as soon as any single check
// is.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status is the reported state of one check or of the whole response.
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// Check is one named probe result.
type Check struct {
	Name   string         `json:"name"`
	Status Status         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

// HealthResponse is the body served by the health endpoints.
type HealthResponse struct {
	Status Status  `json:"status"`
	Checks []Check `json:"checks,omitempty"`
}

// CheckFunc produces a Check when polled.
type CheckFunc func() Check

type group uint8

const (
	live group = 1 << iota
	ready
)

// Checker sorts registered checks into liveness (is the process
// wedged) and readiness (can it take traffic). The executor loop
// belongs to liveness; the store, the chain RPC node and the event
// broker belong to readiness.
type Checker struct {
	mu     sync.RWMutex
	checks map[group][]CheckFunc
}

// NewChecker returns a Checker with no checks registered. Endpoints
// backed by an empty group report UP.
func NewChecker() *Checker {
	return &Checker{checks: make(map[group][]CheckFunc)}
}

// AddLivenessCheck registers fn with the liveness group.
func (c *Checker) AddLivenessCheck(fn CheckFunc) {
	c.add(live, fn)
}

// AddReadinessCheck registers fn with the readiness group.
func (c *Checker) AddReadinessCheck(fn CheckFunc) {
	c.add(ready, fn)
}

func (c *Checker) add(g group, fn CheckFunc) {
	c.mu.Lock()
	c.checks[g] = append(c.checks[g], fn)
	c.mu.Unlock()
}

// snapshot polls the selected groups in registration order, liveness
// before readiness. Checks run outside the lock; they may block on I/O.
func (c *Checker) snapshot(sel group) HealthResponse {
	c.mu.RLock()
	var fns []CheckFunc
	for _, g := range []group{live, ready} {
		if sel&g != 0 {
			fns = append(fns, c.checks[g]...)
		}
	}
	c.mu.RUnlock()

	resp := HealthResponse{Status: StatusUp, Checks: make([]Check, 0, len(fns))}
	for _, fn := range fns {
		check := fn()
		if check.Status == StatusDown {
			resp.Status = StatusDown
		}
		resp.Checks = append(resp.Checks, check)
	}
	return resp
}

// HandleHealth serves GET /q/health with every registered check.
func (c *Checker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, c.snapshot(live|ready))
}

// HandleLive serves GET /q/health/live.
func (c *Checker) HandleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, c.snapshot(live))
}

// HandleReady serves GET /q/health/ready.
func (c *Checker) HandleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, c.snapshot(ready))
}

func writeJSON(w http.ResponseWriter, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	code := http.StatusOK
	if resp.Status == StatusDown {
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

// probeCheck adapts a ping-style probe into a named CheckFunc.
func probeCheck(name string, probe func() error) CheckFunc {
	return func() Check {
		if err := probe(); err != nil {
			return Check{
				Name:   name,
				Status: StatusDown,
				Data:   map[string]any{"error": err.Error()},
			}
		}
		return Check{Name: name, Status: StatusUp}
	}
}

// StoreCheck reports whether the transfer store answers a ping.
func StoreCheck(ping func() error) CheckFunc {
	return probeCheck("Store", ping)
}

// ChainRPCCheck reports whether the chain RPC node answers a cheap
// query.
func ChainRPCCheck(probe func() error) CheckFunc {
	return probeCheck("ChainRPC", probe)
}

// NATSCheck reports the event forwarder's broker connection.
func NATSCheck(isConnected func() bool) CheckFunc {
	return func() Check {
		status := StatusUp
		if !isConnected() {
			status = StatusDown
		}
		return Check{Name: "NATS", Status: status}
	}
}

// ExecutorCheck watches the batch executor's tick loop. It reports
// DOWN when the loop is not running at all, or when the most recent
// loop completed longer than staleAfter ago, which usually means the
// loop is stuck on a hung RPC call.
func ExecutorCheck(isRunning func() bool, lastTick func() time.Time, staleAfter time.Duration) CheckFunc {
	return func() Check {
		if !isRunning() {
			return Check{
				Name:   "Executor",
				Status: StatusDown,
				Data:   map[string]any{"running": false},
			}
		}

		status := StatusUp
		data := map[string]any{"running": true}
		if last := lastTick(); !last.IsZero() {
			data["lastLoop"] = last.UTC().Format(time.RFC3339)
			if staleAfter > 0 && time.Since(last) > staleAfter {
				data["stale"] = true
				status = StatusDown
			}
		}
		return Check{Name: "Executor", Status: status, Data: data}
	}
}
