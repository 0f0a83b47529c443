// Package health serves /health. The process is unhealthy while draining or
// when a registered backend check fails.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	StatusOK           = "ok"
	StatusDegraded     = "degraded"
	StatusShuttingDown = "shutting_down"
)

type CheckResult struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type HealthStatus struct {
	Status    string        `json:"status"`
	Checks    []CheckResult `json:"checks,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) OK() bool { return h.Status == StatusOK }

func (h HealthStatus) String() string {
	s := fmt.Sprintf("Health: %s\n", h.Status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.LatencyMS)
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// Check tests one dependency.
type Check func(ctx context.Context) error

type named struct {
	name string
	fn   Check
}

type Checker struct {
	draining atomic.Bool
	timeout  time.Duration

	mu     sync.RWMutex
	checks []named
}

func New(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{timeout: timeout}
}

// Register adds a check run on every request.
func (c *Checker) Register(name string, fn Check) {
	c.mu.Lock()
	c.checks = append(c.checks, named{name: name, fn: fn})
	c.mu.Unlock()
}

// SetDraining marks the process as shutting down. It cannot be undone.
func (c *Checker) SetDraining() { c.draining.Store(true) }

// CheckAll runs all checks and returns the combined status.
func (c *Checker) CheckAll(ctx context.Context) HealthStatus {
	out := HealthStatus{Status: StatusOK, CheckedAt: time.Now().UTC()}
	if c.draining.Load() {
		out.Status = StatusShuttingDown
		return out
	}

	c.mu.RLock()
	checks := append([]named(nil), c.checks...)
	c.mu.RUnlock()

	for _, ch := range checks {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		start := time.Now()
		err := ch.fn(ctx)
		cancel()
		res := CheckResult{Name: ch.name, OK: err == nil, LatencyMS: time.Since(start).Milliseconds()}
		if err != nil {
			res.Error = err.Error()
			out.Status = StatusDegraded
		}
		out.Checks = append(out.Checks, res)
	}
	return out
}

func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := c.CheckAll(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if !st.OK() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(st)
}
