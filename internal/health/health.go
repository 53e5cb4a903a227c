// SPDX-License-Identifier: MIT

// Package health serves liveness and readiness endpoints for the scanner daemon.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/loachfighter/twain-direct/internal/log"
	"golang.org/x/sync/errgroup"
)

// Status is the outcome of a check. Ordering matters: a later constant is worse.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) rank() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// CheckResult is what one component reports.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Details   map[string]any         `json:"details,omitempty"`
}

// ReadinessResponse is the /readyz body.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker inspects a single component.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager aggregates registered checkers into liveness and readiness answers.
type Manager struct {
	version string
	started time.Time

	mu       sync.RWMutex
	checkers []Checker
}

func NewManager(version string) *Manager {
	return &Manager{version: version, started: time.Now()}
}

// RegisterChecker adds a checker. Safe to call while checks are served.
func (m *Manager) RegisterChecker(checker Checker) {
	m.mu.Lock()
	m.checkers = append(m.checkers, checker)
	m.mu.Unlock()
}

// evaluate runs every checker concurrently and returns their results keyed by
// name together with the worst status seen.
func (m *Manager) evaluate(ctx context.Context) (map[string]CheckResult, Status) {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	if len(checkers) == 0 {
		return nil, StatusHealthy
	}

	results := make([]CheckResult, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			results[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	checks := make(map[string]CheckResult, len(checkers))
	worst := StatusHealthy
	for i, c := range checkers {
		checks[c.Name()] = results[i]
		if results[i].Status.rank() > worst.rank() {
			worst = results[i].Status
		}
	}
	return checks, worst
}

// Health answers the liveness endpoint. The process is alive whenever it can
// answer, so component checks only run when verbose is requested.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
		Details:   map[string]any{"uptime_seconds": int64(time.Since(m.started).Seconds())},
	}
	if verbose {
		resp.Checks, resp.Status = m.evaluate(ctx)
	}
	return resp
}

// Ready answers the readiness endpoint. Degraded components keep the daemon ready.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	checks, status := m.evaluate(ctx)
	return ReadinessResponse{
		Ready:     status != StatusUnhealthy,
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
	}
}

// ServeHealth always answers 200; add ?verbose=true for component results.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"
	resp := m.Health(r.Context(), verbose)
	writeReport(w, r, "health", http.StatusOK, resp, resp.Status)
}

// ServeReady answers 503 while any component is unhealthy.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	resp := m.Ready(r.Context())
	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	writeReport(w, r, "readiness", code, resp, resp.Status)
}

func writeReport(w http.ResponseWriter, r *http.Request, kind string, code int, body any, status Status) {
	logger := log.WithComponentFromContext(r.Context(), kind)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error().Err(err).Str("event", kind+".encode_error").Msg("failed to encode health response")
		return
	}
	logger.Debug().
		Str("event", kind+".checked").
		Str("status", string(status)).
		Int("code", code).
		Msg("health answered")
}

// DirChecker reports whether a directory exists and accepts new files. An
// unwritable directory degrades the service; a missing one fails it.
type DirChecker struct {
	name string
	path string
}

func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

func (c *DirChecker) Name() string { return c.name }

func (c *DirChecker) Check(context.Context) CheckResult {
	if c.path == "" {
		return CheckResult{Status: StatusHealthy, Message: "not configured"}
	}

	info, err := os.Stat(c.path)
	switch {
	case os.IsNotExist(err):
		return CheckResult{Status: StatusUnhealthy, Error: "directory not found", Message: c.path}
	case err != nil:
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	case !info.IsDir():
		return CheckResult{Status: StatusUnhealthy, Error: "not a directory", Message: c.path}
	}

	f, err := os.CreateTemp(c.path, ".health-*")
	if err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error(), Message: "directory is not writable"}
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return CheckResult{Status: StatusHealthy, Message: "directory writable"}
}

// checkTimeout bounds a single FuncChecker call.
const checkTimeout = 2 * time.Second

// FuncChecker adapts a check function. A non-nil error reports the
// configured failure status.
type FuncChecker struct {
	name    string
	failure Status
	fn      func(ctx context.Context) error
}

// NewFuncChecker reports failed checks as unhealthy.
func NewFuncChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, failure: StatusUnhealthy, fn: fn}
}

// NewSoftFuncChecker reports failed checks as degraded, which keeps the
// service ready.
func NewSoftFuncChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, failure: StatusDegraded, fn: fn}
}

func (c *FuncChecker) Name() string { return c.name }

func (c *FuncChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := c.fn(ctx); err != nil {
		return CheckResult{Status: c.failure, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}
