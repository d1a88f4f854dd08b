package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is one dependency probed by the health check
type Pinger func(ctx context.Context) error

// Checker handles health check endpoints
type Checker struct {
	checks    map[string]Pinger
	version   string
	startTime time.Time
	ready     atomic.Bool
	timeout   time.Duration
}

// NewChecker creates a new health checker. checks maps a dependency name to its probe.
func NewChecker(version string, checks map[string]Pinger) *Checker {
	return &Checker{
		checks:    checks,
		version:   version,
		startTime: time.Now(),
		timeout:   2 * time.Second,
	}
}

// SetReady sets the readiness state
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

// RegisterRoutes registers health check endpoints
func (c *Checker) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/v1/health", c.Health)
	e.GET("/api/v1/health/live", c.Live)
	e.GET("/api/v1/health/ready", c.Ready)
}

// HealthStatus is the body of the health route
type HealthStatus struct {
	Status     string                  `json:"status"`
	Version    string                  `json:"version"`
	Uptime     string                  `json:"uptime"`
	Checks     map[string]*CheckResult `json:"checks"`
	ReportedAt time.Time               `json:"reported_at"`
}

type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// probe pings every dependency concurrently and reports whether all answered
func (c *Checker) probe(ctx context.Context) (map[string]*CheckResult, bool) {
	results := make(map[string]*CheckResult, len(c.checks))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	healthy := true
	for name, ping := range c.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			err := ping(pingCtx)
			res := &CheckResult{Status: "healthy", Latency: time.Since(start).String()}
			if err != nil {
				res = &CheckResult{Status: "unhealthy", Message: err.Error()}
			}

			mu.Lock()
			defer mu.Unlock()
			results[name] = res
			if err != nil {
				healthy = false
			}
		}()
	}
	wg.Wait()
	return results, healthy
}

// Health reports every dependency; any failure is a 503
func (c *Checker) Health(ctx echo.Context) error {
	checks, healthy := c.probe(ctx.Request().Context())
	status := &HealthStatus{
		Status:     "healthy",
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     checks,
		ReportedAt: time.Now().UTC(),
	}
	if !healthy {
		status.Status = "unhealthy"
		return ctx.JSON(http.StatusServiceUnavailable, status)
	}
	return ctx.JSON(http.StatusOK, status)
}

// Live answers as long as the process serves HTTP
func (c *Checker) Live(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "alive"})
}

// Ready is 200 once startup finished and every dependency answers
func (c *Checker) Ready(ctx echo.Context) error {
	if !c.ready.Load() {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"status": "starting"})
	}
	if _, healthy := c.probe(ctx.Request().Context()); !healthy {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ready"})
}
