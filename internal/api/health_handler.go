package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ignite/workshop-mailer/internal/pkg/httputil"
)

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status  string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// Check probes one dependency. A nil error means the dependency is up.
type Check func(ctx context.Context) error

type namedCheck struct {
	name      string
	check     Check
	slowAfter time.Duration
}

// HealthChecker runs the registered dependency checks (datastore, Redis,
// archive bucket) concurrently.
type HealthChecker struct {
	mu        sync.RWMutex
	checks    []namedCheck
	timeout   time.Duration
	startTime time.Time
}

// NewHealthChecker creates a HealthChecker with no checks; with none
// registered the service reports healthy.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{timeout: 3 * time.Second, startTime: time.Now()}
}

// Add registers a check. Responses slower than slowAfter report "degraded".
func (hc *HealthChecker) Add(name string, slowAfter time.Duration, check Check) *HealthChecker {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks = append(hc.checks, namedCheck{name: name, check: check, slowAfter: slowAfter})
	return hc
}

const healthVersion = "1.0.0"

// HandleHealth returns the status of all components. It always answers 200;
// the status field in the body conveys health.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())

	httputil.OK(w, HealthStatus{
		Status:  determineOverallStatus(checks),
		Version: healthVersion,
		Uptime:  formatUptime(time.Since(hc.startTime)),
		Checks:  checks,
	})
}

// HandleLiveness always returns 200 while the process is running.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{
		"status": "alive",
		"uptime": formatUptime(time.Since(hc.startTime)),
	})
}

// HandleReadiness returns 503 when any dependency is down.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := determineOverallStatus(checks)

	ready := overall != "unhealthy"
	httpStatus := http.StatusOK
	if !ready {
		httpStatus = http.StatusServiceUnavailable
	}
	httputil.JSON(w, httpStatus, map[string]interface{}{
		"ready":  ready,
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	hc.mu.RLock()
	checks := append([]namedCheck(nil), hc.checks...)
	hc.mu.RUnlock()

	type result struct {
		name  string
		check ComponentCheck
	}
	ch := make(chan result, len(checks))
	for _, c := range checks {
		go func(c namedCheck) { ch <- result{c.name, hc.probe(ctx, c)} }(c)
	}

	out := make(map[string]ComponentCheck, len(checks))
	for range checks {
		r := <-ch
		out[r.name] = r.check
	}
	return out
}

func (hc *HealthChecker) probe(ctx context.Context, c namedCheck) ComponentCheck {
	probeCtx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	start := time.Now()
	err := c.check(probeCtx)
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{
			Status:  "down",
			Latency: latency.String(),
			Message: fmt.Sprintf("check failed: %v", err),
		}
	}
	if c.slowAfter > 0 && latency > c.slowAfter {
		return ComponentCheck{
			Status:  "degraded",
			Latency: latency.String(),
			Message: fmt.Sprintf("slow response (%s)", latency),
		}
	}
	return ComponentCheck{Status: "up", Latency: latency.String(), Message: "connected"}
}

func determineOverallStatus(checks map[string]ComponentCheck) string {
	overall := "healthy"
	for _, c := range checks {
		switch c.Status {
		case "down":
			return "unhealthy"
		case "degraded":
			overall = "degraded"
		}
	}
	return overall
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
