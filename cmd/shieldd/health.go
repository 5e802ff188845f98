// health.go - Component health for the pool service
package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthStatus is the state of one component or of the whole service.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// ComponentReport is the outcome of one check.
type ComponentReport struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
	Took      time.Duration `json:"took"`
}

// HealthReport aggregates every component; the worst status wins.
type HealthReport struct {
	Status     HealthStatus      `json:"status"`
	Components []ComponentReport `json:"components"`
	Uptime     time.Duration     `json:"uptime"`
	Version    string            `json:"version"`
}

// Check reports a problem with a component. Errors built with ErrDegraded
// mark it degraded instead of unhealthy.
type Check func() error

type degradedError struct{ msg string }

func (e degradedError) Error() string { return e.msg }

// ErrDegraded builds an error that only degrades a component.
func ErrDegraded(msg string) error { return degradedError{msg: msg} }

// HealthChecker runs registered component checks on demand.
type HealthChecker struct {
	mu      sync.Mutex
	checks  map[string]Check
	started time.Time
	version string
}

func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{checks: make(map[string]Check), started: time.Now(), version: version}
}

// RegisterComponent adds or replaces the check for name.
func (hc *HealthChecker) RegisterComponent(name string, check Check) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// CheckHealth runs every check in name order.
func (hc *HealthChecker) CheckHealth() *HealthReport {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	report := &HealthReport{
		Status:     Healthy,
		Components: make([]ComponentReport, 0, len(names)),
		Uptime:     time.Since(hc.started),
		Version:    hc.version,
	}
	for _, name := range names {
		start := time.Now()
		err := hc.checks[name]()
		c := ComponentReport{Name: name, Status: Healthy, CheckedAt: start, Took: time.Since(start)}
		switch err.(type) {
		case nil:
		case degradedError:
			c.Status, c.Detail = Degraded, err.Error()
		default:
			c.Status, c.Detail = Unhealthy, err.Error()
		}
		report.Status = worse(report.Status, c.Status)
		report.Components = append(report.Components, c)
	}
	return report
}

func worse(a, b HealthStatus) HealthStatus {
	rank := map[HealthStatus]int{Healthy: 0, Degraded: 1, Unhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// ServeHTTP answers 200 unless some component is unhealthy.
func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	report := hc.CheckHealth()
	code := http.StatusOK
	if report.Status == Unhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}
