package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HealthStatus is the /healthz response body.
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	UptimeS   float64           `json:"uptime_seconds"`
	HostStats HostStats         `json:"host_stats"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HostStats are gopsutil-sourced host resource figures, surfaced so an
// operator can see memory/CPU pressure without a separate metrics scrape.
type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemUsedBytes  uint64  `json:"mem_used_bytes"`
	MemTotalBytes uint64  `json:"mem_total_bytes"`
}

// Check is a named readiness probe (e.g. Redis/store reachability).
type Check func(ctx context.Context) error

// HealthChecker serves /healthz, aggregating registered checks plus host
// stats from gopsutil.
type HealthChecker struct {
	mu        sync.RWMutex
	startTime time.Time
	checks    map[string]Check
}

// NewHealthChecker builds a HealthChecker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{startTime: time.Now(), checks: make(map[string]Check)}
}

// RegisterCheck adds a named readiness probe.
func (h *HealthChecker) RegisterCheck(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// ServeHTTP implements http.Handler for GET /healthz.
func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	h.mu.RLock()
	checks := make(map[string]Check, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	h.mu.RUnlock()

	status := "ok"
	results := make(map[string]string, len(checks))
	for name, check := range checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = "degraded"
		} else {
			results[name] = "ok"
		}
	}

	body := HealthStatus{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		UptimeS:   time.Since(h.startTime).Seconds(),
		HostStats: collectHostStats(),
		Checks:    results,
	}

	w.Header().Set("Content-Type", "application/json")
	if status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(body)
}

func collectHostStats() HostStats {
	var stats HostStats

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemUsedBytes = vm.Used
		stats.MemTotalBytes = vm.Total
	}

	return stats
}
