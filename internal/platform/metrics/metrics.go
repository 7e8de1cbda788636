// Package metrics provides Prometheus metrics collection for the gateway.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the gateway exposes.
type Metrics struct {
	// HTTP metrics, covering both the gateway's own endpoints and the
	// proxied workspace traffic path.
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Proxy metrics
	ProxyBytesTotal      *prometheus.CounterVec
	ProxyStreamDuration  *prometheus.HistogramVec
	ProxyDisconnectTotal prometheus.Counter

	// Actor / workspace lifecycle metrics
	ActorTransitionsTotal *prometheus.CounterVec
	ActorsActive          prometheus.Gauge
	WorkspaceReapedTotal  prometheus.Counter

	// Compute provider call metrics
	ProviderCallsTotal    *prometheus.CounterVec
	ProviderCallDuration  *prometheus.HistogramVec

	// Rate limiting
	RateLimitRejectedTotal prometheus.Counter

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a Metrics instance registered against the default registry.
func New(serviceName, version string) *Metrics {
	return NewWithRegistry(serviceName, version, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer,
// allowing tests to use a private registry.
func NewWithRegistry(serviceName, version string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests handled by the gateway.",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"route", "method"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_http_requests_in_flight",
				Help: "Number of HTTP requests currently being served.",
			},
		),
		ProxyBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_proxy_bytes_total",
				Help: "Total bytes streamed between the gateway and workspace VMs.",
			},
			[]string{"direction"},
		),
		ProxyStreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_proxy_stream_duration_seconds",
				Help:    "Duration of a proxied stream, from first byte to completion.",
				Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"outcome"},
		),
		ProxyDisconnectTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_proxy_client_disconnects_total",
				Help: "Total number of proxied streams ended by client disconnect.",
			},
		),
		ActorTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_workspace_actor_transitions_total",
				Help: "Total number of workspace actor state transitions.",
			},
			[]string{"event"},
		),
		ActorsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_workspace_actors_active",
				Help: "Current number of in-memory workspace actors.",
			},
		),
		WorkspaceReapedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_workspace_reaped_total",
				Help: "Total number of workspace actors evicted by the reaper.",
			},
		),
		ProviderCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_provider_calls_total",
				Help: "Total number of compute provider API calls.",
			},
			[]string{"op", "status"},
		),
		ProviderCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_provider_call_duration_seconds",
				Help:    "Compute provider API call duration in seconds.",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
			},
			[]string{"op"},
		),
		RateLimitRejectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_rate_limit_rejected_total",
				Help: "Total number of requests rejected by the rate limiter.",
			},
		),
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_uptime_seconds",
				Help: "Gateway process uptime in seconds.",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_info",
				Help: "Static gateway build information.",
			},
			[]string{"service", "version"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ProxyBytesTotal,
			m.ProxyStreamDuration,
			m.ProxyDisconnectTotal,
			m.ActorTransitionsTotal,
			m.ActorsActive,
			m.WorkspaceReapedTotal,
			m.ProviderCallsTotal,
			m.ProviderCallDuration,
			m.RateLimitRejectedTotal,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, version).Set(1)

	return m
}

// RecordHTTPRequest records a completed HTTP request, whether served by the
// gateway's own control endpoints or proxied to a workspace.
func (m *Metrics) RecordHTTPRequest(route, method, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(route, method, status).Inc()
	m.RequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordProxyBytes records bytes streamed in the given direction ("up" or
// "down") for a proxied workspace request.
func (m *Metrics) RecordProxyBytes(direction string, n int) {
	m.ProxyBytesTotal.WithLabelValues(direction).Add(float64(n))
}

// RecordProxyStream records the outcome and duration of a completed proxied
// stream ("ok", "idle_timeout", "disconnect", "error").
func (m *Metrics) RecordProxyStream(outcome string, duration time.Duration) {
	m.ProxyStreamDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if outcome == "disconnect" {
		m.ProxyDisconnectTotal.Inc()
	}
}

// RecordActorTransition records a workspace actor state transition event.
func (m *Metrics) RecordActorTransition(event string) {
	m.ActorTransitionsTotal.WithLabelValues(event).Inc()
}

// SetActorsActive reports the current number of in-memory actors.
func (m *Metrics) SetActorsActive(n int) {
	m.ActorsActive.Set(float64(n))
}

// RecordReap records an actor eviction by the reaper.
func (m *Metrics) RecordReap() {
	m.WorkspaceReapedTotal.Inc()
}

// RecordProviderCall records a compute provider API call.
func (m *Metrics) RecordProviderCall(op, status string, duration time.Duration) {
	m.ProviderCallsTotal.WithLabelValues(op, status).Inc()
	m.ProviderCallDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordRateLimitRejection records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimitRejection() {
	m.RateLimitRejectedTotal.Inc()
}

// UpdateUptime refreshes the uptime gauge from startTime.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

var (
	global   *Metrics
	globalMu sync.Mutex
)

// Init initializes the global Metrics instance, used by packages that
// cannot take a *Metrics dependency directly (e.g. the workspace actor,
// wired via a package-level setter rather than threading it through every
// constructor).
func Init(serviceName, version string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global == nil {
		global = New(serviceName, version)
	}
	return global
}

// Global returns the global Metrics instance, creating a no-op-registry
// instance if Init was never called (e.g. in unit tests).
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global == nil {
		global = NewWithRegistry("gateway", "dev", prometheus.NewRegistry())
	}
	return global
}
