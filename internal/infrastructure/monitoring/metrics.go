// Package monitoring collects Prometheus metrics for the HTTP layer and
// the terminal subsystem.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bioinfoflow/backend/internal/terminal"
)

var (
	_ terminal.Observer  = (*Metrics)(nil)
	_ terminal.Lifecycle = (*Metrics)(nil)
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Terminal metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	CommandsTotal   *prometheus.CounterVec
	CommandDuration prometheus.Histogram

	// Workflow metrics
	WorkflowsTotal *prometheus.CounterVec
	StepsTotal     *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers the metrics collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "backend_terminal_sessions_active",
				Help: "Number of live terminal sessions",
			},
		),
		SessionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "backend_terminal_sessions_total",
				Help: "Total number of terminal sessions created",
			},
		),
		CommandsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_terminal_commands_total",
				Help: "Terminal commands by final status",
			},
			[]string{"status"},
		),
		CommandDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "backend_terminal_command_duration_seconds",
				Help:    "Terminal command execution duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60},
			},
		),

		WorkflowsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_workflows_total",
				Help: "Workflow plans created, by source",
			},
			[]string{"source"},
		),
		StepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_workflow_steps_total",
				Help: "Workflow steps executed, by final status",
			},
			[]string{"status"},
		),

		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "backend_ws_connections",
				Help: "Active WebSocket connections",
			},
		),
	}
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SessionOpened tracks a new terminal session.
func (m *Metrics) SessionOpened() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// SessionClosed tracks a terminated or reaped terminal session.
func (m *Metrics) SessionClosed() {
	m.SessionsActive.Dec()
}

// CommandFinished implements terminal.Observer.
func (m *Metrics) CommandFinished(status terminal.CommandStatus, duration time.Duration) {
	m.CommandsTotal.WithLabelValues(string(status)).Inc()
	m.CommandDuration.Observe(duration.Seconds())
}

// Uptime reports how long the collector has been alive.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
