package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	hookRunTotal    *prometheus.CounterVec
	hookRunDuration *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	pendingToolCalls      prometheus.Gauge

	turnTotal        *prometheus.CounterVec
	turnDuration     *prometheus.HistogramVec
	compressionTotal prometheus.Counter
	sessionTurns     prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			hookRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "hook_run_total",
					Help: "Total hook runs by event, decision and status.",
				},
				[]string{"event", "decision", "status"},
			),
			hookRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "hook_run_duration_seconds",
					Help:    "Hook subprocess duration in seconds by event.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"event"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			pendingToolCalls: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "pending_tool_calls",
					Help: "Current non-terminal tool call count.",
				},
			),
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "turn_total",
					Help: "Total turns by terminal status.",
				},
				[]string{"status"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "turn_duration_seconds",
					Help:    "Turn duration in seconds by terminal status.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"status"},
			),
			compressionTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "compression_total",
					Help: "Total context compressions performed.",
				},
			),
			sessionTurns: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "session_turns",
					Help: "Turn counter of the current session.",
				},
			),
		}

		prometheus.MustRegister(
			m.hookRunTotal,
			m.hookRunDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.pendingToolCalls,
			m.turnTotal,
			m.turnDuration,
			m.compressionTotal,
			m.sessionTurns,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordHookRun(event, decision string, success bool, duration time.Duration) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.hookRunTotal.WithLabelValues(event, decision, status).Inc()
	m.hookRunDuration.WithLabelValues(event).Observe(duration.Seconds())
}

func RecordToolExecution(tool string, success bool, duration time.Duration) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func SetPendingToolCalls(n int) {
	getMetrics().pendingToolCalls.Set(float64(n))
}

func RecordTurn(status string, duration time.Duration) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(status).Inc()
	m.turnDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func RecordCompression() {
	getMetrics().compressionTotal.Inc()
}

func SetSessionTurns(n int) {
	getMetrics().sessionTurns.Set(float64(n))
}
