// Package metrics exposes Prometheus collectors for stack operations. A
// Metrics value satisfies the controller's Observer interface; a nil receiver
// is safe everywhere and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tsegert/convoy/internal/lifecycle"
)

// Metrics wraps the Prometheus collectors for one stack.
type Metrics struct {
	stack                    string
	registry                 *prometheus.Registry
	operationDurationSeconds *prometheus.HistogramVec
	operationsTotal          *prometheus.CounterVec
	servicesByState          *prometheus.GaugeVec
	imagePullsTotal          *prometheus.CounterVec
}

// New initializes a Metrics registry with all collectors registered. The
// stack name becomes a constant label on every series.
func New(stack string) *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		stack:    stack,
		registry: registry,
		operationDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "convoy_operation_duration_seconds",
			Help:    "Duration of stack commands in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stack", "command"}),
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convoy_operations_total",
			Help: "Total completed stack commands by result.",
		}, []string{"stack", "command", "result"}),
		servicesByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "convoy_services",
			Help: "Services by lifecycle state.",
		}, []string{"stack", "state"}),
		imagePullsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convoy_image_pulls_total",
			Help: "Total image pulls by result.",
		}, []string{"stack", "result"}),
	}

	registry.MustRegister(
		m.operationDurationSeconds,
		m.operationsTotal,
		m.servicesByState,
		m.imagePullsTotal,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OperationCompleted records one finished stack command.
func (m *Metrics) OperationCompleted(command string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operationDurationSeconds.WithLabelValues(m.stack, command).Observe(elapsed.Seconds())
	m.operationsTotal.WithLabelValues(m.stack, command, result(ok)).Inc()
}

// ServiceStates replaces the per-state service gauges with a fresh count.
// States absent from the map are reset so stale series do not linger.
func (m *Metrics) ServiceStates(states map[lifecycle.State]int) {
	if m == nil {
		return
	}
	for _, state := range []lifecycle.State{
		lifecycle.StateDeclared,
		lifecycle.StateStarting,
		lifecycle.StateRunning,
		lifecycle.StateStopping,
		lifecycle.StateStopped,
		lifecycle.StateFailed,
	} {
		m.servicesByState.WithLabelValues(m.stack, string(state)).Set(float64(states[state]))
	}
}

// PullCompleted records one finished image pull.
func (m *Metrics) PullCompleted(_ string, ok bool) {
	if m == nil {
		return
	}
	m.imagePullsTotal.WithLabelValues(m.stack, result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
