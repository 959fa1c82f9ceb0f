// Package metrics exposes Prometheus instrumentation for supervised servers and health polling.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mozilla-ai/fleetd/internal/domain"
)

const namespace = "fleetd"

// Metrics records supervisor and monitor activity on a dedicated registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	restarts      *prometheus.CounterVec
	state         *prometheus.GaugeVec
	probeDuration *prometheus.HistogramVec
	alerts        *prometheus.CounterVec
}

// New creates Metrics with its own registry, including the standard Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		restarts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "server_restarts_total",
				Help:      "Number of restart attempts per server",
			},
			[]string{"server"},
		),
		state: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "server_state",
				Help:      "Current lifecycle state per server (1 for the active state, 0 otherwise)",
			},
			[]string{"server", "state"},
		),
		probeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "health_probe_duration_seconds",
				Help:      "Duration of health probes per server",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"server"},
		),
		alerts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Number of alerts emitted by type",
			},
			[]string{"type"},
		),
	}
}

// ServerRestarted counts a restart attempt.
func (m *Metrics) ServerRestarted(server string) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(server).Inc()
}

// ServerStateChanged marks state as the only active state of server.
func (m *Metrics) ServerStateChanged(server string, state domain.ServerState) {
	if m == nil {
		return
	}
	for _, s := range domain.AllServerStates() {
		v := 0.0
		if s == state {
			v = 1
		}
		m.state.WithLabelValues(server, string(s)).Set(v)
	}
}

// ProbeObserved records how long a health probe of server took.
func (m *Metrics) ProbeObserved(server string, d time.Duration) {
	if m == nil {
		return
	}
	m.probeDuration.WithLabelValues(server).Observe(d.Seconds())
}

// Notify counts an alert. It lets Metrics act as an alert sink.
func (m *Metrics) Notify(_ context.Context, alert domain.Alert) error {
	if m == nil {
		return nil
	}
	m.alerts.WithLabelValues(string(alert.Type)).Inc()
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
