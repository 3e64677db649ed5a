package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus collectors for endpoint health and routing.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	health         *prometheus.GaugeVec
	probeLatency   *prometheus.HistogramVec
	probes         *prometheus.CounterVec
	selectionState prometheus.Gauge
}

// NewMetrics registers the proxy collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		health: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "proxyauth",
				Name:      "proxy_health",
				Help:      "Last known endpoint health (1 healthy, 0 unhealthy)",
			},
			[]string{"endpoint"},
		),
		probeLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "proxyauth",
				Name:      "proxy_probe_latency_seconds",
				Help:      "Latency of successful endpoint probes in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
			},
			[]string{"endpoint"},
		),
		probes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "proxyauth",
				Name:      "proxy_probes_total",
				Help:      "Total number of endpoint probes by result",
			},
			[]string{"endpoint", "result"},
		),
		selectionState: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "proxyauth",
				Name:      "router_selection_state",
				Help:      "Router selection state (0 unconfigured, 1 active, 2 degraded, 3 unavailable)",
			},
		),
	}
}

// RecordProbe records one probe outcome and updates the endpoint's health gauge.
func (m *Metrics) RecordProbe(endpoint string, res ProbeResult) {
	if m == nil {
		return
	}
	result := "failure"
	health := 0.0
	if res.OK {
		result = "success"
		health = 1
		m.probeLatency.WithLabelValues(endpoint).Observe(res.LatencyMS / 1000)
	}
	m.probes.WithLabelValues(endpoint, result).Inc()
	m.health.WithLabelValues(endpoint).Set(health)
}

// RecordSelection records the router's current state.
func (m *Metrics) RecordSelection(s State) {
	if m == nil {
		return
	}
	m.selectionState.Set(float64(s))
}

// Forget drops series for a removed endpoint.
func (m *Metrics) Forget(endpoint string) {
	if m == nil {
		return
	}
	m.health.DeleteLabelValues(endpoint)
	m.probeLatency.DeleteLabelValues(endpoint)
	m.probes.DeletePartialMatch(prometheus.Labels{"endpoint": endpoint})
}
