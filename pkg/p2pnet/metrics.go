package p2pnet

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the node-level Prometheus metrics: build info and the
// circuit relay service. Discovery and sync each keep their own Metrics
// type built on the same isolated-registry shape; their collectors
// register onto this same Registry via NewMetrics(reg) so a node exposes
// exactly one /metrics endpoint.
type Metrics struct {
	Registry *prometheus.Registry

	BuildInfo *prometheus.GaugeVec

	RelayReservationsTotal *prometheus.CounterVec
	RelayCircuitsTotal     *prometheus.CounterVec
	RelayEnabled           prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all collectors registered
// on an isolated registry, so node metrics never collide with the global
// default registry. The version and goVersion are recorded as labels on the
// malachite_info gauge.
func NewMetrics(version, goVersion string) *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "malachite_info",
				Help: "Build information for the running node.",
			},
			[]string{"version", "go_version"},
		),

		RelayReservationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "malachite_relay_reservations_total",
				Help: "Total number of circuit relay reservations handled by this node, by result.",
			},
			[]string{"result"},
		),
		RelayCircuitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "malachite_relay_circuits_total",
				Help: "Total number of circuit relay connections relayed by this node, by result.",
			},
			[]string{"result"},
		),
		RelayEnabled: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "malachite_relay_enabled",
				Help: "1 if this node is currently serving as a circuit relay, 0 otherwise.",
			},
		),
	}

	reg.MustRegister(
		m.BuildInfo,
		m.RelayReservationsTotal,
		m.RelayCircuitsTotal,
		m.RelayEnabled,
	)

	m.BuildInfo.WithLabelValues(version, goVersion).Set(1)

	return m
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
