package discovery

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Discovery & Reachability Engine's Prometheus
// collectors. Like pkg/syncrange.Metrics, it registers onto a caller-owned
// Registerer rather than constructing its own registry, so a node's
// p2pnet.Metrics.Registry can host discovery, sync and host-level
// collectors behind one /metrics endpoint.
type Metrics struct {
	DiscoveredPeersTotal   prometheus.Counter
	FailedDialsTotal       prometheus.Counter
	FailedRequestsTotal    prometheus.Counter
	ExtensionStepsTotal    prometheus.Counter
	ActiveOutboundPeers    prometheus.Gauge
	ActiveInboundPeers     prometheus.Gauge
	PendingDialsInProgress prometheus.Gauge
}

// NewMetrics registers the engine's collectors onto reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DiscoveredPeersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "malachite_discovery_discovered_peers_total",
			Help: "Total number of distinct peers discovered via identify.",
		}),
		FailedDialsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "malachite_discovery_failed_dials_total",
			Help: "Total number of dials abandoned after exhausting retries.",
		}),
		FailedRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "malachite_discovery_failed_requests_total",
			Help: "Total number of peers-requests abandoned after exhausting retries.",
		}),
		ExtensionStepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "malachite_discovery_extension_steps_total",
			Help: "Total number of extension steps taken while growing the overlay.",
		}),
		ActiveOutboundPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "malachite_discovery_active_outbound_peers",
			Help: "Current number of outbound peers (pending or confirmed).",
		}),
		ActiveInboundPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "malachite_discovery_active_inbound_peers",
			Help: "Current number of inbound peers.",
		}),
		PendingDialsInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "malachite_discovery_pending_dials",
			Help: "Current number of in-progress dial attempts.",
		}),
	}

	reg.MustRegister(
		m.DiscoveredPeersTotal,
		m.FailedDialsTotal,
		m.FailedRequestsTotal,
		m.ExtensionStepsTotal,
		m.ActiveOutboundPeers,
		m.ActiveInboundPeers,
		m.PendingDialsInProgress,
	)

	return m
}
