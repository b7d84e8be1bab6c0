package syncrange

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Sync Request Planner's Prometheus collectors. It follows
// the same isolated-registry construction shape used throughout this
// module: NewMetrics registers its collectors onto the given Registerer
// (typically the node's shared registry) rather than the global default.
type Metrics struct {
	PendingRequests  prometheus.Gauge
	CurrentSyncHeight prometheus.Gauge
	RequestsCompletedTotal prometheus.Counter
}

// NewMetrics registers the planner's collectors onto reg and returns a
// Metrics handle. Passing a fresh *prometheus.Registry isolates it for
// testing; passing a node's shared registry merges it into that node's
// single /metrics endpoint.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "malachite_sync_pending_requests",
			Help: "Number of in-flight sync range requests.",
		}),
		CurrentSyncHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "malachite_sync_current_height",
			Help: "Start height of the next uncovered sync range.",
		}),
		RequestsCompletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "malachite_sync_requests_completed_total",
			Help: "Total number of sync range requests removed via RemoveRequestsUpTo.",
		}),
	}

	reg.MustRegister(m.PendingRequests, m.CurrentSyncHeight, m.RequestsCompletedTotal)

	return m
}

// Observe updates the gauges from the current planner state.
func (m *Metrics) Observe(p *Planner) {
	m.PendingRequests.Set(float64(p.Len()))
	m.CurrentSyncHeight.Set(float64(p.CurrentSyncHeight()))
}
