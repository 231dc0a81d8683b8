package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRegistry exposes the routing core's search/route metrics for
// external scraping. It is additive to QueryMetrics/SQLiteMetricsStore
// above, which remain local-only: an operator who wants Grafana visibility
// wires this in alongside them, it does not replace the in-process history.
type PrometheusRegistry struct {
	registry *prometheus.Registry

	searchLatency *prometheus.HistogramVec
	routeTotal    *prometheus.CounterVec
	graphBackend  *prometheus.GaugeVec
}

// NewPrometheusRegistry creates a registry with the routing core's metric
// families already registered.
func NewPrometheusRegistry() *PrometheusRegistry {
	reg := prometheus.NewRegistry()

	searchLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "amanmcp",
		Subsystem: "routing",
		Name:      "search_duration_seconds",
		Help:      "Hybrid search latency, labeled by the classified query intent.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"intent"})

	routeTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "amanmcp",
		Subsystem: "routing",
		Name:      "route_decisions_total",
		Help:      "Routing decisions, labeled by confidence tier and whether a command was resolved.",
	}, []string{"confidence", "resolved"})

	graphBackend := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "amanmcp",
		Subsystem: "routing",
		Name:      "link_graph_backend_available",
		Help:      "1 if the link-graph backend answered its last stats probe, 0 if unavailable.",
	}, []string{"backend"})

	reg.MustRegister(searchLatency, routeTotal, graphBackend)
	return &PrometheusRegistry{registry: reg, searchLatency: searchLatency, routeTotal: routeTotal, graphBackend: graphBackend}
}

// Registry returns the underlying *prometheus.Registry, for wiring into an
// http.Handler via promhttp.HandlerFor in the serving binary.
func (p *PrometheusRegistry) Registry() *prometheus.Registry { return p.registry }

// ObserveSearch records one hybrid search call's latency.
func (p *PrometheusRegistry) ObserveSearch(intent string, d time.Duration) {
	p.searchLatency.WithLabelValues(intent).Observe(d.Seconds())
}

// ObserveRoute records one routing decision's outcome.
func (p *PrometheusRegistry) ObserveRoute(confidence string, resolved bool) {
	p.routeTotal.WithLabelValues(confidence, boolLabel(resolved)).Inc()
}

// SetGraphBackendAvailable records whether backend answered its last probe.
func (p *PrometheusRegistry) SetGraphBackendAvailable(backend string, available bool) {
	v := 0.0
	if available {
		v = 1.0
	}
	p.graphBackend.WithLabelValues(backend).Set(v)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
