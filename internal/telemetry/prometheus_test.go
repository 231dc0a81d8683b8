package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewPrometheusRegistry_RegistersAllMetricFamilies(t *testing.T) {
	reg := NewPrometheusRegistry()
	families, err := reg.Registry().Gather()
	assert.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "amanmcp_routing_search_duration_seconds")
	assert.Contains(t, names, "amanmcp_routing_route_decisions_total")
	assert.Contains(t, names, "amanmcp_routing_link_graph_backend_available")
}

func TestPrometheusRegistry_ObserveSearch_RecordsLatencyByIntent(t *testing.T) {
	reg := NewPrometheusRegistry()
	reg.ObserveSearch("research", 20*time.Millisecond)

	count := testutil.CollectAndCount(reg.searchLatency, "amanmcp_routing_search_duration_seconds")
	assert.Equal(t, 1, count)
}

func TestPrometheusRegistry_ObserveRoute_IncrementsByConfidenceAndResolution(t *testing.T) {
	reg := NewPrometheusRegistry()
	reg.ObserveRoute("high", true)
	reg.ObserveRoute("high", true)
	reg.ObserveRoute("none", false)

	resolved := testutil.ToFloat64(reg.routeTotal.WithLabelValues("high", "true"))
	assert.Equal(t, 2.0, resolved)

	unresolved := testutil.ToFloat64(reg.routeTotal.WithLabelValues("none", "false"))
	assert.Equal(t, 1.0, unresolved)
}

func TestPrometheusRegistry_SetGraphBackendAvailable_TogglesGauge(t *testing.T) {
	reg := NewPrometheusRegistry()
	reg.SetGraphBackendAvailable("toolgraph", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.graphBackend.WithLabelValues("toolgraph")))

	reg.SetGraphBackendAvailable("toolgraph", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(reg.graphBackend.WithLabelValues("toolgraph")))
}

func TestBoolLabel(t *testing.T) {
	assert.Equal(t, "true", boolLabel(true))
	assert.Equal(t, "false", boolLabel(false))
}
