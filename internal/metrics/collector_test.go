package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/encore/internal/models"
)

func TestCollectorExportsCounters(t *testing.T) {
	m := models.NewMetrics()
	m.Hits.Add(3)
	m.Misses.Inc()
	m.CircuitTrips.Inc()

	c := NewCollector(m, func() int { return 2 }, func() int { return 4 })
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP encore_cache_hits_total Searches answered from the result store.
# TYPE encore_cache_hits_total counter
encore_cache_hits_total 3
# HELP encore_circuit_trips_total Times a platform circuit opened.
# TYPE encore_circuit_trips_total counter
encore_circuit_trips_total 1
# HELP encore_open_circuits Platforms whose circuit is currently open.
# TYPE encore_open_circuits gauge
encore_open_circuits 2
# HELP encore_cached_clients Authenticated platform clients currently cached.
# TYPE encore_cached_clients gauge
encore_cached_clients 4
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"encore_cache_hits_total", "encore_circuit_trips_total", "encore_open_circuits", "encore_cached_clients")
	assert.NoError(t, err)

	assert.Equal(t, 10, testutil.CollectAndCount(c))
}
