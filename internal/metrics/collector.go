// Package metrics exports the in-process counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"goflare.io/encore/internal/models"
)

const namespace = "encore"

// Collector reads counters at scrape time, so nothing is double counted.
type Collector struct {
	metrics *models.Metrics
	// openCircuits and cachedClients are sampled as gauges; either may be nil.
	openCircuits  func() int
	cachedClients func() int

	hits           *prometheus.Desc
	misses         *prometheus.Desc
	searches       *prometheus.Desc
	evictions      *prometheus.Desc
	circuitTrips   *prometheus.Desc
	authFailures   *prometheus.Desc
	platformErrors *prometheus.Desc
	clientsCreated *prometheus.Desc
	openGauge      *prometheus.Desc
	clientsGauge   *prometheus.Desc
}

func NewCollector(m *models.Metrics, openCircuits, cachedClients func() int) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &Collector{
		metrics:       m,
		openCircuits:  openCircuits,
		cachedClients: cachedClients,

		hits:           desc("cache_hits_total", "Searches answered from the result store."),
		misses:         desc("cache_misses_total", "Searches that had to query platforms."),
		searches:       desc("searches_total", "Search requests received."),
		evictions:      desc("client_evictions_total", "Platform clients evicted and closed."),
		circuitTrips:   desc("circuit_trips_total", "Times a platform circuit opened."),
		authFailures:   desc("auth_failures_total", "Failed platform authentications."),
		platformErrors: desc("platform_errors_total", "Platforms skipped or failed during a search."),
		clientsCreated: desc("clients_created_total", "Platform clients authenticated."),
		openGauge:      desc("open_circuits", "Platforms whose circuit is currently open."),
		clientsGauge:   desc("cached_clients", "Authenticated platform clients currently cached."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.searches
	ch <- c.evictions
	ch <- c.circuitTrips
	ch <- c.authFailures
	ch <- c.platformErrors
	ch <- c.clientsCreated
	ch <- c.openGauge
	ch <- c.clientsGauge
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.hits, s.Hits)
	counter(c.misses, s.Misses)
	counter(c.searches, s.Searches)
	counter(c.evictions, s.Evictions)
	counter(c.circuitTrips, s.CircuitTrips)
	counter(c.authFailures, s.AuthFailures)
	counter(c.platformErrors, s.PlatformErrors)
	counter(c.clientsCreated, s.ClientsCreated)

	if c.openCircuits != nil {
		ch <- prometheus.MustNewConstMetric(c.openGauge, prometheus.GaugeValue, float64(c.openCircuits()))
	}
	if c.cachedClients != nil {
		ch <- prometheus.MustNewConstMetric(c.clientsGauge, prometheus.GaugeValue, float64(c.cachedClients()))
	}
}
