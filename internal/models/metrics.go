package models

import "go.uber.org/atomic"

// Metrics stores search and client lifecycle statistics.
type Metrics struct {
	Hits           *atomic.Int64
	Misses         *atomic.Int64
	Evictions      *atomic.Int64
	Searches       *atomic.Int64
	CircuitTrips   *atomic.Int64
	AuthFailures   *atomic.Int64
	PlatformErrors *atomic.Int64
	ClientsCreated *atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Hits           int64
	Misses         int64
	Evictions      int64
	Searches       int64
	CircuitTrips   int64
	AuthFailures   int64
	PlatformErrors int64
	ClientsCreated int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		Hits:           atomic.NewInt64(0),
		Misses:         atomic.NewInt64(0),
		Evictions:      atomic.NewInt64(0),
		Searches:       atomic.NewInt64(0),
		CircuitTrips:   atomic.NewInt64(0),
		AuthFailures:   atomic.NewInt64(0),
		PlatformErrors: atomic.NewInt64(0),
		ClientsCreated: atomic.NewInt64(0),
	}
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Hits:           m.Hits.Load(),
		Misses:         m.Misses.Load(),
		Evictions:      m.Evictions.Load(),
		Searches:       m.Searches.Load(),
		CircuitTrips:   m.CircuitTrips.Load(),
		AuthFailures:   m.AuthFailures.Load(),
		PlatformErrors: m.PlatformErrors.Load(),
		ClientsCreated: m.ClientsCreated.Load(),
	}
}
