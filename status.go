package encore

import (
	"sort"
	"time"
)

// PlatformStatus describes one configured platform.
type PlatformStatus struct {
	Name        string
	Enabled     bool
	CircuitOpen bool
	Failures    int
	// LastFailureAt is zero when no failure is on record.
	LastFailureAt time.Time
	HasClient     bool
	ClientID      string
	ClientIdle    time.Duration
}

// Status is a point-in-time view of every platform plus the counters.
type Status struct {
	Platforms []PlatformStatus
	Metrics   Metrics
	Store     string
	// Threshold is the failure count that opens a circuit.
	Threshold int
}

// Status reports circuit and client state for every configured platform.
func (e *Encore) Status() Status {
	failures := make(map[string]time.Time)
	counts := make(map[string]int)
	for _, rec := range e.breaker.Snapshot() {
		failures[rec.Platform] = rec.LastFailureAt
		counts[rec.Platform] = rec.ConsecutiveFailures
	}

	now := e.now()
	handles := make(map[string]PlatformStatus)
	for _, h := range e.clients.Handles() {
		handles[h.Platform] = PlatformStatus{HasClient: !h.Closed, ClientID: h.ID, ClientIdle: now.Sub(h.LastActivity)}
	}

	out := make([]PlatformStatus, 0, len(e.cfg.Platforms))
	for name, p := range e.cfg.Platforms {
		ps := handles[name]
		ps.Name = name
		ps.Enabled = p.Enabled
		ps.CircuitOpen = p.Enabled && e.breaker.IsOpen(name)
		ps.Failures = counts[name]
		ps.LastFailureAt = failures[name]
		out = append(out, ps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return Status{Platforms: out, Metrics: e.Metrics(), Store: e.cfg.Store.Type, Threshold: e.breaker.Threshold()}
}
