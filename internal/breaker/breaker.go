// Package breaker tracks consecutive failures per platform and tells callers when a
// platform should be skipped.
package breaker

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"goflare.io/encore/internal/utils"
)

const (
	DefaultThreshold    = 3
	DefaultResetTimeout = 60 * time.Second
)

// FailureRecord is the failure history of one platform.
type FailureRecord struct {
	Platform            string
	ConsecutiveFailures int
	LastFailureAt       time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithLogger sets the logger used for state transitions.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock utils.Clock) Option {
	return func(b *Breaker) {
		b.now = clock.OrNow()
	}
}

// WithOnTrip registers a callback fired when a platform's circuit opens.
func WithOnTrip(fn func(platform string)) Option {
	return func(b *Breaker) {
		b.onTrip = fn
	}
}

// Breaker is an in-memory, per-process circuit breaker keyed by platform. The circuit
// closes lazily: an expired record is discarded the next time it is looked at.
type Breaker struct {
	mu           sync.Mutex
	records      map[string]*FailureRecord
	threshold    int
	resetTimeout time.Duration
	now          utils.Clock
	logger       *zap.Logger
	onTrip       func(platform string)
}

// New creates a new Breaker. Non-positive arguments fall back to the defaults.
func New(threshold int, resetTimeout time.Duration, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}
	b := &Breaker{
		records:      make(map[string]*FailureRecord),
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RecordFailure counts one more consecutive failure for platform. A failure arriving
// after the reset window starts a fresh record.
func (b *Breaker) RecordFailure(platform string) {
	b.mu.Lock()
	now := b.now()
	rec, ok := b.records[platform]
	if !ok || now.Sub(rec.LastFailureAt) >= b.resetTimeout {
		rec = &FailureRecord{Platform: platform}
		b.records[platform] = rec
	}
	rec.ConsecutiveFailures++
	rec.LastFailureAt = now
	tripped := rec.ConsecutiveFailures == b.threshold
	count := rec.ConsecutiveFailures
	b.mu.Unlock()

	if tripped {
		b.logger.Warn("Circuit opened",
			zap.String("platform", platform),
			zap.Int("failures", count),
			zap.Duration("reset_timeout", b.resetTimeout))
		if b.onTrip != nil {
			b.onTrip(platform)
		}
		return
	}
	b.logger.Debug("Recorded platform failure", zap.String("platform", platform), zap.Int("failures", count))
}

// RecordSuccess clears every failure recorded for platform.
func (b *Breaker) RecordSuccess(platform string) {
	b.mu.Lock()
	rec, ok := b.records[platform]
	delete(b.records, platform)
	b.mu.Unlock()

	if ok && rec.ConsecutiveFailures >= b.threshold {
		b.logger.Info("Circuit closed", zap.String("platform", platform))
	}
}

// IsOpen reports whether platform should be skipped. Once the reset window has
// elapsed the record is discarded and the circuit reports closed.
func (b *Breaker) IsOpen(platform string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[platform]
	if !ok {
		return false
	}
	if b.now().Sub(rec.LastFailureAt) >= b.resetTimeout {
		delete(b.records, platform)
		return false
	}
	return rec.ConsecutiveFailures >= b.threshold
}

// Failures returns the consecutive failure count currently held for platform.
func (b *Breaker) Failures(platform string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if rec, ok := b.records[platform]; ok {
		return rec.ConsecutiveFailures
	}
	return 0
}

// Snapshot returns a copy of all records, sorted by platform.
func (b *Breaker) Snapshot() []FailureRecord {
	b.mu.Lock()
	out := make([]FailureRecord, 0, len(b.records))
	for _, rec := range b.records {
		out = append(out, *rec)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}

// Threshold returns the failure count at which a circuit opens.
func (b *Breaker) Threshold() int {
	return b.threshold
}
