package models

import (
	"time"

	"go.uber.org/atomic"
)

// Entry represents a cached value together with its insertion and activity timestamps.
type Entry[V any] struct {
	Value        V
	CreatedAt    time.Time
	lastActivity *atomic.Time
}

// NewEntry creates a new Entry stamped at now.
func NewEntry[V any](value V, now time.Time) *Entry[V] {
	return &Entry[V]{
		Value:        value,
		CreatedAt:    now,
		lastActivity: atomic.NewTime(now),
	}
}

// LastActivity returns the time the entry was last proven usable.
func (e *Entry[V]) LastActivity() time.Time {
	return e.lastActivity.Load()
}

// Touch records a successful use of the cached value.
func (e *Entry[V]) Touch(now time.Time) {
	e.lastActivity.Store(now)
}

// IsExpired reports whether the entry has outlived maxAge or has been idle for inactivity.
// A zero duration disables that check.
func (e *Entry[V]) IsExpired(now time.Time, maxAge, inactivity time.Duration) bool {
	if maxAge > 0 && now.Sub(e.CreatedAt) >= maxAge {
		return true
	}
	return e.IsInactive(now, inactivity)
}

// IsInactive reports whether the entry has not been touched within timeout.
func (e *Entry[V]) IsInactive(now time.Time, timeout time.Duration) bool {
	return timeout > 0 && now.Sub(e.LastActivity()) >= timeout
}
