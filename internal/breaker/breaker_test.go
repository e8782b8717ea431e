package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newBreaker(t *testing.T) (*Breaker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	return New(3, time.Minute, WithClock(clock.Now)), clock
}

func TestDefaults(t *testing.T) {
	b := New(0, 0)
	assert.Equal(t, DefaultThreshold, b.Threshold())
	assert.Equal(t, DefaultResetTimeout, b.resetTimeout)
}

func TestOpensAtThreshold(t *testing.T) {
	b, clock := newBreaker(t)

	b.RecordFailure("qobuz")
	clock.Advance(5 * time.Second)
	b.RecordFailure("qobuz")
	assert.False(t, b.IsOpen("qobuz"))

	clock.Advance(5 * time.Second)
	b.RecordFailure("qobuz")
	assert.True(t, b.IsOpen("qobuz"))
	assert.False(t, b.IsOpen("tidal"))
}

func TestClosesLazilyAfterResetWindow(t *testing.T) {
	b, clock := newBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure("qobuz")
	}
	require.True(t, b.IsOpen("qobuz"))

	clock.Advance(61 * time.Second)
	assert.Equal(t, 3, b.Failures("qobuz"), "record is kept until checked")
	assert.False(t, b.IsOpen("qobuz"))
	assert.Equal(t, 0, b.Failures("qobuz"))
	assert.Empty(t, b.Snapshot())
}

func TestFailurePastWindowRestartsCount(t *testing.T) {
	b, clock := newBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure("qobuz")
	}
	require.True(t, b.IsOpen("qobuz"))

	clock.Advance(61 * time.Second)
	b.RecordFailure("qobuz")
	assert.Equal(t, 1, b.Failures("qobuz"))
	assert.False(t, b.IsOpen("qobuz"))
}

func TestRecordSuccessClearsRegardlessOfCount(t *testing.T) {
	for _, n := range []int{0, 1, 3, 10} {
		b, _ := newBreaker(t)
		for i := 0; i < n; i++ {
			b.RecordFailure("deezer")
		}
		b.RecordSuccess("deezer")
		assert.False(t, b.IsOpen("deezer"), "after %d failures", n)
		assert.Equal(t, 0, b.Failures("deezer"))
	}
}

func TestOnTripFiresOnce(t *testing.T) {
	var trips []string
	b := New(2, time.Minute, WithOnTrip(func(p string) { trips = append(trips, p) }))

	for i := 0; i < 5; i++ {
		b.RecordFailure("tidal")
	}
	assert.Equal(t, []string{"tidal"}, trips)
}

func TestSnapshotSorted(t *testing.T) {
	b, _ := newBreaker(t)
	b.RecordFailure("tidal")
	b.RecordFailure("deezer")
	b.RecordFailure("tidal")

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "deezer", snap[0].Platform)
	assert.Equal(t, 1, snap[0].ConsecutiveFailures)
	assert.Equal(t, "tidal", snap[1].Platform)
	assert.Equal(t, 2, snap[1].ConsecutiveFailures)
}
