package clients

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/encore/internal/breaker"
	"goflare.io/encore/internal/config"
	"goflare.io/encore/internal/platform"
	"goflare.io/encore/internal/platform/platformtest"
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

type fixture struct {
	manager *Manager
	breaker *breaker.Breaker
	factory *platformtest.Factory
	clock   *fakeClock
}

func defaultClientConfig() config.ClientConfig {
	return config.ClientConfig{
		Capacity:          10,
		MaxAge:            time.Hour,
		InactivityTimeout: time.Minute,
		SweepInterval:     30 * time.Second,
		AuthTimeout:       10 * time.Second,
	}
}

func newFixture(t *testing.T, cfg config.ClientConfig, build func(name string) *platformtest.Client) *fixture {
	t.Helper()
	if build == nil {
		build = func(name string) *platformtest.Client { return platformtest.NewClient(name) }
	}
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	factory := platformtest.NewFactory(build)

	registry := platform.NewRegistry(nil)
	for _, name := range []string{"qobuz", "tidal", "deezer"} {
		registry.Register(name, factory.New)
	}
	brk := breaker.New(3, time.Minute, breaker.WithClock(clock.Now))
	m := NewManager(cfg, registry, brk, WithClock(clock.Now), WithLogger(zap.NewNop()))
	t.Cleanup(func() { _ = m.Close() })

	return &fixture{manager: m, breaker: brk, factory: factory, clock: clock}
}

func TestAcquireReusesHandle(t *testing.T) {
	f := newFixture(t, defaultClientConfig(), nil)
	ctx := context.Background()

	h1, err := f.manager.Acquire(ctx, "qobuz", config.PlatformConfig{})
	require.NoError(t, err)
	f.clock.Advance(30 * time.Second)
	h2, err := f.manager.Acquire(ctx, "qobuz", config.PlatformConfig{})
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	require.Len(t, f.factory.Created(), 1)
	assert.EqualValues(t, 1, f.factory.Created()[0].AuthCalls.Load())
	assert.NotEmpty(t, h1.ID)
	assert.Equal(t, "qobuz", h1.Platform)
}

func TestAcquireReuseRefreshesActivity(t *testing.T) {
	f := newFixture(t, defaultClientConfig(), nil)
	ctx := context.Background()

	h1, err := f.manager.Acquire(ctx, "qobuz", config.PlatformConfig{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		f.clock.Advance(50 * time.Second)
		h, err := f.manager.Acquire(ctx, "qobuz", config.PlatformConfig{})
		require.NoError(t, err)
		require.Same(t, h1, h)
	}
	assert.Zero(t, f.manager.Sweep())
}

func TestAcquireAuthFailureTripsCircuit(t *testing.T) {
	authErr := errors.New("bad credentials")
	f := newFixture(t, defaultClientConfig(), func(name string) *platformtest.Client {
		return platformtest.NewClient(name).FailAuth(authErr)
	})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := f.manager.Acquire(ctx, "tidal", config.PlatformConfig{})
		require.ErrorIs(t, err, ErrAuthFailed)
		require.ErrorIs(t, err, authErr)
		assert.Equal(t, i, f.breaker.Failures("tidal"))
	}

	_, err := f.manager.Acquire(ctx, "tidal", config.PlatformConfig{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Len(t, f.factory.Created(), 3, "open circuit must not build a client")

	for _, c := range f.factory.Created() {
		assert.True(t, c.Closed(), "rejected clients are closed")
	}
	assert.Zero(t, f.manager.Len())
}

func TestAcquireCircuitRecovers(t *testing.T) {
	f := newFixture(t, defaultClientConfig(), nil)
	for i := 0; i < 3; i++ {
		f.breaker.RecordFailure("deezer")
	}

	_, err := f.manager.Acquire(context.Background(), "deezer", config.PlatformConfig{})
	require.ErrorIs(t, err, ErrCircuitOpen)

	f.clock.Advance(time.Minute)
	_, err = f.manager.Acquire(context.Background(), "deezer", config.PlatformConfig{})
	require.NoError(t, err)
	assert.Zero(t, f.breaker.Failures("deezer"))
}

func TestAcquireAuthTimeout(t *testing.T) {
	cfg := defaultClientConfig()
	cfg.AuthTimeout = 10 * time.Millisecond
	f := newFixture(t, cfg, func(name string) *platformtest.Client {
		return platformtest.NewClient(name).SlowAuth(time.Second)
	})

	_, err := f.manager.Acquire(context.Background(), "qobuz", config.PlatformConfig{})
	require.ErrorIs(t, err, ErrAuthFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, f.breaker.Failures("qobuz"))
}

func TestAcquireUnknownPlatformIsNotABreakerSignal(t *testing.T) {
	f := newFixture(t, defaultClientConfig(), nil)

	_, err := f.manager.Acquire(context.Background(), "bandcamp", config.PlatformConfig{})
	require.ErrorIs(t, err, ErrUnknownPlatform)
	assert.Zero(t, f.breaker.Failures("bandcamp"))

	_, err = f.manager.Acquire(context.Background(), "bandcamp", config.PlatformConfig{Kind: "nope"})
	require.ErrorIs(t, err, ErrUnknownPlatform)
	assert.ErrorIs(t, err, platform.ErrUnknownKind)
}

func TestAcquireReplacesClosedClient(t *testing.T) {
	f := newFixture(t, defaultClientConfig(), nil)
	ctx := context.Background()

	h1, err := f.manager.Acquire(ctx, "qobuz", config.PlatformConfig{})
	require.NoError(t, err)
	first := f.factory.Created()[0]
	first.Expire()

	h2, err := f.manager.Acquire(ctx, "qobuz", config.PlatformConfig{})
	require.NoError(t, err)
	assert.NotEqual(t, h1.ID, h2.ID)
	assert.EqualValues(t, 1, first.CloseCalls.Load())
	assert.Equal(t, 1, f.manager.Len())
}

func TestAcquireRebuildsAfterMaxAge(t *testing.T) {
	f := newFixture(t, defaultClientConfig(), nil)
	ctx := context.Background()

	h1, err := f.manager.Acquire(ctx, "qobuz", config.PlatformConfig{})
	require.NoError(t, err)
	for i := 0; i < 61; i++ {
		f.clock.Advance(59 * time.Second)
		_, err := f.manager.Acquire(ctx, "qobuz", config.PlatformConfig{})
		require.NoError(t, err)
	}
	f.clock.Advance(time.Second)

	h2, err := f.manager.Acquire(ctx, "qobuz", config.PlatformConfig{})
	require.NoError(t, err)
	assert.NotEqual(t, h1.ID, h2.ID)
	assert.True(t, h1.Client.Closed())
}

func TestSweepClosesIdleHandles(t *testing.T) {
	f := newFixture(t, defaultClientConfig(), nil)
	ctx := context.Background()

	_, err := f.manager.Acquire(ctx, "qobuz", config.PlatformConfig{})
	require.NoError(t, err)
	f.clock.Advance(30 * time.Second)
	_, err = f.manager.Acquire(ctx, "tidal", config.PlatformConfig{})
	require.NoError(t, err)

	f.clock.Advance(31 * time.Second)
	assert.Equal(t, 1, f.manager.Sweep())

	handles := f.manager.Handles()
	require.Len(t, handles, 1)
	assert.Equal(t, "tidal", handles[0].Platform)
	assert.True(t, f.factory.Created()[0].Closed())
}

func TestCapacityEvictsOldest(t *testing.T) {
	cfg := defaultClientConfig()
	cfg.Capacity = 2
	f := newFixture(t, cfg, nil)
	ctx := context.Background()

	for _, name := range []string{"qobuz", "tidal", "deezer"} {
		_, err := f.manager.Acquire(ctx, name, config.PlatformConfig{})
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	created := f.factory.Created()
	require.Len(t, created, 3)
	assert.True(t, created[0].Closed())
	assert.False(t, created[1].Closed())
	assert.False(t, created[2].Closed())
	assert.Equal(t, 2, f.manager.Len())
}

func TestConcurrentAcquireBuildsOnce(t *testing.T) {
	f := newFixture(t, defaultClientConfig(), func(name string) *platformtest.Client {
		return platformtest.NewClient(name).SlowAuth(20 * time.Millisecond)
	})

	var wg sync.WaitGroup
	handles := make([]*Handle, 16)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := f.manager.Acquire(context.Background(), "qobuz", config.PlatformConfig{})
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	require.Len(t, f.factory.Created(), 1)
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
}

func TestCancelledCallerDoesNotFailWaiters(t *testing.T) {
	f := newFixture(t, defaultClientConfig(), func(name string) *platformtest.Client {
		return platformtest.NewClient(name).SlowAuth(100 * time.Millisecond)
	})

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := f.manager.Acquire(leaderCtx, "qobuz", config.PlatformConfig{})
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return len(f.factory.Created()) == 1 }, time.Second, time.Millisecond)

	waiterErr := make(chan error, 1)
	var waiter *Handle
	go func() {
		h, err := f.manager.Acquire(context.Background(), "qobuz", config.PlatformConfig{})
		waiter = h
		waiterErr <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	require.NoError(t, <-waiterErr)
	require.NotNil(t, waiter)
	assert.False(t, waiter.Client.Closed())

	assert.Len(t, f.factory.Created(), 1)
	assert.Zero(t, f.breaker.Failures("qobuz"))
	assert.Equal(t, 1, f.manager.Len())
}

func TestCancelledAuthenticationIsNotABreakerSignal(t *testing.T) {
	f := newFixture(t, defaultClientConfig(), func(name string) *platformtest.Client {
		return platformtest.NewClient(name).FailAuth(context.Canceled)
	})

	_, err := f.manager.Acquire(context.Background(), "qobuz", config.PlatformConfig{})
	require.ErrorIs(t, err, ErrAuthFailed)
	assert.Zero(t, f.breaker.Failures("qobuz"))
}

func TestCloseReleasesHandles(t *testing.T) {
	f := newFixture(t, defaultClientConfig(), nil)
	ctx := context.Background()
	f.manager.Start(ctx)

	_, err := f.manager.Acquire(ctx, "qobuz", config.PlatformConfig{})
	require.NoError(t, err)
	_, err = f.manager.Acquire(ctx, "tidal", config.PlatformConfig{})
	require.NoError(t, err)

	require.NoError(t, f.manager.Close())
	require.NoError(t, f.manager.Close())
	for _, c := range f.factory.Created() {
		assert.True(t, c.Closed())
	}
	assert.Zero(t, f.manager.Len())

	_, err = f.manager.Acquire(ctx, "qobuz", config.PlatformConfig{})
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestRunSweepsPeriodically(t *testing.T) {
	cfg := defaultClientConfig()
	cfg.InactivityTimeout = 20 * time.Millisecond
	cfg.SweepInterval = 5 * time.Millisecond

	registry := platform.NewRegistry(nil)
	factory := platformtest.NewFactory(func(name string) *platformtest.Client { return platformtest.NewClient(name) })
	registry.Register("qobuz", factory.New)
	m := NewManager(cfg, registry, breaker.New(3, time.Minute))
	defer m.Close()

	m.Start(context.Background())
	m.Start(context.Background())

	_, err := m.Acquire(context.Background(), "qobuz", config.PlatformConfig{})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, factory.Created()[0].Closed())
}
