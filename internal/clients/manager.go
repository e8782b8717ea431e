// Package clients owns authenticated platform sessions: it builds them on demand,
// reuses them while they are fresh and closes them when they go stale.
package clients

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/encore/internal/breaker"
	"goflare.io/encore/internal/cache/ttl"
	"goflare.io/encore/internal/config"
	"goflare.io/encore/internal/models"
	"goflare.io/encore/internal/platform"
	"goflare.io/encore/internal/utils"
)

var (
	ErrCircuitOpen     = errors.New("platform circuit is open")
	ErrAuthFailed      = errors.New("platform authentication failed")
	ErrUnknownPlatform = errors.New("unknown platform")
	ErrManagerClosed   = errors.New("client manager is closed")
)

// Handle is a cached, authenticated client.
type Handle struct {
	ID       string
	Platform string
	Client   platform.Client
}

// HandleInfo describes a cached handle for status reporting.
type HandleInfo struct {
	ID           string
	Platform     string
	CreatedAt    time.Time
	LastActivity time.Time
	Closed       bool
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithClock(clock utils.Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithMetrics shares counters with the rest of the application.
func WithMetrics(metrics *models.Metrics) Option {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// Manager caches one handle per platform.
type Manager struct {
	cfg      config.ClientConfig
	registry *platform.Registry
	breaker  *breaker.Breaker
	handles  *ttl.Cache[string, *Handle]
	group    singleflight.Group

	now     utils.Clock
	logger  *zap.Logger
	metrics *models.Metrics
	tracer  trace.Tracer

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates a Manager. The sweep loop is not running until Start is called.
func NewManager(cfg config.ClientConfig, registry *platform.Registry, brk *breaker.Breaker, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		registry: registry,
		breaker:  brk,
		now:      time.Now,
		logger:   zap.NewNop(),
		metrics:  models.NewMetrics(),
		tracer:   otel.Tracer("encore/clients"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("clients")

	m.handles = ttl.New(ttl.Options[string, *Handle]{
		MaxAge:            cfg.MaxAge,
		InactivityTimeout: cfg.InactivityTimeout,
		Capacity:          cfg.Capacity,
		OnEvict:           m.onEvict,
		Clock:             m.now,
	})
	return m
}

// Acquire returns a ready client for name, building and authenticating one when no
// usable handle is cached.
func (m *Manager) Acquire(ctx context.Context, name string, cfg config.PlatformConfig) (*Handle, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Acquire", trace.WithAttributes(attribute.String("platform", name)))
	defer span.End()

	if m.isClosed() {
		return nil, ErrManagerClosed
	}
	if m.breaker.IsOpen(name) {
		span.SetStatus(codes.Error, "circuit open")
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, name)
	}

	if h, ok := m.reuse(name); ok {
		span.SetAttributes(attribute.Bool("reused", true))
		return h, nil
	}

	// The build outlives any single caller so coalesced waiters are not failed by
	// whoever arrived first; AuthTimeout bounds it.
	buildCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(name, func() (any, error) {
		if h, ok := m.reuse(name); ok {
			return h, nil
		}
		return m.build(buildCtx, name, cfg)
	})

	select {
	case <-ctx.Done():
		span.SetStatus(codes.Error, "caller cancelled")
		return nil, ctx.Err()
	case res := <-ch:
		span.SetAttributes(attribute.Bool("shared", res.Shared))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	}
}

// reuse returns the cached handle if it is still open and fresh.
func (m *Manager) reuse(name string) (*Handle, bool) {
	h, ok := m.handles.Get(name)
	if !ok {
		return nil, false
	}
	if h.Client.Closed() {
		m.logger.Debug("Discarding closed client", zap.String("platform", name), zap.String("handle", h.ID))
		m.handles.Delete(name)
		return nil, false
	}
	if !m.handles.Touch(name) {
		return nil, false
	}
	m.breaker.RecordSuccess(name)
	return h, true
}

func (m *Manager) build(ctx context.Context, name string, cfg config.PlatformConfig) (*Handle, error) {
	client, err := m.registry.New(name, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnknownPlatform, name, err)
	}

	timeout := m.cfg.AuthTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	authCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Authenticate(authCtx); err != nil {
		m.metrics.AuthFailures.Inc()
		if !errors.Is(err, context.Canceled) {
			m.breaker.RecordFailure(name)
		}
		if cerr := client.Close(); cerr != nil {
			m.logger.Warn("Failed to close rejected client", zap.String("platform", name), zap.Error(cerr))
		}
		m.logger.Warn("Platform authentication failed", zap.String("platform", name), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", ErrAuthFailed, name, err)
	}

	h := &Handle{ID: uuid.NewString(), Platform: name, Client: client}
	m.handles.Put(name, h)
	m.breaker.RecordSuccess(name)
	m.metrics.ClientsCreated.Inc()
	m.logger.Info("Platform client ready", zap.String("platform", name), zap.String("handle", h.ID))
	return h, nil
}

func (m *Manager) onEvict(name string, h *Handle, reason ttl.EvictReason) {
	if reason != ttl.Cleared {
		m.metrics.Evictions.Inc()
	}
	if err := h.Client.Close(); err != nil {
		m.logger.Warn("Failed to close evicted client",
			zap.String("platform", name),
			zap.String("handle", h.ID),
			zap.Error(err))
	}
	m.logger.Debug("Evicted platform client",
		zap.String("platform", name),
		zap.String("handle", h.ID),
		zap.Stringer("reason", reason))
}

// Invalidate drops and closes the handle cached for name, forcing the next Acquire to
// authenticate again. It reports whether a handle was cached.
func (m *Manager) Invalidate(name string) bool {
	return m.handles.Delete(name)
}

// Sweep evicts handles idle for longer than the inactivity timeout and returns how
// many were removed.
func (m *Manager) Sweep() int {
	n := m.handles.EvictInactive(m.cfg.InactivityTimeout)
	if n > 0 {
		m.logger.Debug("Swept idle platform clients", zap.Int("count", n))
	}
	return n
}

// Start launches the sweep loop. Calling it again has no effect.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		m.Run(ctx)
	}()
}

// Run sweeps idle handles every SweepInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Handles lists the cached handles.
func (m *Manager) Handles() []HandleInfo {
	items := m.handles.Items()
	out := make([]HandleInfo, 0, len(items))
	for _, it := range items {
		out = append(out, HandleInfo{
			ID:           it.Value.ID,
			Platform:     it.Key,
			CreatedAt:    it.CreatedAt,
			LastActivity: it.LastActivity,
			Closed:       it.Value.Client.Closed(),
		})
	}
	return out
}

// Len returns the number of cached handles.
func (m *Manager) Len() int {
	return m.handles.Len()
}

// Close stops the sweep loop and closes every cached handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	m.handles.Clear()
	m.logger.Info("Client manager closed")
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
