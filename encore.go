// Package encore is the search core of a music download bot: it fans inline queries
// out to the configured platforms, caches ranked results, and keeps one authenticated
// client per platform alive behind a circuit breaker.
package encore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/encore/internal/breaker"
	"goflare.io/encore/internal/clients"
	"goflare.io/encore/internal/config"
	"goflare.io/encore/internal/metrics"
	"goflare.io/encore/internal/models"
	"goflare.io/encore/internal/platform"
	"goflare.io/encore/internal/search"
	"goflare.io/encore/internal/store"
	"goflare.io/encore/internal/utils"
)

type (
	Config         = config.Config
	PlatformConfig = config.PlatformConfig
	Request        = search.Request
	Record         = models.Record
	ResultSet      = models.ResultSet
	MediaType      = models.MediaType
	Handle         = clients.Handle
	Factory        = platform.Factory
	Client         = platform.Client
	Metrics        = models.MetricsSnapshot
)

const (
	MediaTypeAny      = models.MediaTypeAny
	MediaTypeTrack    = models.MediaTypeTrack
	MediaTypeAlbum    = models.MediaTypeAlbum
	MediaTypeArtist   = models.MediaTypeArtist
	MediaTypePlaylist = models.MediaTypePlaylist
)

// ParseMediaType validates a user supplied media type filter.
func ParseMediaType(s string) (MediaType, error) {
	return models.ParseMediaType(s)
}

type options struct {
	cfg         *config.Config
	configOpts  []config.Option
	factories   map[string]platform.Factory
	registerer  prometheus.Registerer
	clock       utils.Clock
	redisClient redis.Cmdable
}

// Option configures an Encore instance.
type Option func(*options) error

// WithConfig starts from a prepared Config, such as one returned by config.LoadViper.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return errors.New("config cannot be nil")
		}
		o.cfg = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) error {
		o.configOpts = append(o.configOpts, config.WithLogger(logger))
		return nil
	}
}

// WithPlatform enables a platform.
func WithPlatform(name string, p PlatformConfig) Option {
	return func(o *options) error {
		o.configOpts = append(o.configOpts, config.WithPlatform(name, p))
		return nil
	}
}

// WithSearchTTL sets how long a ranked result set is served from the store.
func WithSearchTTL(ttl time.Duration) Option {
	return func(o *options) error {
		o.configOpts = append(o.configOpts, func(c *config.Config) error {
			c.Search.TTL = ttl
			return nil
		})
		return nil
	}
}

// WithStore selects the result store backend: memory, ristretto, redis or bolt.
func WithStore(storeType string) Option {
	return func(o *options) error {
		o.configOpts = append(o.configOpts, func(c *config.Config) error {
			c.Store.Type = storeType
			return nil
		})
		return nil
	}
}

// WithSerialization selects the codec of the redis and bolt stores.
func WithSerialization(name string) Option {
	return func(o *options) error {
		o.configOpts = append(o.configOpts, config.WithSerialization(name))
		return nil
	}
}

// WithFactory registers a client factory under kind. A platform uses it when its
// Kind, or failing that its name, equals kind.
func WithFactory(kind string, f Factory) Option {
	return func(o *options) error {
		if kind == "" || f == nil {
			return errors.New("factory kind and constructor are required")
		}
		o.factories[kind] = f
		return nil
	}
}

// WithRegisterer exports metrics to a Prometheus registry.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) error {
		o.registerer = r
		return nil
	}
}

// WithClock overrides time for every component.
func WithClock(clock func() time.Time) Option {
	return func(o *options) error {
		o.clock = clock
		return nil
	}
}

// WithRedisClient hands an existing client to the redis store.
func WithRedisClient(client redis.Cmdable) Option {
	return func(o *options) error {
		o.redisClient = client
		return nil
	}
}

// Encore wires the breaker, client manager, result store and orchestrator together.
type Encore struct {
	cfg     *config.Config
	breaker *breaker.Breaker
	clients *clients.Manager
	store   store.Store
	search  *search.Service
	metrics *models.Metrics
	logger  *zap.Logger
	now     utils.Clock

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New builds an Encore instance and starts its background sweep. Configured warmup
// queries run in the background.
func New(ctx context.Context, opts ...Option) (*Encore, error) {
	o := &options{factories: make(map[string]platform.Factory)}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	cfg := o.cfg
	if cfg == nil {
		var err error
		if cfg, err = config.NewConfig(o.configOpts...); err != nil {
			return nil, fmt.Errorf("failed to create config: %w", err)
		}
	} else {
		for _, opt := range o.configOpts {
			if err := opt(cfg); err != nil {
				return nil, fmt.Errorf("failed to apply option: %w", err)
			}
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	logger := cfg.Logger
	clock := o.clock.OrNow()

	m := models.NewMetrics()
	brk := breaker.New(cfg.Breaker.Threshold, cfg.Breaker.ResetTimeout,
		breaker.WithLogger(logger.Named("breaker")),
		breaker.WithClock(clock),
		breaker.WithOnTrip(func(string) { m.CircuitTrips.Inc() }),
	)

	registry := platform.NewRegistry(logger.Named("platform"))
	for kind, f := range o.factories {
		registry.Register(kind, f)
	}

	manager := clients.NewManager(cfg.Clients, registry, brk,
		clients.WithLogger(logger),
		clients.WithClock(clock),
		clients.WithMetrics(m),
	)

	storeOpts := []store.Option{store.WithLogger(logger), store.WithClock(clock)}
	if o.redisClient != nil {
		storeOpts = append(storeOpts, store.WithRedisClient(o.redisClient))
	}
	results, err := store.New(ctx, cfg, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize result store: %w", err)
	}

	svc, err := search.New(cfg, manager, brk, results,
		search.WithLogger(logger),
		search.WithClock(clock),
		search.WithMetrics(m),
	)
	if err != nil {
		_ = results.Close()
		return nil, err
	}

	if o.registerer != nil {
		collector := metrics.NewCollector(m, func() int { return countOpen(brk, cfg) }, manager.Len)
		if err := o.registerer.Register(collector); err != nil {
			_ = results.Close()
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &Encore{
		cfg:     cfg,
		breaker: brk,
		clients: manager,
		store:   results,
		search:  svc,
		metrics: m,
		logger:  logger,
		now:     clock,
		cancel:  cancel,
	}
	manager.Start(runCtx)

	if queries := cfg.Search.WarmupQueries; len(queries) > 0 {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			n := svc.Warmup(runCtx, queries)
			logger.Info("Search cache warmed", zap.Int("queries", n), zap.Int("requested", len(queries)))
		}()
	}

	logger.Info("Encore started",
		zap.Strings("platforms", cfg.EnabledPlatforms()),
		zap.Strings("client_kinds", registry.Kinds()),
		zap.String("store", cfg.Store.Type))
	return e, nil
}

// Search answers an inline query.
func (e *Encore) Search(ctx context.Context, req Request) (*ResultSet, error) {
	return e.search.Search(ctx, req)
}

// Acquire returns an authenticated client for platform, for callers such as the
// download integrations that need the session directly.
func (e *Encore) Acquire(ctx context.Context, platformName string) (*Handle, error) {
	p, ok := e.cfg.Platforms[platformName]
	if !ok || !p.Enabled {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, platformName)
	}
	return e.clients.Acquire(ctx, platformName, p)
}

// Warmup caches results for queries under the shared requester.
func (e *Encore) Warmup(ctx context.Context, queries []string) int {
	return e.search.Warmup(ctx, queries)
}

// Platforms returns the enabled platforms in merge order.
func (e *Encore) Platforms() []string {
	return e.cfg.EnabledPlatforms()
}

// Metrics returns the current counters.
func (e *Encore) Metrics() Metrics {
	return e.metrics.Snapshot()
}

// Close stops background work, closes every platform client and the result store.
func (e *Encore) Close() error {
	e.closeOnce.Do(func() {
		e.cancel()
		e.wg.Wait()
		e.closeErr = errors.Join(e.clients.Close(), e.store.Close())
		e.logger.Info("Encore closed")
	})
	return e.closeErr
}

func countOpen(b *breaker.Breaker, cfg *config.Config) int {
	n := 0
	for _, name := range cfg.EnabledPlatforms() {
		if b.IsOpen(name) {
			n++
		}
	}
	return n
}
