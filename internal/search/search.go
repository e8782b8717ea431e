// Package search fans a query out to every usable platform, merges and ranks the
// answers, and caches the ranked set per requester.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sahilm/fuzzy"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"goflare.io/encore/internal/breaker"
	"goflare.io/encore/internal/clients"
	"goflare.io/encore/internal/config"
	"goflare.io/encore/internal/models"
	"goflare.io/encore/internal/platform"
	"goflare.io/encore/internal/retrier"
	"goflare.io/encore/internal/store"
	"goflare.io/encore/internal/utils"
)

var (
	ErrEmptyQuery  = errors.New("search query is empty")
	ErrNoPlatforms = errors.New("no platforms configured")
	ErrUnavailable = errors.New("no platform could be searched")
	// ErrUnknownPlatform is shared with the client manager so callers need one check.
	ErrUnknownPlatform = clients.ErrUnknownPlatform
)

// Request is one inline query.
type Request struct {
	Query     string
	Platform  string
	MediaType models.MediaType
	// Requester scopes the cached result; an empty requester shares results.
	Requester string
	Limit     int
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(clock utils.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

func WithMetrics(metrics *models.Metrics) Option {
	return func(s *Service) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// Service is the search orchestrator.
type Service struct {
	cfg      *config.Config
	clients  *clients.Manager
	breaker  *breaker.Breaker
	store    store.Store
	retrier  *retrier.Retrier
	limiters map[string]*rate.Limiter
	group    singleflight.Group

	now     utils.Clock
	logger  *zap.Logger
	metrics *models.Metrics
	tracer  trace.Tracer
}

// New creates a Service.
func New(cfg *config.Config, manager *clients.Manager, brk *breaker.Breaker, results store.Store, opts ...Option) (*Service, error) {
	r, err := retrier.New(cfg.Resilience.Retry)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrier: %w", err)
	}

	s := &Service{
		cfg:      cfg,
		clients:  manager,
		breaker:  brk,
		store:    results,
		retrier:  r,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
		logger:   zap.NewNop(),
		metrics:  models.NewMetrics(),
		tracer:   otel.Tracer("encore/search"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("search")

	for name, p := range cfg.Platforms {
		if p.RateLimit <= 0 {
			continue
		}
		burst := p.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiters[name] = rate.NewLimiter(rate.Limit(p.RateLimit), burst)
	}
	return s, nil
}

// Search answers req from the result store when possible, otherwise queries every
// candidate platform concurrently. A cached set is returned exactly as stored.
func (s *Service) Search(ctx context.Context, req Request) (*models.ResultSet, error) {
	query := utils.NormalizeQuery(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	filter := strings.ToLower(strings.TrimSpace(req.Platform))

	ctx, span := s.tracer.Start(ctx, "Service.Search", trace.WithAttributes(
		attribute.String("query", query),
		attribute.String("platform", filter),
		attribute.String("media_type", string(req.MediaType)),
	))
	defer span.End()

	s.metrics.Searches.Inc()
	key := utils.Fingerprint(req.Requester, query, filter, string(req.MediaType))

	if rs, ok, err := s.store.Get(ctx, key); err != nil {
		s.logger.Warn("Result store lookup failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		s.metrics.Hits.Inc()
		span.SetAttributes(attribute.Bool("cached", true))
		rs.Cached = true
		return rs, nil
	}
	s.metrics.Misses.Inc()

	// The fan-out is shared by every caller asking the same question, so it runs detached
	// from the first caller; per-platform QueryTimeout and AuthTimeout bound it.
	runCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		if rs, ok, _ := s.store.Get(runCtx, key); ok {
			rs.Cached = true
			return rs, nil
		}
		return s.run(runCtx, key, query, filter, req)
	})

	select {
	case <-ctx.Done():
		span.SetStatus(codes.Error, "caller cancelled")
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			return nil, res.Err
		}
		return res.Val.(*models.ResultSet).Clone(), nil
	}
}

func (s *Service) run(ctx context.Context, key, query, filter string, req Request) (*models.ResultSet, error) {
	candidates, unavailable, err := s.candidates(filter)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: circuits open for %s", ErrUnavailable, strings.Join(unavailable, ", "))
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.Search.Limit
	}
	q := platform.Query{Text: query, Type: req.MediaType, Limit: limit}

	results := make([][]models.Record, len(candidates))
	failed := make([]bool, len(candidates))

	var g errgroup.Group
	for i, name := range candidates {
		g.Go(func() error {
			records, err := s.queryPlatform(ctx, name, q)
			if err != nil {
				failed[i] = true
				return nil
			}
			results[i] = records
			return nil
		})
	}
	_ = g.Wait()

	var merged []models.Record
	answered := 0
	for i, name := range candidates {
		if failed[i] {
			unavailable = append(unavailable, name)
			continue
		}
		answered++
		merged = append(merged, results[i]...)
	}
	if answered == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, strings.Join(unavailable, ", "))
	}

	Rank(merged, query, s.cfg.BiasFor)
	if merged == nil {
		merged = []models.Record{}
	}
	rs := &models.ResultSet{
		Records:     merged,
		Unavailable: unavailable,
		CreatedAt:   s.now(),
	}

	if err := s.store.Set(ctx, key, rs); err != nil {
		s.logger.Warn("Failed to cache search result", zap.String("key", key), zap.Error(err))
	}
	s.logger.Debug("Search completed",
		zap.String("query", query),
		zap.Int("records", len(merged)),
		zap.Int("answered", answered),
		zap.Strings("unavailable", unavailable))
	return rs, nil
}

// candidates returns the platforms to query and those skipped for an open circuit.
func (s *Service) candidates(filter string) ([]string, []string, error) {
	enabled := s.cfg.EnabledPlatforms()
	if len(enabled) == 0 {
		return nil, nil, ErrNoPlatforms
	}

	names := enabled
	if filter != "" {
		if p, ok := s.cfg.Platforms[filter]; !ok || !p.Enabled {
			return nil, nil, unknownPlatform(filter, enabled)
		}
		names = []string{filter}
	}

	var ready, open []string
	for _, name := range names {
		if s.breaker.IsOpen(name) {
			open = append(open, name)
			continue
		}
		ready = append(ready, name)
	}
	return ready, open, nil
}

func unknownPlatform(name string, enabled []string) error {
	if matches := fuzzy.Find(name, enabled); len(matches) > 0 {
		return fmt.Errorf("%w: %q, did you mean %q?", ErrUnknownPlatform, name, matches[0].Str)
	}
	return fmt.Errorf("%w: %q (enabled: %s)", ErrUnknownPlatform, name, strings.Join(enabled, ", "))
}

// queryPlatform searches one platform. Every failure is recorded and logged here;
// the caller only learns that the platform did not answer.
func (s *Service) queryPlatform(ctx context.Context, name string, q platform.Query) ([]models.Record, error) {
	ctx, span := s.tracer.Start(ctx, "Service.queryPlatform", trace.WithAttributes(attribute.String("platform", name)))
	defer span.End()

	h, err := s.clients.Acquire(ctx, name, s.cfg.Platforms[name])
	if err != nil {
		s.metrics.PlatformErrors.Inc()
		span.RecordError(err)
		s.logger.Warn("Skipping platform", zap.String("platform", name), zap.Error(err))
		return nil, err
	}

	if timeout := s.cfg.Search.QueryTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var items []platform.RawItem
	err = s.retrier.Run(ctx, func() error {
		if l, ok := s.limiters[name]; ok {
			if err := l.Wait(ctx); err != nil {
				return err
			}
		}
		var err error
		items, err = h.Client.Search(ctx, q)
		return err
	})
	if err != nil {
		s.metrics.PlatformErrors.Inc()
		if !errors.Is(err, context.Canceled) {
			s.breaker.RecordFailure(name)
		}
		if errors.Is(err, platform.ErrUnauthorized) || errors.Is(err, platform.ErrClosed) {
			s.clients.Invalidate(name)
		}
		span.RecordError(err)
		s.logger.Warn("Platform search failed", zap.String("platform", name), zap.Error(err))
		return nil, err
	}

	s.breaker.RecordSuccess(name)
	return NormalizeAll(name, items, q.Type), nil
}

// Warmup runs queries under the shared requester so popular searches are cached
// before the first user asks. It returns how many queries were cached.
func (s *Service) Warmup(ctx context.Context, queries []string) int {
	var (
		mu     sync.Mutex
		warmed int
	)
	var g errgroup.Group
	g.SetLimit(4)
	for _, query := range queries {
		g.Go(func() error {
			if _, err := s.Search(ctx, Request{Query: query}); err != nil {
				s.logger.Info("Warmup query failed", zap.String("query", query), zap.Error(err))
				return nil
			}
			mu.Lock()
			warmed++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return warmed
}
