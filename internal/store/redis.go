package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goflare.io/encore/internal/config"
	"goflare.io/encore/internal/models"
	"goflare.io/encore/internal/retrier"
	"goflare.io/encore/pkg/serialization"
)

// Redis shares results between bot replicas. Every remote call runs through a retrier
// and a circuit breaker; a failing server degrades Get to a miss so searches proceed
// against the platforms.
type Redis struct {
	client  redis.Cmdable
	prefix  string
	ttl     time.Duration
	codec   config.SerializationConfig
	cb      *gobreaker.CircuitBreaker
	retrier *retrier.Retrier
	filter  *keyFilter
	tracer  trace.Tracer
	logger  *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closer io.Closer
}

// NewRedis loads the shared key filter and starts its periodic save.
func NewRedis(ctx context.Context, client redis.Cmdable, cfg *config.Config, logger *zap.Logger) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	retry := cfg.Resilience.Retry
	retry.Retryable = func(err error) bool {
		return !errors.Is(err, gobreaker.ErrOpenState) &&
			!errors.Is(err, gobreaker.ErrTooManyRequests) &&
			!errors.Is(err, context.Canceled) &&
			!errors.Is(err, context.DeadlineExceeded)
	}
	r, err := retrier.New(retry)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrier: %w", err)
	}

	codec := cfg.Serialization
	if codec.Encoder == nil || codec.Decoder == nil {
		codec.Encoder, codec.Decoder = serialization.JSONEncoder, serialization.JSONDecoder
	}

	s := &Redis{
		client:  client,
		prefix:  cfg.Store.Redis.KeyPrefix,
		ttl:     cfg.Search.TTL,
		codec:   codec,
		cb:      gobreaker.NewCircuitBreaker(cfg.Resilience.StoreCircuitBreaker),
		retrier: r,
		filter:  newKeyFilter(client, cfg.Store.BloomFilter, logger),
		tracer:  otel.Tracer("encore/store"),
		logger:  logger,
	}

	if err := s.filter.Load(ctx); err != nil {
		logger.Warn("Starting with an empty bloom filter", zap.Error(err))
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.filter.Run(runCtx)
	}()
	return s, nil
}

func (s *Redis) key(k string) string {
	return s.prefix + k
}

// execute runs op through the retrier and the circuit breaker.
func (s *Redis) execute(ctx context.Context, op func() error) error {
	return s.retrier.Run(ctx, func() error {
		_, err := s.cb.Execute(func() (any, error) {
			return nil, op()
		})
		return err
	})
}

func (s *Redis) Get(ctx context.Context, key string) (*models.ResultSet, bool, error) {
	ctx, span := s.tracer.Start(ctx, "Redis.Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	if !s.filter.Test(key) {
		span.SetAttributes(attribute.Bool("bloom_negative", true))
		return nil, false, nil
	}

	var (
		data  []byte
		found bool
	)
	err := s.execute(ctx, func() error {
		b, err := s.client.Get(ctx, s.key(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		data, found = b, true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("Remote result store unavailable, treating as miss", zap.String("key", key), zap.Error(err))
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}

	var rs models.ResultSet
	if err := serialization.Unmarshal(s.codec.Decoder, data, &rs); err != nil {
		s.logger.Warn("Dropping undecodable result set", zap.String("key", key), zap.Error(err))
		return nil, false, nil
	}
	return &rs, true, nil
}

func (s *Redis) Set(ctx context.Context, key string, rs *models.ResultSet) error {
	ctx, span := s.tracer.Start(ctx, "Redis.Set", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	if rs == nil {
		return ErrNilSet
	}
	data, err := serialization.Marshal(s.codec.Encoder, rs)
	if err != nil {
		return fmt.Errorf("failed to encode result set: %w", err)
	}

	if err := s.execute(ctx, func() error {
		return s.client.Set(ctx, s.key(key), data, s.ttl).Err()
	}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to store result set: %w", err)
	}
	s.filter.Add(key)
	return nil
}

func (s *Redis) Delete(ctx context.Context, key string) error {
	ctx, span := s.tracer.Start(ctx, "Redis.Delete", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	return s.execute(ctx, func() error {
		return s.client.Del(ctx, s.key(key)).Err()
	})
}

// Close stops the filter loop and saves the filter one last time. A client passed in
// by the caller is left open.
func (s *Redis) Close() error {
	s.cancel()
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.filter.Save(ctx)
	if s.closer != nil {
		err = errors.Join(err, s.closer.Close())
	}
	return err
}
