// Package store holds merged search results between identical queries. Backends share
// one contract: a result is served until the configured TTL elapses and never after.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/encore/internal/config"
	"goflare.io/encore/internal/models"
	"goflare.io/encore/internal/utils"
)

var (
	ErrClosed = errors.New("result store is closed")
	ErrNilSet = errors.New("result set cannot be nil")
)

// Store caches result sets by fingerprint. Memory, ristretto and bolt hold at most
// SearchConfig.MaxEntries sets; redis leaves capacity to the server's maxmemory policy
// and relies on per-key TTLs.
type Store interface {
	// Get returns the stored set for key. Backends that degrade on remote failures
	// report a miss rather than an error.
	Get(ctx context.Context, key string) (*models.ResultSet, bool, error)
	Set(ctx context.Context, key string, rs *models.ResultSet) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Option configures the store built by New.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	clock       utils.Clock
	redisClient redis.Cmdable
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides time for backends that track expiry themselves.
func WithClock(clock utils.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithRedisClient reuses an existing client instead of dialing cfg.Store.Redis.
func WithRedisClient(client redis.Cmdable) Option {
	return func(o *options) {
		o.redisClient = client
	}
}

// New builds the backend selected by cfg.Store.Type.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (Store, error) {
	o := &options{logger: cfg.Logger}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger.Named("store").With(zap.String("type", cfg.Store.Type))

	switch cfg.Store.Type {
	case config.StoreMemory, "":
		return NewMemory(cfg.Search.TTL, cfg.Search.MaxEntries, o.clock), nil
	case config.StoreRistretto:
		return NewRistretto(cfg.Search.TTL, cfg.Search.MaxEntries, logger)
	case config.StoreBolt:
		boltCfg := cfg.Store.Bolt
		if boltCfg.MaxEntries == 0 {
			boltCfg.MaxEntries = cfg.Search.MaxEntries
		}
		return OpenBolt(boltCfg, cfg.Search.TTL, cfg.Serialization, o.clock, logger)
	case config.StoreRedis:
		if o.redisClient != nil {
			return NewRedis(ctx, o.redisClient, cfg, logger)
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Username: cfg.Store.Redis.Username,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		s, err := NewRedis(ctx, client, cfg, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		s.closer = client
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidStoreType, cfg.Store.Type)
	}
}
