package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/encore/internal/config"
)

// keyFilter remembers which fingerprints were ever written so that misses for
// never-seen queries skip the network. Replicas share the filter by merging it into
// a redis key.
type keyFilter struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	cfg    config.BloomFilterConfig
	client redis.Cmdable
	logger *zap.Logger
	dirty  bool
}

func newKeyFilter(client redis.Cmdable, cfg config.BloomFilterConfig, logger *zap.Logger) *keyFilter {
	if cfg.ExpectedItems == 0 {
		cfg.ExpectedItems = 10000
	}
	if cfg.FalsePositiveRate <= 0 || cfg.FalsePositiveRate >= 1 {
		cfg.FalsePositiveRate = 0.01
	}
	return &keyFilter{
		filter: bloom.NewWithEstimates(cfg.ExpectedItems, cfg.FalsePositiveRate),
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

func (f *keyFilter) Add(key string) {
	f.mu.Lock()
	f.filter.AddString(key)
	f.dirty = true
	f.mu.Unlock()
}

// Test reports whether key may have been written.
func (f *keyFilter) Test(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter.TestString(key)
}

// Load merges the shared filter into the local one. A missing key is not an error.
func (f *keyFilter) Load(ctx context.Context) error {
	if f.cfg.RedisKey == "" {
		return nil
	}
	data, err := f.client.Get(ctx, f.cfg.RedisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			f.logger.Info("Bloom filter not found in remote cache, starting empty")
			return nil
		}
		return fmt.Errorf("failed to load bloom filter: %w", err)
	}
	return f.merge(data)
}

func (f *keyFilter) merge(data []byte) error {
	remote := &bloom.BloomFilter{}
	if _, err := remote.ReadFrom(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to deserialize bloom filter: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.filter.Merge(remote); err != nil {
		f.logger.Warn("Discarding incompatible shared bloom filter", zap.Error(err))
	}
	return nil
}

// Save merges in the shared filter, then writes the union back.
func (f *keyFilter) Save(ctx context.Context) error {
	if f.cfg.RedisKey == "" {
		return nil
	}
	f.mu.Lock()
	dirty := f.dirty
	f.mu.Unlock()
	if !dirty {
		return nil
	}

	if err := f.Load(ctx); err != nil {
		f.logger.Warn("Saving bloom filter without merging", zap.Error(err))
	}

	var buf bytes.Buffer
	f.mu.Lock()
	_, err := f.filter.WriteTo(&buf)
	f.dirty = false
	f.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to serialize bloom filter: %w", err)
	}

	if err := f.client.Set(ctx, f.cfg.RedisKey, buf.Bytes(), 0).Err(); err != nil {
		f.mu.Lock()
		f.dirty = true
		f.mu.Unlock()
		return fmt.Errorf("failed to save bloom filter: %w", err)
	}
	return nil
}

// Sync exchanges state with the shared filter: local writes are saved (Save merges
// first), otherwise keys written by other replicas are merged in.
func (f *keyFilter) Sync(ctx context.Context) error {
	f.mu.Lock()
	dirty := f.dirty
	f.mu.Unlock()
	if dirty {
		return f.Save(ctx)
	}
	return f.Load(ctx)
}

// Run syncs the filter every SaveInterval until ctx is done.
func (f *keyFilter) Run(ctx context.Context) {
	interval := f.cfg.SaveInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := f.Sync(ctx); err != nil {
				f.logger.Error("Failed to sync bloom filter", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
