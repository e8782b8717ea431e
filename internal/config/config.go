package config

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/encore/internal/retrier"
	"goflare.io/encore/pkg/serialization"
)

// Store types accepted by StoreConfig.Type.
const (
	StoreMemory    = "memory"
	StoreRistretto = "ristretto"
	StoreRedis     = "redis"
	StoreBolt      = "bolt"
)

// Config holds the settings of every component.
type Config struct {
	Breaker       BreakerConfig
	Clients       ClientConfig
	Search        SearchConfig
	Store         StoreConfig
	Resilience    ResilienceConfig
	Serialization SerializationConfig

	// Platforms maps a platform name (qobuz, tidal, ...) to its client settings.
	Platforms map[string]PlatformConfig
	// PlatformOrder fixes the fan-out merge order. Platforms missing from it are
	// appended in name order.
	PlatformOrder []string

	Logger *zap.Logger
}

// BreakerConfig configures the per-platform circuit breaker.
type BreakerConfig struct {
	Threshold    int
	ResetTimeout time.Duration
}

// ClientConfig configures the client lifecycle manager.
type ClientConfig struct {
	Capacity          int
	MaxAge            time.Duration
	InactivityTimeout time.Duration
	SweepInterval     time.Duration
	AuthTimeout       time.Duration
}

// SearchConfig configures the search orchestrator.
type SearchConfig struct {
	TTL           time.Duration
	MaxEntries    int
	Limit         int
	QueryTimeout  time.Duration
	WarmupQueries []string
	// Bias is the per-platform ranking bonus; PlatformConfig.Bias overrides it.
	Bias map[string]int
}

// StoreConfig selects and configures the search result store.
type StoreConfig struct {
	Type        string
	Redis       RedisConfig
	Bolt        BoltConfig
	BloomFilter BloomFilterConfig
}

// RedisConfig configures the shared redis result store.
type RedisConfig struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// BoltConfig configures the persistent bolt result store.
type BoltConfig struct {
	Path   string
	Bucket string
	// MaxEntries caps stored rows; zero means SearchConfig.MaxEntries when built by
	// store.New, unbounded otherwise.
	MaxEntries int
}

// BloomFilterConfig sizes the filter guarding remote lookups.
type BloomFilterConfig struct {
	ExpectedItems     uint
	FalsePositiveRate float64
	RedisKey          string
	SaveInterval      time.Duration
}

// ResilienceConfig configures retries and the remote store circuit breaker.
type ResilienceConfig struct {
	StoreCircuitBreaker gobreaker.Settings
	Retry               retrier.Settings
}

// SerializationConfig selects the codec used by remote and persistent stores.
type SerializationConfig struct {
	Type    string
	Encoder func(io.Writer) serialization.Encoder
	Decoder func(io.Reader) serialization.Decoder
}

// PlatformConfig is the opaque per-platform settings bag handed to client factories.
type PlatformConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Kind selects the client factory; it defaults to the platform name, then to "http".
	Kind string `mapstructure:"kind"`

	AuthURL    string            `mapstructure:"auth_url"`
	SearchURL  string            `mapstructure:"search_url"`
	ItemsPath  map[string]string `mapstructure:"items_path"`
	TokenField string            `mapstructure:"token_field"`
	Params     map[string]string `mapstructure:"params"`

	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Token     string `mapstructure:"token"`

	Bias      *int          `mapstructure:"bias"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Option mutates a Config.
type Option func(*Config) error

var (
	ErrInvalidCapacity   = errors.New("client capacity must be at least 1")
	ErrInvalidStoreType  = errors.New("unsupported store type")
	ErrInvalidSearchTTL  = errors.New("search ttl must be positive")
	ErrInvalidMaxEntries = errors.New("search max entries must be at least 1")
)

// DefaultBias ranks lossless platforms ahead of lossy ones on ties.
func DefaultBias() map[string]int {
	return map[string]int{
		"qobuz":      3,
		"tidal":      3,
		"deezer":     2,
		"spotify":    1,
		"soundcloud": 0,
	}
}

// NewConfig creates a Config with defaults, then applies options.
func NewConfig(options ...Option) (*Config, error) {
	defaultLogger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Breaker: BreakerConfig{
			Threshold:    3,
			ResetTimeout: 60 * time.Second,
		},
		Clients: ClientConfig{
			Capacity:          10,
			MaxAge:            time.Hour,
			InactivityTimeout: time.Minute,
			SweepInterval:     30 * time.Second,
			AuthTimeout:       10 * time.Second,
		},
		Search: SearchConfig{
			TTL:          5 * time.Minute,
			MaxEntries:   500,
			Limit:        10,
			QueryTimeout: 15 * time.Second,
			Bias:         DefaultBias(),
		},
		Store: StoreConfig{
			Type: StoreMemory,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "encore:search:",
			},
			Bolt: BoltConfig{
				Path:   "encore.db",
				Bucket: "search",
			},
			BloomFilter: BloomFilterConfig{
				ExpectedItems:     10000,
				FalsePositiveRate: 0.01,
				RedisKey:          "encore:bloom",
				SaveInterval:      time.Minute,
			},
		},
		Resilience: ResilienceConfig{
			StoreCircuitBreaker: gobreaker.Settings{
				Name:        "ResultStore",
				MaxRequests: 1,
				Interval:    60 * time.Second,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures > 5
				},
			},
			Retry: retrier.DefaultSettings(),
		},
		Serialization: SerializationConfig{
			Type:    serialization.JSONType,
			Encoder: serialization.JSONEncoder,
			Decoder: serialization.JSONDecoder,
		},
		Platforms: make(map[string]PlatformConfig),
		Logger:    defaultLogger,
	}

	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Clients.Capacity < 1 {
		return ErrInvalidCapacity
	}
	if c.Search.TTL <= 0 {
		return ErrInvalidSearchTTL
	}
	if c.Search.MaxEntries < 1 {
		return ErrInvalidMaxEntries
	}
	switch c.Store.Type {
	case StoreMemory, StoreRistretto, StoreRedis, StoreBolt:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStoreType, c.Store.Type)
	}
	return nil
}

// EnabledPlatforms returns enabled platform names in fan-out order.
func (c *Config) EnabledPlatforms() []string {
	seen := make(map[string]bool, len(c.Platforms))
	var names []string
	for _, name := range c.PlatformOrder {
		if p, ok := c.Platforms[name]; ok && p.Enabled && !seen[name] {
			names = append(names, name)
			seen[name] = true
		}
	}

	var rest []string
	for name, p := range c.Platforms {
		if p.Enabled && !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// BiasFor returns the ranking bonus of platform.
func (c *Config) BiasFor(platform string) int {
	if p, ok := c.Platforms[platform]; ok && p.Bias != nil {
		return *p.Bias
	}
	return c.Search.Bias[platform]
}

// WithLogger sets a custom logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) error {
		if logger != nil {
			c.Logger = logger
		}
		return nil
	}
}

// WithPlatform adds or replaces a platform.
func WithPlatform(name string, p PlatformConfig) Option {
	return func(c *Config) error {
		if name == "" {
			return errors.New("platform name cannot be empty")
		}
		c.Platforms[name] = p
		return nil
	}
}

// WithSerialization selects the codec by name.
func WithSerialization(name string) Option {
	return func(c *Config) error {
		enc, dec, err := serialization.Lookup(name)
		if err != nil {
			return err
		}
		c.Serialization = SerializationConfig{Type: name, Encoder: enc, Decoder: dec}
		return nil
	}
}
