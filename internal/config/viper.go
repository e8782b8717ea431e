package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// fileConfig mirrors the YAML layout; zero values keep the defaults of NewConfig.
type fileConfig struct {
	Breaker struct {
		Threshold    int           `mapstructure:"threshold"`
		ResetTimeout time.Duration `mapstructure:"reset_timeout"`
	} `mapstructure:"breaker"`

	Clients struct {
		Capacity          int           `mapstructure:"capacity"`
		MaxAge            time.Duration `mapstructure:"max_age"`
		InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
		SweepInterval     time.Duration `mapstructure:"sweep_interval"`
		AuthTimeout       time.Duration `mapstructure:"auth_timeout"`
	} `mapstructure:"clients"`

	Search struct {
		TTL          time.Duration  `mapstructure:"ttl"`
		MaxEntries   int            `mapstructure:"max_entries"`
		Limit        int            `mapstructure:"limit"`
		QueryTimeout time.Duration  `mapstructure:"query_timeout"`
		Warmup       []string       `mapstructure:"warmup"`
		Bias         map[string]int `mapstructure:"bias"`
	} `mapstructure:"search"`

	Store struct {
		Type  string `mapstructure:"type"`
		Redis struct {
			Addr      string `mapstructure:"addr"`
			Username  string `mapstructure:"username"`
			Password  string `mapstructure:"password"`
			DB        int    `mapstructure:"db"`
			KeyPrefix string `mapstructure:"key_prefix"`
		} `mapstructure:"redis"`
		Bolt struct {
			Path   string `mapstructure:"path"`
			Bucket string `mapstructure:"bucket"`
		} `mapstructure:"bolt"`
		Bloom struct {
			ExpectedItems     uint          `mapstructure:"expected_items"`
			FalsePositiveRate float64       `mapstructure:"false_positive_rate"`
			RedisKey          string        `mapstructure:"redis_key"`
			SaveInterval      time.Duration `mapstructure:"save_interval"`
		} `mapstructure:"bloom"`
	} `mapstructure:"store"`

	Retry struct {
		MaxAttempts int           `mapstructure:"max_attempts"`
		BaseDelay   time.Duration `mapstructure:"base_delay"`
		MaxDelay    time.Duration `mapstructure:"max_delay"`
	} `mapstructure:"retry"`

	Serialization string                    `mapstructure:"serialization"`
	Platforms     map[string]PlatformConfig `mapstructure:"platforms"`
	PlatformOrder []string                  `mapstructure:"platform_order"`
}

// LoadViper builds a Config from v, layering it over the defaults. Options run after
// the file values, so explicit code settings win.
func LoadViper(v *viper.Viper, options ...Option) (*Config, error) {
	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	opts := append([]Option{fc.apply}, options...)
	return NewConfig(opts...)
}

func (fc *fileConfig) apply(c *Config) error {
	setInt(&c.Breaker.Threshold, fc.Breaker.Threshold)
	setDuration(&c.Breaker.ResetTimeout, fc.Breaker.ResetTimeout)

	setInt(&c.Clients.Capacity, fc.Clients.Capacity)
	setDuration(&c.Clients.MaxAge, fc.Clients.MaxAge)
	setDuration(&c.Clients.InactivityTimeout, fc.Clients.InactivityTimeout)
	setDuration(&c.Clients.SweepInterval, fc.Clients.SweepInterval)
	setDuration(&c.Clients.AuthTimeout, fc.Clients.AuthTimeout)

	setDuration(&c.Search.TTL, fc.Search.TTL)
	setInt(&c.Search.MaxEntries, fc.Search.MaxEntries)
	setInt(&c.Search.Limit, fc.Search.Limit)
	setDuration(&c.Search.QueryTimeout, fc.Search.QueryTimeout)
	if len(fc.Search.Warmup) > 0 {
		c.Search.WarmupQueries = fc.Search.Warmup
	}
	for name, bias := range fc.Search.Bias {
		c.Search.Bias[strings.ToLower(name)] = bias
	}

	setString(&c.Store.Type, fc.Store.Type)
	setString(&c.Store.Redis.Addr, fc.Store.Redis.Addr)
	setString(&c.Store.Redis.Username, fc.Store.Redis.Username)
	setString(&c.Store.Redis.Password, fc.Store.Redis.Password)
	setInt(&c.Store.Redis.DB, fc.Store.Redis.DB)
	setString(&c.Store.Redis.KeyPrefix, fc.Store.Redis.KeyPrefix)
	setString(&c.Store.Bolt.Path, fc.Store.Bolt.Path)
	setString(&c.Store.Bolt.Bucket, fc.Store.Bolt.Bucket)
	if fc.Store.Bloom.ExpectedItems > 0 {
		c.Store.BloomFilter.ExpectedItems = fc.Store.Bloom.ExpectedItems
	}
	if fc.Store.Bloom.FalsePositiveRate > 0 {
		c.Store.BloomFilter.FalsePositiveRate = fc.Store.Bloom.FalsePositiveRate
	}
	setString(&c.Store.BloomFilter.RedisKey, fc.Store.Bloom.RedisKey)
	setDuration(&c.Store.BloomFilter.SaveInterval, fc.Store.Bloom.SaveInterval)

	setInt(&c.Resilience.Retry.MaxAttempts, fc.Retry.MaxAttempts)
	setDuration(&c.Resilience.Retry.BaseDelay, fc.Retry.BaseDelay)
	setDuration(&c.Resilience.Retry.MaxDelay, fc.Retry.MaxDelay)

	if fc.Serialization != "" {
		if err := WithSerialization(fc.Serialization)(c); err != nil {
			return err
		}
	}

	for name, p := range fc.Platforms {
		c.Platforms[strings.ToLower(name)] = p
	}
	for _, name := range fc.PlatformOrder {
		c.PlatformOrder = append(c.PlatformOrder, strings.ToLower(name))
	}
	return nil
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
