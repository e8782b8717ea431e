// Package platformtest provides an in-memory platform client for tests and examples.
package platformtest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"goflare.io/encore/internal/config"
	"goflare.io/encore/internal/platform"
)

// Client is a scriptable platform.Client.
type Client struct {
	name string

	mu        sync.Mutex
	items     []platform.RawItem
	authErr   error
	searchErr error
	authDelay time.Duration

	AuthCalls   *atomic.Int64
	SearchCalls *atomic.Int64
	CloseCalls  *atomic.Int64
	closed      *atomic.Bool
}

// NewClient creates a Client that returns items for every query.
func NewClient(name string, items ...platform.RawItem) *Client {
	return &Client{
		name:        name,
		items:       items,
		AuthCalls:   atomic.NewInt64(0),
		SearchCalls: atomic.NewInt64(0),
		CloseCalls:  atomic.NewInt64(0),
		closed:      atomic.NewBool(false),
	}
}

// FailAuth makes Authenticate return err.
func (c *Client) FailAuth(err error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authErr = err
	return c
}

// FailSearch makes Search return err.
func (c *Client) FailSearch(err error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searchErr = err
	return c
}

// SlowAuth delays Authenticate by d, honouring ctx.
func (c *Client) SlowAuth(d time.Duration) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authDelay = d
	return c
}

func (c *Client) Name() string { return c.name }

func (c *Client) Authenticate(ctx context.Context) error {
	c.AuthCalls.Inc()
	c.mu.Lock()
	delay, err := c.authDelay, c.authErr
	c.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

func (c *Client) Search(_ context.Context, q platform.Query) ([]platform.RawItem, error) {
	c.SearchCalls.Inc()
	if c.closed.Load() {
		return nil, platform.ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.searchErr != nil {
		return nil, c.searchErr
	}
	items := c.items
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return append([]platform.RawItem(nil), items...), nil
}

func (c *Client) Closed() bool { return c.closed.Load() }

// Expire marks the session closed without going through Close, as a dropped
// connection would.
func (c *Client) Expire() { c.closed.Store(true) }

func (c *Client) Close() error {
	c.CloseCalls.Inc()
	c.closed.Store(true)
	return nil
}

// Factory hands out clients built by build and remembers every one it created.
type Factory struct {
	mu      sync.Mutex
	build   func(name string) *Client
	created []*Client
}

// NewFactory creates a Factory around build.
func NewFactory(build func(name string) *Client) *Factory {
	return &Factory{build: build}
}

// New satisfies platform.Factory.
func (f *Factory) New(name string, _ config.PlatformConfig, _ *zap.Logger) (platform.Client, error) {
	c := f.build(name)
	f.mu.Lock()
	f.created = append(f.created, c)
	f.mu.Unlock()
	return c, nil
}

// Created returns every client built so far.
func (f *Factory) Created() []*Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Client(nil), f.created...)
}
