package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"goflare.io/encore/internal/config"
	"goflare.io/encore/internal/models"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	defaultTokenField  = "access_token"
	maxErrorBody       = 512
)

// HTTPClient talks to a JSON search API. Authentication exchanges app or user
// credentials for a bearer token; a static token or a public API skips the exchange.
type HTTPClient struct {
	name   string
	cfg    config.PlatformConfig
	http   *http.Client
	logger *zap.Logger

	mu     sync.RWMutex
	token  string
	closed *atomic.Bool
}

// NewHTTPClient is the Factory for the "http" kind.
func NewHTTPClient(name string, cfg config.PlatformConfig, logger *zap.Logger) (Client, error) {
	if cfg.SearchURL == "" {
		return nil, fmt.Errorf("%w: %s has no search_url", ErrMisconfigured, name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return &HTTPClient{
		name: name,
		cfg:  cfg,
		http: &http.Client{
			Timeout:   timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
		logger: logger.With(zap.String("platform", name)),
		token:  cfg.Token,
		closed: atomic.NewBool(false),
	}, nil
}

func (c *HTTPClient) Name() string {
	return c.name
}

// Authenticate obtains a bearer token when the platform needs one.
func (c *HTTPClient) Authenticate(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.cfg.Token != "" || c.cfg.AuthURL == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{
		"app_id":     c.cfg.AppID,
		"app_secret": c.cfg.AppSecret,
		"username":   c.cfg.Username,
		"password":   c.cfg.Password,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var decoded any
	if err := c.do(req, &decoded); err != nil {
		return err
	}

	field := c.cfg.TokenField
	if field == "" {
		field = defaultTokenField
	}
	token, _ := Lookup(decoded, field).(string)
	if token == "" {
		return fmt.Errorf("%w: %s auth response has no %q", ErrUnauthorized, c.name, field)
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	c.logger.Debug("Authenticated platform client")
	return nil
}

// Search queries the platform and returns the items found at the configured path.
func (c *HTTPClient) Search(ctx context.Context, q Query) ([]RawItem, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	params := url.Values{}
	for k, v := range c.cfg.Params {
		params.Set(k, v)
	}
	params.Set("q", q.Text)
	if q.Type != models.MediaTypeAny {
		params.Set("type", string(q.Type))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	sep := "?"
	if strings.Contains(c.cfg.SearchURL, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.SearchURL+sep+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	var decoded any
	if err := c.do(req, &decoded); err != nil {
		return nil, err
	}
	return extractItems(decoded, c.itemsPath(q.Type))
}

// Closed reports whether Close has been called.
func (c *HTTPClient) Closed() bool {
	return c.closed.Load()
}

// Close releases idle connections. It is safe to call more than once.
func (c *HTTPClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.http.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) itemsPath(mt models.MediaType) string {
	if p, ok := c.cfg.ItemsPath[string(mt)]; ok {
		return p
	}
	if p, ok := c.cfg.ItemsPath["default"]; ok {
		return p
	}
	return ""
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Platform: c.name, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", c.name, err)
	}
	return nil
}

func extractItems(decoded any, path string) ([]RawItem, error) {
	node := Lookup(decoded, path)
	if node == nil {
		return nil, nil
	}
	list, ok := node.([]any)
	if !ok {
		return nil, fmt.Errorf("items at %q are %T, not a list", path, node)
	}

	items := make([]RawItem, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items, nil
}
