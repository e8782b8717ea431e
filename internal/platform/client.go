// Package platform defines the capability a music platform client must expose and
// ships a generic HTTP JSON adapter plus a factory registry.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"goflare.io/encore/internal/models"
)

var (
	ErrUnauthorized  = errors.New("platform rejected credentials")
	ErrClosed        = errors.New("platform client is closed")
	ErrUnknownKind   = errors.New("no client factory registered")
	ErrMisconfigured = errors.New("platform is misconfigured")
)

// Closeable is the only capability the lifecycle manager needs to release a client.
type Closeable interface {
	Close() error
}

// RawItem is one undecoded search hit as returned by a platform.
type RawItem = map[string]any

// Query describes one platform search call.
type Query struct {
	Text  string
	Type  models.MediaType
	Limit int
}

// Client is an authenticated session with one platform.
type Client interface {
	Closeable
	// Name returns the platform the client talks to.
	Name() string
	Authenticate(ctx context.Context) error
	Search(ctx context.Context, q Query) ([]RawItem, error)
	// Closed reports whether the session can no longer be used.
	Closed() bool
}

// StatusError is returned for non-2xx platform responses.
type StatusError struct {
	Platform   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Platform, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Unwrap maps authentication statuses onto ErrUnauthorized.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}
