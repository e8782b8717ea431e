package platform

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"goflare.io/encore/internal/config"
)

// KindHTTP is the kind served by NewHTTPClient.
const KindHTTP = "http"

// Factory builds an unauthenticated client for one platform.
type Factory func(name string, cfg config.PlatformConfig, logger *zap.Logger) (Client, error)

// Registry maps client kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *zap.Logger
}

// NewRegistry creates a Registry with the HTTP adapter pre-registered.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
	r.Register(KindHTTP, NewHTTPClient)
	return r
}

// Register binds kind to f, replacing any previous factory.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// New builds a client for platform. The factory is chosen by cfg.Kind, then by the
// platform name, then falls back to the HTTP adapter.
func (r *Registry) New(name string, cfg config.PlatformConfig) (Client, error) {
	r.mu.RLock()
	var (
		f  Factory
		ok bool
	)
	if cfg.Kind != "" {
		f, ok = r.factories[cfg.Kind]
		if !ok {
			r.mu.RUnlock()
			return nil, fmt.Errorf("%w: kind %q for %s", ErrUnknownKind, cfg.Kind, name)
		}
	} else if f, ok = r.factories[name]; !ok {
		f = r.factories[KindHTTP]
	}
	r.mu.RUnlock()

	return f(name, cfg, r.logger)
}

// Kinds returns the registered kinds in name order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
