package store

import (
	"context"
	"time"

	"goflare.io/encore/internal/cache/ttl"
	"goflare.io/encore/internal/models"
	"goflare.io/encore/internal/utils"
)

// Memory keeps results in process. Entries expire lazily on read and the oldest
// entry makes room once MaxEntries is reached.
type Memory struct {
	cache *ttl.Cache[string, *models.ResultSet]
}

func NewMemory(ttlDuration time.Duration, maxEntries int, clock utils.Clock) *Memory {
	return &Memory{
		cache: ttl.New(ttl.Options[string, *models.ResultSet]{
			MaxAge:   ttlDuration,
			Capacity: maxEntries,
			Clock:    clock,
		}),
	}
}

func (m *Memory) Get(_ context.Context, key string) (*models.ResultSet, bool, error) {
	rs, ok := m.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	return rs.Clone(), true, nil
}

func (m *Memory) Set(_ context.Context, key string, rs *models.ResultSet) error {
	if rs == nil {
		return ErrNilSet
	}
	m.cache.Put(key, rs.Clone())
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

// Len returns the number of stored result sets, expired ones included until read.
func (m *Memory) Len() int {
	return m.cache.Len()
}

func (m *Memory) Close() error {
	m.cache.Clear()
	return nil
}
