package cache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	defaultMemoryTTL      = 10 * time.Minute
	memoryCleanupInterval = 5 * time.Minute
)

// MemoryStore is a single-process Store backed by patrickmn/go-cache.
// Suitable for development and single-node deployments.
type MemoryStore struct {
	items *gocache.Cache
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore. A non-positive defaultTTL uses ten minutes.
func NewMemoryStore(defaultTTL time.Duration) *MemoryStore {
	if defaultTTL <= 0 {
		defaultTTL = defaultMemoryTTL
	}

	return &MemoryStore{items: gocache.New(defaultTTL, memoryCleanupInterval)}
}

// Get returns a copy of the cached value.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	raw, found := s.items.Get(key)
	if !found {
		return nil, false, nil
	}

	value, ok := raw.([]byte)
	if !ok {
		return nil, false, nil
	}

	return append([]byte(nil), value...), true, nil
}

// Set stores a copy of value. A zero ttl uses the store default.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}

	s.items.Set(key, append([]byte(nil), value...), ttl)

	return nil
}

// Delete removes the given keys.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		s.items.Delete(key)
	}

	return nil
}

// DeletePrefix removes every unexpired key starting with prefix.
func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	deleted := 0

	for key := range s.items.Items() {
		if strings.HasPrefix(key, prefix) {
			s.items.Delete(key)

			deleted++
		}
	}

	return deleted, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Len returns the number of unexpired keys.
func (s *MemoryStore) Len() int {
	return s.items.ItemCount()
}
