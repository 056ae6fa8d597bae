package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"shopify-analytics-agent/internal/domain"
)

// Memory is an in-process cache with a capacity bound.
type Memory struct {
	items *ttlcache.Cache[string, domain.CachedAnswer]
}

// NewMemory returns a started in-memory cache. Call Close to stop its
// expiry goroutine.
func NewMemory(defaultTTL time.Duration, capacity uint64) *Memory {
	opts := []ttlcache.Option[string, domain.CachedAnswer]{
		ttlcache.WithTTL[string, domain.CachedAnswer](defaultTTL),
		ttlcache.WithDisableTouchOnHit[string, domain.CachedAnswer](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, domain.CachedAnswer](capacity))
	}
	m := &Memory{items: ttlcache.New(opts...)}
	go m.items.Start()
	return m
}

func (m *Memory) Get(_ context.Context, key string) (domain.CachedAnswer, bool, error) {
	item := m.items.Get(key)
	if item == nil || item.IsExpired() {
		return domain.CachedAnswer{}, false, nil
	}
	return item.Value(), true, nil
}

func (m *Memory) Set(_ context.Context, key string, v domain.CachedAnswer, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.DefaultTTL
	}
	m.items.Set(key, v, ttl)
	return nil
}

func (m *Memory) Backend() string { return "memory" }

// Len reports the number of live entries.
func (m *Memory) Len() int { return m.items.Len() }

// Close stops the expiry goroutine.
func (m *Memory) Close() {
	m.items.Stop()
}
